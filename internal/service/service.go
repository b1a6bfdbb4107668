// Package service wraps the orchestrator endpoints cdpilot uses. Every call
// goes through apiclient, so failures surface as *errors.ServerErrors.
package service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/daimoniac/cdpilot/internal/apiclient"
	"github.com/daimoniac/cdpilot/internal/observability"
	"github.com/go-playground/validator/v10"
)

const (
	healthPath           = "health"
	materialPathFmt      = "app/cd-pipeline/%d/material"
	triggerPath          = "app/cd-pipeline/trigger"
	deploymentWindowPath = "deployment-window/overview"
)

// requestValidate checks request payloads before they are sent
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("stage", validateStage)
}

// Service calls the orchestrator API
type Service struct {
	client  *apiclient.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Service on top of client
func New(client *apiclient.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:  client,
		logger:  logger,
		metrics: observability.GetMetrics(),
	}
}

// Ping checks that the orchestrator answers. An expired session is reported
// as an error instead of logging out.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.client.Execute(ctx, apiclient.Request{
		Method:            http.MethodGet,
		Path:              healthPath,
		PreventAutoLogout: true,
	})
	return err
}
