package service

import (
	"context"

	"github.com/daimoniac/cdpilot/internal/apiclient"
	"github.com/daimoniac/cdpilot/internal/errors"
)

// Deployment config sources for a trigger
const (
	ConfigLastSaved       = "LAST_SAVED_CONFIG"
	ConfigSpecificTrigger = "SPECIFIC_TRIGGER_CONFIG"
)

// TriggerRequest deploys one artifact through one pipeline stage
type TriggerRequest struct {
	PipelineID           int            `json:"pipelineId" validate:"required,gt=0"`
	AppID                int            `json:"appId" validate:"required,gt=0"`
	CIArtifactID         int            `json:"ciArtifactId" validate:"required,gt=0"`
	CDWorkflowType       string         `json:"cdWorkflowType" validate:"required,stage"`
	DeploymentWithConfig string         `json:"deploymentWithConfig,omitempty" validate:"omitempty,oneof=LAST_SAVED_CONFIG SPECIFIC_TRIGGER_CONFIG"`
	SpecificTriggerWfrID int            `json:"wfrIdForDeploymentWithSpecificTrigger,omitempty" validate:"required_if=DeploymentWithConfig SPECIFIC_TRIGGER_CONFIG"`
	DeploymentStrategy   string         `json:"strategy,omitempty"`
	RuntimeParams        []RuntimeParam `json:"runtimeParamsPayload,omitempty" validate:"dive"`
}

// RuntimeParam is a key value pair passed to the deployment
type RuntimeParam struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// Validate checks the request
func (r TriggerRequest) Validate() error {
	return requestValidate.Struct(r)
}

// TriggerResult is what the orchestrator returns for an accepted trigger
type TriggerResult struct {
	HelmPackageName  string `json:"helmPackageName"`
	WorkflowRunnerID int    `json:"cdWorkflowRunnerId"`
}

// TriggerCDNode starts a deployment. Validation failures are permanent errors
// and no request is sent.
func (s *Service) TriggerCDNode(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	if err := req.Validate(); err != nil {
		return TriggerResult{}, errors.NewPermanentf("invalid trigger request: %w", err)
	}

	resp, err := s.client.Post(ctx, triggerPath, req)
	if err != nil {
		return TriggerResult{}, err
	}

	result, err := apiclient.DecodeResult[TriggerResult](resp)
	if err != nil {
		return TriggerResult{}, err
	}

	s.logger.Info("deployment triggered",
		"app_id", req.AppID,
		"pipeline_id", req.PipelineID,
		"artifact_id", req.CIArtifactID,
		"stage", req.CDWorkflowType)

	return result, nil
}
