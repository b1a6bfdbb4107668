package bulk

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/daimoniac/cdpilot/internal/service"
	"github.com/daimoniac/cdpilot/internal/statestore"
	"github.com/google/uuid"
	"github.com/ryanuber/columnize"
)

// TriggerStatus classifies the outcome of one app's trigger
type TriggerStatus string

const (
	StatusSuccess      TriggerStatus = "SUCCESS"
	StatusSkipped      TriggerStatus = "SKIPPED"
	StatusUnauthorized TriggerStatus = "UNAUTHORIZED"
	StatusFailed       TriggerStatus = "FAILED"
)

// AppTriggerResult is the trigger outcome for one app
type AppTriggerResult struct {
	AppID            int
	AppName          string
	PipelineID       int
	ArtifactID       int
	Image            string
	Status           TriggerStatus
	Code             int
	Message          string
	WorkflowRunnerID int
}

// TriggerReport is the outcome of a bulk trigger
type TriggerReport struct {
	ID        string
	Target    Target
	CreatedAt time.Time
	Duration  time.Duration
	Results   []AppTriggerResult
}

// Counts tallies results per status
func (r TriggerReport) Counts() map[TriggerStatus]int {
	counts := make(map[TriggerStatus]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Table renders the report as one aligned row per app
func (r TriggerReport) Table() string {
	output := []string{strings.Join([]string{"APP", "IMAGE", "STATUS", "MESSAGE"}, "|")}
	for _, res := range r.Results {
		image := res.Image
		if image == "" {
			image = "-"
		}
		row := []string{
			res.AppName,
			image,
			string(res.Status),
			strings.ReplaceAll(res.Message, "|", "/"),
		}
		output = append(output, strings.Join(row, "|"))
	}
	return columnize.SimpleFormat(output)
}

// BatchRecord converts the report for the history store
func (r TriggerReport) BatchRecord(tag, triggeredBy string) *statestore.BatchRecord {
	batch := &statestore.BatchRecord{
		ID:              r.ID,
		Stage:           string(r.Target.Stage),
		EnvironmentID:   r.Target.EnvID,
		EnvironmentName: r.Target.EnvName,
		Tag:             tag,
		TriggeredBy:     triggeredBy,
		CreatedAt:       r.CreatedAt,
		Results:         make([]statestore.ResultRecord, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		batch.Results = append(batch.Results, statestore.ResultRecord{
			AppID:      res.AppID,
			AppName:    res.AppName,
			PipelineID: res.PipelineID,
			ArtifactID: res.ArtifactID,
			Image:      res.Image,
			Status:     string(res.Status),
			Code:       res.Code,
			Message:    res.Message,
		})
	}
	return batch
}

// Trigger deploys the selected image of every deployable app. Apps that
// cannot be deployed are reported as skipped without a request. Results are
// ordered like AppInfoMap.Sorted.
func (o *Orchestrator) Trigger(ctx context.Context, m AppInfoMap) TriggerReport {
	start := time.Now()
	report := TriggerReport{
		ID:        uuid.NewString(),
		Target:    o.target,
		CreatedAt: start.UTC(),
	}

	entries := m.Sorted()
	results := make([]AppTriggerResult, len(entries))
	pending := make([]int, 0, len(entries))
	for i, info := range entries {
		results[i] = AppTriggerResult{
			AppID:      info.App.ID,
			AppName:    info.App.Name,
			PipelineID: info.App.PipelineID,
		}
		if selected, ok := info.Selected(); ok {
			results[i].ArtifactID = selected.ID
			results[i].Image = selected.Image
		}
		if reason := skipReason(info); reason != "" {
			results[i].Status = StatusSkipped
			results[i].Message = reason
			continue
		}
		pending = append(pending, i)
	}

	outcomes := Run(ctx, o.runner, len(pending), func(ctx context.Context, n int) (service.TriggerResult, error) {
		return o.api.TriggerCDNode(ctx, o.triggerRequest(entries[pending[n]]))
	})

	for n, oc := range outcomes {
		res := &results[pending[n]]
		if oc.Fulfilled() {
			res.Status = StatusSuccess
			res.Code = http.StatusOK
			res.Message = "Deployment initiated"
			res.WorkflowRunnerID = oc.Value.WorkflowRunnerID
			continue
		}
		res.Status, res.Code, res.Message = classifyTriggerError(oc.Err)
		o.logger.Warn("bulk trigger failed for app",
			"app_id", res.AppID,
			"app_name", res.AppName,
			"status", res.Status,
			"code", res.Code,
			"error", oc.Err)
	}

	report.Results = results
	report.Duration = time.Since(start)

	for _, res := range results {
		o.metrics.TriggersTotal.WithLabelValues(string(res.Status)).Inc()
	}
	o.metrics.TriggerDuration.Observe(report.Duration.Seconds())

	counts := report.Counts()
	o.logger.Info("bulk trigger completed",
		"batch_id", report.ID,
		"stage", o.target.Stage,
		"env_id", o.target.EnvID,
		"success", counts[StatusSuccess],
		"skipped", counts[StatusSkipped],
		"unauthorized", counts[StatusUnauthorized],
		"failed", counts[StatusFailed],
		"duration", report.Duration)

	return report
}

func (o *Orchestrator) triggerRequest(info AppInfo) service.TriggerRequest {
	selected, _ := info.Selected()
	req := service.TriggerRequest{
		PipelineID:         info.App.PipelineID,
		AppID:              info.App.ID,
		CIArtifactID:       selected.ID,
		CDWorkflowType:     string(o.target.Stage),
		DeploymentStrategy: info.Strategy,
		RuntimeParams:      info.RuntimeParams,
	}
	if o.target.Stage == material.StageDeploy {
		req.DeploymentWithConfig = service.ConfigLastSaved
	}
	return req
}

// classifyTriggerError maps a trigger failure to its status, code and the
// best available message
func classifyTriggerError(err error) (TriggerStatus, int, string) {
	msg := err.Error()
	code := errors.CodeOf(err)

	var se *errors.ServerErrors
	if stderrors.As(err, &se) && len(se.Errors) > 0 && se.Errors[0].UserMessage != "" {
		msg = se.Errors[0].UserMessage
	}

	switch {
	case code == http.StatusPreconditionFailed, code == http.StatusExpectationFailed:
		return StatusSkipped, code, msg
	case code == http.StatusForbidden:
		return StatusUnauthorized, code, msg
	}
	if code < 0 {
		code = 0
	}
	return StatusFailed, code, msg
}
