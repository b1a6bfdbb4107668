package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/daimoniac/cdpilot/internal/apiclient"
	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://devtron.test/orchestrator"

func newTestService(t *testing.T) *Service {
	t.Helper()
	client, err := apiclient.New(apiclient.Config{BaseURL: testBaseURL, Token: "secret"},
		apiclient.WithSession(apiclient.NewLogSession(nil)))
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return New(client, nil)
}

func jsonResponder(status int, body interface{}) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		return httpmock.NewJsonResponse(status, body)
	}
}

const materialsBody = `{
  "code": 200,
  "status": "OK",
  "result": {
    "ci_artifacts": [
      {"id": 31, "image": "quay.io/acme/api:v2", "filterState": 1},
      {"id": 30, "image": "quay.io/acme/api:v1", "deployed": true, "deployed_time": "2024-05-01T10:00:00Z"}
    ],
    "totalCount": 12,
    "latest_wf_artifact_id": 30,
    "latest_wf_artifact_status": "Healthy"
  }
}`

func TestGetCDMaterialList(t *testing.T) {
	svc := newTestService(t)

	var query map[string][]string
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/cd-pipeline/5/material",
		func(req *http.Request) (*http.Response, error) {
			query = req.URL.Query()
			resp := httpmock.NewStringResponse(200, materialsBody)
			resp.Header.Set("Content-Type", "application/json")
			return resp, nil
		})

	resp, err := svc.GetCDMaterialList(context.Background(), MaterialQuery{
		PipelineID: 5,
		Stage:      material.StageDeploy,
		Search:     "v1",
		FilterView: material.FilterViewEligible,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"DEPLOY"}, query["stage"])
	assert.Equal(t, []string{"0"}, query["offset"])
	assert.Equal(t, []string{"20"}, query["size"])
	assert.Equal(t, []string{"v1"}, query["search"])
	assert.Equal(t, []string{"ELIGIBLE_RESOURCES"}, query["filter"])

	require.Len(t, resp.Materials, 1, "blocked image must be filtered out")
	m := resp.Materials[0]
	assert.Equal(t, 30, m.ID)
	assert.Equal(t, "v1", m.Image)
	assert.True(t, m.IsSelected)
	assert.Equal(t, "Healthy", m.ArtifactStatus)
	assert.Equal(t, "Wed, 01 May 2024, 10:00 AM", m.DeployedTime)
	assert.Equal(t, 12, resp.TotalCount)
	assert.True(t, resp.HasMore())
}

func TestGetCDMaterialListEmptyResult(t *testing.T) {
	svc := newTestService(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/cd-pipeline/5/material",
		jsonResponder(200, map[string]interface{}{"code": 200, "status": "OK", "result": nil}))

	resp, err := svc.GetCDMaterialList(context.Background(), MaterialQuery{PipelineID: 5, Stage: material.StagePre})
	require.NoError(t, err)
	assert.NotNil(t, resp.Materials)
	assert.Empty(t, resp.Materials)
	assert.Equal(t, material.StagePre, resp.Stage)
}

func TestGetCDMaterialListInvalidQuery(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name  string
		query MaterialQuery
	}{
		{"missing pipeline", MaterialQuery{Stage: material.StageDeploy}},
		{"unknown stage", MaterialQuery{PipelineID: 1, Stage: "ROLLOUT"}},
		{"negative offset", MaterialQuery{PipelineID: 1, Stage: material.StageDeploy, Offset: -1}},
		{"unknown filter view", MaterialQuery{PipelineID: 1, Stage: material.StageDeploy, FilterView: "SOME"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetCDMaterialList(context.Background(), tt.query)
			require.Error(t, err)
			assert.True(t, errors.IsPermanent(err))
		})
	}
	assert.Equal(t, 0, httpmock.GetTotalCallCount(), "no request may be sent for an invalid query")
}

func TestGetCDMaterialListServerError(t *testing.T) {
	svc := newTestService(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/cd-pipeline/9/material",
		jsonResponder(404, map[string]interface{}{
			"code":   404,
			"errors": []map[string]interface{}{{"userMessage": "pipeline not found"}},
		}))

	_, err := svc.GetCDMaterialList(context.Background(), MaterialQuery{PipelineID: 9, Stage: material.StageDeploy})
	require.Error(t, err)

	var se *errors.ServerErrors
	require.True(t, stderrors.As(err, &se))
	assert.Equal(t, 404, se.Code)
	assert.Equal(t, "pipeline not found", se.Errors[0].UserMessage)
}

func TestSearchCDMaterialsUsesSlot(t *testing.T) {
	svc := newTestService(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/cd-pipeline/5/material",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(200, materialsBody)
			resp.Header.Set("Content-Type", "application/json")
			return resp, nil
		})

	var slot apiclient.AbortSlot
	resp, err := svc.SearchCDMaterials(context.Background(), &slot, MaterialQuery{PipelineID: 5, Stage: material.StageDeploy})
	require.NoError(t, err)
	assert.Len(t, resp.Materials, 2)
}

func TestGetDeploymentWindowState(t *testing.T) {
	svc := newTestService(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/deployment-window/overview",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "3", req.URL.Query().Get("appId"))
			envID := req.URL.Query().Get("envIds")
			body := map[string]interface{}{
				"code":   200,
				"status": "OK",
				"result": map[string]interface{}{
					"environmentStateMap": map[string]interface{}{
						"7": map[string]interface{}{
							"userActionState": "BLOCKED",
							"isUserExcluded":  false,
							"appliedWindows":  []map[string]string{{"name": "freeze", "type": "BLACKOUT"}},
						},
					},
				},
			}
			if envID != "7" {
				body["result"] = map[string]interface{}{"environmentStateMap": map[string]interface{}{}}
			}
			return httpmock.NewJsonResponse(200, body)
		})

	state, err := svc.GetDeploymentWindowState(context.Background(), 3, 7)
	require.NoError(t, err)
	assert.Equal(t, ActionBlocked, state.UserActionState)
	assert.Equal(t, "BLACKOUT", state.WindowType)
	assert.Equal(t, "freeze", state.WindowName)

	state, err = svc.GetDeploymentWindowState(context.Background(), 3, 8)
	require.NoError(t, err)
	assert.Equal(t, ActionAllowed, state.UserActionState)
	assert.Empty(t, state.WindowType)
}

func TestTriggerCDNode(t *testing.T) {
	svc := newTestService(t)

	var payload map[string]interface{}
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/app/cd-pipeline/trigger",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"code":   200,
				"status": "OK",
				"result": map[string]interface{}{"helmPackageName": "api-prod-30", "cdWorkflowRunnerId": 88},
			})
		})

	result, err := svc.TriggerCDNode(context.Background(), TriggerRequest{
		PipelineID:     5,
		AppID:          3,
		CIArtifactID:   30,
		CDWorkflowType: "DEPLOY",
		RuntimeParams:  []RuntimeParam{{Key: "REGION", Value: "eu"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "api-prod-30", result.HelmPackageName)
	assert.Equal(t, 88, result.WorkflowRunnerID)

	assert.Equal(t, float64(5), payload["pipelineId"])
	assert.Equal(t, float64(30), payload["ciArtifactId"])
	assert.Equal(t, "DEPLOY", payload["cdWorkflowType"])
	assert.NotContains(t, payload, "deploymentWithConfig")
}

func TestTriggerCDNodeValidation(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name string
		req  TriggerRequest
	}{
		{"missing artifact", TriggerRequest{PipelineID: 1, AppID: 1, CDWorkflowType: "DEPLOY"}},
		{"bad stage", TriggerRequest{PipelineID: 1, AppID: 1, CIArtifactID: 1, CDWorkflowType: "SHIP"}},
		{"bad config", TriggerRequest{PipelineID: 1, AppID: 1, CIArtifactID: 1, CDWorkflowType: "DEPLOY", DeploymentWithConfig: "NEWEST"}},
		{"specific config without runner", TriggerRequest{PipelineID: 1, AppID: 1, CIArtifactID: 1, CDWorkflowType: "DEPLOY", DeploymentWithConfig: ConfigSpecificTrigger}},
		{"runtime param without key", TriggerRequest{PipelineID: 1, AppID: 1, CIArtifactID: 1, CDWorkflowType: "DEPLOY", RuntimeParams: []RuntimeParam{{Value: "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.TriggerCDNode(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsPermanent(err))
		})
	}
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestTriggerCDNodePreconditionFailed(t *testing.T) {
	svc := newTestService(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/app/cd-pipeline/trigger",
		jsonResponder(412, map[string]interface{}{
			"code":   412,
			"errors": []map[string]interface{}{{"userMessage": "image not approved"}},
		}))

	_, err := svc.TriggerCDNode(context.Background(), TriggerRequest{
		PipelineID: 5, AppID: 3, CIArtifactID: 30, CDWorkflowType: "DEPLOY",
	})
	var se *errors.ServerErrors
	require.True(t, stderrors.As(err, &se))
	assert.Equal(t, 412, se.Code)
}

func TestPing(t *testing.T) {
	svc := newTestService(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/health",
		jsonResponder(200, map[string]interface{}{"code": 200, "status": "OK", "result": "OK"}))
	require.NoError(t, svc.Ping(context.Background()))

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/health",
		jsonResponder(401, map[string]interface{}{"code": 401}))
	err := svc.Ping(context.Background())
	var se *errors.ServerErrors
	require.True(t, stderrors.As(err, &se))
	assert.Equal(t, 401, se.Code)
}
