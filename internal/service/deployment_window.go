package service

import (
	"context"
	"net/url"
	"strconv"

	"github.com/daimoniac/cdpilot/internal/apiclient"
)

// UserActionState tells whether the current user may deploy right now
type UserActionState string

const (
	ActionAllowed UserActionState = "ALLOWED"
	ActionPartial UserActionState = "PARTIAL"
	ActionBlocked UserActionState = "BLOCKED"
)

// DeploymentWindowState is the deployment window situation of one app on one
// environment
type DeploymentWindowState struct {
	AppID           int             `json:"appId"`
	EnvID           int             `json:"envId"`
	UserActionState UserActionState `json:"userActionState"`
	WindowType      string          `json:"windowType"`
	WindowName      string          `json:"windowName"`
	IsUserExcluded  bool            `json:"isUserExcluded"`
}

type rawWindowOverview struct {
	EnvironmentStateMap map[string]rawEnvironmentWindow `json:"environmentStateMap"`
}

type rawEnvironmentWindow struct {
	UserActionState UserActionState    `json:"userActionState"`
	IsUserExcluded  bool               `json:"isUserExcluded"`
	AppliedWindows  []rawAppliedWindow `json:"appliedWindows"`
}

type rawAppliedWindow struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// GetDeploymentWindowState fetches the window state of appID on envID. An
// environment without windows is ALLOWED.
func (s *Service) GetDeploymentWindowState(ctx context.Context, appID, envID int) (DeploymentWindowState, error) {
	state := DeploymentWindowState{AppID: appID, EnvID: envID, UserActionState: ActionAllowed}

	query := url.Values{}
	query.Set("appId", strconv.Itoa(appID))
	query.Set("envIds", strconv.Itoa(envID))

	resp, err := s.client.Get(ctx, deploymentWindowPath, query)
	if err != nil {
		return state, err
	}

	overview, err := apiclient.DecodeResult[rawWindowOverview](resp)
	if err != nil {
		return state, err
	}

	env, ok := overview.EnvironmentStateMap[strconv.Itoa(envID)]
	if !ok {
		return state, nil
	}

	switch env.UserActionState {
	case ActionPartial, ActionBlocked:
		state.UserActionState = env.UserActionState
	}
	state.IsUserExcluded = env.IsUserExcluded
	if len(env.AppliedWindows) > 0 {
		state.WindowType = env.AppliedWindows[0].Type
		state.WindowName = env.AppliedWindows[0].Name
	}
	return state, nil
}
