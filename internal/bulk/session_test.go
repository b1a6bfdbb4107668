package bulk

import (
	"context"
	"testing"
	"time"

	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	svc := newTestService(t)
	registerFleet(t)

	o := newTestOrchestrator(t, svc, nil)
	s := NewSession(context.Background(), o)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := Target{Stage: material.StageDeploy, EnvID: 7, EnvName: "prod"}
	s.Select(target, testApps[:2])

	state, err := s.Wait(ctx)
	require.NoError(t, err)
	require.True(t, state.HasResult)
	assert.Len(t, state.Result, 2)
	calls := httpmock.GetTotalCallCount()

	// same stage, environment and apps: nothing is reloaded
	s.Select(target, testApps[:2])
	_, err = s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, httpmock.GetTotalCallCount())

	s.Apply(func(m AppInfoMap) AppInfoMap {
		return s.Orchestrator().ApplyTag(ctx, m, "v1.1.0")
	})
	state = s.State()
	assert.Equal(t, 100, selectedID(t, state.Result[1]))
	assert.Equal(t, 200, selectedID(t, state.Result[2]))

	// a different environment reloads through a retargeted orchestrator
	preprod := Target{Stage: material.StageDeploy, EnvID: 8, EnvName: "preprod"}
	s.Select(preprod, testApps[:2])
	state, err = s.Wait(ctx)
	require.NoError(t, err)
	assert.Greater(t, httpmock.GetTotalCallCount(), calls)
	assert.Equal(t, preprod, s.Orchestrator().Target())
	assert.Equal(t, 101, selectedID(t, state.Result[1]), "tag selection is reset by the reload")
	assert.Equal(t, 8, state.Result[2].Window.EnvID)

	// no apps clears the session without a request
	calls = httpmock.GetTotalCallCount()
	s.Select(preprod, nil)
	state = s.State()
	assert.False(t, state.Loading)
	assert.False(t, state.HasResult)
	assert.Equal(t, calls, httpmock.GetTotalCallCount())
}

func TestSessionReload(t *testing.T) {
	svc := newTestService(t)
	registerFleet(t)

	s := NewSession(context.Background(), newTestOrchestrator(t, svc, nil))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Select(Target{Stage: material.StageDeploy, EnvID: 7}, testApps[:1])
	_, err := s.Wait(ctx)
	require.NoError(t, err)
	before := httpmock.GetTotalCallCount()

	s.Reload()
	state, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, state.HasResult)
	// one material page and one window lookup
	assert.Equal(t, before+2, httpmock.GetTotalCallCount())
}
