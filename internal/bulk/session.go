package bulk

import (
	"context"
	"sync"

	"github.com/daimoniac/cdpilot/internal/asyncstate"
)

// Session keeps a bulk deployment loaded for a changing target and app
// selection. Changing any of them reloads every app; updates that arrive for
// a superseded selection are dropped.
type Session struct {
	base    *Orchestrator
	tracker *asyncstate.Tracker[AppInfoMap]

	mu      sync.Mutex
	current *Orchestrator
	apps    []App
}

// NewSession creates a session on top of orch. Nothing is loaded until the
// first Select.
func NewSession(ctx context.Context, orch *Orchestrator) *Session {
	s := &Session{base: orch, current: orch}
	s.tracker = asyncstate.New(ctx, s.load)
	return s
}

func (s *Session) load(ctx context.Context) (AppInfoMap, error) {
	s.mu.Lock()
	orch := s.current
	apps := append([]App(nil), s.apps...)
	s.mu.Unlock()

	return orch.Load(ctx, apps), nil
}

// Select sets the target and apps. A load runs when the stage, environment
// or set of app ids differ from the previous call. An empty app list clears
// the session.
func (s *Session) Select(target Target, apps []App) {
	ids := make([]any, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.ID)
	}

	s.mu.Lock()
	if s.current.Target() != target {
		s.current = s.base.WithTarget(target)
	}
	s.apps = append([]App(nil), apps...)
	s.mu.Unlock()

	deps := append([]any{target.Stage, target.EnvID}, ids...)
	s.tracker.Update(deps, len(apps) > 0)
}

// Orchestrator returns the orchestrator of the current target
func (s *Session) Orchestrator() *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State returns the current loading state
func (s *Session) State() asyncstate.State[AppInfoMap] {
	return s.tracker.State()
}

// Wait blocks until the current load settles
func (s *Session) Wait(ctx context.Context) (asyncstate.State[AppInfoMap], error) {
	return s.tracker.Wait(ctx)
}

// Apply replaces the loaded map with fn's result
func (s *Session) Apply(fn func(AppInfoMap) AppInfoMap) {
	s.tracker.SetResult(fn)
}

// Reload loads every app again
func (s *Session) Reload() {
	s.tracker.Reload()
}

// Close drops any load still in flight and aborts pending searches
func (s *Session) Close() {
	s.tracker.Close()
	s.Orchestrator().Close()
}
