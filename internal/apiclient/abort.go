package apiclient

import (
	"context"
	stderrors "errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a request replaced by a newer one
var ErrSuperseded = stderrors.New("superseded by a newer request")

// AbortSlot holds the cancel function of the latest logical request issued
// from one call site. Replacing it cancels the previous request, so at most
// one request per slot is ever live. The zero value is ready to use.
type AbortSlot struct {
	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// Replace cancels the slot's current request and returns a fresh context
// derived from parent for the next one.
func (s *AbortSlot) Replace(parent context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	prev := s.cancel
	s.cancel = cancel
	s.mu.Unlock()

	if prev != nil {
		prev(ErrSuperseded)
	}
	return ctx
}

// Abort cancels the slot's current request, if any
func (s *AbortSlot) Abort() {
	s.mu.Lock()
	prev := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if prev != nil {
		prev(context.Canceled)
	}
}

// AbortPreviousRequests cancels whatever slot was running and calls fn with
// a fresh context.
func AbortPreviousRequests[T any](parent context.Context, slot *AbortSlot, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(slot.Replace(parent))
}
