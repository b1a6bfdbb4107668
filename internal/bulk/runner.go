// Package bulk loads, selects and triggers deployments for many applications
// at once. Every fan-out goes through a Runner, so the number of requests in
// flight against the orchestrator stays bounded.
package bulk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/daimoniac/cdpilot/internal/observability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultBatchSize caps concurrent requests when no size is configured
const DefaultBatchSize = 5

// Outcome is the settled result of one fan-out task
type Outcome[T any] struct {
	Value T
	Err   error
}

// Fulfilled reports whether the task completed without error
func (o Outcome[T]) Fulfilled() bool {
	return o.Err == nil
}

// Runner executes tasks with bounded concurrency and optional pacing
type Runner struct {
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewRunner creates a Runner that keeps at most batchSize tasks in flight.
// reqPerSec > 0 additionally paces task starts.
func NewRunner(batchSize, reqPerSec int, logger *slog.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		batchSize: batchSize,
		logger:    logger,
		metrics:   observability.GetMetrics(),
	}
	if reqPerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(reqPerSec), 1)
	}
	return r
}

// BatchSize returns the concurrency cap
func (r *Runner) BatchSize() int {
	return r.batchSize
}

// Run calls fn for every index in [0, n) and waits for all of them. A failing
// task never cancels its siblings; its error is kept in its Outcome. Outcomes
// are returned in index order.
func Run[T any](ctx context.Context, r *Runner, n int, fn func(ctx context.Context, i int) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], n)
	if n == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(r.batchSize)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			r.metrics.BulkInFlight.Inc()
			defer r.metrics.BulkInFlight.Dec()

			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					outcomes[i] = Outcome[T]{Err: fmt.Errorf("waiting for request slot: %w", err)}
					r.metrics.BulkOutcomes.WithLabelValues("rejected").Inc()
					return nil
				}
			}

			value, err := fn(ctx, i)
			outcomes[i] = Outcome[T]{Value: value, Err: err}
			if err != nil {
				r.metrics.BulkOutcomes.WithLabelValues("rejected").Inc()
				r.logger.Debug("bulk task rejected", "index", i, "error", err)
				return nil
			}
			r.metrics.BulkOutcomes.WithLabelValues("fulfilled").Inc()
			return nil
		})
	}

	// Tasks never return an error
	_ = g.Wait()
	return outcomes
}
