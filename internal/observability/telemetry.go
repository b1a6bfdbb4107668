package observability

import (
	"log/slog"

	"github.com/daimoniac/cdpilot/internal/errors"
)

// Telemetry is the exception sink for errors no caller knew how to handle.
// Each report is logged once at error level and counted by kind.
type Telemetry struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewTelemetry creates a telemetry sink backed by logger and the global metrics
func NewTelemetry(logger *slog.Logger) *Telemetry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telemetry{
		logger:  logger,
		metrics: GetMetrics(),
	}
}

// CaptureException records err
func (t *Telemetry) CaptureException(err error) {
	if err == nil {
		return
	}
	kind := errors.KindOf(err)
	t.metrics.ReportedErrors.WithLabelValues(string(kind)).Inc()
	t.logger.Error("unhandled error",
		"kind", string(kind),
		"code", errors.CodeOf(err),
		"error", err.Error())
}
