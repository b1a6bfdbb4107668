package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/cdpilot/internal/statestore"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	historyCollectorOnce     sync.Once
	historyCollectorInstance *HistoryCollector
)

// HistoryCollector reads trigger history aggregates from the store when metrics are gathered
type HistoryCollector struct {
	store  statestore.HistoryStore
	logger *slog.Logger

	resultsDesc *prometheus.Desc
	batchesDesc *prometheus.Desc
}

// NewHistoryCollector creates a new trigger history collector
func NewHistoryCollector(store statestore.HistoryStore, logger *slog.Logger) *HistoryCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryCollector{
		store:  store,
		logger: logger,
		resultsDesc: prometheus.NewDesc(
			"cdpilot_history_trigger_results",
			"Number of recorded trigger results by status",
			[]string{"status"},
			nil,
		),
		batchesDesc: prometheus.NewDesc(
			"cdpilot_history_batches",
			"Number of recorded bulk trigger batches",
			nil,
			nil,
		),
	}
}

// RegisterHistoryCollector registers the history collector exactly once
func RegisterHistoryCollector(store statestore.HistoryStore, logger *slog.Logger) {
	historyCollectorOnce.Do(func() {
		historyCollectorInstance = NewHistoryCollector(store, logger)
		prometheus.MustRegister(historyCollectorInstance)
		historyCollectorInstance.logger.Debug("history metrics collector registered")
	})
}

// Describe sends the metric descriptors to the provided channel
func (c *HistoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resultsDesc
	ch <- c.batchesDesc
}

// Collect queries the store and sends current metrics to the provided channel
func (c *HistoryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c.collectResults(ctx, ch)
	c.collectBatches(ctx, ch)
}

func (c *HistoryCollector) collectResults(ctx context.Context, ch chan<- prometheus.Metric) {
	counts, err := c.store.CountResults(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("trigger result metric collection timed out (likely database locked)", "error", err)
		} else {
			c.logger.Error("failed to collect trigger result metrics", "error", err)
		}
		return
	}

	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.resultsDesc,
			prometheus.GaugeValue,
			float64(count),
			status,
		)
	}
}

func (c *HistoryCollector) collectBatches(ctx context.Context, ch chan<- prometheus.Metric) {
	batches, err := c.store.ListBatches(ctx, statestore.BatchFilter{})
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("batch metric collection timed out (likely database locked)", "error", err)
		} else {
			c.logger.Error("failed to collect batch metrics", "error", err)
		}
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.batchesDesc,
		prometheus.GaugeValue,
		float64(len(batches)),
	)
}
