package statestore

import (
	"context"
	"errors"
	"time"
)

// ErrBatchNotFound is returned by GetBatch when no trigger batch exists for the given id.
// Callers should use errors.Is() to check for this specific error.
var ErrBatchNotFound = errors.New("trigger batch not found")

// HistoryStore persists bulk deployment trigger batches and their per-application results
type HistoryStore interface {
	// RecordBatch saves a batch and all of its results in one transaction
	RecordBatch(ctx context.Context, batch *BatchRecord) error

	// GetBatch retrieves a batch with its results
	GetBatch(ctx context.Context, id string) (*BatchRecord, error)

	// ListBatches returns batches newest first with optional filters
	ListBatches(ctx context.Context, filter BatchFilter) ([]*BatchRecord, error)

	// CountResults returns the number of recorded results per status
	CountResults(ctx context.Context) (map[string]int, error)

	// CleanupExcessBatches keeps only the most recent maxBatchesToKeep batches
	CleanupExcessBatches(ctx context.Context, maxBatchesToKeep int) (int64, error)

	// Ping verifies the database is reachable
	Ping(ctx context.Context) error
}

// BatchRecord is one bulk trigger fan-out
type BatchRecord struct {
	ID              string
	Stage           string
	EnvironmentID   int
	EnvironmentName string
	Tag             string
	TriggeredBy     string
	CreatedAt       time.Time
	Results         []ResultRecord
}

// ResultRecord is the trigger outcome for one application
type ResultRecord struct {
	AppID      int
	AppName    string
	PipelineID int
	ArtifactID int
	Image      string
	Status     string
	Code       int
	Message    string
}

// StatusCounts tallies results per status
func (b *BatchRecord) StatusCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range b.Results {
		counts[r.Status]++
	}
	return counts
}

// BatchFilter defines criteria for listing batches
type BatchFilter struct {
	EnvironmentID int
	Stage         string
	AppID         int
	Limit         int
	Offset        int
}
