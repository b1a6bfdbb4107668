package statestore

import (
	"context"
	"errors"
	"testing"
	"time"

	cdperrors "github.com/daimoniac/cdpilot/internal/errors"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCleanupExcessBatches(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		batch := &BatchRecord{
			Stage:         "DEPLOY",
			EnvironmentID: 1,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			Results: []ResultRecord{
				{AppID: i + 1, AppName: "app", Status: "SUCCESS"},
			},
		}
		if err := store.RecordBatch(ctx, batch); err != nil {
			t.Fatalf("Failed to record batch %d: %v", i, err)
		}
		ids = append(ids, batch.ID)
	}

	deleted, err := store.CleanupExcessBatches(ctx, 2)
	if err != nil {
		t.Fatalf("CleanupExcessBatches failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted batches, got %d", deleted)
	}

	batches, err := store.ListBatches(ctx, BatchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 || batches[0].ID != ids[4] || batches[1].ID != ids[3] {
		t.Errorf("wrong batches kept")
	}

	// Results of removed batches are cascaded
	counts, err := store.CountResults(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["SUCCESS"] != 2 {
		t.Errorf("expected 2 remaining results, got %d", counts["SUCCESS"])
	}

	if _, err := store.GetBatch(ctx, ids[0]); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected oldest batch to be gone, got %v", err)
	}
}

func TestCleanupExcessBatches_LargeLimit(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		batch := &BatchRecord{Stage: "DEPLOY", EnvironmentID: 1, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := store.RecordBatch(ctx, batch); err != nil {
			t.Fatalf("Failed to record batch %d: %v", i, err)
		}
	}

	// larger than SQLite's bound parameter limit
	deleted, err := store.CleanupExcessBatches(ctx, 40000)
	if err != nil {
		t.Fatalf("CleanupExcessBatches failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected nothing deleted, got %d", deleted)
	}

	batches, err := store.ListBatches(ctx, BatchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 {
		t.Errorf("expected 3 batches, got %d", len(batches))
	}
}

func TestCleanupExcessBatches_InvalidLimit(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	_, err := store.CleanupExcessBatches(context.Background(), 0)
	if !cdperrors.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

// TestCleanupKeepsAtMostNProperty checks that cleanup never leaves more than
// the requested number of batches and never drops below it when enough exist.
func TestCleanupKeepsAtMostNProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("batch count after cleanup is min(total, keep)", prop.ForAll(
		func(total int, keep int) bool {
			store, cleanup := createTestStore(t)
			defer cleanup()

			ctx := context.Background()
			base := time.Now()
			for i := 0; i < total; i++ {
				batch := &BatchRecord{Stage: "DEPLOY", EnvironmentID: 1, CreatedAt: base.Add(time.Duration(i) * time.Second)}
				if err := store.RecordBatch(ctx, batch); err != nil {
					t.Logf("Failed to record batch: %v", err)
					return false
				}
			}

			if _, err := store.CleanupExcessBatches(ctx, keep); err != nil {
				t.Logf("Cleanup failed: %v", err)
				return false
			}

			batches, err := store.ListBatches(ctx, BatchFilter{})
			if err != nil {
				return false
			}

			want := total
			if keep < want {
				want = keep
			}
			return len(batches) == want
		},
		gen.IntRange(0, 8),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
