package statestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements HistoryStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite history store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _foreign_keys=1: Ensures CASCADE DELETE works properly
	// mode=rwc: Read/Write/Create mode
	// _journal_mode=WAL: Write-Ahead Logging allows concurrent readers and a single writer
	// _busy_timeout=3000: Wait up to 3 seconds for locks
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	// WAL mode supports one writer and multiple concurrent readers
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, errors.NewTransientf("failed to check foreign keys status: %w", err)
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.NewTransientf("foreign keys are not enabled (got %d, expected 1)", fkEnabled)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewTransientf("failed to ping sqlite database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trigger_batches (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		environment_id INTEGER NOT NULL,
		environment_name TEXT,
		tag TEXT,
		triggered_by TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trigger_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		app_id INTEGER NOT NULL,
		app_name TEXT NOT NULL,
		pipeline_id INTEGER,
		artifact_id INTEGER,
		image TEXT,
		status TEXT NOT NULL,
		code INTEGER,
		message TEXT,
		FOREIGN KEY (batch_id) REFERENCES trigger_batches(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_trigger_batches_created ON trigger_batches(created_at);
	CREATE INDEX IF NOT EXISTS idx_trigger_batches_env ON trigger_batches(environment_id);
	CREATE INDEX IF NOT EXISTS idx_trigger_results_batch ON trigger_results(batch_id);
	CREATE INDEX IF NOT EXISTS idx_trigger_results_app ON trigger_results(app_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordBatch saves a batch and its results in a transaction. A missing id is
// filled with a random UUID and a zero CreatedAt with the current time.
func (s *SQLiteStore) RecordBatch(ctx context.Context, batch *BatchRecord) error {
	if batch == nil {
		return errors.NewPermanentf("batch record is nil")
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trigger_batches (id, stage, environment_id, environment_name, tag, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, batch.ID, batch.Stage, batch.EnvironmentID, batch.EnvironmentName, batch.Tag, batch.TriggeredBy, batch.CreatedAt.UnixNano())
	if err != nil {
		return errors.NewTransientf("failed to insert trigger batch: %w", err)
	}

	if len(batch.Results) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trigger_results (
				batch_id, app_id, app_name, pipeline_id, artifact_id, image, status, code, message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return errors.NewTransientf("failed to prepare result statement: %w", err)
		}
		defer stmt.Close()

		for _, r := range batch.Results {
			_, err := stmt.ExecContext(ctx,
				batch.ID, r.AppID, r.AppName, r.PipelineID, r.ArtifactID, r.Image, r.Status, r.Code, r.Message,
			)
			if err != nil {
				return errors.NewTransientf("failed to insert trigger result: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch with its results
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	var batch BatchRecord
	var envName, tag, triggeredBy sql.NullString
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, stage, environment_id, environment_name, tag, triggered_by, created_at
		FROM trigger_batches
		WHERE id = ?
	`, id).Scan(&batch.ID, &batch.Stage, &batch.EnvironmentID, &envName, &tag, &triggeredBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query trigger batch: %w", err)
	}

	batch.EnvironmentName = envName.String
	batch.Tag = tag.String
	batch.TriggeredBy = triggeredBy.String
	batch.CreatedAt = time.Unix(0, createdAt)

	results, err := s.loadResults(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	batch.Results = results

	return &batch, nil
}

func (s *SQLiteStore) loadResults(ctx context.Context, batchID string) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, app_name, pipeline_id, artifact_id, image, status, code, message
		FROM trigger_results
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, errors.NewTransientf("failed to query trigger results: %w", err)
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		var r ResultRecord
		var pipelineID, artifactID, code sql.NullInt64
		var image, message sql.NullString
		if err := rows.Scan(&r.AppID, &r.AppName, &pipelineID, &artifactID, &image, &r.Status, &code, &message); err != nil {
			return nil, errors.NewTransientf("failed to scan trigger result: %w", err)
		}
		r.PipelineID = int(pipelineID.Int64)
		r.ArtifactID = int(artifactID.Int64)
		r.Code = int(code.Int64)
		r.Image = image.String
		r.Message = message.String
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating trigger results: %w", err)
	}

	return results, nil
}

// ListBatches returns batches newest first with optional filters
func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]*BatchRecord, error) {
	query := `
		SELECT b.id, b.stage, b.environment_id, b.environment_name, b.tag, b.triggered_by, b.created_at
		FROM trigger_batches b
		WHERE 1=1
	`
	var args []interface{}

	if filter.EnvironmentID > 0 {
		query += " AND b.environment_id = ?"
		args = append(args, filter.EnvironmentID)
	}

	if filter.Stage != "" {
		query += " AND b.stage = ?"
		args = append(args, filter.Stage)
	}

	if filter.AppID > 0 {
		query += " AND EXISTS (SELECT 1 FROM trigger_results r WHERE r.batch_id = b.id AND r.app_id = ?)"
		args = append(args, filter.AppID)
	}

	query += " ORDER BY b.created_at DESC, b.rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to list trigger batches: %w", err)
	}

	var batches []*BatchRecord
	for rows.Next() {
		var batch BatchRecord
		var envName, tag, triggeredBy sql.NullString
		var createdAt int64
		if err := rows.Scan(&batch.ID, &batch.Stage, &batch.EnvironmentID, &envName, &tag, &triggeredBy, &createdAt); err != nil {
			rows.Close()
			return nil, errors.NewTransientf("failed to scan trigger batch: %w", err)
		}
		batch.EnvironmentName = envName.String
		batch.Tag = tag.String
		batch.TriggeredBy = triggeredBy.String
		batch.CreatedAt = time.Unix(0, createdAt)
		batches = append(batches, &batch)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewTransientf("error iterating trigger batches: %w", err)
	}
	rows.Close()

	// Results are loaded after the cursor is released so the pool is not
	// exhausted by nested queries.
	for _, batch := range batches {
		results, err := s.loadResults(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		batch.Results = results
	}

	return batches, nil
}

// CountResults returns the number of recorded results per status
func (s *SQLiteStore) CountResults(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM trigger_results GROUP BY status
	`)
	if err != nil {
		return nil, errors.NewTransientf("failed to count trigger results: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewTransientf("failed to scan result count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating result counts: %w", err)
	}

	return counts, nil
}

// executeCleanup is a helper method for transaction management in cleanup operations
func (s *SQLiteStore) executeCleanup(ctx context.Context, operation func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	if err := operation(tx); err != nil {
		return err // Error already classified by operation
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit cleanup transaction: %w", err)
	}

	return nil
}

// CleanupExcessBatches removes all but the most recent maxBatchesToKeep
// batches. Results go with their batch through ON DELETE CASCADE.
func (s *SQLiteStore) CleanupExcessBatches(ctx context.Context, maxBatchesToKeep int) (int64, error) {
	if maxBatchesToKeep <= 0 {
		return 0, errors.NewPermanentf("maxBatchesToKeep must be positive, got %d", maxBatchesToKeep)
	}

	var deleted int64
	err := s.executeCleanup(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM trigger_batches
			WHERE id NOT IN (
				SELECT id FROM trigger_batches
				ORDER BY created_at DESC, rowid DESC
				LIMIT ?
			)
		`, maxBatchesToKeep)
		if err != nil {
			return errors.NewTransientf("failed to delete excess trigger batches: %w", err)
		}

		deleted, err = result.RowsAffected()
		if err != nil {
			return errors.NewTransientf("failed to get deleted rows count: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}
