// Package history persists deployment runs and the switch journal in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages deployment history in SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new history store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the database tables and indexes
func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stack TEXT NOT NULL,
			image_tag TEXT NOT NULL,
			from_env TEXT NOT NULL,
			to_env TEXT NOT NULL,
			status TEXT NOT NULL,
			failed_stage TEXT,
			operator TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			rollback_attempted INTEGER NOT NULL DEFAULT 0,
			rollback_succeeded INTEGER,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_stack_started
		ON runs(stack, started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	// The switch journal is the one record that must survive a crash of the
	// orchestrator between the traffic repoint and run completion.
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS switch_journal (
			stack TEXT PRIMARY KEY,
			from_env TEXT NOT NULL,
			to_env TEXT NOT NULL,
			switched_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create switch_journal table: %w", err)
	}

	return nil
}

// RecordRun records a deployment run in the history
func (s *Store) RecordRun(ctx context.Context, record *RunRecord) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	startedAt := now
	if !record.StartedAt.IsZero() {
		startedAt = record.StartedAt.UTC().Format(time.RFC3339)
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	} else if record.Status != StatusInProgress {
		completedAt = &now
	}

	var rollbackSucceeded *int
	if record.RollbackSucceeded != nil {
		v := 0
		if *record.RollbackSucceeded {
			v = 1
		}
		rollbackSucceeded = &v
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(stack, image_tag, from_env, to_env, status, failed_stage, operator,
		 started_at, completed_at, duration_seconds,
		 rollback_attempted, rollback_succeeded, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.Stack,
		record.ImageTag,
		record.FromEnv,
		record.ToEnv,
		record.Status,
		record.FailedStage,
		record.Operator,
		startedAt,
		completedAt,
		record.DurationSeconds,
		boolToInt(record.RollbackAttempted),
		rollbackSucceeded,
		record.ErrorMessage,
	)

	if err != nil {
		return 0, fmt.Errorf("failed to insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// LatestRun returns the most recent run for a stack
func (s *Store) LatestRun(ctx context.Context, stackName string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stack, image_tag, from_env, to_env, status, failed_stage, operator,
		       started_at, completed_at, duration_seconds,
		       rollback_attempted, rollback_succeeded, error_message
		FROM runs
		WHERE stack = ?
		ORDER BY id DESC
		LIMIT 1
	`, stackName)

	record, err := scanRunRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	return record, nil
}

// RunHistory returns run history for a stack
func (s *Store) RunHistory(ctx context.Context, stackName string, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stack, image_tag, from_env, to_env, status, failed_stage, operator,
		       started_at, completed_at, duration_seconds,
		       rollback_attempted, rollback_succeeded, error_message
		FROM runs
		WHERE stack = ?
		ORDER BY id DESC
		LIMIT ?
	`, stackName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// MarkSwitched journals that traffic for a stack has been repointed. Written
// synchronously before the switch call returns to its caller.
func (s *Store) MarkSwitched(ctx context.Context, stackName, fromEnv, toEnv string) error {
	switchedAt := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO switch_journal (stack, from_env, to_env, switched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(stack) DO UPDATE SET
			from_env = excluded.from_env,
			to_env = excluded.to_env,
			switched_at = excluded.switched_at
	`, stackName, fromEnv, toEnv, switchedAt)
	if err != nil {
		return fmt.Errorf("failed to journal traffic switch: %w", err)
	}

	return nil
}

// ClearSwitched removes the journal entry for a stack, recording that the
// topology is settled (run completed, or rollback restored the old target).
func (s *Store) ClearSwitched(ctx context.Context, stackName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM switch_journal WHERE stack = ?`, stackName); err != nil {
		return fmt.Errorf("failed to clear switch journal: %w", err)
	}
	return nil
}

// PendingSwitch returns the journal entry for a stack, or nil if traffic is
// settled. A non-nil entry from a previous process means a run died after
// its traffic switch and the operator must inspect before redeploying.
func (s *Store) PendingSwitch(ctx context.Context, stackName string) (*SwitchEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stack, from_env, to_env, switched_at
		FROM switch_journal
		WHERE stack = ?
	`, stackName)

	var entry SwitchEntry
	var switchedAtStr string

	err := row.Scan(&entry.Stack, &entry.FromEnv, &entry.ToEnv, &switchedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query switch journal: %w", err)
	}

	switchedAt, err := time.Parse(time.RFC3339, switchedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse switched_at timestamp: %w", err)
	}
	entry.SwitchedAt = switchedAt

	return &entry, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRunRecord scans a database row into a RunRecord
// Works with both *sql.Row and *sql.Rows
func scanRunRecord(s scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAtStr string
	var completedAtStr sql.NullString
	var rollbackAttempted int
	var rollbackSucceeded sql.NullInt64

	err := s.Scan(
		&record.ID,
		&record.Stack,
		&record.ImageTag,
		&record.FromEnv,
		&record.ToEnv,
		&record.Status,
		&record.FailedStage,
		&record.Operator,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&rollbackAttempted,
		&rollbackSucceeded,
		&record.ErrorMessage,
	)

	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	record.RollbackAttempted = rollbackAttempted != 0
	if rollbackSucceeded.Valid {
		v := rollbackSucceeded.Int64 != 0
		record.RollbackSucceeded = &v
	}

	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
