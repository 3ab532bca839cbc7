// Package metadata persists per-task execution counters alongside the
// tracker database. Losing failure-count fidelity would let a permanently
// broken task retry forever, so every post-initialization failure is
// surfaced to the caller as fatal rather than swallowed.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record holds the execution counters for one task id.
type Record struct {
	IssueID        string
	FailureCount   int
	ExecutionCount int
	LastFailureAt  *time.Time
	LastSuccessAt  *time.Time
}

// Update names the fields to write. Nil fields are left untouched; an
// all-nil update is a no-op.
type Update struct {
	FailureCount   *int
	ExecutionCount *int
	LastFailureAt  *time.Time
	LastSuccessAt  *time.Time
}

// Store is a sqlite-backed metadata store. It is an explicit handle owned
// by exactly one execution loop; nothing guards two orchestrator instances
// sharing the same database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the tracker database at path and ensures the metadata table
// exists. The file must already exist: the tracker owns the database and
// must be initialized first (bd init).
func Open(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tracker database %s not found (run 'bd init' first): %w", path, err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker database: %w", err)
	}

	// modernc.org/sqlite requires the pragma, not a connection-string flag.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_execution_metadata (
		issue_id TEXT PRIMARY KEY,
		failure_count INTEGER NOT NULL DEFAULT 0,
		execution_count INTEGER NOT NULL DEFAULT 0,
		last_failure_at DATETIME,
		last_success_at DATETIME,
		FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// GetOrCreate returns the record for taskID, inserting a zeroed row on
// first access. The insert is idempotent and never overwrites existing
// counters.
func (s *Store) GetOrCreate(ctx context.Context, taskID string) (*Record, error) {
	rec, err := s.get(ctx, taskID)
	if err == nil {
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", taskID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_execution_metadata (issue_id) VALUES (?)
		 ON CONFLICT(issue_id) DO NOTHING`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata for %s: %w", taskID, err)
	}

	rec, err = s.get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read metadata for %s: %w", taskID, err)
	}
	return rec, nil
}

func (s *Store) get(ctx context.Context, taskID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT issue_id, failure_count, execution_count, last_failure_at, last_success_at
		 FROM task_execution_metadata WHERE issue_id = ?`, taskID)

	var rec Record
	var lastFailure, lastSuccess sql.NullTime
	if err := row.Scan(&rec.IssueID, &rec.FailureCount, &rec.ExecutionCount, &lastFailure, &lastSuccess); err != nil {
		return nil, err
	}
	if lastFailure.Valid {
		t := lastFailure.Time
		rec.LastFailureAt = &t
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		rec.LastSuccessAt = &t
	}
	return &rec, nil
}

// Apply writes only the fields set in u. A call with no fields set
// returns nil without touching the database.
func (s *Store) Apply(ctx context.Context, taskID string, u Update) error {
	var sets []string
	var args []interface{}

	if u.FailureCount != nil {
		sets = append(sets, "failure_count = ?")
		args = append(args, *u.FailureCount)
	}
	if u.ExecutionCount != nil {
		sets = append(sets, "execution_count = ?")
		args = append(args, *u.ExecutionCount)
	}
	if u.LastFailureAt != nil {
		sets = append(sets, "last_failure_at = ?")
		args = append(args, u.LastFailureAt.UTC())
	}
	if u.LastSuccessAt != nil {
		sets = append(sets, "last_success_at = ?")
		args = append(args, u.LastSuccessAt.UTC())
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, taskID)
	query := fmt.Sprintf("UPDATE task_execution_metadata SET %s WHERE issue_id = ?", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", taskID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
