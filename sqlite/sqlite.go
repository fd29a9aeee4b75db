// Package sqlite persists research checkpoints and results in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/research"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store implements research.Checkpointer, research.CheckpointLister and
// research.ResultStore
type Store struct {
	db *sql.DB
}

var (
	_ research.Checkpointer     = (*Store)(nil)
	_ research.CheckpointLister = (*Store)(nil)
	_ research.ResultStore      = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies migrations
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *research.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	summary := checkpoint.Summary()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, sequence, stage, status, query, error, data, created_at, checkpoint_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			sequence = excluded.sequence,
			stage = excluded.stage,
			status = excluded.status,
			query = excluded.query,
			error = excluded.error,
			data = excluded.data,
			checkpoint_at = excluded.checkpoint_at`,
		checkpoint.TaskID,
		checkpoint.Sequence,
		string(summary.Stage),
		string(summary.Status),
		summary.Query,
		summary.Error,
		string(data),
		formatTime(checkpoint.CreatedAt),
		formatTime(checkpoint.CheckpointAt),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, taskID string) (*research.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE task_id = ?`, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	var checkpoint research.Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns every persisted task, newest first
func (s *Store) ListCheckpoints(ctx context.Context) ([]*research.CheckpointSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, query, stage, status, error, created_at, checkpoint_at
		FROM checkpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	summaries := []*research.CheckpointSummary{}
	for rows.Next() {
		var summary research.CheckpointSummary
		var stage, status, created, updated string
		if err := rows.Scan(&summary.TaskID, &summary.Query, &stage, &status, &summary.Error, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		summary.Stage = research.Stage(stage)
		summary.Status = research.Status(status)
		summary.CreatedAt = parseTime(created)
		summary.CheckpointAt = parseTime(updated)
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return summaries, nil
}

func (s *Store) PutResult(ctx context.Context, result *research.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (task_id, status, data, completed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			completed_at = excluded.completed_at`,
		result.TaskID, string(result.Status), string(data), formatTime(result.CompletedAt))
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, taskID string) (*research.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM results WHERE task_id = ?`, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}
	var result research.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	return &result, nil
}

func (s *Store) DeleteResult(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
