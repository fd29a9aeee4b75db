// Package postgres persists research checkpoints and results in
// PostgreSQL so several servers can share task state.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/research"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/001_initial_schema.sql
var schema string

// Store implements research.Checkpointer, research.CheckpointLister and
// research.ResultStore
type Store struct {
	db *sqlx.DB
}

var (
	_ research.Checkpointer     = (*Store)(nil)
	_ research.CheckpointLister = (*Store)(nil)
	_ research.ResultStore      = (*Store)(nil)
)

// Connect opens a connection pool for the given DSN
func Connect(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables when they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertCheckpoint = `INSERT INTO research_checkpoints (task_id, sequence, stage, status, query, error, data, created_at, checkpoint_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (task_id) DO UPDATE SET sequence = EXCLUDED.sequence, stage = EXCLUDED.stage, status = EXCLUDED.status, query = EXCLUDED.query, error = EXCLUDED.error, data = EXCLUDED.data, checkpoint_at = EXCLUDED.checkpoint_at`

func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *research.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	summary := checkpoint.Summary()
	_, err = s.db.ExecContext(ctx, upsertCheckpoint,
		checkpoint.TaskID,
		checkpoint.Sequence,
		string(summary.Stage),
		string(summary.Status),
		summary.Query,
		summary.Error,
		data,
		checkpoint.CreatedAt,
		checkpoint.CheckpointAt,
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, taskID string) (*research.Checkpoint, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM research_checkpoints WHERE task_id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	var checkpoint research.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_checkpoints WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

type summaryRow struct {
	TaskID       string    `db:"task_id"`
	Query        string    `db:"query"`
	Stage        string    `db:"stage"`
	Status       string    `db:"status"`
	Error        string    `db:"error"`
	CreatedAt    time.Time `db:"created_at"`
	CheckpointAt time.Time `db:"checkpoint_at"`
}

// ListCheckpoints returns every persisted task, newest first
func (s *Store) ListCheckpoints(ctx context.Context) ([]*research.CheckpointSummary, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, `SELECT task_id, query, stage, status, error, created_at, checkpoint_at FROM research_checkpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	summaries := make([]*research.CheckpointSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, &research.CheckpointSummary{
			TaskID:       row.TaskID,
			Query:        row.Query,
			Stage:        research.Stage(row.Stage),
			Status:       research.Status(row.Status),
			Error:        row.Error,
			CreatedAt:    row.CreatedAt,
			CheckpointAt: row.CheckpointAt,
		})
	}
	return summaries, nil
}

const upsertResult = `INSERT INTO research_results (task_id, status, data, completed_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (task_id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data, completed_at = EXCLUDED.completed_at`

func (s *Store) PutResult(ctx context.Context, result *research.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertResult, result.TaskID, string(result.Status), data, result.CompletedAt); err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, taskID string) (*research.Result, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM research_results WHERE task_id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}
	var result research.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	return &result, nil
}

func (s *Store) DeleteResult(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_results WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	return nil
}
