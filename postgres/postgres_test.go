package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/deepnoodle-ai/research"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSaveCheckpoint(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	checkpoint := &research.Checkpoint{
		ID:           "3",
		TaskID:       "task_a",
		State:        research.NewState("task_a", "what is go?", ""),
		Config:       research.TaskConfig{Provider: "openai", APIKey: "secret"},
		Stage:        research.StageSummarizer,
		Sequence:     3,
		CreatedAt:    now,
		CheckpointAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_checkpoints")).
		WithArgs("task_a", 3, "summarizer", "RUNNING", "what is go?", "", sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveCheckpoint(context.Background(), checkpoint))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCheckpoint(t *testing.T) {
	store, mock := newMockStore(t)
	checkpoint := &research.Checkpoint{
		TaskID:   "task_a",
		State:    research.NewState("task_a", "q", ""),
		Stage:    research.StageResearcher,
		Sequence: 2,
	}
	data, err := json.Marshal(checkpoint)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM research_checkpoints WHERE task_id = $1")).
		WithArgs("task_a").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM research_checkpoints WHERE task_id = $1")).
		WithArgs("task_missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM research_checkpoints WHERE task_id = $1")).
		WithArgs("task_b").
		WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	loaded, err := store.LoadCheckpoint(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, research.StageResearcher, loaded.Stage)
	require.Equal(t, 2, loaded.Sequence)

	_, err = store.LoadCheckpoint(ctx, "task_missing")
	require.ErrorIs(t, err, research.ErrNotFound)

	_, err = store.LoadCheckpoint(ctx, "task_b")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCheckpoints(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT task_id, query, stage, status, error, created_at, checkpoint_at FROM research_checkpoints ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "query", "stage", "status", "error", "created_at", "checkpoint_at"}).
			AddRow("task_b", "second", "human_approval", "AWAITING_INPUT", "", now, now).
			AddRow("task_a", "first", "planner", "FAILED", "planner stage_failed: boom", now.Add(-time.Hour), now))

	summaries, err := store.ListCheckpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, research.StatusAwaitingInput, summaries[0].Status)
	require.Equal(t, research.StageHumanApproval, summaries[0].Stage)
	require.Equal(t, "planner stage_failed: boom", summaries[1].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResults(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	result := &research.Result{TaskID: "task_a", Status: research.StatusFailed, Error: "boom", CompletedAt: now}
	data, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_results")).
		WithArgs("task_a", "FAILED", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM research_results WHERE task_id = $1")).
		WithArgs("task_a").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM research_results WHERE task_id = $1")).
		WithArgs("task_a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM research_results WHERE task_id = $1")).
		WithArgs("task_a").
		WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	require.NoError(t, store.PutResult(ctx, result))
	loaded, err := store.GetResult(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, "boom", loaded.Error)
	require.NoError(t, store.DeleteResult(ctx, "task_a"))
	_, err = store.GetResult(ctx, "task_a")
	require.ErrorIs(t, err, research.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS research_checkpoints")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
