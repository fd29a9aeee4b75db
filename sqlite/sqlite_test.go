package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepnoodle-ai/research"
	"github.com/deepnoodle-ai/research/tools"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "research.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func newCheckpoint(taskID string, created time.Time) *research.Checkpoint {
	state := research.NewState(taskID, "query "+taskID, "alice")
	state.ResearchQuestions = []string{"A?"}
	state.Findings["A?"] = []string{"fact"}
	state.Sources["A?"] = []tools.Source{{"source": "http://a"}}
	return &research.Checkpoint{
		ID:           "1",
		TaskID:       taskID,
		State:        state,
		Config:       research.TaskConfig{Provider: "groq", APIKey: "secret"},
		Stage:        research.StageHumanApproval,
		SuspendedAt:  research.StageHumanApproval,
		Pending:      []string{"A?"},
		Sequence:     1,
		CreatedAt:    created,
		CheckpointAt: created,
	}
}

func TestCheckpoints(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.LoadCheckpoint(ctx, "task_missing")
	require.ErrorIs(t, err, research.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, store.SaveCheckpoint(ctx, newCheckpoint("task_a", now.Add(-time.Minute))))
	require.NoError(t, store.SaveCheckpoint(ctx, newCheckpoint("task_b", now)))

	loaded, err := store.LoadCheckpoint(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, research.StageHumanApproval, loaded.SuspendedAt)
	require.Equal(t, []string{"A?"}, loaded.Pending)
	require.Equal(t, "http://a", loaded.State.Sources["A?"][0].Identifier())
	require.Empty(t, loaded.Config.APIKey)

	// Last write wins
	loaded.SuspendedAt = ""
	loaded.Stage = research.StageResearcher
	loaded.Sequence = 2
	require.NoError(t, store.SaveCheckpoint(ctx, loaded))

	summaries, err := store.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "task_b", summaries[0].TaskID)
	require.Equal(t, research.StatusAwaitingInput, summaries[0].Status)
	require.Equal(t, "task_a", summaries[1].TaskID)
	require.Equal(t, research.StageResearcher, summaries[1].Stage)
	require.Equal(t, research.StatusRunning, summaries[1].Status)
	require.Equal(t, "query task_a", summaries[1].Query)

	require.NoError(t, store.DeleteCheckpoint(ctx, "task_a"))
	_, err = store.LoadCheckpoint(ctx, "task_a")
	require.ErrorIs(t, err, research.ErrNotFound)
}

func TestResults(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetResult(ctx, "task_a")
	require.ErrorIs(t, err, research.ErrNotFound)

	result := &research.Result{
		TaskID: "task_a",
		Status: research.StatusComplete,
		Report: &research.Report{
			OriginalQuery: "q",
			Summary:       "summary",
			Citations:     []research.Citation{{Source: "http://a"}},
		},
		CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, store.PutResult(ctx, result))

	loaded, err := store.GetResult(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, research.StatusComplete, loaded.Status)
	require.Equal(t, "summary", loaded.Report.Summary)
	require.Equal(t, result.Report.Citations, loaded.Report.Citations)

	require.NoError(t, store.DeleteResult(ctx, "task_a"))
	_, err = store.GetResult(ctx, "task_a")
	require.ErrorIs(t, err, research.ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCheckpoint(ctx, newCheckpoint("task_a", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.LoadCheckpoint(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, "task_a", loaded.TaskID)
}
