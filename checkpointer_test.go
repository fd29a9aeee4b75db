package research

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepnoodle-ai/research/tools"
	"github.com/stretchr/testify/require"
)

func testCheckpoint(taskID string, created time.Time) *Checkpoint {
	state := NewState(taskID, "query for "+taskID, "")
	state.ResearchQuestions = []string{"A?"}
	state.addFinding("A?", "fact", tools.Source{"source": "http://a"})
	return &Checkpoint{
		ID:        "1",
		TaskID:    taskID,
		State:     state,
		Config:    TaskConfig{Provider: "openai", APIKey: "secret"},
		Stage:     StageSummarizer,
		Sequence:  1,
		CreatedAt: created,
	}
}

func testCheckpointer(t *testing.T, checkpointer interface {
	Checkpointer
	CheckpointLister
}) {
	ctx := context.Background()

	_, err := checkpointer.LoadCheckpoint(ctx, "task_missing")
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	older := testCheckpoint("task_a", now.Add(-time.Minute))
	newer := testCheckpoint("task_b", now)
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, older))
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, newer))

	loaded, err := checkpointer.LoadCheckpoint(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, "task_a", loaded.TaskID)
	require.Equal(t, StageSummarizer, loaded.Stage)
	require.Equal(t, []string{"fact"}, loaded.State.Findings["A?"])
	require.Equal(t, "http://a", loaded.State.Sources["A?"][0].Identifier())

	// Last write wins
	older.Stage = StageMemorizer
	older.Sequence = 2
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, older))
	loaded, err = checkpointer.LoadCheckpoint(ctx, "task_a")
	require.NoError(t, err)
	require.Equal(t, StageMemorizer, loaded.Stage)
	require.Equal(t, 2, loaded.Sequence)

	summaries, err := checkpointer.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "task_b", summaries[0].TaskID)
	require.Equal(t, "query for task_b", summaries[0].Query)
	require.Equal(t, StatusRunning, summaries[0].Status)

	require.NoError(t, checkpointer.DeleteCheckpoint(ctx, "task_a"))
	_, err = checkpointer.LoadCheckpoint(ctx, "task_a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCheckpointer(t *testing.T) {
	checkpointer := NewMemoryCheckpointer()
	testCheckpointer(t, checkpointer)

	// Saved checkpoints are isolated from later mutation
	ctx := context.Background()
	checkpoint := testCheckpoint("task_c", time.Now())
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, checkpoint))
	checkpoint.State.Findings["A?"][0] = "changed"
	loaded, err := checkpointer.LoadCheckpoint(ctx, "task_c")
	require.NoError(t, err)
	require.Equal(t, "fact", loaded.State.Findings["A?"][0])
}

func TestFileCheckpointer(t *testing.T) {
	dir := t.TempDir()
	checkpointer, err := NewFileCheckpointer(dir)
	require.NoError(t, err)
	testCheckpointer(t, checkpointer)

	ctx := context.Background()
	loaded, err := checkpointer.LoadCheckpoint(ctx, "task_b")
	require.NoError(t, err)
	require.Empty(t, loaded.Config.APIKey)
	require.Equal(t, "openai", string(loaded.Config.Provider))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))
	summaries, err := checkpointer.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	_, err = checkpointer.LoadCheckpoint(ctx, "../escape")
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, checkpointer.SaveCheckpoint(ctx, testCheckpoint("a/b", time.Now())))
}

func TestFileStageLogger(t *testing.T) {
	logger := NewFileStageLogger(t.TempDir())
	ctx := context.Background()

	history, err := logger.GetStageHistory(ctx, "task_none")
	require.NoError(t, err)
	require.Empty(t, history)

	require.NoError(t, logger.LogStage(ctx, &StageLogEntry{
		ID:     "task_1-1",
		TaskID: "task_1",
		Stage:  StagePlanner,
		Next:   StageHumanApproval,
	}))
	require.NoError(t, logger.LogStage(ctx, &StageLogEntry{
		ID:     "task_1-2",
		TaskID: "task_1",
		Stage:  StageResearcher,
		Next:   StageSummarizer,
		Error:  "boom",
	}))

	history, err = logger.GetStageHistory(ctx, "task_1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, StagePlanner, history[0].Stage)
	require.Equal(t, "boom", history[1].Error)
}
