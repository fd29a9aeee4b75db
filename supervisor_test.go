package research

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepnoodle-ai/research/tools"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T, env *testEnv) *Supervisor {
	t.Helper()
	supervisor, err := NewSupervisor(SupervisorOptions{
		Engine:       env.engine,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		supervisor.Shutdown(ctx)
	})
	return supervisor
}

func TestSupervisorEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	supervisor := newTestSupervisor(t, env)
	ctx := context.Background()

	taskID, err := supervisor.Submit(ctx, SubmitRequest{Query: "What is quantum entanglement?"})
	require.NoError(t, err)

	status, err := supervisor.Status(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingInput, status.Status)
	require.Len(t, status.ResearchQuestions, 3)

	_, err = supervisor.Results(ctx, taskID, 0)
	require.ErrorIs(t, err, ErrPending)

	require.NoError(t, supervisor.Resume(ctx, taskID, status.ResearchQuestions))
	result, err := supervisor.Results(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, "What is quantum entanglement?", result.Report.OriginalQuery)
	require.NotEmpty(t, result.Report.Summary)
	require.Len(t, result.Report.Findings, 3)
	for _, group := range result.Report.Findings {
		require.Equal(t, []string{"X"}, group.Results)
	}
	require.Equal(t, []Citation{{Source: "http://a"}}, result.Report.Citations)

	status, err = supervisor.Status(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status.Status)

	err = supervisor.Resume(ctx, taskID, status.ResearchQuestions)
	require.ErrorIs(t, err, ErrNotSuspended)
}

func TestSupervisorUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	supervisor := newTestSupervisor(t, env)
	ctx := context.Background()

	_, err := supervisor.Status(ctx, "task_missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = supervisor.Results(ctx, "task_missing", time.Second)
	require.ErrorIs(t, err, ErrNotFound)
	err = supervisor.Resume(ctx, "task_missing", []string{"q?"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSupervisorSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	supervisor := newTestSupervisor(t, env)
	ctx := context.Background()

	_, err := supervisor.Submit(ctx, SubmitRequest{Query: ""})
	require.ErrorIs(t, err, ErrInvalidQuery)

	_, err = supervisor.Submit(ctx, SubmitRequest{Query: "q", Provider: "anthropic-local"})
	require.ErrorIs(t, err, ErrInvalidProvider)
}

func TestSupervisorPlannerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.llm.planErr = errors.New("provider unavailable")
	supervisor := newTestSupervisor(t, env)
	ctx := context.Background()

	taskID, err := supervisor.Submit(ctx, SubmitRequest{Query: "q"})
	require.Error(t, err)
	require.NotEmpty(t, taskID)

	status, err := supervisor.Status(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status.Status)
	require.Contains(t, status.Error, "provider unavailable")

	result, err := supervisor.Results(ctx, taskID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Nil(t, result.Report)
}

func TestSupervisorResultsTimesOut(t *testing.T) {
	env := newTestEnv(t)
	supervisor := newTestSupervisor(t, env)
	ctx := context.Background()

	taskID, err := supervisor.Submit(ctx, SubmitRequest{Query: "q"})
	require.NoError(t, err)

	start := time.Now()
	_, err = supervisor.Results(ctx, taskID, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrPending)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSupervisorRecover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	snapshot, err := env.engine.Start(ctx, StartRequest{Query: "q"})
	require.NoError(t, err)
	// Approved but never continued, as after a crash mid-run
	_, err = env.engine.Approve(ctx, snapshot.TaskID, snapshot.Pending)
	require.NoError(t, err)

	suspended, err := env.engine.Start(ctx, StartRequest{Query: "other"})
	require.NoError(t, err)

	supervisor := newTestSupervisor(t, env)
	count, err := supervisor.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	supervisor.Wait()

	result, err := supervisor.Results(ctx, snapshot.TaskID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, result.Status)

	status, err := supervisor.Status(ctx, suspended.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingInput, status.Status)
}

// unwritableResults loses every result it is given
type unwritableResults struct {
	*MemoryResultStore
}

func (unwritableResults) PutResult(ctx context.Context, result *Result) error {
	return errors.New("disk full")
}

func TestSupervisorResultsFromFailedCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	env.llm.planErr = errors.New("provider unavailable")
	supervisor, err := NewSupervisor(SupervisorOptions{
		Engine:  env.engine,
		Results: unwritableResults{NewMemoryResultStore()},
	})
	require.NoError(t, err)
	ctx := context.Background()

	taskID, err := supervisor.Submit(ctx, SubmitRequest{Query: "q"})
	require.Error(t, err)

	result, err := supervisor.Results(ctx, taskID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Contains(t, result.Error, "provider unavailable")
	require.Nil(t, result.Report)
}

func TestSupervisorResultsBeforeMemorize(t *testing.T) {
	env := newTestEnv(t)
	supervisor := newTestSupervisor(t, env)
	ctx := context.Background()

	state := NewState("task_written", "q", "")
	state.ResearchQuestions = []string{"A?"}
	state.FinalReport = "the report"
	require.NoError(t, env.checkpointer.SaveCheckpoint(ctx, &Checkpoint{
		TaskID: "task_written",
		State:  state,
		Stage:  StageMemorizer,
	}))

	status, err := supervisor.Status(ctx, "task_written")
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status.Status)

	result, err := supervisor.Results(ctx, "task_written", 0)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, "the report", result.Report.Summary)

	// Not recorded, so the memorizer is still recovered
	count, err := supervisor.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	supervisor.Wait()
	memories, err := env.memory.Search(ctx, "report", "", 5)
	require.NoError(t, err)
	require.Len(t, memories, 1)
}

func TestSupervisorRecoversInterruptedRun(t *testing.T) {
	var blocking atomic.Bool
	blocking.Store(true)
	started := make(chan struct{}, 1)
	searches := &searchLog{}
	web := tools.Func(tools.WebSearch, func(ctx context.Context, query string) ([]tools.Document, error) {
		if blocking.Load() {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		searches.add(query)
		return []tools.Document{{Content: "X", Source: tools.Source{"source": "http://a"}}}, nil
	})
	env := newTestEnv(t, func(opts *EngineOptions) {
		registry, err := tools.NewRegistry(web)
		require.NoError(t, err)
		opts.Stages.Tools = registry
	})
	ctx := context.Background()

	first, err := NewSupervisor(SupervisorOptions{Engine: env.engine})
	require.NoError(t, err)
	taskID, err := first.Submit(ctx, SubmitRequest{Query: "q"})
	require.NoError(t, err)
	status, err := first.Status(ctx, taskID)
	require.NoError(t, err)
	require.NoError(t, first.Resume(ctx, taskID, status.ResearchQuestions))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("search never started")
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, first.Shutdown(shutdownCtx), context.DeadlineExceeded)

	snapshot, err := env.engine.GetState(ctx, taskID)
	require.NoError(t, err)
	require.Empty(t, snapshot.Error)
	require.Equal(t, StageResearcher, snapshot.Stage)
	require.Equal(t, StatusRunning, snapshot.Status)
	for _, q := range status.ResearchQuestions {
		require.Empty(t, snapshot.State.Findings[q])
	}

	blocking.Store(false)
	second := newTestSupervisor(t, env)
	count, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	result, err := second.Results(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, status.ResearchQuestions, searches.all())
	for _, group := range result.Report.Findings {
		require.Equal(t, []string{"X"}, group.Results)
	}
}
