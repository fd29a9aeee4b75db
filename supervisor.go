package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/research/llm"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrentRuns = 4
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultMaxWait           = 30 * time.Second
)

// SupervisorOptions configures a new supervisor
type SupervisorOptions struct {
	Engine  *Engine
	Results ResultStore
	// MaxConcurrentRuns bounds background runs across all tasks
	MaxConcurrentRuns int64
	// PollInterval is how often a waiting results query re-checks
	PollInterval time.Duration
	// MaxWait caps the wait a results query may request
	MaxWait time.Duration
	Logger  *slog.Logger
}

// SubmitRequest is a new research request
type SubmitRequest struct {
	Query    string
	Provider string
	Model    string
	APIKey   string
	UserID   string
}

// TaskStatus is the answer to a status query
type TaskStatus struct {
	TaskID            string   `json:"task_id"`
	Status            Status   `json:"status"`
	ResearchQuestions []string `json:"research_questions,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// Supervisor maps task ids to engine runs. It starts tasks synchronously,
// runs resumed tasks in the background and records their terminal results.
type Supervisor struct {
	engine       *Engine
	results      ResultStore
	sem          *semaphore.Weighted
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a new supervisor
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Results == nil {
		opts.Results = NewMemoryResultStore()
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		engine:       opts.Engine,
		results:      opts.Results,
		sem:          semaphore.NewWeighted(opts.MaxConcurrentRuns),
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Submit creates a task and runs it to the approval point. When the task
// fails after its id was assigned, the id is returned with the error and a
// failed result is recorded.
func (s *Supervisor) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", ErrInvalidQuery
	}
	cfg := TaskConfig{Model: req.Model, APIKey: req.APIKey}
	if req.Provider != "" {
		provider, err := llm.ParseProvider(req.Provider)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidProvider, err)
		}
		cfg.Provider = provider
	}

	taskID := NewTaskID()
	_, err := s.engine.Start(ctx, StartRequest{
		TaskID: taskID,
		Query:  req.Query,
		UserID: req.UserID,
		Config: cfg,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrInvalidProvider) {
			return "", err
		}
		s.record(ctx, NewFailedResult(taskID, err))
		return taskID, err
	}
	s.logger.Info("task submitted", "task_id", taskID)
	return taskID, nil
}

// Resume approves the task's questions and continues it in the background.
// Validation errors, unknown ids and tasks that are not awaiting input are
// reported synchronously.
func (s *Supervisor) Resume(ctx context.Context, taskID string, questions []string) error {
	if _, err := s.engine.Approve(ctx, taskID, questions); err != nil {
		return err
	}
	s.launch(taskID)
	return nil
}

func (s *Supervisor) launch(taskID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.logger.Warn("task not started", "task_id", taskID, "error", err)
			return
		}
		defer s.sem.Release(1)
		s.run(taskID)
	}()
}

func (s *Supervisor) run(taskID string) {
	snapshot, err := s.engine.Continue(s.ctx, taskID)
	if err != nil {
		if s.ctx.Err() != nil {
			// Interrupted by shutdown; the checkpoint is left for recovery
			s.logger.Warn("task interrupted", "task_id", taskID, "error", err)
			return
		}
		s.logger.Error("task failed", "task_id", taskID, "error", err)
		s.record(s.ctx, NewFailedResult(taskID, err))
		return
	}
	if snapshot.Stage == StageDone {
		s.record(s.ctx, NewCompletedResult(snapshot.State))
	}
}

func (s *Supervisor) record(ctx context.Context, result *Result) {
	if err := s.results.PutResult(context.WithoutCancel(ctx), result); err != nil {
		s.logger.Error("failed to record result", "task_id", result.TaskID, "error", err)
	}
}

// Status reports the current status of a task
func (s *Supervisor) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	result, err := s.results.GetResult(ctx, taskID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if result != nil && result.Status == StatusFailed {
		return &TaskStatus{TaskID: taskID, Status: StatusFailed, Error: result.Error}, nil
	}

	snapshot, err := s.engine.GetState(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) && result != nil {
			return &TaskStatus{TaskID: taskID, Status: result.Status}, nil
		}
		return nil, err
	}
	status := &TaskStatus{
		TaskID: taskID,
		Status: snapshot.Status,
		Error:  snapshot.Error,
	}
	if snapshot.Suspended {
		status.ResearchQuestions = snapshot.Pending
	} else if snapshot.State != nil {
		status.ResearchQuestions = snapshot.State.ResearchQuestions
	}
	return status, nil
}

// Results returns the terminal result of a task, waiting up to wait
// (capped at the configured maximum) for it to become ready. It returns
// ErrPending when the wait elapses and ErrNotFound for unknown tasks.
func (s *Supervisor) Results(ctx context.Context, taskID string, wait time.Duration) (*Result, error) {
	if wait > s.maxWait {
		wait = s.maxWait
	}
	deadline := time.NewTimer(max(wait, 0))
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		result, err := s.lookupResult(ctx, taskID)
		if err != nil || result != nil {
			return result, err
		}
		if wait <= 0 {
			return nil, ErrPending
		}
		select {
		case <-ctx.Done():
			return nil, ErrPending
		case <-deadline.C:
			return nil, ErrPending
		case <-ticker.C:
		}
	}
}

// lookupResult returns the recorded result, a result derived from the
// checkpoint, or nil when the task is still in progress. A report that
// is written but not yet memorized is returned without being recorded so
// an interrupted memorizer is still recovered.
func (s *Supervisor) lookupResult(ctx context.Context, taskID string) (*Result, error) {
	result, err := s.results.GetResult(ctx, taskID)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snapshot, err := s.engine.GetState(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch {
	case snapshot.Error != "":
		result := &Result{
			TaskID:      taskID,
			Status:      StatusFailed,
			Error:       snapshot.Error,
			CompletedAt: snapshot.UpdatedAt,
		}
		s.record(ctx, result)
		return result, nil
	case snapshot.Stage == StageDone:
		result := NewCompletedResult(snapshot.State)
		s.record(ctx, result)
		return result, nil
	case snapshot.Status == StatusComplete:
		return NewCompletedResult(snapshot.State), nil
	}
	return nil, nil
}

// Recover continues every persisted task that was interrupted while
// running. It returns the number of tasks restarted.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	lister, ok := s.engine.Checkpointer().(CheckpointLister)
	if !ok {
		return 0, nil
	}
	summaries, err := lister.ListCheckpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	count := 0
	for _, summary := range summaries {
		if summary.Stage == StageDone ||
			summary.Status == StatusAwaitingInput ||
			summary.Status == StatusFailed {
			continue
		}
		if _, err := s.results.GetResult(ctx, summary.TaskID); err == nil {
			continue
		}
		s.logger.Info("recovering task", "task_id", summary.TaskID, "stage", summary.Stage)
		s.launch(summary.TaskID)
		count++
	}
	return count, nil
}

// Wait blocks until all background runs have finished
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown waits for background runs to finish. If ctx ends first the
// runs are cancelled and their checkpoints kept for recovery.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
