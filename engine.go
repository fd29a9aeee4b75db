package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/research/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxCritiqueIterations = 2

	tracerName = "github.com/deepnoodle-ai/research"
)

// CompleterFactory builds the completion service for a task
type CompleterFactory func(ctx context.Context, cfg TaskConfig) (llm.Completer, error)

// EngineOptions configures a new engine
type EngineOptions struct {
	Checkpointer     Checkpointer
	Stages           *Stages
	CompleterFactory CompleterFactory
	Callbacks        ExecutionCallbacks
	StageLogger      StageLogger
	Logger           *slog.Logger
	// Critique enables the critique loop between researcher and summarizer
	Critique bool
	// MaxCritiqueIterations bounds how many times critique may send the
	// task back to the researcher
	MaxCritiqueIterations int
}

// StartRequest describes a new task
type StartRequest struct {
	TaskID string
	Query  string
	UserID string
	Config TaskConfig
}

// Snapshot is a point-in-time view of a task
type Snapshot struct {
	TaskID    string    `json:"task_id"`
	State     *State    `json:"state"`
	Stage     Stage     `json:"stage"`
	Suspended bool      `json:"suspended"`
	Pending   []string  `json:"pending,omitempty"`
	Error     string    `json:"error,omitempty"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine runs research tasks through the fixed stage topology, persisting
// a checkpoint after every stage
type Engine struct {
	checkpointer  Checkpointer
	stages        *Stages
	newCompleter  CompleterFactory
	callbacks     ExecutionCallbacks
	stageLogger   StageLogger
	logger        *slog.Logger
	tracer        trace.Tracer
	critique      bool
	maxIterations int
	locks         *keyedLocks

	secretsMutex sync.Mutex
	secrets      map[string]string
}

// NewEngine creates a new engine
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Stages == nil {
		return nil, fmt.Errorf("stages are required")
	}
	if opts.Stages.Tools == nil || opts.Stages.Tools.Len() == 0 {
		return nil, fmt.Errorf("tools are required")
	}
	if opts.CompleterFactory == nil {
		return nil, fmt.Errorf("completer factory is required")
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewMemoryCheckpointer()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.StageLogger == nil {
		opts.StageLogger = NewNullStageLogger()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.MaxCritiqueIterations <= 0 {
		opts.MaxCritiqueIterations = DefaultMaxCritiqueIterations
	}
	return &Engine{
		checkpointer:  opts.Checkpointer,
		stages:        opts.Stages,
		newCompleter:  opts.CompleterFactory,
		callbacks:     opts.Callbacks,
		stageLogger:   opts.StageLogger,
		logger:        opts.Logger,
		tracer:        otel.Tracer(tracerName),
		critique:      opts.Critique,
		maxIterations: opts.MaxCritiqueIterations,
		locks:         newKeyedLocks(),
		secrets:       map[string]string{},
	}, nil
}

// Checkpointer returns the engine's checkpoint store
func (e *Engine) Checkpointer() Checkpointer {
	return e.checkpointer
}

// Start creates a task, runs the planner and suspends for approval. It
// returns only after the suspended checkpoint is persisted.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Snapshot, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	taskID := req.TaskID
	if taskID == "" {
		taskID = NewTaskID()
	}

	unlock := e.locks.lock(taskID)
	defer unlock()

	if _, err := e.checkpointer.LoadCheckpoint(ctx, taskID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, taskID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	completer, err := e.newCompleter(ctx, req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	e.setSecret(taskID, req.Config.APIKey)

	config := req.Config
	config.APIKey = ""
	checkpoint := &Checkpoint{
		TaskID:    taskID,
		State:     NewState(taskID, query, req.UserID),
		Config:    config,
		Stage:     StagePlanner,
		CreatedAt: time.Now().UTC(),
	}
	err = e.advance(ctx, checkpoint, completer)
	return checkpoint.snapshot(), err
}

// Approve supplies the approved questions to a task suspended for
// approval and persists it ready to continue. It can succeed only once
// per suspension.
func (e *Engine) Approve(ctx context.Context, taskID string, questions []string) (*Snapshot, error) {
	// Reject without waiting when the task is already past approval
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if checkpoint.SuspendedAt != StageHumanApproval {
		return nil, ErrNotSuspended
	}
	if _, err := NormalizeQuestions(questions); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(taskID)
	defer unlock()

	checkpoint, err = e.checkpointer.LoadCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if checkpoint.SuspendedAt != StageHumanApproval {
		return nil, ErrNotSuspended
	}
	if err := ApplyApproval(checkpoint.State, questions); err != nil {
		return nil, err
	}
	checkpoint.SuspendedAt = ""
	checkpoint.Pending = nil
	checkpoint.Remaining = nil
	checkpoint.Stage = StageResearcher
	if err := e.save(ctx, checkpoint); err != nil {
		return nil, err
	}
	e.logger.Info("task approved", "task_id", taskID, "questions", len(checkpoint.State.ResearchQuestions))
	return checkpoint.snapshot(), nil
}

// Continue runs a persisted task from its next stage until it suspends or
// finishes. A task that previously failed is retried from the failed
// stage.
func (e *Engine) Continue(ctx context.Context, taskID string) (*Snapshot, error) {
	unlock := e.locks.lock(taskID)
	defer unlock()

	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if checkpoint.Suspended() {
		return checkpoint.snapshot(), ErrSuspended
	}
	if checkpoint.Stage == StageDone {
		return checkpoint.snapshot(), nil
	}
	if checkpoint.Error != "" {
		e.logger.Info("resuming task from failure", "task_id", taskID, "original_error", checkpoint.Error)
		checkpoint.Error = ""
	}

	completer, err := e.completer(ctx, taskID, checkpoint.Config)
	if err != nil {
		checkpoint.Error = NewStageError(checkpoint.Stage, err).Error()
		if saveErr := e.save(ctx, checkpoint); saveErr != nil {
			e.logger.Error("failed to save checkpoint", "task_id", taskID, "error", saveErr)
		}
		return checkpoint.snapshot(), err
	}
	err = e.advance(ctx, checkpoint, completer)
	return checkpoint.snapshot(), err
}

// Resume approves the questions and runs the task to completion
func (e *Engine) Resume(ctx context.Context, taskID string, questions []string) (*Snapshot, error) {
	if _, err := e.Approve(ctx, taskID, questions); err != nil {
		return nil, err
	}
	return e.Continue(ctx, taskID)
}

// GetState returns the latest persisted view of a task
func (e *Engine) GetState(ctx context.Context, taskID string) (*Snapshot, error) {
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return checkpoint.snapshot(), nil
}

// advance runs stages until the task suspends, finishes or fails
func (e *Engine) advance(ctx context.Context, checkpoint *Checkpoint, completer llm.Completer) error {
	logger := e.logger.With("task_id", checkpoint.TaskID)
	ctx = WithLogger(WithTaskID(ctx, checkpoint.TaskID), logger)

	startTime := time.Now()
	e.callbacks.BeforeTaskExecution(ctx, &TaskExecutionEvent{
		TaskID:    checkpoint.TaskID,
		Query:     checkpoint.State.OriginalQuery,
		Stage:     checkpoint.Stage,
		Status:    StatusRunning,
		StartTime: startTime,
	})

	var err error
	interrupted := false
	for checkpoint.Stage != StageDone {
		if checkpoint.Stage == StageHumanApproval {
			suspension := RequestApproval(checkpoint.State)
			checkpoint.SuspendedAt = suspension.Stage
			checkpoint.Pending = suspension.Questions
			if err = e.save(ctx, checkpoint); err != nil {
				break
			}
			logger.Info("task suspended for approval", "questions", len(suspension.Questions))
			e.callbacks.OnSuspend(ctx, &SuspendEvent{
				TaskID:    checkpoint.TaskID,
				Stage:     suspension.Stage,
				Questions: suspension.Questions,
			})
			break
		}
		if err = e.step(ctx, checkpoint, completer); err != nil {
			if ctx.Err() != nil {
				// Keep the last saved checkpoint so the task can be recovered
				interrupted = true
				logger.Warn("task interrupted", "stage", checkpoint.Stage, "error", err)
				break
			}
			checkpoint.Error = err.Error()
			logger.Error("stage failed", "stage", checkpoint.Stage, "error", err)
			if saveErr := e.save(ctx, checkpoint); saveErr != nil {
				logger.Error("failed to save checkpoint", "error", saveErr)
			}
			break
		}
		if err = e.save(ctx, checkpoint); err != nil {
			err = fmt.Errorf("failed to save checkpoint: %w", err)
			break
		}
	}

	status := checkpoint.Status()
	if err != nil && !interrupted {
		status = StatusFailed
	}
	endTime := time.Now()
	e.callbacks.AfterTaskExecution(ctx, &TaskExecutionEvent{
		TaskID:    checkpoint.TaskID,
		Query:     checkpoint.State.OriginalQuery,
		Stage:     checkpoint.Stage,
		Status:    status,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		Error:     err,
	})
	if checkpoint.Stage == StageDone {
		logger.Info("task completed", "duration", endTime.Sub(startTime))
		e.clearSecret(checkpoint.TaskID)
	}
	return err
}

// step runs the checkpoint's current stage and moves it to the next one
func (e *Engine) step(ctx context.Context, checkpoint *Checkpoint, completer llm.Completer) error {
	stage := checkpoint.Stage
	state := checkpoint.State
	iteration := state.Iterations

	ctx, span := e.tracer.Start(ctx, "research.stage."+string(stage), trace.WithAttributes(
		attribute.String("research.task_id", checkpoint.TaskID),
		attribute.String("research.stage", string(stage)),
		attribute.Int("research.iteration", iteration),
	))
	defer span.End()

	startTime := time.Now()
	e.callbacks.BeforeStageExecution(ctx, &StageExecutionEvent{
		TaskID:    checkpoint.TaskID,
		Stage:     stage,
		Iteration: iteration,
		StartTime: startTime,
	})

	details := map[string]any{}
	next := StageDone
	var err error
	switch stage {
	case StagePlanner:
		err = e.stages.Plan(ctx, completer, state)
		next = StageHumanApproval
		details["questions"] = len(state.ResearchQuestions)
	case StageResearcher:
		var only []string
		if len(checkpoint.Remaining) > 0 {
			only = checkpoint.Remaining
		}
		err = e.stages.Research(ctx, completer, state, only)
		next = StageSummarizer
		if e.critique {
			next = StageCritique
		}
		if err == nil {
			checkpoint.Remaining = nil
		}
		details["findings"] = countFindings(state)
	case StageCritique:
		transition := e.stages.Critique(ctx, completer, state)
		next = e.resolve(checkpoint, transition)
		details["decision"] = string(state.Decision)
		details["remaining"] = len(checkpoint.Remaining)
	case StageSummarizer:
		e.stages.Summarize(ctx, completer, state)
		next = StageMemorizer
		details["report_length"] = len(state.FinalReport)
	case StageMemorizer:
		if memErr := e.stages.Memorize(ctx, state); memErr != nil {
			loggerFrom(ctx).Warn("failed to memorize report", "error", memErr)
			details["memory_error"] = memErr.Error()
		}
		next = StageDone
	default:
		err = fmt.Errorf("unknown stage %q", stage)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil {
		err = NewStageError(stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		next = stage
	} else {
		checkpoint.Stage = next
	}

	endTime := time.Now()
	e.callbacks.AfterStageExecution(ctx, &StageExecutionEvent{
		TaskID:    checkpoint.TaskID,
		Stage:     stage,
		Iteration: iteration,
		Next:      next,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		Error:     err,
	})
	entry := &StageLogEntry{
		ID:        fmt.Sprintf("%s-%d", checkpoint.TaskID, checkpoint.Sequence+1),
		TaskID:    checkpoint.TaskID,
		Stage:     stage,
		Iteration: iteration,
		Next:      next,
		Details:   details,
		StartTime: startTime,
		Duration:  endTime.Sub(startTime).Seconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := e.stageLogger.LogStage(ctx, entry); logErr != nil {
		loggerFrom(ctx).Warn("failed to log stage", "stage", stage, "error", logErr)
	}
	return err
}

// resolve applies the iteration cap to a critique transition
func (e *Engine) resolve(checkpoint *Checkpoint, t Transition) Stage {
	if t.Next == StageResearcher && len(t.Remaining) > 0 && checkpoint.State.Iterations <= e.maxIterations {
		checkpoint.Remaining = append([]string(nil), t.Remaining...)
		return StageResearcher
	}
	checkpoint.Remaining = nil
	return StageSummarizer
}

func (e *Engine) save(ctx context.Context, checkpoint *Checkpoint) error {
	checkpoint.Sequence++
	checkpoint.ID = strconv.Itoa(checkpoint.Sequence)
	checkpoint.CheckpointAt = time.Now().UTC()
	checkpoint.Config.APIKey = ""
	return e.checkpointer.SaveCheckpoint(ctx, checkpoint)
}

func (e *Engine) completer(ctx context.Context, taskID string, cfg TaskConfig) (llm.Completer, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = e.secret(taskID)
	}
	return e.newCompleter(ctx, cfg)
}

func (e *Engine) setSecret(taskID, key string) {
	if key == "" {
		return
	}
	e.secretsMutex.Lock()
	e.secrets[taskID] = key
	e.secretsMutex.Unlock()
}

func (e *Engine) secret(taskID string) string {
	e.secretsMutex.Lock()
	defer e.secretsMutex.Unlock()
	return e.secrets[taskID]
}

func (e *Engine) clearSecret(taskID string) {
	e.secretsMutex.Lock()
	delete(e.secrets, taskID)
	e.secretsMutex.Unlock()
}

func (c *Checkpoint) snapshot() *Snapshot {
	return &Snapshot{
		TaskID:    c.TaskID,
		State:     c.State.Clone(),
		Stage:     c.Stage,
		Suspended: c.Suspended(),
		Pending:   append([]string(nil), c.Pending...),
		Error:     c.Error,
		Status:    c.Status(),
		UpdatedAt: c.CheckpointAt,
	}
}

func countFindings(state *State) int {
	n := 0
	for _, f := range state.Findings {
		n += len(f)
	}
	return n
}

// keyedLocks serializes work per task id
type keyedLocks struct {
	mutex sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mutex sync.Mutex
	refs  int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: map[string]*keyedLock{}}
}

func (k *keyedLocks) lock(key string) func() {
	k.mutex.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mutex.Unlock()

	l.mutex.Lock()
	return func() {
		l.mutex.Unlock()
		k.mutex.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mutex.Unlock()
	}
}
