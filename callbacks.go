package research

import (
	"context"
	"time"
)

// ExecutionCallbacks receives task and stage lifecycle events
type ExecutionCallbacks interface {
	// Task-level callbacks, fired around each run of the engine
	BeforeTaskExecution(ctx context.Context, event *TaskExecutionEvent)
	AfterTaskExecution(ctx context.Context, event *TaskExecutionEvent)

	// Stage-level callbacks
	BeforeStageExecution(ctx context.Context, event *StageExecutionEvent)
	AfterStageExecution(ctx context.Context, event *StageExecutionEvent)

	// OnSuspend fires when a task stops to wait for approval
	OnSuspend(ctx context.Context, event *SuspendEvent)
}

// TaskExecutionEvent provides context for task-level events
type TaskExecutionEvent struct {
	TaskID    string
	Query     string
	Stage     Stage
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Error     error
}

// StageExecutionEvent provides context for stage events
type StageExecutionEvent struct {
	TaskID    string
	Stage     Stage
	Iteration int
	Next      Stage
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Error     error
}

// SuspendEvent carries the questions awaiting approval
type SuspendEvent struct {
	TaskID    string
	Stage     Stage
	Questions []string
}

// BaseExecutionCallbacks provides a default implementation that does nothing
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeTaskExecution(ctx context.Context, event *TaskExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterTaskExecution(ctx context.Context, event *TaskExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeStageExecution(ctx context.Context, event *StageExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterStageExecution(ctx context.Context, event *StageExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) OnSuspend(ctx context.Context, event *SuspendEvent) {
	// noop
}

// NewBaseExecutionCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does nothing.
func NewBaseExecutionCallbacks() ExecutionCallbacks {
	return &BaseExecutionCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeTaskExecution(ctx context.Context, event *TaskExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeTaskExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterTaskExecution(ctx context.Context, event *TaskExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterTaskExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeStageExecution(ctx context.Context, event *StageExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStageExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterStageExecution(ctx context.Context, event *StageExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStageExecution(ctx, event)
	}
}

func (c *CallbackChain) OnSuspend(ctx context.Context, event *SuspendEvent) {
	for _, callback := range c.callbacks {
		callback.OnSuspend(ctx, event)
	}
}
