package research

import (
	"context"
)

// Checkpointer persists the latest checkpoint per task. Saving replaces any
// prior checkpoint for the same task.
type Checkpointer interface {
	// SaveCheckpoint saves the current task state
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint loads the latest checkpoint for a task. It returns
	// ErrNotFound when none exists.
	LoadCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error)

	// DeleteCheckpoint removes checkpoint data for a task
	DeleteCheckpoint(ctx context.Context, taskID string) error
}

// CheckpointLister is implemented by checkpointers that can enumerate
// persisted tasks
type CheckpointLister interface {
	ListCheckpoints(ctx context.Context) ([]*CheckpointSummary, error)
}
