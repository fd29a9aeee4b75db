package research

import (
	"time"

	"github.com/deepnoodle-ai/research/llm"
)

// TaskConfig selects the completion service for a task. The API key is
// held in memory only and never written with a checkpoint.
type TaskConfig struct {
	Provider llm.Provider `json:"provider,omitempty"`
	Model    string       `json:"model,omitempty"`
	APIKey   string       `json:"-"`
}

// Checkpoint is the latest persisted snapshot of a task
type Checkpoint struct {
	ID     string     `json:"id"`
	TaskID string     `json:"task_id"`
	State  *State     `json:"state"`
	Config TaskConfig `json:"config"`
	// Stage is the next stage to run
	Stage       Stage    `json:"stage"`
	SuspendedAt Stage    `json:"suspended_at,omitempty"`
	Pending     []string `json:"pending,omitempty"`
	// Remaining limits the next researcher pass after a critique loop
	Remaining    []string  `json:"remaining,omitempty"`
	Sequence     int       `json:"sequence"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}

// Suspended reports whether the task is waiting for external input
func (c *Checkpoint) Suspended() bool {
	return c.SuspendedAt != ""
}

// Status derives the task status from the checkpoint
func (c *Checkpoint) Status() Status {
	return DeriveStatus(c.State, c.Suspended(), c.Error)
}

// Summary returns the listing view of the checkpoint
func (c *Checkpoint) Summary() *CheckpointSummary {
	s := &CheckpointSummary{
		TaskID:       c.TaskID,
		Stage:        c.Stage,
		Status:       c.Status(),
		Error:        c.Error,
		CreatedAt:    c.CreatedAt,
		CheckpointAt: c.CheckpointAt,
	}
	if c.State != nil {
		s.Query = c.State.OriginalQuery
	}
	return s
}

// Clone returns a deep copy of the checkpoint
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	out.Pending = append([]string(nil), c.Pending...)
	out.Remaining = append([]string(nil), c.Remaining...)
	return &out
}

// CheckpointSummary describes a persisted task
type CheckpointSummary struct {
	TaskID       string    `json:"task_id"`
	Query        string    `json:"query"`
	Stage        Stage     `json:"stage"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}
