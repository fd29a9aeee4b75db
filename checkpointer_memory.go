package research

import (
	"context"
	"sort"
	"sync"
)

// MemoryCheckpointer keeps checkpoints in process
type MemoryCheckpointer struct {
	mutex       sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryCheckpointer returns an empty in-memory checkpointer
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: map[string]*Checkpoint{}}
}

func (c *MemoryCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.checkpoints[checkpoint.TaskID] = checkpoint.Clone()
	return nil
}

func (c *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	checkpoint, ok := c.checkpoints[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return checkpoint.Clone(), nil
}

func (c *MemoryCheckpointer) DeleteCheckpoint(ctx context.Context, taskID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.checkpoints, taskID)
	return nil
}

func (c *MemoryCheckpointer) ListCheckpoints(ctx context.Context) ([]*CheckpointSummary, error) {
	c.mutex.RLock()
	summaries := make([]*CheckpointSummary, 0, len(c.checkpoints))
	for _, checkpoint := range c.checkpoints {
		summaries = append(summaries, checkpoint.Summary())
	}
	c.mutex.RUnlock()
	SortSummaries(summaries)
	return summaries, nil
}

// SortSummaries orders summaries newest first
func SortSummaries(summaries []*CheckpointSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
}
