package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// FileCheckpointer is a file-based implementation that persists one JSON
// checkpoint per task
type FileCheckpointer struct {
	dataDir string
}

// NewFileCheckpointer creates a new file-based checkpointer
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".deepnoodle", "research", "checkpoints")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileCheckpointer{dataDir: dataDir}, nil
}

func (c *FileCheckpointer) checkpointPath(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return filepath.Join(c.dataDir, taskID+".json"), nil
}

// SaveCheckpoint atomically replaces the task's checkpoint file
func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	path, err := c.checkpointPath(checkpoint.TaskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint loads the checkpoint for a task
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error) {
	path, err := c.checkpointPath(taskID)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes the checkpoint file for a task
func (c *FileCheckpointer) DeleteCheckpoint(ctx context.Context, taskID string) error {
	path, err := c.checkpointPath(taskID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// ListCheckpoints returns a summary of every persisted task, newest first
func (c *FileCheckpointer) ListCheckpoints(ctx context.Context) ([]*CheckpointSummary, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*CheckpointSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	summaries := []*CheckpointSummary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		checkpoint, err := c.LoadCheckpoint(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip checkpoints we can't read
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	SortSummaries(summaries)
	return summaries, nil
}
