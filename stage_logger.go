package research

import (
	"context"
	"time"
)

// StageLogEntry records one completed stage execution
type StageLogEntry struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Stage     Stage          `json:"stage"`
	Iteration int            `json:"iteration"`
	Next      Stage          `json:"next,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	Duration  float64        `json:"duration"`
}

// StageLogger records stage executions for later inspection
type StageLogger interface {
	// LogStage logs a completed stage
	LogStage(ctx context.Context, entry *StageLogEntry) error

	// GetStageHistory retrieves the stage log for a task
	GetStageHistory(ctx context.Context, taskID string) ([]*StageLogEntry, error)
}

// NullStageLogger is a no-op implementation of StageLogger
type NullStageLogger struct{}

func NewNullStageLogger() *NullStageLogger {
	return &NullStageLogger{}
}

func (l *NullStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	return nil
}

func (l *NullStageLogger) GetStageHistory(ctx context.Context, taskID string) ([]*StageLogEntry, error) {
	return nil, nil
}
