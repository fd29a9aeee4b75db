package research

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	LoggerContextKey ContextKey = "logger"
	TaskIDContextKey ContextKey = "task_id"
)

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDContextKey, taskID)
}

func GetLoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger)
	return logger, ok
}

func GetTaskIDFromContext(ctx context.Context) (string, bool) {
	taskID, ok := ctx.Value(TaskIDContextKey).(string)
	return taskID, ok
}

// loggerFrom returns the context logger or a discard logger
func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := GetLoggerFromContext(ctx); ok && logger != nil {
		return logger
	}
	return discardLogger()
}
