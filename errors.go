package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("task not found")
	ErrNotSuspended     = errors.New("task is not awaiting input")
	ErrSuspended        = errors.New("task is awaiting input")
	ErrInvalidQuestions = errors.New("invalid research questions")
	ErrInvalidQuery     = errors.New("query is required")
	ErrInvalidProvider  = errors.New("invalid model provider")
	ErrTaskExists       = errors.New("task already exists")
	ErrPending          = errors.New("results are not ready")
)

// Error type constants for classification
const (
	// ErrorTypeStageFailed is the default classification
	ErrorTypeStageFailed = "stage_failed"

	// ErrorTypeTimeout matches deadline and cancellation errors
	ErrorTypeTimeout = "timeout"
)

// StageError is a task-level failure raised by a stage
type StageError struct {
	Stage   Stage  `json:"stage"`
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Type, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Wrapped
}

// NewStageError classifies err as a failure of the given stage. An error
// that is already a StageError is returned unchanged.
func NewStageError(stage Stage, err error) *StageError {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr
	}
	errType := ErrorTypeStageFailed
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		errType = ErrorTypeTimeout
	}
	return &StageError{
		Stage:   stage,
		Type:    errType,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsStageError reports whether err carries a StageError
func IsStageError(err error) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr)
}
