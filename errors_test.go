package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageErrorWrapping(t *testing.T) {
	originalErr := errors.New("network connection failed")
	err := NewStageError(StageResearcher, originalErr)

	require.Equal(t, "researcher stage_failed: network connection failed", err.Error())
	require.Equal(t, originalErr, err.Unwrap())
	require.True(t, errors.Is(err, originalErr))

	var stageErr *StageError
	require.True(t, errors.As(fmt.Errorf("run: %w", err), &stageErr))
	require.Equal(t, StageResearcher, stageErr.Stage)
}

func TestStageErrorClassification(t *testing.T) {
	// Test timeout classification
	classified := NewStageError(StagePlanner, context.DeadlineExceeded)
	require.Equal(t, ErrorTypeTimeout, classified.Type)
	require.True(t, errors.Is(classified, context.DeadlineExceeded))

	classified = NewStageError(StagePlanner, errors.New("request timeout after 30s"))
	require.Equal(t, ErrorTypeTimeout, classified.Type)

	// Test default classification
	classified = NewStageError(StagePlanner, errors.New("something went wrong"))
	require.Equal(t, ErrorTypeStageFailed, classified.Type)

	// Test StageError passthrough
	original := NewStageError(StageSummarizer, errors.New("boom"))
	require.Same(t, original, NewStageError(StagePlanner, fmt.Errorf("wrapped: %w", original)))
}

func TestIsStageError(t *testing.T) {
	require.False(t, IsStageError(errors.New("plain")))
	require.False(t, IsStageError(ErrNotFound))
	require.True(t, IsStageError(NewStageError(StageCritique, errors.New("x"))))
}
