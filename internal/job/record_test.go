package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleCompleted(t *testing.T) {
	rec := New("j1", "acme", "https://media.example/watch?v=abc123", 3)
	require.Equal(t, StatusPending, rec.Status)
	require.NotEmpty(t, rec.StepLog)

	require.NoError(t, rec.MarkProcessing())
	require.Equal(t, StatusProcessing, rec.Status)
	require.NotNil(t, rec.StartedAt)

	require.NoError(t, rec.MarkCompleted())
	require.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	// Completed is terminal.
	require.ErrorIs(t, rec.MarkProcessing(), ErrInvalidTransition)
	require.ErrorIs(t, rec.MarkFailed("late"), ErrInvalidTransition)
	require.True(t, rec.Terminal())
}

func TestLifecycleFailed(t *testing.T) {
	rec := New("j2", "acme", "https://media.example/watch?v=abc123", 1)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkFailed("transcription unavailable"))
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "transcription unavailable", rec.ErrorMessage)
	assert.NotNil(t, rec.CompletedAt)
}

func TestMarkCompletedRequiresProcessing(t *testing.T) {
	rec := New("j3", "acme", "https://media.example/watch?v=abc123", 0)
	require.ErrorIs(t, rec.MarkCompleted(), ErrInvalidTransition)
	require.ErrorIs(t, rec.MarkFailed("nope"), ErrInvalidTransition)
}

func TestFailedRetryRedispatch(t *testing.T) {
	rec := New("j4", "acme", "https://media.example/watch?v=abc123", 2)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkFailed("flaky upstream"))
	require.False(t, rec.Terminal())

	// Failed -> Processing is allowed while a retry is available.
	require.NoError(t, rec.MarkProcessing())
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	assert.Nil(t, rec.CompletedAt)
}

func TestFailedExhaustedIsTerminal(t *testing.T) {
	rec := New("j5", "acme", "https://media.example/watch?v=abc123", 0)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, rec.MarkFailed("boom"))
	require.True(t, rec.Terminal())
	require.ErrorIs(t, rec.MarkProcessing(), ErrInvalidTransition)
}

func TestIncrementRetryBounded(t *testing.T) {
	rec := New("j6", "acme", "https://media.example/watch?v=abc123", 2)
	require.True(t, rec.IncrementRetry())
	require.True(t, rec.IncrementRetry())
	require.Equal(t, 2, rec.RetryCount)

	// At the limit the call refuses and leaves state unchanged.
	require.False(t, rec.IncrementRetry())
	require.Equal(t, 2, rec.RetryCount)
}

func TestStepLogAppendOnlyOrder(t *testing.T) {
	rec := New("j7", "acme", "https://media.example/watch?v=abc123", 1)
	require.NoError(t, rec.MarkProcessing())
	rec.AddLog("resolve", "metadata resolved", map[string]any{"durationSeconds": 120})
	rec.AddLog("extract", "audio stored", nil)
	require.NoError(t, rec.MarkCompleted())

	steps := make([]string, 0, len(rec.StepLog))
	for _, e := range rec.StepLog {
		steps = append(steps, e.Step)
	}
	assert.Equal(t, []string{"admission", "dispatch", "resolve", "extract", "finalize"}, steps)

	// Entries after completion are dropped, never reordered.
	before := len(rec.StepLog)
	rec.AddLog("late", "should not appear", nil)
	assert.Equal(t, before, len(rec.StepLog))
}

func TestCloneIsDeep(t *testing.T) {
	rec := New("j8", "acme", "https://media.example/watch?v=abc123", 1)
	rec.AddLog("resolve", "metadata resolved", map[string]any{"title": "a"})
	cp := rec.Clone()
	cp.StepLog[1].Context["title"] = "b"
	cp.AddLog("extra", "only on copy", nil)

	assert.Equal(t, "a", rec.StepLog[1].Context["title"])
	assert.Len(t, rec.StepLog, 2)
}
