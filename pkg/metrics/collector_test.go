package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTrackingLifecycle(t *testing.T) {
	c := NewCollector()

	id := c.StartTracking("customer_support", WithUserID("u-1"), WithConversationID("conv-9"))
	require.NotEmpty(t, id)
	assert.Equal(t, 1, c.ActiveCount())
	assert.Contains(t, c.ActiveIDs(), id)

	m, err := c.FinishTracking(id)
	require.NoError(t, err)
	assert.Equal(t, "customer_support", m.WorkflowType)
	assert.Equal(t, "u-1", m.UserID)
	assert.Equal(t, "conv-9", m.ConversationID)
	assert.True(t, m.Success)
	require.NotNil(t, m.EndTime)
	assert.Greater(t, m.ExecutionTime, time.Duration(0))
	assert.Equal(t, 0, c.ActiveCount())
}

func TestCollectorTokenUsageIsAdditive(t *testing.T) {
	c := NewCollector()
	id := c.StartTracking("research")

	require.NoError(t, c.AddTokenUsage(id, "openai", 100))
	require.NoError(t, c.AddTokenUsage(id, "openai", 50))
	require.NoError(t, c.AddTokenUsage(id, "anthropic", 30))

	m, err := c.FinishTracking(id)
	require.NoError(t, err)
	assert.Equal(t, 150, m.TokenUsage["openai"])
	assert.Equal(t, 30, m.TokenUsage["anthropic"])
}

func TestCollectorSecondFinishFails(t *testing.T) {
	c := NewCollector()
	id := c.StartTracking("research")

	_, err := c.FinishTracking(id)
	require.NoError(t, err)

	_, err = c.FinishTracking(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	var trackingErr *TrackingError
	require.True(t, errors.As(err, &trackingErr))
	assert.Equal(t, id, trackingErr.WorkflowID)
}

func TestCollectorUnknownRun(t *testing.T) {
	c := NewCollector()

	assert.ErrorIs(t, c.AddTokenUsage("ghost", "openai", 10), ErrRunNotFound)
	assert.ErrorIs(t, c.AddError("ghost", "boom"), ErrRunNotFound)
	assert.ErrorIs(t, c.Update("ghost", Update{}), ErrRunNotFound)
}

func TestCollectorErrorsForceFailure(t *testing.T) {
	c := NewCollector()
	id := c.StartTracking("research")

	require.NoError(t, c.AddError(id, "llm timeout"))
	require.NoError(t, c.AddError(id, "retry exhausted"))

	m, err := c.FinishTracking(id)
	require.NoError(t, err)
	assert.False(t, m.Success)
	assert.Equal(t, []string{"llm timeout", "retry exhausted"}, m.Errors)
}

func TestCollectorUpdate(t *testing.T) {
	c := NewCollector()
	id := c.StartTracking("research")

	calls := 3
	mem := 128.5
	ctxSize := 2048
	require.NoError(t, c.Update(id, Update{ToolCalls: &calls, MemoryUsageMB: &mem, RetrievalContextSize: &ctxSize}))
	require.NoError(t, c.Update(id, Update{AddToolCalls: 2}))

	m, err := c.FinishTracking(id)
	require.NoError(t, err)
	assert.Equal(t, 5, m.ToolCalls)
	assert.Equal(t, 128.5, m.MemoryUsageMB)
	assert.Equal(t, 2048, m.RetrievalContextSize)
}

func TestCollectorCleanupStale(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(WithClock(func() time.Time { return current }))

	stale := c.StartTracking("research")
	current = current.Add(2 * time.Hour)
	fresh := c.StartTracking("research")

	evicted := c.CleanupStale(time.Hour)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, c.ActiveCount())

	_, err := c.FinishTracking(stale)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = c.FinishTracking(fresh)
	assert.NoError(t, err)
}

func TestCollectorStats(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 3; i++ {
		id := c.StartTracking("customer_support")
		require.NoError(t, c.AddTokenUsage(id, "openai", 100))
		if i == 0 {
			require.NoError(t, c.AddError(id, "boom"))
		}
		_, err := c.FinishTracking(id)
		require.NoError(t, err)
	}
	id := c.StartTracking("research")
	_, err := c.FinishTracking(id)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 4, stats.TotalRuns)
	assert.Equal(t, 0, stats.ActiveRuns)
	assert.Equal(t, 3, stats.RunsByType["customer_support"])
	assert.Equal(t, 1, stats.RunsByType["research"])
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)

	perf := c.PerformanceMetrics()
	assert.Equal(t, 300, perf.TotalTokens["openai"])
	assert.InDelta(t, 75.0, perf.AverageTokens["openai"], 1e-9)
	assert.Greater(t, perf.AverageExecutionTime, time.Duration(0))
}

func TestCollectorRetentionLimit(t *testing.T) {
	c := NewCollector(WithRetentionLimit(2))

	for i := 0; i < 5; i++ {
		id := c.StartTracking("research")
		_, err := c.FinishTracking(id)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Stats().TotalRuns)
}

func TestCollectorFinishedValueIsDetached(t *testing.T) {
	c := NewCollector()
	id := c.StartTracking("research")
	require.NoError(t, c.AddTokenUsage(id, "openai", 10))

	m, err := c.FinishTracking(id)
	require.NoError(t, err)

	m.TokenUsage["openai"] = 999999
	assert.Equal(t, 10, c.PerformanceMetrics().TotalTokens["openai"])
}
