package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatter-ai/chatterflow/pkg/metrics"
)

func TestParseSchedule(t *testing.T) {
	valid := []string{
		"@hourly",
		"@daily",
		"@every 10m",
		"*/5 * * * *",
		"30 */2 * * *",
		"*/10 * * * * *", // with seconds field
	}
	for _, spec := range valid {
		_, err := ParseSchedule(spec)
		assert.NoError(t, err, "spec %q", spec)
	}

	_, err := ParseSchedule("not a cron line")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid schedule "not a cron line"`)
	assert.Error(t, ValidateSchedule("61 * * * *"))
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 14, 10, 17, 0, 0, time.UTC)

	next, err := NextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC), next)

	next, err = NextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), next)

	_, err = NextRun("bogus", from)
	assert.Error(t, err)
}

func TestSweepEvictsOnlyStaleRuns(t *testing.T) {
	clock := time.Now()
	collector := metrics.NewCollector(metrics.WithClock(func() time.Time { return clock }))

	stale := collector.StartTracking("support")
	clock = clock.Add(48 * time.Hour)
	fresh := collector.StartTracking("support")

	s, err := NewSweeper(collector, WithMaxAge(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, collector.ActiveCount())
	assert.Equal(t, []string{fresh}, collector.ActiveIDs())

	// The stale run is gone; finishing it now fails.
	_, err = collector.FinishTracking(stale)
	assert.Error(t, err)

	// Nothing left to evict.
	assert.Zero(t, s.Sweep())
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(metrics.NewCollector(), WithSchedule("whenever"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestSweeperLifecycle(t *testing.T) {
	clock := time.Now()
	collector := metrics.NewCollector(metrics.WithClock(func() time.Time { return clock }))
	collector.StartTracking("support")
	clock = clock.Add(2 * time.Hour)

	s, err := NewSweeper(collector,
		WithSchedule("@every 10ms"),
		WithMaxAge(time.Hour))
	require.NoError(t, err)

	assert.False(t, s.NextRun().IsZero())

	s.Start()
	s.Start() // second Start is a no-op
	defer s.Stop()

	require.Eventually(t, func() bool {
		return collector.ActiveCount() == 0
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop() // second Stop is a no-op
}
