package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/metrics"
)

const (
	// DefaultSchedule is how often stale runs are swept.
	DefaultSchedule = "@hourly"
	// DefaultMaxAge is how old an unfinished run must be to count as
	// abandoned.
	DefaultMaxAge = 24 * time.Hour
)

// Sweeper evicts stale active workflow metrics on a cron schedule.
// Runs that never reach FinishTracking (a crashed caller, a dropped
// context) would otherwise sit in the collector's active map forever.
type Sweeper struct {
	collector *metrics.Collector
	schedule  string
	maxAge    time.Duration
	logger    *slog.Logger

	cron  *cron.Cron
	entry cron.EntryID

	mu      sync.Mutex
	running bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSchedule overrides the sweep schedule.
func WithSchedule(spec string) SweeperOption {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithMaxAge overrides the staleness threshold.
func WithMaxAge(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithLogger overrides the sweeper's logger.
func WithLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper builds a sweeper for the collector. The schedule is
// validated here so a bad config fails at startup, not at first fire.
func NewSweeper(collector *metrics.Collector, opts ...SweeperOption) (*Sweeper, error) {
	s := &Sweeper{
		collector: collector,
		schedule:  DefaultSchedule,
		maxAge:    DefaultMaxAge,
		logger:    log.WithModule("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := ValidateSchedule(s.schedule); err != nil {
		return nil, err
	}

	s.cron = cron.New(cron.WithParser(scheduleParser))
	entry, err := s.cron.AddFunc(s.schedule, func() { s.Sweep() })
	if err != nil {
		return nil, err
	}
	s.entry = entry
	return s, nil
}

// Start begins scheduling sweeps. Calling Start on a running sweeper
// is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("stale-metrics sweeper started",
		"schedule", s.schedule, "max_age", s.maxAge)
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	<-s.cron.Stop().Done()
	s.logger.Info("stale-metrics sweeper stopped")
}

// Sweep evicts stale entries immediately, outside the schedule, and
// returns how many were removed.
func (s *Sweeper) Sweep() int {
	evicted := s.collector.CleanupStale(s.maxAge)
	if evicted > 0 {
		s.logger.Warn("evicted stale workflow metrics",
			"count", evicted, "max_age", s.maxAge)
	}
	return evicted
}

// NextRun reports when the next scheduled sweep fires.
func (s *Sweeper) NextRun() time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(time.Now())
}
