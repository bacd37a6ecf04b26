package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatter-ai/chatterflow/pkg/log"
)

const defaultRetentionLimit = 1000

// Collector tracks active workflow runs and aggregates finished ones.
// All methods are safe for concurrent use. Construct with
// NewCollector; the zero value is not usable.
type Collector struct {
	mu       sync.RWMutex
	active   map[string]*Metrics
	finished []*Metrics

	store     Store
	retention int
	now       func() time.Time
	logger    *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithStore persists finished runs through the given store. Aggregates
// still come from the in-memory ring.
func WithStore(store Store) CollectorOption {
	return func(c *Collector) { c.store = store }
}

// WithRetentionLimit bounds how many finished runs feed aggregates.
func WithRetentionLimit(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithClock swaps the time source for tests.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// WithLogger replaces the module logger.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		active:    make(map[string]*Metrics),
		retention: defaultRetentionLimit,
		now:       time.Now,
		logger:    log.WithModule("metrics"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TrackOption sets optional attribution fields on a new run.
type TrackOption func(*Metrics)

// WithUserID attributes the run to a user.
func WithUserID(id string) TrackOption {
	return func(m *Metrics) { m.UserID = id }
}

// WithConversationID ties the run to a conversation.
func WithConversationID(id string) TrackOption {
	return func(m *Metrics) { m.ConversationID = id }
}

// StartTracking registers a new active run and returns its id.
func (c *Collector) StartTracking(workflowType string, opts ...TrackOption) string {
	m := &Metrics{
		WorkflowID:   uuid.New().String(),
		WorkflowType: workflowType,
		StartTime:    c.now(),
		TokenUsage:   make(map[string]int),
		Success:      true,
	}
	for _, opt := range opts {
		opt(m)
	}

	c.mu.Lock()
	c.active[m.WorkflowID] = m
	c.mu.Unlock()

	c.logger.Debug("tracking started",
		"workflow_id", m.WorkflowID,
		"workflow_type", workflowType)
	return m.WorkflowID
}

// Update holds optional field updates for an active run. Nil pointer
// fields are left untouched; AddToolCalls increments.
type Update struct {
	ToolCalls            *int
	AddToolCalls         int
	MemoryUsageMB        *float64
	RetrievalContextSize *int
}

// Update applies field updates to an active run.
func (c *Collector) Update(workflowID string, upd Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.active[workflowID]
	if !ok {
		return trackingErr("update", workflowID, ErrRunNotFound)
	}
	if upd.ToolCalls != nil {
		m.ToolCalls = *upd.ToolCalls
	}
	m.ToolCalls += upd.AddToolCalls
	if upd.MemoryUsageMB != nil {
		m.MemoryUsageMB = *upd.MemoryUsageMB
	}
	if upd.RetrievalContextSize != nil {
		m.RetrievalContextSize = *upd.RetrievalContextSize
	}
	return nil
}

// AddTokenUsage adds tokens to a provider's cumulative count.
func (c *Collector) AddTokenUsage(workflowID, provider string, tokens int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.active[workflowID]
	if !ok {
		return trackingErr("add token usage", workflowID, ErrRunNotFound)
	}
	m.TokenUsage[provider] += tokens
	return nil
}

// AddError records an error message and marks the run unsuccessful.
// Recording is observational and never interrupts the run.
func (c *Collector) AddError(workflowID, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.active[workflowID]
	if !ok {
		return trackingErr("add error", workflowID, ErrRunNotFound)
	}
	m.Errors = append(m.Errors, msg)
	m.Success = false
	return nil
}

// FinishTracking finalizes a run, moves it from the active registry to
// the finished ring, and returns the immutable record. A second call
// with the same id fails: the run is no longer active.
func (c *Collector) FinishTracking(workflowID string) (*Metrics, error) {
	c.mu.Lock()
	m, ok := c.active[workflowID]
	if !ok {
		c.mu.Unlock()
		return nil, trackingErr("finish", workflowID, ErrRunNotFound)
	}
	delete(c.active, workflowID)
	m.finalize(c.now())

	c.finished = append(c.finished, m)
	if len(c.finished) > c.retention {
		c.finished = c.finished[len(c.finished)-c.retention:]
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveMetrics(context.Background(), m); err != nil {
			c.logger.Warn("failed to persist metrics",
				"workflow_id", workflowID,
				"error", err)
		}
	}

	c.logger.Debug("tracking finished",
		"workflow_id", workflowID,
		"execution_time", m.ExecutionTime,
		"success", m.Success)
	return m.clone(), nil
}

// CleanupStale evicts active runs older than maxAge and returns how
// many were removed. Evicted runs are recorded as failed.
func (c *Collector) CleanupStale(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, m := range c.active {
		if m.StartTime.Before(cutoff) {
			delete(c.active, id)
			evicted++
			c.logger.Warn("evicted stale run",
				"workflow_id", id,
				"workflow_type", m.WorkflowType,
				"age", c.now().Sub(m.StartTime))
		}
	}
	return evicted
}

// ActiveCount returns how many runs are currently tracked.
func (c *Collector) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// ActiveIDs returns the ids of all tracked runs.
func (c *Collector) ActiveIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}

// Stats summarizes retained finished runs.
type Stats struct {
	TotalRuns   int            `json:"total_runs"`
	ActiveRuns  int            `json:"active_runs"`
	RunsByType  map[string]int `json:"runs_by_type"`
	SuccessRate float64        `json:"success_rate"`
}

// Stats aggregates counts over the finished ring.
func (c *Collector) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		TotalRuns:  len(c.finished),
		ActiveRuns: len(c.active),
		RunsByType: make(map[string]int),
	}
	succeeded := 0
	for _, m := range c.finished {
		stats.RunsByType[m.WorkflowType]++
		if m.Success {
			succeeded++
		}
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.TotalRuns)
	}
	return stats
}

// Performance summarizes timing and usage over retained finished runs.
type Performance struct {
	AverageExecutionTime time.Duration      `json:"average_execution_time"`
	AverageToolCalls     float64            `json:"average_tool_calls"`
	TotalTokens          map[string]int     `json:"total_tokens"`
	AverageTokens        map[string]float64 `json:"average_tokens"`
}

// PerformanceMetrics aggregates execution time and token usage.
func (c *Collector) PerformanceMetrics() Performance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	perf := Performance{
		TotalTokens:   make(map[string]int),
		AverageTokens: make(map[string]float64),
	}
	if len(c.finished) == 0 {
		return perf
	}

	var totalTime time.Duration
	totalCalls := 0
	for _, m := range c.finished {
		totalTime += m.ExecutionTime
		totalCalls += m.ToolCalls
		for provider, tokens := range m.TokenUsage {
			perf.TotalTokens[provider] += tokens
		}
	}
	n := len(c.finished)
	perf.AverageExecutionTime = totalTime / time.Duration(n)
	perf.AverageToolCalls = float64(totalCalls) / float64(n)
	for provider, tokens := range perf.TotalTokens {
		perf.AverageTokens[provider] = float64(tokens) / float64(n)
	}
	return perf
}
