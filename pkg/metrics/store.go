package metrics

import (
	"context"
	"time"
)

// Filter narrows ListMetrics queries. Zero values mean "any".
type Filter struct {
	WorkflowType string
	UserID       string
	Since        time.Time
	Limit        int
}

// Summary is an aggregate over persisted runs.
type Summary struct {
	TotalRuns     int            `json:"total_runs"`
	SuccessRate   float64        `json:"success_rate"`
	AverageTimeMS float64        `json:"average_time_ms"`
	TotalTokens   map[string]int `json:"total_tokens"`
}

// Store persists finished run metrics. Persistence is observational:
// collector aggregates always come from memory, and store failures are
// logged, never raised to workflow callers.
type Store interface {
	SaveMetrics(ctx context.Context, m *Metrics) error
	ListMetrics(ctx context.Context, filter Filter) ([]*Metrics, error)
	Summary(ctx context.Context, since time.Time) (*Summary, error)
	Close() error
}
