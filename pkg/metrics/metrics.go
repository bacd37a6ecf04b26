// Package metrics tracks per-run workflow execution metrics: timings,
// token usage by provider, tool call counts, and errors. A Collector
// owns the active-run registry; finished runs are retained in a
// bounded ring for aggregate queries and optionally persisted through
// a Store.
package metrics

import (
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when an operation references a workflow
// id that is not being tracked.
var ErrRunNotFound = errors.New("workflow run not found")

// TrackingError wraps collector failures with the operation and run id.
type TrackingError struct {
	WorkflowID string
	Op         string
	Err        error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("metrics %s for run %q: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }

func trackingErr(op, workflowID string, err error) error {
	return &TrackingError{WorkflowID: workflowID, Op: op, Err: err}
}

// Metrics is the record of one workflow run. Values are mutated only
// through the Collector while the run is active; after FinishTracking
// the returned value is no longer touched.
type Metrics struct {
	WorkflowID           string         `json:"workflow_id"`
	WorkflowType         string         `json:"workflow_type"`
	UserID               string         `json:"user_id,omitempty"`
	ConversationID       string         `json:"conversation_id,omitempty"`
	StartTime            time.Time      `json:"start_time"`
	EndTime              *time.Time     `json:"end_time,omitempty"`
	ExecutionTime        time.Duration  `json:"execution_time"`
	TokenUsage           map[string]int `json:"token_usage"`
	ToolCalls            int            `json:"tool_calls"`
	Errors               []string       `json:"errors,omitempty"`
	Success              bool           `json:"success"`
	MemoryUsageMB        float64        `json:"memory_usage_mb,omitempty"`
	RetrievalContextSize int            `json:"retrieval_context_size,omitempty"`
}

// finalize stamps the end time once. ExecutionTime is floored at one
// nanosecond so a finished run always reports a positive duration,
// even under a frozen test clock.
func (m *Metrics) finalize(now time.Time) {
	if m.EndTime != nil {
		return
	}
	end := now
	m.EndTime = &end
	m.ExecutionTime = end.Sub(m.StartTime)
	if m.ExecutionTime <= 0 {
		m.ExecutionTime = time.Nanosecond
	}
}

func (m *Metrics) clone() *Metrics {
	out := *m
	out.TokenUsage = make(map[string]int, len(m.TokenUsage))
	for k, v := range m.TokenUsage {
		out.TokenUsage[k] = v
	}
	out.Errors = append([]string(nil), m.Errors...)
	if m.EndTime != nil {
		end := *m.EndTime
		out.EndTime = &end
	}
	return &out
}
