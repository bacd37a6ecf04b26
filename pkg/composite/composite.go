package composite

import (
	"time"

	"github.com/google/uuid"
)

// Strategy selects how a composite's sub-workflows execute.
type Strategy string

const (
	StrategySequential  Strategy = "sequential"
	StrategyParallel    Strategy = "parallel"
	StrategyConditional Strategy = "conditional"
)

// Valid reports whether the strategy is one of the known set.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyConditional:
		return true
	}
	return false
}

// SubWorkflow describes one member of a composite. Pipe names the
// fields of the previous sub-workflow's result that flow into this
// one's input under the sequential strategy; an empty Pipe pipes
// nothing. Condition gates the member under the conditional strategy
// and uses the same expression grammar as step gating.
type SubWorkflow struct {
	ID           string         `json:"id" yaml:"id"`
	Type         string         `json:"type" yaml:"type"`
	Condition    string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Params       map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Pipe         []string       `json:"pipe,omitempty" yaml:"pipe,omitempty"`
	SubWorkflows []SubWorkflow  `json:"sub_workflows,omitempty" yaml:"sub_workflows,omitempty"`
}

// CompositeConfig is an ordered set of sub-workflows plus the strategy
// that combines them.
type CompositeConfig struct {
	WorkflowID string        `json:"workflow_id" yaml:"workflow_id"`
	Workflows  []SubWorkflow `json:"workflows" yaml:"workflows"`
	Strategy   Strategy      `json:"execution_strategy,omitempty" yaml:"execution_strategy,omitempty"`
}

// NewCompositeConfig builds a validated config with a generated id.
// An empty strategy means sequential.
func NewCompositeConfig(strategy Strategy, workflows ...SubWorkflow) (*CompositeConfig, error) {
	cfg := &CompositeConfig{
		WorkflowID: uuid.New().String(),
		Workflows:  workflows,
		Strategy:   strategy,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the strategy and every sub-workflow descriptor,
// including nested ones.
func (c *CompositeConfig) Validate() error {
	if c == nil {
		return configErrorf("composite config is nil")
	}
	if c.Strategy != "" && !c.Strategy.Valid() {
		return configErrorf("unknown execution strategy %q", string(c.Strategy))
	}
	if len(c.Workflows) == 0 {
		return configErrorf("composite needs at least one sub-workflow")
	}
	return validateSubWorkflows(c.Workflows)
}

func validateSubWorkflows(subs []SubWorkflow) error {
	seen := make(map[string]bool, len(subs))
	for i, sub := range subs {
		if sub.ID == "" {
			return configErrorf("sub-workflow[%d] id is required", i)
		}
		if sub.Type == "" {
			return configErrorf("sub-workflow %q type is required", sub.ID)
		}
		if seen[sub.ID] {
			return configErrorf("duplicate sub-workflow id %q", sub.ID)
		}
		seen[sub.ID] = true
		if len(sub.SubWorkflows) > 0 {
			if err := validateSubWorkflows(sub.SubWorkflows); err != nil {
				return err
			}
		}
	}
	return nil
}

// Status is the outcome of one sub-workflow within a composite run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// SubResult is one entry of a composite run's result list. Entries
// keep the declared sub-workflow order regardless of completion order.
type SubResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   Status         `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Succeeded reports whether every sub-result completed or was skipped.
func Succeeded(results []SubResult) bool {
	for _, r := range results {
		if r.Status == StatusFailed {
			return false
		}
	}
	return true
}
