package composite

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/workflow"
)

const defaultMaxParallel = 4

// Manager builds workflows from conditional tables and runs composite
// configs through a Runner. It also keeps a process-lifetime store of
// configs registered by name.
type Manager struct {
	runner      Runner
	logger      *slog.Logger
	maxParallel int

	mu           sync.RWMutex
	conditionals map[string]*ConditionalConfig
	composites   map[string]*CompositeConfig
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxParallel bounds concurrent sub-workflows under the parallel
// strategy.
func WithMaxParallel(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxParallel = n
		}
	}
}

// NewManager creates a manager that executes sub-workflows through the
// given runner.
func NewManager(runner Runner, opts ...Option) *Manager {
	m := &Manager{
		runner:       runner,
		logger:       log.WithModule("composite"),
		maxParallel:  defaultMaxParallel,
		conditionals: make(map[string]*ConditionalConfig),
		composites:   make(map[string]*CompositeConfig),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateConditionalWorkflow evaluates the conditional table against
// evalCtx and builds a runnable definition from the matched key's
// parameter config. No matching condition and no default returns
// (nil, nil): the caller decides what no-workflow means.
func (m *Manager) CreateConditionalWorkflow(cond *ConditionalConfig, evalCtx map[string]any) (*workflow.Definition, error) {
	if cond == nil {
		return nil, configErrorf("conditional config is nil")
	}

	key, ok := cond.Evaluate(evalCtx)
	if !ok {
		m.logger.Debug("no condition matched")
		return nil, nil
	}
	params, ok := cond.WorkflowConfig(key)
	if !ok {
		return nil, configErrorf("condition %q matched but has no workflow config", key)
	}

	m.logger.Debug("condition matched", "key", key)
	return buildDefinition(key, workflowTypeOf(key, params), params), nil
}

// ExecuteComposite runs every sub-workflow of the config under its
// strategy and returns one result per descriptor in declared order.
//
// Configuration problems surface as a returned error before anything
// runs. Once execution starts, sub-workflow failures land in the
// result list and the call returns (results, nil).
func (m *Manager) ExecuteComposite(ctx context.Context, cfg *CompositeConfig, input map[string]any) ([]SubResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategySequential
	}
	m.logger.Info("composite run started",
		"workflow_id", cfg.WorkflowID,
		"strategy", string(strategy),
		"sub_workflows", len(cfg.Workflows))

	var (
		results []SubResult
		err     error
	)
	switch strategy {
	case StrategyParallel:
		results = m.runParallel(ctx, cfg.Workflows, input)
	case StrategyConditional:
		results, err = m.runConditional(ctx, cfg.Workflows, input)
	default:
		results = m.runSequential(ctx, cfg.Workflows, input)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("composite run finished",
		"workflow_id", cfg.WorkflowID,
		"succeeded", Succeeded(results))
	return results, nil
}

// runSequential runs sub-workflows in declared order. Each descriptor's
// Pipe names the fields of the previous result overlaid onto its
// input. The first failure stops the chain and marks the remainder
// skipped.
func (m *Manager) runSequential(ctx context.Context, subs []SubWorkflow, input map[string]any) []SubResult {
	results := make([]SubResult, 0, len(subs))
	var prev map[string]any
	failed := false

	for _, sub := range subs {
		if failed {
			results = append(results, SubResult{ID: sub.ID, Type: sub.Type, Status: StatusSkipped})
			continue
		}
		r := m.runOne(ctx, sub, buildInput(input, prev, sub.Pipe))
		if r.Status == StatusFailed {
			failed = true
		} else {
			prev = r.Output
		}
		results = append(results, r)
	}
	return results
}

// runParallel fans sub-workflows out through an errgroup bounded by
// maxParallel, each against its own copy of the shared input. Results
// keep declared order regardless of completion order, and a failed
// branch never cancels its siblings.
func (m *Manager) runParallel(ctx context.Context, subs []SubWorkflow, input map[string]any) []SubResult {
	results := make([]SubResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxParallel)

	for i, sub := range subs {
		g.Go(func() error {
			results[i] = m.runOne(gctx, sub, deepCopyMap(input))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runConditional compiles every gate up front, then runs the matching
// sub-workflows in declared order against the shared input. More than
// one branch may run. A gate that fails to compile is a config
// problem; a gate that fails to evaluate fails only its own branch.
// An empty condition always runs.
func (m *Manager) runConditional(ctx context.Context, subs []SubWorkflow, input map[string]any) ([]SubResult, error) {
	gates := make([]*workflow.Condition, len(subs))
	for i, sub := range subs {
		if sub.Condition == "" {
			continue
		}
		gate, err := workflow.CompileCondition(sub.Condition)
		if err != nil {
			return nil, configErrorf("sub-workflow %q condition: %v", sub.ID, err)
		}
		gates[i] = gate
	}

	results := make([]SubResult, 0, len(subs))
	for i, sub := range subs {
		if gates[i] != nil {
			pass, err := gates[i].Eval(input)
			if err != nil {
				results = append(results, SubResult{ID: sub.ID, Type: sub.Type, Status: StatusFailed, Error: err.Error()})
				continue
			}
			if !pass {
				results = append(results, SubResult{ID: sub.ID, Type: sub.Type, Status: StatusSkipped})
				continue
			}
		}
		results = append(results, m.runOne(ctx, sub, deepCopyMap(input)))
	}
	return results, nil
}

// runOne executes a single sub-workflow through the runner and folds
// the outcome into a SubResult.
func (m *Manager) runOne(ctx context.Context, sub SubWorkflow, input map[string]any) SubResult {
	started := time.Now()
	output, err := m.runner.Run(ctx, sub, input)

	r := SubResult{
		ID:       sub.ID,
		Type:     sub.Type,
		Duration: time.Since(started),
	}
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		m.logger.Error("sub-workflow failed", "id", sub.ID, "type", sub.Type, "error", err)
		return r
	}
	r.Status = StatusCompleted
	r.Output = output
	return r
}

// buildInput copies the shared input and overlays the piped fields of
// the previous result. Pipe entries missing from the previous result
// are dropped silently.
func buildInput(original, prev map[string]any, pipe []string) map[string]any {
	in := deepCopyMap(original)
	if in == nil {
		in = make(map[string]any)
	}
	for _, field := range pipe {
		if v, ok := prev[field]; ok {
			in[field] = deepCopyValue(v)
		}
	}
	return in
}

// RegisterConditionalConfig stores a conditional table under a name,
// replacing any previous registration. The store lives for the
// process; nothing is persisted.
func (m *Manager) RegisterConditionalConfig(name string, cfg *ConditionalConfig) error {
	if name == "" {
		return configErrorf("config name is required")
	}
	if cfg == nil {
		return configErrorf("conditional config is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditionals[name] = cfg
	m.logger.Debug("conditional config registered", "name", name)
	return nil
}

// RegisterCompositeConfig validates and stores a composite config
// under a name, replacing any previous registration.
func (m *Manager) RegisterCompositeConfig(name string, cfg *CompositeConfig) error {
	if name == "" {
		return configErrorf("config name is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composites[name] = cfg
	m.logger.Debug("composite config registered", "name", name)
	return nil
}

// ExecuteRegisteredConditional evaluates a registered conditional
// table and runs the matched workflow config through the runner. No
// match returns (nil, nil).
func (m *Manager) ExecuteRegisteredConditional(ctx context.Context, name string, evalCtx map[string]any) (map[string]any, error) {
	m.mu.RLock()
	cfg, ok := m.conditionals[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("conditional config %q: %w", name, ErrConfigNotFound)
	}

	key, matched := cfg.Evaluate(evalCtx)
	if !matched {
		return nil, nil
	}
	params, ok := cfg.WorkflowConfig(key)
	if !ok {
		return nil, configErrorf("condition %q matched but has no workflow config", key)
	}

	sub := SubWorkflow{ID: key, Type: workflowTypeOf(key, params), Params: params}
	return m.runner.Run(ctx, sub, evalCtx)
}

// ExecuteRegisteredComposite runs a composite config registered under
// the given name.
func (m *Manager) ExecuteRegisteredComposite(ctx context.Context, name string, input map[string]any) ([]SubResult, error) {
	m.mu.RLock()
	cfg, ok := m.composites[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("composite config %q: %w", name, ErrConfigNotFound)
	}
	return m.ExecuteComposite(ctx, cfg, input)
}

// ConditionalConfigNames lists registered conditional config names,
// sorted.
func (m *Manager) ConditionalConfigNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conditionals))
	for name := range m.conditionals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompositeConfigNames lists registered composite config names, sorted.
func (m *Manager) CompositeConfigNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.composites))
	for name := range m.composites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// workflowTypeOf reads the workflow type tag from a parameter config,
// falling back to the condition key.
func workflowTypeOf(key string, params map[string]any) string {
	if t, ok := params["workflow_type"].(string); ok && t != "" {
		return t
	}
	return key
}
