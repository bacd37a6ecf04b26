package composite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatter-ai/chatterflow/pkg/workflow"
)

// recordingRunner captures every Run invocation and answers with
// canned outputs, errors and delays keyed by sub-workflow id.
type recordingRunner struct {
	outputs map[string]map[string]any
	errs    map[string]error
	delays  map[string]time.Duration

	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	sub   SubWorkflow
	input map[string]any
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		outputs: make(map[string]map[string]any),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
	}
}

func (r *recordingRunner) Run(ctx context.Context, sub SubWorkflow, input map[string]any) (map[string]any, error) {
	if d := r.delays[sub.ID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, recordedCall{sub: sub, input: input})
	r.mu.Unlock()

	if err := r.errs[sub.ID]; err != nil {
		return nil, err
	}
	return r.outputs[sub.ID], nil
}

func (r *recordingRunner) callIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.calls))
	for i, c := range r.calls {
		ids[i] = c.sub.ID
	}
	return ids
}

func (r *recordingRunner) callFor(id string) (recordedCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.sub.ID == id {
			return c, true
		}
	}
	return recordedCall{}, false
}

func TestExecuteCompositeSequentialPipesResults(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["summarize"] = map[string]any{"summary": "short history", "tokens": 42}
	runner.outputs["reply"] = map[string]any{"answer": "done"}

	cfg, err := NewCompositeConfig(StrategySequential,
		SubWorkflow{ID: "summarize", Type: "conversation_summary"},
		SubWorkflow{ID: "reply", Type: "customer_support", Pipe: []string{"summary"}},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.WorkflowID)

	m := NewManager(runner)
	input := map[string]any{"message": "help"}
	results, err := m.ExecuteComposite(context.Background(), cfg, input)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []string{"summarize", "reply"}, runner.callIDs())
	assert.Equal(t, StatusCompleted, results[0].Status)
	assert.Equal(t, StatusCompleted, results[1].Status)
	assert.True(t, Succeeded(results))

	// The second input carries the original data plus the piped field,
	// and only that field.
	c, ok := runner.callFor("reply")
	require.True(t, ok)
	assert.Equal(t, "help", c.input["message"])
	assert.Equal(t, "short history", c.input["summary"])
	_, leaked := c.input["tokens"]
	assert.False(t, leaked, "unpiped field leaked into the next input")

	// The caller's input map is never mutated.
	assert.Equal(t, map[string]any{"message": "help"}, input)
}

func TestExecuteCompositeSequentialStopsOnFailure(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["fetch"] = map[string]any{"rows": 10}
	runner.errs["analyze"] = errors.New("provider unreachable")

	cfg, err := NewCompositeConfig(StrategySequential,
		SubWorkflow{ID: "fetch", Type: "data_analysis"},
		SubWorkflow{ID: "analyze", Type: "data_analysis"},
		SubWorkflow{ID: "report", Type: "content_generation"},
	)
	require.NoError(t, err)

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg, nil)
	require.NoError(t, err, "a failed sub-workflow is an answer, not an error")
	require.Len(t, results, 3)

	assert.Equal(t, StatusCompleted, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "provider unreachable")
	assert.Equal(t, StatusSkipped, results[2].Status)
	assert.False(t, Succeeded(results))
	assert.Equal(t, []string{"fetch", "analyze"}, runner.callIDs())
}

func TestExecuteCompositeParallelKeepsDeclaredOrder(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["a"] = map[string]any{"a": 1}
	runner.outputs["b"] = map[string]any{"b": 2}
	runner.delays["a"] = 30 * time.Millisecond

	cfg, err := NewCompositeConfig(StrategyParallel,
		SubWorkflow{ID: "a", Type: "research"},
		SubWorkflow{ID: "b", Type: "research"},
	)
	require.NoError(t, err)

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg, map[string]any{"q": "x"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// b finishes first; the result list still follows declared order.
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, map[string]any{"a": 1}, results[0].Output)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, map[string]any{"b": 2}, results[1].Output)
}

func TestExecuteCompositeParallelBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int64
	runner := RunnerFunc(func(ctx context.Context, sub SubWorkflow, input map[string]any) (map[string]any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return map[string]any{"id": sub.ID}, nil
	})

	subs := make([]SubWorkflow, 6)
	for i := range subs {
		subs[i] = SubWorkflow{ID: fmt.Sprintf("job-%d", i), Type: "research"}
	}
	cfg, err := NewCompositeConfig(StrategyParallel, subs...)
	require.NoError(t, err)

	results, err := NewManager(runner, WithMaxParallel(2)).ExecuteComposite(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.True(t, Succeeded(results))
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestExecuteCompositeParallelFailureIsIsolated(t *testing.T) {
	runner := newRecordingRunner()
	runner.errs["bad"] = errors.New("boom")
	runner.outputs["good"] = map[string]any{"ok": true}
	runner.delays["good"] = 20 * time.Millisecond

	cfg, err := NewCompositeConfig(StrategyParallel,
		SubWorkflow{ID: "bad", Type: "research"},
		SubWorkflow{ID: "good", Type: "research"},
	)
	require.NoError(t, err)

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "boom")
	assert.Equal(t, StatusCompleted, results[1].Status)
	assert.Equal(t, map[string]any{"ok": true}, results[1].Output)
}

func TestExecuteCompositeConditionalRunsMatchingBranches(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["escalate"] = map[string]any{"ticket": "T-1"}
	runner.outputs["log"] = map[string]any{"logged": true}

	cfg, err := NewCompositeConfig(StrategyConditional,
		SubWorkflow{ID: "escalate", Type: "customer_support", Condition: `tier == "gold"`},
		SubWorkflow{ID: "notify", Type: "customer_support", Condition: `region == "eu"`},
		SubWorkflow{ID: "log", Type: "data_analysis"},
	)
	require.NoError(t, err)

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg,
		map[string]any{"tier": "gold", "region": "us"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// More than one branch may run; only the unmatched one is skipped,
	// and an empty condition always runs.
	assert.Equal(t, StatusCompleted, results[0].Status)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, StatusCompleted, results[2].Status)
	assert.Equal(t, []string{"escalate", "log"}, runner.callIDs())
}

func TestExecuteCompositeConditionalEvalErrorFailsBranchOnly(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["always"] = map[string]any{"ok": true}

	cfg, err := NewCompositeConfig(StrategyConditional,
		SubWorkflow{ID: "typed", Type: "research", Condition: `count > "many"`},
		SubWorkflow{ID: "always", Type: "research"},
	)
	require.NoError(t, err)

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg,
		map[string]any{"count": 3})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "cannot compare")
	assert.Equal(t, StatusCompleted, results[1].Status)
	assert.Equal(t, []string{"always"}, runner.callIDs())
}

func TestExecuteCompositeConditionalBadSyntaxIsConfigError(t *testing.T) {
	runner := newRecordingRunner()
	cfg, err := NewCompositeConfig(StrategyConditional,
		SubWorkflow{ID: "first", Type: "research"},
		SubWorkflow{ID: "broken", Type: "research", Condition: `tier ==`},
	)
	require.NoError(t, err)

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg, nil)
	assert.Nil(t, results)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), `"broken"`)

	// Gates compile before anything runs.
	assert.Empty(t, runner.callIDs())
}

func TestExecuteCompositeRejectsBadConfig(t *testing.T) {
	m := NewManager(newRecordingRunner())
	var cfgErr *ConfigError

	_, err := m.ExecuteComposite(context.Background(), nil, nil)
	require.ErrorAs(t, err, &cfgErr)

	_, err = m.ExecuteComposite(context.Background(), &CompositeConfig{
		WorkflowID: "c1",
		Strategy:   Strategy("round_robin"),
		Workflows:  []SubWorkflow{{ID: "a", Type: "research"}},
	}, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "round_robin")

	_, err = m.ExecuteComposite(context.Background(), &CompositeConfig{WorkflowID: "c2"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one sub-workflow")

	_, err = m.ExecuteComposite(context.Background(), &CompositeConfig{
		WorkflowID: "c3",
		Workflows:  []SubWorkflow{{ID: "a", Type: "research"}, {ID: "a", Type: "research"}},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate sub-workflow id "a"`)
}

func TestExecuteCompositeDefaultStrategyIsSequential(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["one"] = map[string]any{"n": 1}
	runner.outputs["two"] = map[string]any{"n": 2}

	cfg := &CompositeConfig{
		WorkflowID: "composite-1",
		Workflows: []SubWorkflow{
			{ID: "one", Type: "research"},
			{ID: "two", Type: "research", Pipe: []string{"n"}},
		},
	}

	results, err := NewManager(runner).ExecuteComposite(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"one", "two"}, runner.callIDs())

	c, ok := runner.callFor("two")
	require.True(t, ok)
	assert.Equal(t, 1, c.input["n"])
}

func TestRegisteredCompositeConfigs(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["solo"] = map[string]any{"done": true}
	m := NewManager(runner)

	cfg, err := NewCompositeConfig(StrategySequential, SubWorkflow{ID: "solo", Type: "research"})
	require.NoError(t, err)
	require.NoError(t, m.RegisterCompositeConfig("nightly", cfg))
	assert.Equal(t, []string{"nightly"}, m.CompositeConfigNames())

	results, err := m.ExecuteRegisteredComposite(context.Background(), "nightly", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusCompleted, results[0].Status)

	_, err = m.ExecuteRegisteredComposite(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrConfigNotFound)
	assert.Contains(t, err.Error(), `"missing"`)

	assert.Error(t, m.RegisterCompositeConfig("", cfg))
	assert.Error(t, m.RegisterCompositeConfig("bad", &CompositeConfig{}))
}

func TestRegisteredConditionalConfigs(t *testing.T) {
	runner := newRecordingRunner()
	runner.outputs["tier"] = map[string]any{"routed": "premium"}
	m := NewManager(runner)

	cond := NewConditionalConfig().
		AddCondition("tier", map[string]any{"in": []any{"gold", "platinum"}}).
		AddWorkflowConfig("tier", map[string]any{"workflow_type": "premium_support", "model": "gpt-4"}).
		AddWorkflowConfig("default", map[string]any{"workflow_type": "basic_support"})

	require.NoError(t, m.RegisterConditionalConfig("support", cond))
	assert.Equal(t, []string{"support"}, m.ConditionalConfigNames())

	out, err := m.ExecuteRegisteredConditional(context.Background(), "support", map[string]any{"tier": "gold"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"routed": "premium"}, out)

	// The runner sees the matched key's params with its type tag.
	c, ok := runner.callFor("tier")
	require.True(t, ok)
	assert.Equal(t, "premium_support", c.sub.Type)
	assert.Equal(t, "gpt-4", c.sub.Params["model"])
	assert.Equal(t, "gold", c.input["tier"])

	_, err = m.ExecuteRegisteredConditional(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrConfigNotFound)

	assert.Error(t, m.RegisterConditionalConfig("", cond))
	assert.Error(t, m.RegisterConditionalConfig("nil", nil))
}

func TestExecuteRegisteredConditionalNoMatch(t *testing.T) {
	runner := newRecordingRunner()
	m := NewManager(runner)

	cond := NewConditionalConfig().
		AddCondition("tier", "gold").
		AddWorkflowConfig("tier", map[string]any{"model": "gpt-4"})
	require.NoError(t, m.RegisterConditionalConfig("support", cond))

	out, err := m.ExecuteRegisteredConditional(context.Background(), "support", map[string]any{"tier": "silver"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, runner.callIDs())
}

func TestCreateConditionalWorkflow(t *testing.T) {
	m := NewManager(newRecordingRunner())
	cond := NewConditionalConfig().
		AddCondition("complexity", map[string]any{"min": 7}).
		AddWorkflowConfig("complexity", map[string]any{
			"model":       "gpt-4",
			"temperature": 0.2,
			"prompt":      "Think carefully: ${message}",
		}).
		AddWorkflowConfig("default", map[string]any{"model": "gpt-3.5-turbo"})

	def, err := m.CreateConditionalWorkflow(cond, map[string]any{"complexity": 9})
	require.NoError(t, err)
	require.NotNil(t, def)

	assert.Equal(t, "complexity", def.Metadata["workflow_type"])
	require.Len(t, def.Steps, 2)
	gen := def.Steps[0]
	assert.Equal(t, workflow.StepTypeLLMCall, gen.Type)
	assert.Equal(t, "gpt-4", gen.Config["model"])
	assert.Equal(t, 0.2, gen.Config["temperature"])
	assert.Equal(t, "Think carefully: ${message}", gen.Config["prompt"])

	// The built definition passes the stock validator as-is.
	vr := workflow.NewWorkflowValidator().ValidateConfig(def)
	assert.True(t, vr.Valid, "unexpected validation errors: %v", vr.Errors)

	// Low complexity falls back to the default config.
	def, err = m.CreateConditionalWorkflow(cond, map[string]any{"complexity": 1})
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "default", def.Metadata["workflow_type"])

	// Nothing matches and no default exists: nil, nil.
	bare := NewConditionalConfig().
		AddCondition("complexity", map[string]any{"min": 7}).
		AddWorkflowConfig("complexity", map[string]any{"model": "gpt-4"})
	def, err = m.CreateConditionalWorkflow(bare, map[string]any{"complexity": 1})
	require.NoError(t, err)
	assert.Nil(t, def)

	_, err = m.CreateConditionalWorkflow(nil, nil)
	require.Error(t, err)
}

func TestCreateConditionalWorkflowMissingConfig(t *testing.T) {
	m := NewManager(newRecordingRunner())
	cond := NewConditionalConfig().
		AddCondition("tier", "gold").
		AddWorkflowConfig("default", map[string]any{"model": "gpt-4"})

	_, err := m.CreateConditionalWorkflow(cond, map[string]any{"tier": "gold"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"tier" matched but has no workflow config`)
}
