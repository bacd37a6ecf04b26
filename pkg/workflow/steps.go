package workflow

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chatter-ai/chatterflow/pkg/llm"
	"github.com/chatter-ai/chatterflow/pkg/metrics"
)

// stepHandler executes one step type against its resolved config and
// returns the step output.
type stepHandler func(ctx context.Context, ectx *Context, step *Step, config map[string]any) (any, error)

// Config keys that must stay unresolved: nested step definitions are
// resolved per child against the scope they run in, and condition
// expressions reference the scope at evaluation time.
var rawConfigKeys = map[StepType]map[string]bool{
	StepTypeCondition: {"condition": true},
	StepTypeLoop:      {"step": true},
	StepTypeParallel:  {"steps": true},
}

// resolveStepConfig substitutes placeholders in a step's config,
// leaving the type's raw keys untouched.
func resolveStepConfig(step *Step, scope map[string]any) (map[string]any, error) {
	raw := rawConfigKeys[step.Type]
	if len(raw) == 0 {
		return resolveConfig(step.Config, scope)
	}

	resolved := make(map[string]any, len(step.Config))
	for k, v := range step.Config {
		if raw[k] {
			resolved[k] = v
			continue
		}
		r, err := resolveValue(v, scope)
		if err != nil {
			return nil, err
		}
		resolved[k] = r
	}
	return resolved, nil
}

// applyOutputVar stores a step's output under the variable named by
// config output_var, making it addressable as a bare name downstream.
func applyOutputVar(ectx *Context, config map[string]any, output any) {
	if name, ok := configString(config, "output_var"); ok && name != "" {
		ectx.Set(name, output)
	}
}

// runInputStep projects workflow input data into the step output and
// the variable scope. Config "required" names data keys that must be
// present; "fields" selects a subset (default all).
func (e *Executor) runInputStep(_ context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	if raw, ok := config["required"].([]any); ok {
		for _, f := range raw {
			name, ok := f.(string)
			if !ok {
				continue
			}
			if _, present := ectx.Data[name]; !present {
				return nil, newStepError(step.ID, fmt.Sprintf("required input %q is missing", name), nil)
			}
		}
	}

	out := make(map[string]any)
	if raw, ok := config["fields"].([]any); ok {
		for _, f := range raw {
			name, ok := f.(string)
			if !ok {
				continue
			}
			if v, present := ectx.Data[name]; present {
				out[name] = v
			}
		}
	} else {
		for k, v := range ectx.Data {
			out[k] = v
		}
	}

	ectx.SetAll(out)
	return out, nil
}

// runLLMCallStep generates text through the configured llm.Client.
func (e *Executor) runLLMCallStep(ctx context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	if e.llm == nil {
		return nil, newStepError(step.ID, "no llm client configured", nil)
	}

	messages, err := buildMessages(config)
	if err != nil {
		return nil, newStepError(step.ID, err.Error(), nil)
	}

	model, _ := configString(config, "model")
	opts := &llm.GenerationOptions{Model: model, Temperature: -1}
	if t, ok := asNumber(config["temperature"]); ok {
		opts.Temperature = t
	}
	if n, ok := asInt(config["max_tokens"]); ok {
		opts.MaxTokens = n
	}

	result, err := e.llm.Generate(ctx, messages, opts)
	if err != nil {
		return nil, newStepError(step.ID, "llm generation failed", err)
	}

	e.recordUsage(ectx, messages, result, model)

	if len(result.ToolCalls) > 0 {
		calls := make([]any, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			calls[i] = map[string]any{"id": tc.ID, "name": tc.Name, "arguments": tc.Arguments}
		}
		return map[string]any{"content": result.Content, "tool_calls": calls}, nil
	}
	return result.Content, nil
}

func buildMessages(config map[string]any) ([]llm.Message, error) {
	var messages []llm.Message

	if system, ok := configString(config, "system"); ok && system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	if raw, ok := config["messages"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("messages must be an array")
		}
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("messages[%d] must be an object", i)
			}
			role, _ := m["role"].(string)
			if role == "" {
				return nil, fmt.Errorf("messages[%d] is missing a role", i)
			}
			content, _ := m["content"].(string)
			messages = append(messages, llm.Message{Role: role, Content: content})
		}
	}
	if prompt, ok := configString(config, "prompt"); ok && prompt != "" {
		messages = append(messages, llm.Message{Role: "user", Content: prompt})
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("llm_call requires a prompt or messages")
	}
	return messages, nil
}

// recordUsage feeds provider-reported token usage into the collector,
// falling back to a tiktoken estimate when the provider reports none.
func (e *Executor) recordUsage(ectx *Context, messages []llm.Message, result *llm.Result, model string) {
	if e.collector == nil {
		return
	}
	if result.Usage != nil && result.Usage.TotalTokens > 0 {
		provider := result.Usage.Provider
		if provider == "" {
			provider = "llm"
		}
		_ = e.collector.AddTokenUsage(ectx.WorkflowID, provider, result.Usage.TotalTokens)
		return
	}
	estimate := e.counter.CountMessageTokens(messages, model) + e.counter.CountTokens(result.Content, model)
	_ = e.collector.AddTokenUsage(ectx.WorkflowID, "estimated", estimate)
}

// runConditionStep evaluates the expression against the live scope and
// records the boolean as the step output. The expression comes from
// the raw config: identifiers resolve at evaluation time, never
// through placeholder substitution.
func (e *Executor) runConditionStep(_ context.Context, ectx *Context, step *Step, _ map[string]any) (any, error) {
	expr, _ := configString(step.Config, "condition")
	cond, err := CompileCondition(expr)
	if err != nil {
		return nil, newConditionError(step.ID, "invalid condition", err)
	}
	value, err := cond.Eval(ectx.scope())
	if err != nil {
		return nil, newConditionError(step.ID, "condition evaluation failed", err)
	}
	return value, nil
}

// runParallelStep fans nested child steps out concurrently and returns
// their outputs in declared order.
func (e *Executor) runParallelStep(ctx context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	raw, _ := config["steps"].([]any)
	children := make([]*Step, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, newStepError(step.ID, fmt.Sprintf("steps[%d] is not an object", i), nil)
		}
		child, err := StepFromMap(m)
		if err != nil {
			return nil, newStepError(step.ID, fmt.Sprintf("steps[%d] is invalid", i), err)
		}
		if child.ID == "" {
			child.ID = fmt.Sprintf("%s_%d", step.ID, i)
		}
		children = append(children, child)
	}

	outputs, err := e.runNestedParallel(ctx, ectx, children)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// runLoopStep iterates a resolved item list, running the nested step
// once per element in a derived child context.
func (e *Executor) runLoopStep(ctx context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	var items []any
	switch v := config["items"].(type) {
	case []any:
		items = v
	case nil:
		return nil, newStepError(step.ID, "loop items are missing", nil)
	default:
		return nil, newStepError(step.ID, fmt.Sprintf("loop items must resolve to an array, got %T", v), nil)
	}

	bodyRaw, ok := config["step"].(map[string]any)
	if !ok {
		return nil, newStepError(step.ID, "loop step definition is missing", nil)
	}
	body, err := StepFromMap(bodyRaw)
	if err != nil {
		return nil, newStepError(step.ID, "loop step definition is invalid", err)
	}
	if body.ID == "" {
		body.ID = step.ID + "_body"
	}

	if n, ok := asInt(config["max_iterations"]); ok && n > 0 && n < len(items) {
		items = items[:n]
	}

	outputs, err := e.runNestedLoop(ctx, ectx, items, body)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// runAggregatorStep folds source step outputs together. Sources
// default to the step's dependencies; skipped sources contribute
// nothing.
func (e *Executor) runAggregatorStep(_ context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	var sources []string
	if raw, ok := config["sources"].([]any); ok {
		for _, s := range raw {
			if id, ok := s.(string); ok {
				sources = append(sources, id)
			}
		}
	} else {
		sources = step.Dependencies
	}

	mode, _ := configString(config, "mode")
	if mode == "" {
		mode = "collect"
	}

	switch mode {
	case "collect":
		out := make(map[string]any, len(sources))
		for _, id := range sources {
			if v, ok := ectx.Output(id); ok {
				out[id] = v
			}
		}
		return out, nil

	case "concat":
		sep, ok := configString(config, "separator")
		if !ok {
			sep = "\n"
		}
		parts := make([]string, 0, len(sources))
		for _, id := range sources {
			if v, ok := ectx.Output(id); ok {
				parts = append(parts, stringifyValue(v))
			}
		}
		return strings.Join(parts, sep), nil

	case "merge":
		out := make(map[string]any)
		for _, id := range sources {
			v, ok := ectx.Output(id)
			if !ok {
				continue
			}
			m, ok := v.(map[string]any)
			if !ok {
				return nil, newStepError(step.ID, fmt.Sprintf("merge source %q output is not an object", id), nil)
			}
			for k, val := range m {
				out[k] = val
			}
		}
		return out, nil
	}

	return nil, newStepError(step.ID, fmt.Sprintf("unknown aggregator mode %q", mode), nil)
}

// runToolCallStep delegates to the configured tool executor.
func (e *Executor) runToolCallStep(ctx context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	if e.tools == nil {
		return nil, newStepError(step.ID, "no tool executor configured", nil)
	}

	name, _ := configString(config, "tool_name")
	args, _ := config["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	result, err := e.tools.Execute(ctx, name, args)
	if err != nil {
		return nil, newStepError(step.ID, fmt.Sprintf("tool %q failed", name), err)
	}
	if e.collector != nil {
		_ = e.collector.Update(ectx.WorkflowID, metrics.Update{AddToolCalls: 1})
	}
	if !result.Success {
		return nil, newStepError(step.ID, fmt.Sprintf("tool %q failed: %s", name, result.Error), nil)
	}
	return result.Data, nil
}

// runOutputStep projects scope values into the final result data.
// Config "fields" names variables or paths ("steps.classify.output");
// without it the step projects all variables.
func (e *Executor) runOutputStep(_ context.Context, ectx *Context, step *Step, config map[string]any) (any, error) {
	scope := ectx.scope()

	if raw, ok := config["fields"].([]any); ok {
		out := make(map[string]any, len(raw))
		for _, f := range raw {
			name, ok := f.(string)
			if !ok {
				continue
			}
			v, found := lookupPath(name, scope)
			if !found {
				return nil, newStepError(step.ID, fmt.Sprintf("output field %q is not defined", name), nil)
			}
			out[name] = v
		}
		return out, nil
	}
	return ectx.Variables(), nil
}

// runNestedStep executes a child step owned by a composite handler.
// Child steps honor gating conditions and retries but skip snapshots
// and definition status bookkeeping.
func (e *Executor) runNestedStep(ctx context.Context, ectx *Context, step *Step) (any, error) {
	if step.Condition != "" {
		pass, err := EvalCondition(step.Condition, ectx.scope())
		if err != nil {
			return nil, newConditionError(step.ID, "condition evaluation failed", err)
		}
		if !pass {
			return nil, nil
		}
	}

	out, err := e.runStepOnce(ctx, ectx, step)
	if err != nil {
		return nil, err
	}
	if step.ID != "" {
		ectx.setOutput(step.ID, out)
	}
	return out, nil
}

// runNestedParallel fans child steps out through an errgroup bounded
// by maxParallel, reassembling outputs in declared order.
func (e *Executor) runNestedParallel(ctx context.Context, ectx *Context, steps []*Step) ([]any, error) {
	outputs := make([]any, len(steps))
	g, gctx := errgroup.WithContext(ctx)
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}

	for i, child := range steps {
		g.Go(func() error {
			out, err := e.runNestedStep(gctx, ectx, child)
			if err != nil {
				return fmt.Errorf("step %q: %w", child.ID, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// runNestedLoop runs body once per item, each iteration in a Child()
// context carrying loop_item and loop_index.
func (e *Executor) runNestedLoop(ctx context.Context, ectx *Context, items []any, body *Step) ([]any, error) {
	outputs := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child := ectx.Child()
		child.Set("loop_item", item)
		child.Set("loop_index", i)

		out, err := e.runNestedStep(ctx, child, body)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// ConditionalStep routes between two child steps on a compiled
// condition. The executor's condition handler and this wrapper share
// the same evaluation semantics.
type ConditionalStep struct {
	Condition *Condition
	Then      *Step
	Else      *Step
}

// Run evaluates the condition against the run context and executes the
// matching branch. A missing branch yields a nil output.
func (s *ConditionalStep) Run(ctx context.Context, e *Executor, ectx *Context) (any, error) {
	if s.Condition == nil {
		return nil, fmt.Errorf("conditional step requires a condition")
	}
	pass, err := s.Condition.Eval(ectx.scope())
	if err != nil {
		return nil, err
	}
	branch := s.Then
	if !pass {
		branch = s.Else
	}
	if branch == nil {
		return nil, nil
	}
	return e.runNestedStep(ctx, ectx, branch)
}

// ParallelStep fans child steps out concurrently and returns their
// outputs in declared order.
type ParallelStep struct {
	Steps []*Step
}

func (s *ParallelStep) Run(ctx context.Context, e *Executor, ectx *Context) ([]any, error) {
	return e.runNestedParallel(ctx, ectx, s.Steps)
}

// LoopStep iterates a fixed item list over a body step, one derived
// child context per iteration.
type LoopStep struct {
	Items         []any
	Body          *Step
	MaxIterations int
}

func (s *LoopStep) Run(ctx context.Context, e *Executor, ectx *Context) ([]any, error) {
	if s.Body == nil {
		return nil, fmt.Errorf("loop step requires a body")
	}
	items := s.Items
	if s.MaxIterations > 0 && s.MaxIterations < len(items) {
		items = items[:s.MaxIterations]
	}
	return e.runNestedLoop(ctx, ectx, items, s.Body)
}
