package composite

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatter-ai/chatterflow/pkg/templates"
	"github.com/chatter-ai/chatterflow/pkg/workflow"
)

// defaultModel is used when a parameter config names no model.
const defaultModel = "gpt-4o"

// Step ids of the definitions this package builds from parameter
// configs.
const (
	stepGenerate = "generate"
	stepDeliver  = "deliver"
)

// Runner executes one sub-workflow against an input and returns its
// result data. The manager is strategy logic only; what a sub-workflow
// run actually means belongs to the runner.
type Runner interface {
	Run(ctx context.Context, sub SubWorkflow, input map[string]any) (map[string]any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sub SubWorkflow, input map[string]any) (map[string]any, error)

func (f RunnerFunc) Run(ctx context.Context, sub SubWorkflow, input map[string]any) (map[string]any, error) {
	return f(ctx, sub, input)
}

// ExecutorRunner runs sub-workflows through the workflow executor.
// When the sub-workflow type names a registered template, the
// template's defaults are merged under the descriptor's params before
// the definition is built.
type ExecutorRunner struct {
	executor  *workflow.Executor
	templates *templates.Manager
}

// NewExecutorRunner wires a runner to an executor. The template
// manager may be nil, in which case params are used as given.
func NewExecutorRunner(executor *workflow.Executor, tm *templates.Manager) *ExecutorRunner {
	return &ExecutorRunner{executor: executor, templates: tm}
}

// Run builds a definition from the sub-workflow's parameter config and
// executes it. The run failing is returned as an error so the caller's
// SubResult records it; the distinction between config and runtime
// failure is the manager's concern, not the runner's.
func (r *ExecutorRunner) Run(ctx context.Context, sub SubWorkflow, input map[string]any) (map[string]any, error) {
	params := sub.Params
	if r.templates != nil {
		merged, err := r.templates.CreateWorkflowFromTemplate(sub.Type, sub.Params)
		switch {
		case err == nil:
			params = merged
		case errors.Is(err, templates.ErrTemplateNotFound):
			// Not a template type; the raw params stand.
		default:
			return nil, err
		}
	}

	def := buildDefinition(sub.ID, workflowTypeOf(sub.Type, params), params)
	result, err := r.executor.Execute(ctx, def, input)
	if err != nil {
		return nil, err
	}
	if result.Failed() {
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("sub-workflow %q: %s", sub.ID, result.Errors[0].Message)
		}
		return nil, fmt.Errorf("sub-workflow %q failed", sub.ID)
	}

	if out, ok := result.Data[stepDeliver].(map[string]any); ok {
		return out, nil
	}
	return result.Data, nil
}

// buildDefinition turns a parameter config into a minimal runnable
// definition: one llm_call step plus an output step projecting its
// answer. The default prompt references the input's "message" field,
// the shape conversational parameter configs carry.
func buildDefinition(id, workflowType string, params map[string]any) *workflow.Definition {
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		prompt = "${message}"
	}
	model, _ := params["model"].(string)
	if model == "" {
		model = defaultModel
	}

	config := map[string]any{
		"model":      model,
		"prompt":     prompt,
		"output_var": "answer",
	}
	if v, ok := params["system_prompt"]; ok {
		config["system"] = v
	}
	if v, ok := params["temperature"]; ok {
		config["temperature"] = v
	}
	if v, ok := params["max_tokens"]; ok {
		config["max_tokens"] = v
	}

	return &workflow.Definition{
		ID:   fmt.Sprintf("%s-%s", id, uuid.New().String()[:8]),
		Name: id,
		Steps: []*workflow.Step{
			{
				ID:     stepGenerate,
				Name:   "Generate",
				Type:   workflow.StepTypeLLMCall,
				Config: config,
			},
			{
				ID:           stepDeliver,
				Name:         "Deliver",
				Type:         workflow.StepTypeOutput,
				Config:       map[string]any{"fields": []any{"answer"}},
				Dependencies: []string{stepGenerate},
			},
		},
		Metadata: map[string]string{"workflow_type": workflowType},
	}
}
