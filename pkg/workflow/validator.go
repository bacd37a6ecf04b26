package workflow

import (
	"fmt"
	"strings"

	"github.com/chatter-ai/chatterflow/pkg/validation"
)

// UserPermissions describes what the calling user is allowed to do.
// Workflows declare what they need; the validator checks the two
// against each other before execution.
type UserPermissions struct {
	Role  string   `json:"role"`
	Tools []string `json:"tools,omitempty"`
}

// roleRank orders the built-in roles for hierarchy checks. A higher
// rank satisfies any lower requirement.
var roleRank = map[string]int{
	"viewer": 1,
	"editor": 2,
	"admin":  3,
}

// StepValidator checks individual steps. All checks accumulate into a
// single result so callers see every problem at once.
type StepValidator struct {
	params *validation.ParameterValidator
}

// NewStepValidator builds a validator with the default parameter
// policy.
func NewStepValidator() *StepValidator {
	return NewStepValidatorWithPolicy(validation.DefaultPolicy())
}

// NewStepValidatorWithPolicy builds a validator with custom parameter
// bounds, e.g. a wider temperature range.
func NewStepValidatorWithPolicy(policy validation.Policy) *StepValidator {
	return &StepValidator{params: validation.NewParameterValidator(policy)}
}

// ValidateStep checks structural fields plus the type-specific config.
func (v *StepValidator) ValidateStep(step *Step) validation.ValidationResult {
	result := validation.OK()
	if step == nil {
		result.AddError("step is nil")
		return result
	}

	if step.ID == "" {
		result.AddError("step id is required")
	}
	if step.Name == "" {
		result.AddError("step name is required")
	}

	if !step.Type.Valid() {
		result.AddErrorf("unknown step type %q, must be one of: %s", string(step.Type), joinStepTypes())
		return result
	}

	if step.Condition != "" {
		if _, err := CompileCondition(step.Condition); err != nil {
			result.AddErrorf("condition: %v", err)
		}
	}

	if step.Retry != nil {
		if step.Retry.MaxRetries < 0 {
			result.AddErrorf("retry_config: max_retries cannot be negative, got %d", step.Retry.MaxRetries)
		}
		if step.Retry.BackoffFactor != 0 && step.Retry.BackoffFactor < 1.0 {
			result.AddErrorf("retry_config: backoff_factor must be at least 1.0, got %v", step.Retry.BackoffFactor)
		}
	}

	switch step.Type {
	case StepTypeLLMCall:
		result.Merge(v.ValidateLLMCallStep(step.Config))
	case StepTypeCondition:
		result.Merge(v.ValidateConditionStep(step.Config))
	case StepTypeToolCall:
		result.Merge(v.ValidateToolCallStep(step.Config))
	case StepTypeLoop:
		result.Merge(v.ValidateLoopStep(step.Config))
	case StepTypeParallel:
		result.Merge(v.ValidateParallelStep(step.Config))
	case StepTypeAggregator:
		result.Merge(v.validateAggregatorStep(step.Config))
	case StepTypeInput:
		result.Merge(v.validateInputStep(step.Config))
	}

	return result
}

// ValidateLLMCallStep requires a model and a prompt source, and bounds
// the generation parameters.
func (v *StepValidator) ValidateLLMCallStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	model, ok := configString(config, "model")
	if !ok || model == "" {
		result.AddError("llm_call requires a model")
	} else if !strings.Contains(model, "${") {
		result.Merge(v.params.ValidateModelName(model))
	}

	prompt, hasPrompt := configString(config, "prompt")
	_, hasMessages := config["messages"]
	if (!hasPrompt || prompt == "") && !hasMessages {
		result.AddError("llm_call requires a prompt or messages")
	}

	if raw, ok := config["temperature"]; ok {
		if temp, ok := asNumber(raw); ok {
			result.Merge(v.params.ValidateTemperature(temp))
		} else if s, isStr := raw.(string); !isStr || !strings.Contains(s, "${") {
			result.AddErrorf("temperature must be a number, got %T", raw)
		}
	}

	if raw, ok := config["max_tokens"]; ok {
		if tokens, ok := asInt(raw); ok {
			result.Merge(v.params.ValidateMaxTokens(tokens))
		} else if s, isStr := raw.(string); !isStr || !strings.Contains(s, "${") {
			result.AddErrorf("max_tokens must be an integer, got %v", raw)
		}
	}

	return result
}

// ValidateConditionStep requires a parseable condition expression.
func (v *StepValidator) ValidateConditionStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	expr, ok := configString(config, "condition")
	if !ok || expr == "" {
		result.AddError("condition step requires a condition expression")
		return result
	}
	if _, err := CompileCondition(expr); err != nil {
		result.AddErrorf("condition: %v", err)
	}
	return result
}

// ValidateToolCallStep requires the tool name; arguments are checked
// at execution time against the tool's schema.
func (v *StepValidator) ValidateToolCallStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	name, ok := configString(config, "tool_name")
	if !ok || name == "" {
		result.AddError("tool_call requires a tool_name")
	}
	if raw, ok := config["arguments"]; ok {
		if _, isMap := raw.(map[string]any); !isMap {
			result.AddErrorf("tool_call arguments must be an object, got %T", raw)
		}
	}
	return result
}

// ValidateLoopStep requires an items source and a body step.
func (v *StepValidator) ValidateLoopStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	items, hasItems := config["items"]
	if !hasItems {
		result.AddError("loop requires items")
	} else {
		switch items.(type) {
		case []any, string:
		default:
			result.AddErrorf("loop items must be an array or a variable reference, got %T", items)
		}
	}

	body, hasBody := config["step"]
	if !hasBody {
		result.AddError("loop requires a step to execute per item")
	} else if _, isMap := body.(map[string]any); !isMap {
		result.AddErrorf("loop step must be an object, got %T", body)
	}

	if raw, ok := config["max_iterations"]; ok {
		if n, ok := asInt(raw); !ok || n <= 0 {
			result.AddErrorf("loop max_iterations must be a positive integer, got %v", raw)
		}
	}

	return result
}

// ValidateParallelStep requires a non-empty steps array.
func (v *StepValidator) ValidateParallelStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	raw, ok := config["steps"]
	if !ok {
		result.AddError("parallel requires steps")
		return result
	}
	steps, isList := raw.([]any)
	if !isList {
		result.AddErrorf("parallel steps must be an array, got %T", raw)
		return result
	}
	if len(steps) == 0 {
		result.AddError("parallel requires at least one step")
	}
	for i, item := range steps {
		if _, isMap := item.(map[string]any); !isMap {
			result.AddErrorf("parallel steps[%d] must be an object, got %T", i, item)
		}
	}
	return result
}

func (v *StepValidator) validateAggregatorStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	if mode, ok := configString(config, "mode"); ok {
		switch mode {
		case "collect", "concat", "merge":
		default:
			result.AddErrorf("aggregator mode %q must be one of: collect, concat, merge", mode)
		}
	}
	if raw, ok := config["sources"]; ok {
		if _, isList := raw.([]any); !isList {
			result.AddErrorf("aggregator sources must be an array, got %T", raw)
		}
	}
	return result
}

func (v *StepValidator) validateInputStep(config map[string]any) validation.ValidationResult {
	result := validation.OK()

	if raw, ok := config["required"]; ok {
		fields, isList := raw.([]any)
		if !isList {
			result.AddErrorf("input required must be an array of field names, got %T", raw)
			return result
		}
		for i, f := range fields {
			if _, isStr := f.(string); !isStr {
				result.AddErrorf("input required[%d] must be a string, got %T", i, f)
			}
		}
	}
	return result
}

// WorkflowValidator checks whole definitions: structure, references,
// acyclicity, and every step.
type WorkflowValidator struct {
	steps *StepValidator
}

func NewWorkflowValidator() *WorkflowValidator {
	return &WorkflowValidator{steps: NewStepValidator()}
}

// NewWorkflowValidatorWithPolicy applies a custom parameter policy to
// the embedded step validator.
func NewWorkflowValidatorWithPolicy(policy validation.Policy) *WorkflowValidator {
	return &WorkflowValidator{steps: NewStepValidatorWithPolicy(policy)}
}

// ValidateConfig checks a workflow definition end to end. Execution
// must not begin while this reports problems.
func (v *WorkflowValidator) ValidateConfig(def *Definition) validation.ValidationResult {
	result := validation.OK()
	if def == nil {
		result.AddError("workflow definition is nil")
		return result
	}

	if def.ID == "" {
		result.AddError("workflow id is required")
	}
	if def.Name == "" {
		result.AddError("workflow name is required")
	}
	if len(def.Steps) == 0 {
		result.AddError("workflow must have at least one step")
		return result
	}
	if def.Timeout < 0 {
		result.AddErrorf("workflow timeout cannot be negative, got %s", def.Timeout.Std())
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step == nil {
			result.AddError("workflow contains a nil step")
			continue
		}
		if step.ID != "" && seen[step.ID] {
			result.AddErrorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
	}

	for _, step := range def.Steps {
		if step == nil {
			continue
		}
		for _, dep := range step.Dependencies {
			if !seen[dep] {
				result.AddErrorf("step %q has invalid dependency %q", step.ID, dep)
			}
			if dep == step.ID {
				result.AddErrorf("step %q cannot depend on itself", step.ID)
			}
		}
	}

	// Only look for cycles once references resolve, so one bad id does
	// not also report as a cycle.
	if result.Valid {
		if path, found := detectCycle(def.Steps); found {
			result.AddErrorf("circular dependency detected: %s", path)
		}
	}

	for i, step := range def.Steps {
		if step == nil {
			continue
		}
		label := fmt.Sprintf("step %q", step.ID)
		if step.ID == "" {
			label = fmt.Sprintf("step[%d]", i)
		}
		result.MergePrefixed(label, v.steps.ValidateStep(step))
	}

	return result
}

// ValidatePermissions checks the definition's declared requirements
// against what the user holds.
func (v *WorkflowValidator) ValidatePermissions(def *Definition, user UserPermissions) validation.ValidationResult {
	result := validation.OK()
	if def == nil || def.Permissions == nil {
		return result
	}

	perms := def.Permissions
	if perms.RequiredRole != "" {
		need, knownNeed := roleRank[perms.RequiredRole]
		have, knownHave := roleRank[user.Role]
		switch {
		case !knownNeed:
			result.AddErrorf("workflow requires unknown role %q", perms.RequiredRole)
		case !knownHave:
			result.AddErrorf("user role %q is not recognized", user.Role)
		case have < need:
			result.AddErrorf("role %q does not satisfy required role %q", user.Role, perms.RequiredRole)
		}
	}

	if len(perms.AllowedTools) > 0 {
		granted := make(map[string]bool, len(user.Tools))
		for _, t := range user.Tools {
			granted[t] = true
		}
		for _, t := range perms.AllowedTools {
			if !granted[t] {
				result.AddErrorf("tool %q is not permitted for this user", t)
			}
		}
	}

	return result
}

// ValidateDependencies checks that every required external service is
// present in the available set. Optional services never fail
// validation.
func (v *WorkflowValidator) ValidateDependencies(def *Definition, available []string) validation.ValidationResult {
	result := validation.OK()
	if def == nil || def.Dependencies == nil {
		return result
	}

	present := make(map[string]bool, len(available))
	for _, s := range available {
		present[s] = true
	}
	for _, s := range def.Dependencies.RequiredServices {
		if !present[s] {
			result.AddErrorf("required service %q is not available", s)
		}
	}
	return result
}

// --- config helpers ---

func configString(config map[string]any, key string) (string, bool) {
	raw, ok := config[key]
	if !ok {
		return "", false
	}
	s, isStr := raw.(string)
	return s, isStr
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case float32:
		if float64(n) == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func joinStepTypes() string {
	names := make([]string, len(StepTypes))
	for i, t := range StepTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
