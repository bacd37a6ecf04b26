// Package workflow implements the validation and execution core for
// chatterflow: typed step definitions, a rule-based validator, a
// restricted condition grammar, and a state-machine executor that
// handles dependencies, parallel groups, loops, retries, timeouts and
// state snapshots. LLM and tool work is delegated to the llm and tool
// packages; persistence of results is the caller's concern.
package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chatter-ai/chatterflow/pkg/metrics"
)

// StepType is the closed set of step kinds the executor dispatches on.
type StepType string

const (
	StepTypeInput      StepType = "input"
	StepTypeLLMCall    StepType = "llm_call"
	StepTypeCondition  StepType = "condition"
	StepTypeParallel   StepType = "parallel"
	StepTypeLoop       StepType = "loop"
	StepTypeAggregator StepType = "aggregator"
	StepTypeToolCall   StepType = "tool_call"
	StepTypeOutput     StepType = "output"
)

// StepTypes lists every valid step type in a stable order.
var StepTypes = []StepType{
	StepTypeInput,
	StepTypeLLMCall,
	StepTypeCondition,
	StepTypeParallel,
	StepTypeLoop,
	StepTypeAggregator,
	StepTypeToolCall,
	StepTypeOutput,
}

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StepStatus tracks one step through its lifecycle. Only the executor
// moves a step between statuses.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Status is the workflow-level run status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// RetryConfig bounds retry attempts for a step. Each retry is a fresh
// attempt; backoff grows by BackoffFactor between attempts.
type RetryConfig struct {
	MaxRetries    int     `json:"max_retries" yaml:"max_retries"`
	BackoffFactor float64 `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
}

// Step is one unit of work in a workflow definition.
type Step struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Type          StepType       `json:"type" yaml:"type"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Status        StepStatus     `json:"status,omitempty" yaml:"status,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ParallelGroup string         `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty"`
	Retry         *RetryConfig   `json:"retry_config,omitempty" yaml:"retry_config,omitempty"`
	// Condition gates whether the step runs at all. Distinct from a
	// condition-type step, which records a boolean output for
	// downstream steps to reference.
	Condition   string     `json:"condition,omitempty" yaml:"condition,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// PermissionSpec declares what a caller needs to run the workflow.
type PermissionSpec struct {
	RequiredRole string   `json:"required_role,omitempty" yaml:"required_role,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// DependencySpec declares the external services a workflow needs.
// Optional services are informational and never validated.
type DependencySpec struct {
	RequiredServices []string `json:"required_services,omitempty" yaml:"required_services,omitempty"`
	OptionalServices []string `json:"optional_services,omitempty" yaml:"optional_services,omitempty"`
}

// Definition is a complete workflow: ordered steps plus run-level
// configuration.
type Definition struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Steps        []*Step           `json:"steps" yaml:"steps"`
	Variables    map[string]any    `json:"variables,omitempty" yaml:"variables,omitempty"`
	Timeout      Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Permissions  *PermissionSpec   `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Dependencies *DependencySpec   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Step returns the step with the given id, or nil.
func (d *Definition) Step(id string) *Step {
	for _, s := range d.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// WorkflowType returns the definition's declared type tag, falling
// back to the id. Used to label metrics runs.
func (d *Definition) WorkflowType() string {
	if t, ok := d.Metadata["workflow_type"]; ok && t != "" {
		return t
	}
	return d.ID
}

// Duration marshals as a Go duration string ("90s", "5m"). Bare
// numbers in JSON or YAML are read as seconds.
type Duration time.Duration

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(raw any) (Duration, error) {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(parsed), nil
	case float64:
		return Duration(time.Duration(v * float64(time.Second))), nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	case int64:
		return Duration(time.Duration(v) * time.Second), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid duration value %v", raw)
	}
}

// Context carries the mutable state of one workflow run. It is owned
// by exactly one Execute invocation; the mutex covers variable and
// output writes from parallel step groups within that run.
type Context struct {
	WorkflowID  string
	Data        map[string]any
	StartedAt   time.Time
	CompletedAt *time.Time

	mu        sync.RWMutex
	variables map[string]any
	outputs   map[string]any
}

// NewContext creates a run context with a generated workflow id.
func NewContext(data map[string]any) *Context {
	if data == nil {
		data = make(map[string]any)
	}
	return &Context{
		WorkflowID: uuid.New().String(),
		Data:       data,
		StartedAt:  time.Now(),
		variables:  make(map[string]any),
		outputs:    make(map[string]any),
	}
}

// Child derives a loop-iteration context: same workflow id and data,
// copied variables so iterations never share mutable state.
func (c *Context) Child() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	child := &Context{
		WorkflowID: c.WorkflowID,
		Data:       c.Data,
		StartedAt:  c.StartedAt,
		variables:  make(map[string]any, len(c.variables)),
		outputs:    make(map[string]any, len(c.outputs)),
	}
	for k, v := range c.variables {
		child.variables[k] = v
	}
	for k, v := range c.outputs {
		child.outputs[k] = v
	}
	return child
}

// Get reads a variable.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// Set writes a variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// SetAll writes a batch of variables.
func (c *Context) SetAll(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.variables[k] = v
	}
}

// Variables returns a copy of the variable map.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// Output returns a step's recorded output.
func (c *Context) Output(stepID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[stepID]
	return v, ok
}

func (c *Context) setOutput(stepID string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = output
}

// Outputs returns a copy of all recorded step outputs.
func (c *Context) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// scope builds the lookup map conditions and ${var} references resolve
// against: bare names hit variables then data; the reserved roots
// "variables", "data" and "steps.<id>.output" address each store
// explicitly.
func (c *Context) scope() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps := make(map[string]any, len(c.outputs))
	for id, out := range c.outputs {
		steps[id] = map[string]any{"output": out}
	}
	variables := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		variables[k] = v
	}

	scope := make(map[string]any, len(variables)+len(c.Data)+3)
	for k, v := range c.Data {
		scope[k] = v
	}
	for k, v := range variables {
		scope[k] = v
	}
	scope["variables"] = variables
	scope["data"] = c.Data
	scope["steps"] = steps
	return scope
}

// ErrorRecord is one entry in a result's error list.
type ErrorRecord struct {
	StepID  string    `json:"step_id,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Result is the outcome of one workflow run. Status completed implies
// an empty Errors list; any recorded error forces failed.
type Result struct {
	WorkflowID  string           `json:"workflow_id"`
	Status      Status           `json:"status"`
	Data        map[string]any   `json:"data"`
	Errors      []ErrorRecord    `json:"errors,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Metrics     *metrics.Metrics `json:"metrics,omitempty"`
}

// Failed reports whether the run ended with errors.
func (r *Result) Failed() bool { return r.Status == StatusFailed }

// addError appends an error record and forces failed status.
func (r *Result) addError(stepID, message string, at time.Time) {
	r.Errors = append(r.Errors, ErrorRecord{StepID: stepID, Message: message, Time: at})
	r.Status = StatusFailed
}
