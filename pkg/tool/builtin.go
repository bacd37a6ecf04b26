package tool

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chatter-ai/chatterflow/pkg/validation"
)

// validateBySchema checks args against a tool's declared schema. All
// builtins share it as their Validate implementation.
func validateBySchema(params Parameters, args map[string]any) error {
	return validation.ValidateJSONSchema(args, params.Schema()).Err()
}

// RegisterBuiltins adds the builtin tools to a registry.
func RegisterBuiltins(registry *Registry) error {
	for _, t := range []Tool{NewClockTool(), NewEchoTool(), NewCalculatorTool()} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// ClockTool reports the current time.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool creates a clock tool using the system clock.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Description() string {
	return "Get the current date and time, optionally in a specific timezone"
}

func (t *ClockTool) Parameters() Parameters {
	return Parameters{
		Type: "object",
		Properties: map[string]Parameter{
			"timezone": {
				Type:        "string",
				Description: "Timezone name (e.g. 'UTC', 'America/New_York'); defaults to local time",
			},
			"format": {
				Type:        "string",
				Description: "Go time layout for the result; defaults to RFC3339",
			},
		},
	}
}

func (t *ClockTool) Validate(args map[string]any) error {
	return validateBySchema(t.Parameters(), args)
}

func (t *ClockTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	now := t.now()

	if tz, ok := args["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("invalid timezone %q", tz)}, nil
		}
		now = now.In(loc)
	}

	layout := time.RFC3339
	if f, ok := args["format"].(string); ok && f != "" {
		layout = f
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"time":     now.Format(layout),
			"unix":     now.Unix(),
			"weekday":  now.Weekday().String(),
			"timezone": now.Location().String(),
		},
	}, nil
}

// EchoTool returns its input, useful for wiring tests and examples.
type EchoTool struct{}

// NewEchoTool creates an echo tool.
func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string { return "echo" }

func (t *EchoTool) Description() string {
	return "Echo the provided text back unchanged"
}

func (t *EchoTool) Parameters() Parameters {
	return Parameters{
		Type: "object",
		Properties: map[string]Parameter{
			"text": {
				Type:        "string",
				Description: "Text to echo back",
			},
		},
		Required: []string{"text"},
	}
}

func (t *EchoTool) Validate(args map[string]any) error {
	return validateBySchema(t.Parameters(), args)
}

func (t *EchoTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	text, _ := args["text"].(string)
	return &Result{
		Success: true,
		Data:    map[string]any{"text": text},
	}, nil
}

// CalculatorTool performs arithmetic on two operands.
type CalculatorTool struct{}

// NewCalculatorTool creates a calculator tool.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Description() string {
	return "Perform basic arithmetic: add, subtract, multiply, divide two numbers"
}

func (t *CalculatorTool) Parameters() Parameters {
	return Parameters{
		Type: "object",
		Properties: map[string]Parameter{
			"operation": {
				Type:        "string",
				Description: "The arithmetic operation to perform",
				Enum:        []string{"add", "subtract", "multiply", "divide"},
			},
			"a": {
				Type:        "number",
				Description: "First operand",
			},
			"b": {
				Type:        "number",
				Description: "Second operand",
			},
		},
		Required: []string{"operation", "a", "b"},
	}
}

func (t *CalculatorTool) Validate(args map[string]any) error {
	return validateBySchema(t.Parameters(), args)
}

func (t *CalculatorTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	operation, _ := args["operation"].(string)
	a, aOK := toFloat(args["a"])
	b, bOK := toFloat(args["b"])
	if !aOK || !bOK {
		return &Result{Success: false, Error: "operands must be numbers"}, nil
	}

	var value float64
	switch operation {
	case "add":
		value = a + b
	case "subtract":
		value = a - b
	case "multiply":
		value = a * b
	case "divide":
		if b == 0 {
			return &Result{Success: false, Error: "division by zero"}, nil
		}
		value = a / b
	default:
		return &Result{Success: false, Error: fmt.Sprintf("unknown operation %q", operation)}, nil
	}

	if math.IsInf(value, 0) || math.IsNaN(value) {
		return &Result{Success: false, Error: "result is not a finite number"}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]any{"result": value},
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
