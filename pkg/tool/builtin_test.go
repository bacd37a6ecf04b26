package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltins(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry))
	assert.Equal(t, []string{"calculator", "clock", "echo"}, registry.Names())
}

func TestClockTool(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	clock := &ClockTool{now: func() time.Time { return fixed }}

	result, err := clock.Execute(context.Background(), map[string]any{
		"timezone": "UTC",
		"format":   "2006-01-02",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-03-14", data["time"])
	assert.Equal(t, "Friday", data["weekday"])
	assert.Equal(t, fixed.Unix(), data["unix"])
}

func TestClockToolRejectsBadTimezone(t *testing.T) {
	result, err := NewClockTool().Execute(context.Background(), map[string]any{
		"timezone": "Mars/Olympus_Mons",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid timezone")
}

func TestEchoTool(t *testing.T) {
	echo := NewEchoTool()

	require.Error(t, echo.Validate(map[string]any{}))
	require.NoError(t, echo.Validate(map[string]any{"text": "hello"}))

	result, err := echo.Execute(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.True(t, result.Success)
	data := result.Data.(map[string]any)
	assert.Equal(t, "hello", data["text"])
}

func TestCalculatorTool(t *testing.T) {
	calc := NewCalculatorTool()

	tests := []struct {
		name        string
		args        map[string]any
		wantSuccess bool
		wantResult  float64
		wantErrMsg  string
	}{
		{
			name:        "add",
			args:        map[string]any{"operation": "add", "a": 2, "b": 3},
			wantSuccess: true,
			wantResult:  5,
		},
		{
			name:        "subtract",
			args:        map[string]any{"operation": "subtract", "a": 10.5, "b": 0.5},
			wantSuccess: true,
			wantResult:  10,
		},
		{
			name:        "multiply",
			args:        map[string]any{"operation": "multiply", "a": 4, "b": 2.5},
			wantSuccess: true,
			wantResult:  10,
		},
		{
			name:        "divide",
			args:        map[string]any{"operation": "divide", "a": 9, "b": 3},
			wantSuccess: true,
			wantResult:  3,
		},
		{
			name:       "divide by zero",
			args:       map[string]any{"operation": "divide", "a": 1, "b": 0},
			wantErrMsg: "division by zero",
		},
		{
			name:       "non numeric operand",
			args:       map[string]any{"operation": "add", "a": "two", "b": 3},
			wantErrMsg: "operands must be numbers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := calc.Execute(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, result.Success)
			if tt.wantSuccess {
				data := result.Data.(map[string]any)
				assert.InDelta(t, tt.wantResult, data["result"], 1e-9)
			} else {
				assert.Contains(t, result.Error, tt.wantErrMsg)
			}
		})
	}
}

func TestCalculatorValidateRejectsUnknownOperation(t *testing.T) {
	err := NewCalculatorTool().Validate(map[string]any{
		"operation": "modulo",
		"a":         1,
		"b":         2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not one of the allowed values")
}
