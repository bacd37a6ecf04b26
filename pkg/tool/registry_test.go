package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a configurable test tool.
type fakeTool struct {
	name        string
	params      Parameters
	validateErr error
	executeFn   func(ctx context.Context, args map[string]any) (*Result, error)
	calls       int
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake tool for tests" }
func (f *fakeTool) Parameters() Parameters { return f.params }

func (f *fakeTool) Validate(args map[string]any) error { return f.validateErr }

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	f.calls++
	if f.executeFn != nil {
		return f.executeFn(ctx, args)
	}
	return &Result{Success: true, Data: "ok"}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&fakeTool{name: "alpha"})
	require.NoError(t, err)

	got, exists := registry.Get("alpha")
	require.True(t, exists)
	assert.Equal(t, "alpha", got.Name())
	assert.Equal(t, 1, registry.Count())
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&fakeTool{name: "alpha"}))

	err := registry.Register(&fakeTool{name: "alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsInvalidTools(t *testing.T) {
	tests := []struct {
		name   string
		tool   Tool
		errMsg string
	}{
		{
			name:   "nil tool",
			tool:   nil,
			errMsg: "cannot be nil",
		},
		{
			name:   "empty name",
			tool:   &fakeTool{name: ""},
			errMsg: "name cannot be empty",
		},
		{
			name: "required not in properties",
			tool: &fakeTool{
				name: "broken",
				params: Parameters{
					Type:     "object",
					Required: []string{"missing"},
				},
			},
			errMsg: `required parameter "missing" not found`,
		},
		{
			name: "bad parameter type",
			tool: &fakeTool{
				name: "broken",
				params: Parameters{
					Type: "object",
					Properties: map[string]Parameter{
						"x": {Type: "decimal", Description: "bad"},
					},
				},
			},
			errMsg: `invalid type "decimal"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.tool)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&fakeTool{name: "alpha"}))

	require.NoError(t, registry.Unregister("alpha"))
	_, exists := registry.Get("alpha")
	assert.False(t, exists)

	err := registry.Unregister("alpha")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryListSortedWithSources(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFrom(&fakeTool{name: "zulu"}, "mcp:files"))
	require.NoError(t, registry.Register(&fakeTool{name: "alpha"}))

	infos := registry.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "builtin", infos[0].Source)
	assert.Equal(t, "zulu", infos[1].Name)
	assert.Equal(t, "mcp:files", infos[1].Source)

	assert.Equal(t, []string{"alpha", "zulu"}, registry.Names())
}

func TestParametersSchema(t *testing.T) {
	params := Parameters{
		Type: "object",
		Properties: map[string]Parameter{
			"operation": {
				Type:        "string",
				Description: "what to do",
				Enum:        []string{"add", "subtract"},
			},
			"a": {Type: "number", Description: "first operand"},
		},
		Required: []string{"operation", "a"},
	}

	schema := params.Schema()
	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	op, ok := properties["operation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", op["type"])
	assert.Equal(t, []any{"add", "subtract"}, op["enum"])

	assert.Equal(t, []any{"operation", "a"}, schema["required"])
}
