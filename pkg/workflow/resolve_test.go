package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfig(t *testing.T) {
	scope := map[string]any{
		"name":  "Ada",
		"count": float64(3),
		"flag":  true,
		"steps": map[string]any{
			"classify": map[string]any{"output": "question"},
		},
		"items": []any{"first", "second"},
		"user":  map[string]any{"id": "u-1", "plan": "pro"},
	}

	config := map[string]any{
		"prompt":    "Hello ${name}, you asked ${count} things",
		"raw_count": "${count}",
		"raw_flag":  "${flag}",
		"category":  "${steps.classify.output}",
		"second":    "${items.1}",
		"profile":   "${user}",
		"nested": map[string]any{
			"inner": []any{"${name}", "static", float64(7)},
		},
		"untouched": float64(42),
	}

	resolved, err := resolveConfig(config, scope)
	require.NoError(t, err)

	assert.Equal(t, "Hello Ada, you asked 3 things", resolved["prompt"])
	assert.Equal(t, float64(3), resolved["raw_count"], "whole placeholder keeps the numeric type")
	assert.Equal(t, true, resolved["raw_flag"])
	assert.Equal(t, "question", resolved["category"])
	assert.Equal(t, "second", resolved["second"])
	assert.Equal(t, map[string]any{"id": "u-1", "plan": "pro"}, resolved["profile"])
	assert.Equal(t, []any{"Ada", "static", float64(7)}, resolved["nested"].(map[string]any)["inner"])
	assert.Equal(t, float64(42), resolved["untouched"])
}

func TestResolveConfigDoesNotMutateInput(t *testing.T) {
	config := map[string]any{
		"prompt": "${name}",
		"nested": map[string]any{"inner": "${name}"},
	}

	_, err := resolveConfig(config, map[string]any{"name": "Ada"})
	require.NoError(t, err)

	assert.Equal(t, "${name}", config["prompt"])
	assert.Equal(t, "${name}", config["nested"].(map[string]any)["inner"])
}

func TestResolveConfigUnresolved(t *testing.T) {
	_, err := resolveConfig(map[string]any{"prompt": "${ghost}"}, map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedVariable))
	assert.Contains(t, err.Error(), "ghost")

	_, err = resolveConfig(map[string]any{"prompt": "text ${ghost} more"}, map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedVariable))
}

func TestResolveStringEmbeddedMap(t *testing.T) {
	scope := map[string]any{"user": map[string]any{"id": "u-1"}}

	resolved, err := resolveString("user=${user}", scope)
	require.NoError(t, err)
	assert.Equal(t, `user={"id":"u-1"}`, resolved)
}

func TestLookupPath(t *testing.T) {
	scope := map[string]any{
		"a": map[string]any{
			"b": []any{
				map[string]any{"c": "found"},
			},
		},
	}

	value, ok := lookupPath("a.b.0.c", scope)
	require.True(t, ok)
	assert.Equal(t, "found", value)

	_, ok = lookupPath("a.b.5.c", scope)
	assert.False(t, ok)

	_, ok = lookupPath("a.missing", scope)
	assert.False(t, ok)
}
