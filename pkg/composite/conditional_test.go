package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateFallsBackToDefault(t *testing.T) {
	cond := NewConditionalConfig().
		AddCondition("tier", map[string]any{"in": []any{"gold"}}).
		AddWorkflowConfig("tier", map[string]any{"mode": "full"}).
		AddWorkflowConfig("default", map[string]any{"mode": "basic"})

	key, ok := cond.Evaluate(map[string]any{"tier": "silver"})
	require.True(t, ok)
	assert.Equal(t, "default", key)

	cfg, ok := cond.WorkflowConfig(key)
	require.True(t, ok)
	assert.Equal(t, "basic", cfg["mode"])
}

func TestEvaluateExactMatch(t *testing.T) {
	cond := NewConditionalConfig().
		AddCondition("language", "de").
		AddWorkflowConfig("language", map[string]any{"locale": "de-DE"})

	key, ok := cond.Evaluate(map[string]any{"language": "de"})
	require.True(t, ok)
	assert.Equal(t, "language", key)

	_, ok = cond.Evaluate(map[string]any{"language": "fr"})
	assert.False(t, ok)

	// A missing context field never matches and there is no default.
	_, ok = cond.Evaluate(map[string]any{})
	assert.False(t, ok)
}

func TestEvaluateNumericCoercion(t *testing.T) {
	cond := NewConditionalConfig().
		AddCondition("retries", 3).
		AddWorkflowConfig("retries", map[string]any{"mode": "careful"})

	// JSON-decoded contexts carry float64; the predicate still matches.
	key, ok := cond.Evaluate(map[string]any{"retries": 3.0})
	require.True(t, ok)
	assert.Equal(t, "retries", key)

	key, ok = cond.Evaluate(map[string]any{"retries": int64(3)})
	require.True(t, ok)
	assert.Equal(t, "retries", key)

	_, ok = cond.Evaluate(map[string]any{"retries": "3"})
	assert.False(t, ok)
}

func TestEvaluateInPredicate(t *testing.T) {
	cond := NewConditionalConfig().
		AddCondition("region", map[string]any{"in": []any{"eu", "uk"}}).
		AddWorkflowConfig("region", map[string]any{"data_residency": "strict"})

	key, ok := cond.Evaluate(map[string]any{"region": "uk"})
	require.True(t, ok)
	assert.Equal(t, "region", key)

	_, ok = cond.Evaluate(map[string]any{"region": "us"})
	assert.False(t, ok)
}

func TestEvaluateRangePredicate(t *testing.T) {
	cases := []struct {
		name  string
		pred  map[string]any
		value any
		want  bool
	}{
		{"inside both bounds", map[string]any{"min": 1, "max": 10}, 5, true},
		{"at min", map[string]any{"min": 1, "max": 10}, 1, true},
		{"at max", map[string]any{"min": 1, "max": 10}, 10, true},
		{"below min", map[string]any{"min": 1, "max": 10}, 0, false},
		{"above max", map[string]any{"min": 1, "max": 10}, 11, false},
		{"min only", map[string]any{"min": 7}, 100, true},
		{"min only below", map[string]any{"min": 7}, 6.9, false},
		{"max only", map[string]any{"max": 7}, 2, true},
		{"non-numeric value", map[string]any{"min": 1}, "high", false},
		{"nil value", map[string]any{"min": 1}, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond := NewConditionalConfig().
				AddCondition("score", tc.pred).
				AddWorkflowConfig("score", map[string]any{"mode": "ranged"})

			_, ok := cond.Evaluate(map[string]any{"score": tc.value})
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	cond := NewConditionalConfig().
		AddCondition("count", map[string]any{"min": 1}).
		AddCondition("vip", true).
		AddWorkflowConfig("count", map[string]any{"mode": "counted"}).
		AddWorkflowConfig("vip", map[string]any{"mode": "vip"})

	evalCtx := map[string]any{"count": 5, "vip": true}

	// Both predicates match; insertion order decides, every time.
	for i := 0; i < 10; i++ {
		key, ok := cond.Evaluate(evalCtx)
		require.True(t, ok)
		assert.Equal(t, "count", key)
	}

	// Re-registering a key keeps its original position.
	cond.AddCondition("count", map[string]any{"min": 2})
	key, ok := cond.Evaluate(evalCtx)
	require.True(t, ok)
	assert.Equal(t, "count", key)

	assert.Equal(t, []string{"count", "vip"}, cond.Keys())
}

func TestConditionalConfigFromMaps(t *testing.T) {
	cond, err := ConditionalConfigFromMaps(
		map[string]any{
			"tier":   map[string]any{"in": []any{"gold", "platinum"}},
			"volume": map[string]any{"min": 100},
		},
		map[string]any{
			"tier":    map[string]any{"model": "gpt-4"},
			"volume":  map[string]any{"model": "gpt-3.5-turbo"},
			"default": map[string]any{"model": "llama3"},
		},
		[]string{"tier", "volume"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"tier", "volume"}, cond.Keys())

	key, ok := cond.Evaluate(map[string]any{"tier": "silver", "volume": 250})
	require.True(t, ok)
	assert.Equal(t, "volume", key)

	cfg, ok := cond.WorkflowConfig("default")
	require.True(t, ok)
	assert.Equal(t, "llama3", cfg["model"])
}

func TestConditionalConfigFromMapsRejectsBadInput(t *testing.T) {
	cases := []struct {
		name       string
		conditions map[string]any
		configs    map[string]any
		order      []string
		wantErr    string
	}{
		{
			name:       "order names unknown key",
			conditions: map[string]any{"tier": "gold"},
			order:      []string{"tier", "ghost"},
			wantErr:    `unknown condition key "ghost"`,
		},
		{
			name:       "order incomplete",
			conditions: map[string]any{"tier": "gold", "volume": map[string]any{"min": 1}},
			order:      []string{"tier"},
			wantErr:    "order must name every condition key",
		},
		{
			name:       "in predicate not a list",
			conditions: map[string]any{"tier": map[string]any{"in": "gold"}},
			order:      []string{"tier"},
			wantErr:    "in-predicate must carry an array",
		},
		{
			name:       "min not a number",
			conditions: map[string]any{"volume": map[string]any{"min": "low"}},
			order:      []string{"volume"},
			wantErr:    "min must be a number",
		},
		{
			name:       "unrecognized predicate shape",
			conditions: map[string]any{"tier": map[string]any{"matches": ".*"}},
			order:      []string{"tier"},
			wantErr:    "plain value, an in-list, or a min/max range",
		},
		{
			name:       "config not an object",
			conditions: map[string]any{"tier": "gold"},
			configs:    map[string]any{"tier": "full"},
			order:      []string{"tier"},
			wantErr:    `workflow config "tier" must be an object`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ConditionalConfigFromMaps(tc.conditions, tc.configs, tc.order)
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestWorkflowConfigReturnsCopies(t *testing.T) {
	cond := NewConditionalConfig().
		AddCondition("tier", "gold").
		AddWorkflowConfig("tier", map[string]any{
			"model": "gpt-4",
			"tools": []any{"search"},
		})

	got, ok := cond.WorkflowConfig("tier")
	require.True(t, ok)
	got["model"] = "mutated"
	got["tools"].([]any)[0] = "mutated"

	again, ok := cond.WorkflowConfig("tier")
	require.True(t, ok)
	assert.Equal(t, "gpt-4", again["model"])
	assert.Equal(t, "search", again["tools"].([]any)[0])

	_, ok = cond.WorkflowConfig("missing")
	assert.False(t, ok)
}
