// Package composite builds and runs workflows made of other workflows:
// a conditional table that picks one parameter config from an
// evaluation context, and composite configs whose sub-workflows run
// sequentially, in parallel, or conditionally.
package composite

import (
	"reflect"
)

// DefaultKey is the reserved fallback key in a conditional config.
const DefaultKey = "default"

// ConditionalConfig maps named condition keys to predicate specs and
// workflow parameter configs. Evaluation walks the conditions in
// insertion order and returns the first key whose predicate matches
// the evaluation context, falling back to "default" when present.
//
// A predicate spec is one of:
//   - a plain value: exact match against the context field of the same
//     name
//   - {"in": [...]}: membership
//   - {"min": x, "max": y}: numeric range, either bound optional
type ConditionalConfig struct {
	order      []string
	conditions map[string]any
	configs    map[string]map[string]any
}

// NewConditionalConfig creates an empty conditional table.
func NewConditionalConfig() *ConditionalConfig {
	return &ConditionalConfig{
		conditions: make(map[string]any),
		configs:    make(map[string]map[string]any),
	}
}

// AddCondition registers a predicate under a key. The first
// registration of a key fixes its position in evaluation order.
func (c *ConditionalConfig) AddCondition(key string, predicate any) *ConditionalConfig {
	if _, seen := c.conditions[key]; !seen {
		c.order = append(c.order, key)
	}
	c.conditions[key] = predicate
	return c
}

// AddWorkflowConfig registers the parameter config applied when a key
// matches. The "default" key needs no condition.
func (c *ConditionalConfig) AddWorkflowConfig(key string, config map[string]any) *ConditionalConfig {
	c.configs[key] = deepCopyMap(config)
	return c
}

// ConditionalConfigFromMaps builds a conditional table from map-shaped
// input. Map iteration order is not deterministic in Go, so the caller
// supplies the evaluation order explicitly; a decoded YAML or JSON
// document supplies its key order.
func ConditionalConfigFromMaps(conditions map[string]any, configs map[string]any, order []string) (*ConditionalConfig, error) {
	c := NewConditionalConfig()

	for _, key := range order {
		pred, ok := conditions[key]
		if !ok {
			return nil, configErrorf("order names unknown condition key %q", key)
		}
		if err := validatePredicate(key, pred); err != nil {
			return nil, err
		}
		c.AddCondition(key, pred)
	}
	if len(c.order) != len(conditions) {
		return nil, configErrorf("order must name every condition key, got %d of %d", len(c.order), len(conditions))
	}

	for key, raw := range configs {
		cfg, ok := raw.(map[string]any)
		if !ok {
			return nil, configErrorf("workflow config %q must be an object, got %T", key, raw)
		}
		c.AddWorkflowConfig(key, cfg)
	}
	return c, nil
}

// Evaluate returns the first condition key whose predicate matches the
// context, falling back to "default" when a default config exists. The
// second return is false when nothing applies.
func (c *ConditionalConfig) Evaluate(evalCtx map[string]any) (string, bool) {
	for _, key := range c.order {
		if matchPredicate(c.conditions[key], evalCtx[key]) {
			return key, true
		}
	}
	if _, ok := c.configs[DefaultKey]; ok {
		return DefaultKey, true
	}
	return "", false
}

// WorkflowConfig returns a copy of the parameter config registered
// under a key.
func (c *ConditionalConfig) WorkflowConfig(key string) (map[string]any, bool) {
	cfg, ok := c.configs[key]
	if !ok {
		return nil, false
	}
	return deepCopyMap(cfg), true
}

// Keys returns the condition keys in evaluation order.
func (c *ConditionalConfig) Keys() []string {
	return append([]string(nil), c.order...)
}

// matchPredicate applies one predicate spec to a context value. An
// unrecognized spec shape never matches.
func matchPredicate(spec, value any) bool {
	m, isMap := spec.(map[string]any)
	if !isMap {
		return equalValues(spec, value)
	}

	if raw, ok := m["in"]; ok {
		options, isList := raw.([]any)
		if !isList {
			return false
		}
		for _, option := range options {
			if equalValues(option, value) {
				return true
			}
		}
		return false
	}

	minRaw, hasMin := m["min"]
	maxRaw, hasMax := m["max"]
	if hasMin || hasMax {
		n, isNum := asNumber(value)
		if !isNum {
			return false
		}
		if hasMin {
			low, ok := asNumber(minRaw)
			if !ok || n < low {
				return false
			}
		}
		if hasMax {
			high, ok := asNumber(maxRaw)
			if !ok || n > high {
				return false
			}
		}
		return true
	}

	return false
}

func validatePredicate(key string, spec any) error {
	m, isMap := spec.(map[string]any)
	if !isMap {
		return nil
	}

	if raw, ok := m["in"]; ok {
		if _, isList := raw.([]any); !isList {
			return configErrorf("condition %q: in-predicate must carry an array, got %T", key, raw)
		}
		return nil
	}

	minRaw, hasMin := m["min"]
	maxRaw, hasMax := m["max"]
	if hasMin || hasMax {
		if hasMin {
			if _, ok := asNumber(minRaw); !ok {
				return configErrorf("condition %q: min must be a number, got %T", key, minRaw)
			}
		}
		if hasMax {
			if _, ok := asNumber(maxRaw); !ok {
				return configErrorf("condition %q: max must be a number, got %T", key, maxRaw)
			}
		}
		return nil
	}

	return configErrorf("condition %q: predicate must be a plain value, an in-list, or a min/max range", key)
}

// equalValues compares with numeric coercion so 3 matches 3.0 across
// decoded JSON and Go literals.
func equalValues(a, b any) bool {
	if na, aok := asNumber(a); aok {
		nb, bok := asNumber(b)
		return bok && na == nb
	}
	return reflect.DeepEqual(a, b)
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

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
