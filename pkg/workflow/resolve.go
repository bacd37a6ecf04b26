package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Placeholder syntax for referencing context values inside step
// configuration, e.g. "${user_name}" or "${steps.classify.output}".
var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveConfig deep-copies a step config, substituting every
// placeholder against the scope. The input map is never mutated.
func resolveConfig(config map[string]any, scope map[string]any) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}
	resolved, err := resolveValue(config, scope)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(value any, scope map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, scope)

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys) // deterministic error order

		out := make(map[string]any, len(v))
		for _, k := range keys {
			resolved, err := resolveValue(v[k], scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return value, nil
	}
}

// resolveString substitutes placeholders in one string. A string that
// is exactly one placeholder resolves to the referenced value with its
// type intact; placeholders embedded in longer text are stringified.
func resolveString(s string, scope map[string]any) (any, error) {
	match := placeholderPattern.FindStringSubmatch(s)
	if match != nil && match[0] == s {
		value, ok := lookupPath(strings.TrimSpace(match[1]), scope)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvedVariable, strings.TrimSpace(match[1]))
		}
		return value, nil
	}

	var missing string
	result := placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-1])
		value, ok := lookupPath(name, scope)
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return stringifyValue(value)
	})
	if missing != "" {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedVariable, missing)
	}
	return result, nil
}

// lookupPath walks a dotted path through nested maps. Numeric segments
// index into arrays, so "items.0.id" reaches the first element.
func lookupPath(path string, scope map[string]any) (any, bool) {
	var current any = scope
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case map[string]any, []any:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", value)
	}
}
