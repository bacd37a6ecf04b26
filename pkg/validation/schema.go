package validation

import (
	"fmt"
	"math"
)

// ValidateJSONSchema checks data against a declarative schema supporting
// the reduced vocabulary: type (object, string, number, integer, boolean,
// array), properties, required, items, enum, and additionalProperties.
// Nested objects and arrays are checked recursively. Extra properties
// pass unless the schema sets additionalProperties to false. This is a
// deliberate subset, not a full JSON-Schema implementation.
func ValidateJSONSchema(data any, schema map[string]any) ValidationResult {
	result := OK()
	validateSchemaNode("", data, schema, &result)
	return result
}

func validateSchemaNode(path string, data any, schema map[string]any, result *ValidationResult) {
	if schema == nil {
		return
	}

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		if !enumContains(enum, data) {
			result.AddErrorf("%s: value %v is not one of the allowed values", displayPath(path), data)
		}
	}

	typeName, _ := schema["type"].(string)
	switch typeName {
	case "object":
		obj, ok := data.(map[string]any)
		if !ok {
			result.AddErrorf("%s: expected object, got %s", displayPath(path), typeOf(data))
			return
		}
		validateObject(path, obj, schema, result)
	case "array":
		arr, ok := data.([]any)
		if !ok {
			result.AddErrorf("%s: expected array, got %s", displayPath(path), typeOf(data))
			return
		}
		if items, ok := schema["items"].(map[string]any); ok {
			for i, elem := range arr {
				validateSchemaNode(fmt.Sprintf("%s[%d]", path, i), elem, items, result)
			}
		}
	case "string":
		if _, ok := data.(string); !ok {
			result.AddErrorf("%s: expected string, got %s", displayPath(path), typeOf(data))
		}
	case "number":
		if _, ok := asFloat(data); !ok {
			result.AddErrorf("%s: expected number, got %s", displayPath(path), typeOf(data))
		}
	case "integer":
		f, ok := asFloat(data)
		if !ok || f != math.Trunc(f) {
			result.AddErrorf("%s: expected integer, got %s", displayPath(path), typeOf(data))
		}
	case "boolean":
		if _, ok := data.(bool); !ok {
			result.AddErrorf("%s: expected boolean, got %s", displayPath(path), typeOf(data))
		}
	case "":
		// No type constraint; still honor properties/required on maps.
		if obj, ok := data.(map[string]any); ok {
			validateObject(path, obj, schema, result)
		}
	default:
		result.AddErrorf("%s: unsupported schema type %q", displayPath(path), typeName)
	}
}

func validateObject(path string, obj map[string]any, schema map[string]any, result *ValidationResult) {
	properties, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, raw := range required {
			name, ok := raw.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				result.AddErrorf("%s: missing required property %q", displayPath(path), name)
			}
		}
	} else if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := obj[name]; !present {
				result.AddErrorf("%s: missing required property %q", displayPath(path), name)
			}
		}
	}

	for name, value := range obj {
		propSchema, declared := properties[name].(map[string]any)
		if declared {
			validateSchemaNode(joinPath(path, name), value, propSchema, result)
			continue
		}
		if additional, ok := schema["additionalProperties"].(bool); ok && !additional {
			result.AddErrorf("%s: unexpected property %q", displayPath(path), name)
		}
	}
}

func enumContains(enum []any, v any) bool {
	for _, allowed := range enum {
		if allowed == v {
			return true
		}
		// Numeric equality across Go number types.
		if af, aOK := asFloat(allowed); aOK {
			if vf, vOK := asFloat(v); vOK && af == vf {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, uint, uint64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
