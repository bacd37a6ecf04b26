// Package templates provides named, reusable parameter presets for
// constructing workflows of a given type. A template carries defaults;
// callers overlay their own parameters at creation time and get back a
// validated parameter map ready to feed into a workflow definition.
package templates

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrTemplateNotFound      = errors.New("template not found")
	ErrTemplateExists        = errors.New("template version already exists")
	ErrInvalidTemplateParams = errors.New("invalid template parameters")
)

// TemplateError wraps template operation failures with the operation
// and template name.
type TemplateError struct {
	Template string
	Op       string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s %q: %v", e.Op, e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

func templateErr(op, name string, err error) error {
	return &TemplateError{Template: name, Op: op, Err: err}
}

// Template is a named default parameter set for one workflow type.
// DefaultParams seed the workflow config; RequiredTools and
// RequiredRetrievers declare what the runtime must provide before a
// workflow built from this template can execute.
type Template struct {
	Name               string         `json:"name" yaml:"name"`
	WorkflowType       string         `json:"workflow_type" yaml:"workflow_type"`
	Description        string         `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultParams      map[string]any `json:"default_params,omitempty" yaml:"default_params,omitempty"`
	RequiredTools      []string       `json:"required_tools,omitempty" yaml:"required_tools,omitempty"`
	RequiredRetrievers []string       `json:"required_retrievers,omitempty" yaml:"required_retrievers,omitempty"`
	Version            string         `json:"version,omitempty" yaml:"version,omitempty"`
	Tags               []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt          time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Clone returns a deep copy. The registry stores and hands out clones
// so callers can mutate what they get back without corrupting shared
// state.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.DefaultParams = deepCopyMap(t.DefaultParams)
	out.RequiredTools = append([]string(nil), t.RequiredTools...)
	out.RequiredRetrievers = append([]string(nil), t.RequiredRetrievers...)
	out.Tags = append([]string(nil), t.Tags...)
	return &out
}

// HasTag reports whether the template carries the given tag.
func (t *Template) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
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
