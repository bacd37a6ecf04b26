package templates

import (
	"errors"
	"fmt"
	"strings"
)

// Builder assembles a custom template fluently. Problems accumulate
// and are reported together by Build, so a caller chaining many calls
// sees every mistake in one pass.
type Builder struct {
	tmpl Template
}

// NewBuilder starts a template with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{tmpl: Template{
		Name:          name,
		DefaultParams: make(map[string]any),
	}}
}

// WithType sets the workflow type the template produces.
func (b *Builder) WithType(workflowType string) *Builder {
	b.tmpl.WorkflowType = workflowType
	return b
}

// WithDescription sets the human-readable description.
func (b *Builder) WithDescription(description string) *Builder {
	b.tmpl.Description = description
	return b
}

// WithParam sets one default parameter.
func (b *Builder) WithParam(key string, value any) *Builder {
	b.tmpl.DefaultParams[key] = value
	return b
}

// WithParams merges a map of default parameters.
func (b *Builder) WithParams(params map[string]any) *Builder {
	for k, v := range params {
		b.tmpl.DefaultParams[k] = deepCopyValue(v)
	}
	return b
}

// RequireTool declares a tool the runtime must provide.
func (b *Builder) RequireTool(name string) *Builder {
	if !containsString(b.tmpl.RequiredTools, name) {
		b.tmpl.RequiredTools = append(b.tmpl.RequiredTools, name)
	}
	return b
}

// RequireRetriever declares a retriever the runtime must provide.
func (b *Builder) RequireRetriever(name string) *Builder {
	if !containsString(b.tmpl.RequiredRetrievers, name) {
		b.tmpl.RequiredRetrievers = append(b.tmpl.RequiredRetrievers, name)
	}
	return b
}

// WithVersion sets an explicit version string.
func (b *Builder) WithVersion(version string) *Builder {
	b.tmpl.Version = version
	return b
}

// WithTag adds a discovery tag.
func (b *Builder) WithTag(tag string) *Builder {
	if !b.tmpl.HasTag(tag) {
		b.tmpl.Tags = append(b.tmpl.Tags, tag)
	}
	return b
}

// Build validates the assembled template and returns it. All problems
// are reported in one error.
func (b *Builder) Build() (*Template, error) {
	var errs []string

	if b.tmpl.Name == "" {
		errs = append(errs, "template name is required")
	}
	if b.tmpl.WorkflowType == "" {
		errs = append(errs, "workflow type is required")
	}

	// Shape checks only; the manager applies the full parameter policy
	// when a workflow is created from the template.
	if raw, ok := b.tmpl.DefaultParams["temperature"]; ok {
		if _, isNum := asNumber(raw); !isNum {
			errs = append(errs, fmt.Sprintf("temperature must be a number, got %T", raw))
		}
	}
	if raw, ok := b.tmpl.DefaultParams["max_tokens"]; ok {
		if _, isInt := asInt(raw); !isInt {
			errs = append(errs, fmt.Sprintf("max_tokens must be an integer, got %v", raw))
		}
	}
	if raw, ok := b.tmpl.DefaultParams["model"]; ok {
		if s, isStr := raw.(string); !isStr || s == "" {
			errs = append(errs, "model must be a non-empty string")
		}
	}

	if len(errs) > 0 {
		return nil, templateErr("build", b.tmpl.Name, errors.New(strings.Join(errs, "; ")))
	}
	return b.tmpl.Clone(), nil
}

func containsString(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
