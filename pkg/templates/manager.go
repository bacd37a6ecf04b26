package templates

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/validation"
)

// Manager is the template-facing API surface: lookup, discovery, and
// turning a template plus caller overrides into a validated workflow
// parameter map.
type Manager struct {
	registry *Registry
	params   *validation.ParameterValidator
	logger   *slog.Logger
	noSeed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry supplies a registry, e.g. one shared with other
// managers or pre-loaded from configuration.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithPolicy applies a custom parameter policy when validating merged
// template parameters.
func WithPolicy(policy validation.Policy) Option {
	return func(m *Manager) {
		m.params = validation.NewParameterValidator(policy)
	}
}

// WithoutBuiltins skips seeding the preset templates.
func WithoutBuiltins() Option {
	return func(m *Manager) {
		m.noSeed = true
	}
}

// NewManager builds a manager and seeds the builtin presets unless
// WithoutBuiltins is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		params:   validation.NewParameterValidator(validation.DefaultPolicy()),
		logger:   log.WithModule("templates"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if !m.noSeed {
		for _, t := range builtinTemplates() {
			if err := m.registry.Register(t); err != nil && !errors.Is(err, ErrTemplateExists) {
				m.logger.Warn("skipping builtin template", "template", t.Name, "error", err)
			}
		}
	}
	return m
}

// Registry exposes the underlying registry for version-level access.
func (m *Manager) Registry() *Registry { return m.registry }

// GetTemplate returns the latest version of a template.
func (m *Manager) GetTemplate(name string) (*Template, error) {
	return m.registry.Get(name)
}

// ListTemplates returns the latest version of every template, sorted
// by name.
func (m *Manager) ListTemplates() []*Template {
	return m.registry.List()
}

// ListByTag returns the templates carrying the given tag, sorted by
// name.
func (m *Manager) ListByTag(tag string) []*Template {
	all := m.registry.List()
	out := make([]*Template, 0, len(all))
	for _, t := range all {
		if t.HasTag(tag) {
			out = append(out, t)
		}
	}
	return out
}

// RegisterTemplate adds a template to the registry.
func (m *Manager) RegisterTemplate(t *Template) error {
	return m.registry.Register(t)
}

// UpdateTemplate replaces an existing template version.
func (m *Manager) UpdateTemplate(t *Template) error {
	return m.registry.Update(t)
}

// RemoveTemplate deletes one version of a template.
func (m *Manager) RemoveTemplate(name, version string) error {
	return m.registry.Remove(name, version)
}

// CreateWorkflowFromTemplate merges a template's defaults with caller
// overrides (override wins), injects the template's workflow type, and
// validates the merged values. With no overrides the result is exactly
// the template's defaults plus workflow_type.
func (m *Manager) CreateWorkflowFromTemplate(name string, custom map[string]any) (map[string]any, error) {
	tmpl, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}

	params := deepCopyMap(tmpl.DefaultParams)
	if params == nil {
		params = make(map[string]any, len(custom)+1)
	}
	for k, v := range custom {
		params[k] = deepCopyValue(v)
	}
	params["workflow_type"] = tmpl.WorkflowType

	if result := m.validateParams(params); !result.Valid {
		return nil, templateErr("create", name,
			fmt.Errorf("%w: %s", ErrInvalidTemplateParams, strings.Join(result.Errors, "; ")))
	}

	m.logger.Debug("created workflow params from template",
		"template", name, "workflow_type", tmpl.WorkflowType)
	return params, nil
}

// ValidateRequirements checks a template's required tools and
// retrievers against what the runtime has available, naming every gap.
func (m *Manager) ValidateRequirements(name string, availableTools, availableRetrievers []string) validation.ValidationResult {
	result := validation.OK()

	tmpl, err := m.registry.Get(name)
	if err != nil {
		result.AddErrorf("template %q not found", name)
		return result
	}

	haveTools := make(map[string]bool, len(availableTools))
	for _, t := range availableTools {
		haveTools[t] = true
	}
	for _, t := range tmpl.RequiredTools {
		if !haveTools[t] {
			result.AddErrorf("required tool %q is not available", t)
		}
	}

	haveRetrievers := make(map[string]bool, len(availableRetrievers))
	for _, r := range availableRetrievers {
		haveRetrievers[r] = true
	}
	for _, r := range tmpl.RequiredRetrievers {
		if !haveRetrievers[r] {
			result.AddErrorf("required retriever %q is not available", r)
		}
	}
	return result
}

// Suggestion is one ranked match from a template search.
type Suggestion struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Score       int    `json:"score"`
}

// Suggestions ranks templates by how many words of the query appear in
// their name, type, description, or tags. Templates with no hits are
// omitted.
func (m *Manager) Suggestions(query string) []Suggestion {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}

	var out []Suggestion
	for _, t := range m.registry.List() {
		haystack := strings.ToLower(strings.Join(append([]string{
			t.Name, t.WorkflowType, t.Description,
		}, t.Tags...), " "))

		score := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		if score > 0 {
			out = append(out, Suggestion{Name: t.Name, Description: t.Description, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// validateParams applies the parameter policy to the merged values.
// Only the keys the policy covers are checked; templates are free to
// carry arbitrary extra parameters.
func (m *Manager) validateParams(params map[string]any) validation.ValidationResult {
	result := validation.OK()

	if raw, ok := params["temperature"]; ok {
		if temp, ok := asNumber(raw); ok {
			result.Merge(m.params.ValidateTemperature(temp))
		} else {
			result.AddErrorf("temperature must be a number, got %T", raw)
		}
	}
	if raw, ok := params["max_tokens"]; ok {
		if tokens, ok := asInt(raw); ok {
			result.Merge(m.params.ValidateMaxTokens(tokens))
		} else {
			result.AddErrorf("max_tokens must be an integer, got %v", raw)
		}
	}
	if raw, ok := params["model"]; ok {
		if s, isStr := raw.(string); isStr {
			result.Merge(m.params.ValidateModelName(s))
		} else {
			result.AddErrorf("model must be a string, got %T", raw)
		}
	}
	return result
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

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case float32:
		if float64(n) == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
