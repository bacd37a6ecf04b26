package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chatter-ai/chatterflow/pkg/log"
)

// Registry manages the registration and retrieval of tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	sources map[string]string
	logger  *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		sources: make(map[string]string),
		logger:  log.WithModule("tool"),
	}
}

// Register adds a tool under its own name. Registering a second tool
// with the same name fails.
func (r *Registry) Register(t Tool) error {
	return r.RegisterFrom(t, "builtin")
}

// RegisterFrom adds a tool and records where it came from, e.g. the
// name of the MCP server that provides it.
func (r *Registry) RegisterFrom(t Tool, source string) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if err := validateParameters(t.Parameters()); err != nil {
		return fmt.Errorf("invalid parameters for tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.sources[name] = source
	r.logger.Debug("registered tool", "tool", name, "source", source)
	return nil
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %q %w", name, ErrToolNotFound)
	}
	delete(r.tools, name)
	delete(r.sources, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

// List returns metadata for all registered tools, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for name, t := range r.tools {
		infos = append(infos, Info{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
			Source:      r.sources[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func validateParameters(params Parameters) error {
	if params.Type != "object" && params.Type != "" {
		return fmt.Errorf("parameters type must be 'object' or empty")
	}

	for _, required := range params.Required {
		if _, exists := params.Properties[required]; !exists {
			return fmt.Errorf("required parameter %q not found in properties", required)
		}
	}

	// Empty type means unconstrained, which some MCP server schemas use.
	validTypes := map[string]bool{
		"": true, "string": true, "number": true, "integer": true,
		"boolean": true, "array": true, "object": true,
	}
	for name, param := range params.Properties {
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid type %q for parameter %q", param.Type, name)
		}
		if param.Minimum != nil && param.Maximum != nil && *param.Minimum > *param.Maximum {
			return fmt.Errorf("parameter %q minimum cannot exceed maximum", name)
		}
	}
	return nil
}
