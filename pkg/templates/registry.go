package templates

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chatter-ai/chatterflow/pkg/log"
)

const defaultVersion = "1.0.0"

// Registry stores templates by name and version. Lookups without a
// version return the most-recently-registered one. The registry is
// constructed and passed around explicitly so concurrent tests never
// share state through a package-level singleton.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]*Template
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty template registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]*Template),
		logger:   log.WithModule("templates"),
		now:      time.Now,
	}
}

// Register adds a template. An empty version defaults to "1.0.0".
// Re-registering an existing name and version fails; replacing a
// version requires an explicit Update call.
func (r *Registry) Register(t *Template) error {
	stored, err := r.prepare("register", t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, have := range r.versions[stored.Name] {
		if have.Version == stored.Version {
			return templateErr("register", stored.Name,
				fmt.Errorf("version %s: %w", stored.Version, ErrTemplateExists))
		}
	}
	r.versions[stored.Name] = append(r.versions[stored.Name], stored)
	r.logger.Debug("registered template", "template", stored.Name, "version", stored.Version)
	return nil
}

// Update replaces an already-registered version of a template.
func (r *Registry) Update(t *Template) error {
	stored, err := r.prepare("update", t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	have := r.versions[stored.Name]
	for i, old := range have {
		if old.Version == stored.Version {
			have[i] = stored
			r.logger.Debug("updated template", "template", stored.Name, "version", stored.Version)
			return nil
		}
	}
	return templateErr("update", stored.Name,
		fmt.Errorf("version %s: %w", stored.Version, ErrTemplateNotFound))
}

// Get returns the most-recently-registered version of a template.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	have := r.versions[name]
	if len(have) == 0 {
		return nil, templateErr("get", name, ErrTemplateNotFound)
	}
	return have[len(have)-1].Clone(), nil
}

// GetVersion returns one specific version of a template.
func (r *Registry) GetVersion(name, version string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, have := range r.versions[name] {
		if have.Version == version {
			return have.Clone(), nil
		}
	}
	return nil, templateErr("get", name, fmt.Errorf("version %s: %w", version, ErrTemplateNotFound))
}

// Versions returns the registered versions of a template in
// registration order.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	have := r.versions[name]
	out := make([]string, len(have))
	for i, t := range have {
		out[i] = t.Version
	}
	return out
}

// Remove deletes one version of a template.
func (r *Registry) Remove(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	have := r.versions[name]
	for i, old := range have {
		if old.Version == version {
			r.versions[name] = append(have[:i], have[i+1:]...)
			if len(r.versions[name]) == 0 {
				delete(r.versions, name)
			}
			return nil
		}
	}
	return templateErr("remove", name, fmt.Errorf("version %s: %w", version, ErrTemplateNotFound))
}

// List returns the latest version of every template, sorted by name.
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Template, 0, len(r.versions))
	for _, have := range r.versions {
		out = append(out, have[len(have)-1].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of distinct template names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions)
}

// prepare validates and clones an incoming template so the registry
// never aliases caller-owned maps.
func (r *Registry) prepare(op string, t *Template) (*Template, error) {
	if t == nil {
		return nil, templateErr(op, "", fmt.Errorf("template is nil"))
	}
	if t.Name == "" {
		return nil, templateErr(op, "", fmt.Errorf("template name is required"))
	}

	stored := t.Clone()
	if stored.Version == "" {
		stored.Version = defaultVersion
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	return stored, nil
}
