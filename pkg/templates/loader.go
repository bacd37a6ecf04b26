package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir registers every template file found directly in dir and
// returns how many were loaded. Files ending in .yaml, .yml or .json
// each hold one template; everything else is ignored. A template whose
// name and version are already registered replaces the stored copy, so
// a user template directory can shadow builtins.
func LoadDir(registry *Registry, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read template directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		t, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, err
		}

		if err := registry.Register(t); err != nil {
			if !errors.Is(err, ErrTemplateExists) {
				return loaded, err
			}
			if err := registry.Update(t); err != nil {
				return loaded, err
			}
		}
		loaded++
	}
	return loaded, nil
}

// LoadFile parses one template file. YAML parsing covers JSON bodies
// too. A missing name falls back to the file name without extension.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template file %s: %w", path, err)
	}

	if t.Name == "" {
		base := filepath.Base(path)
		t.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &t, nil
}
