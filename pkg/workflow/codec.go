package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes a workflow definition from YAML or JSON.
// JSON is a subset of YAML, so the YAML decoder handles both unless
// the format is forced with "json".
func ParseDefinition(data []byte, format string) (*Definition, error) {
	var def Definition

	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidDefinition, format)
	}

	normalizeDefinition(&def)
	return &def, nil
}

// LoadDefinition reads a definition file, picking the format from the
// extension.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	format := "yaml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	}

	def, err := ParseDefinition(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// DefinitionFromMap converts a generic map, such as one built by a
// template, into a Definition via a JSON round trip.
func DefinitionFromMap(raw map[string]any) (*Definition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return ParseDefinition(data, "json")
}

// StepFromMap converts one generic step config into a Step. Loop and
// parallel steps carry nested step definitions this way.
func StepFromMap(raw map[string]any) (*Step, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	var step Step
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if step.Status == "" {
		step.Status = StepPending
	}
	return &step, nil
}

// normalizeDefinition fills the zero-value states decoders leave
// behind so downstream code can rely on them.
func normalizeDefinition(def *Definition) {
	for _, step := range def.Steps {
		if step == nil {
			continue
		}
		if step.Status == "" {
			step.Status = StepPending
		}
		if step.Config == nil {
			step.Config = map[string]any{}
		}
	}
	if def.Variables == nil {
		def.Variables = map[string]any{}
	}
}
