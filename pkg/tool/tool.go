// Package tool provides the tool collaborator used by workflow tool_call
// steps: a registry of callable tools, a rate-limited executor, a few
// builtins, and an MCP-backed tool source.
package tool

import (
	"context"
	"errors"
)

var (
	// ErrToolNotFound is returned when a tool name is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrRateLimited is returned when the executor's rate limit is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Tool is a callable unit exposed to workflow steps and LLM tool calls.
type Tool interface {
	// Name returns the unique identifier of the tool.
	Name() string
	// Description returns a human-readable description of what the tool does.
	Description() string
	// Parameters returns the schema for the tool's arguments.
	Parameters() Parameters
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
	// Validate checks if the provided arguments are valid for this tool.
	Validate(args map[string]any) error
}

// Executor runs a named tool. The workflow engine depends on this
// interface, not on a concrete executor.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// Parameters defines the JSON schema for tool arguments.
type Parameters struct {
	Type       string               `json:"type"`
	Properties map[string]Parameter `json:"properties"`
	Required   []string             `json:"required,omitempty"`
}

// Parameter defines a single argument in the tool schema.
type Parameter struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Schema converts the parameters to a plain JSON-schema map, the form
// LLM tool declarations and the schema validator consume.
func (p Parameters) Schema() map[string]any {
	schemaType := p.Type
	if schemaType == "" {
		schemaType = "object"
	}
	properties := make(map[string]any, len(p.Properties))
	for name, param := range p.Properties {
		prop := map[string]any{"type": param.Type}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if len(param.Enum) > 0 {
			enum := make([]any, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[name] = prop
	}

	schema := map[string]any{
		"type":       schemaType,
		"properties": properties,
	}
	if len(p.Required) > 0 {
		required := make([]any, len(p.Required))
		for i, name := range p.Required {
			required[i] = name
		}
		schema["required"] = required
	}
	return schema
}

// Result represents the outcome of executing a tool.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Info provides metadata about a registered tool.
type Info struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
	Source      string     `json:"source"`
}
