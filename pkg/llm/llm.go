// Package llm defines the interface the workflow core uses to call
// language models, plus the OpenAI-backed and mock implementations.
// The executor never talks to a provider directly; llm_call steps go
// through Client so callers choose the backend.
package llm

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrGenerationFailed   = errors.New("generation failed")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Message is one turn of a model conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is the model asking for tool Name to run with Arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerationOptions tunes one Generate call. Temperature is sent when
// non-negative; MaxTokens when positive.
type GenerationOptions struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
}

// Usage reports token accounting for one call when the provider
// returns it.
type Usage struct {
	Provider         string `json:"provider"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Result is a completed generation: plain text, or a request to call
// tools, or both.
type Result struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// Client generates model responses for the workflow core.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts *GenerationOptions) (*Result, error)
}
