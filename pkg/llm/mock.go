package llm

import (
	"context"
	"sync"
)

// GenerateCall records one invocation of MockClient.Generate.
type GenerateCall struct {
	Messages []Message
	Options  *GenerationOptions
}

// MockClient implements Client for testing. When GenerateFn is nil it
// returns a canned response echoing the last user message.
type MockClient struct {
	GenerateFn func(ctx context.Context, messages []Message, opts *GenerationOptions) (*Result, error)

	mu    sync.Mutex
	calls []GenerateCall
}

// NewMockClient creates a mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{
		calls: make([]GenerateCall, 0),
	}
}

// Generate records the call and delegates to GenerateFn when set.
func (m *MockClient) Generate(ctx context.Context, messages []Message, opts *GenerationOptions) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{
		Messages: messages,
		Options:  opts,
	})
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, messages, opts)
	}

	prompt := ""
	for _, msg := range messages {
		if msg.Role == "user" {
			prompt = msg.Content
		}
	}

	return &Result{
		Content:      "Mock response to: " + prompt,
		FinishReason: "stop",
		Usage: &Usage{
			Provider:         "mock",
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockClient) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate was invoked.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears the recorded invocations.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = m.calls[:0]
}
