// Package mocks provides test doubles for the model client and the config watcher.
package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"

	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/server/provider"
)

// MockLLM stands in for a gollm client. GenerateFunc decides the reply; every prompt it
// receives is recorded.
//
// Example usage:
//
//	mockLLM := NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
//	    return "mocked response", nil
//	})
type MockLLM struct {
	GenerateFunc func(context.Context, *gollm.Prompt) (string, error)
	Provider     string
	Model        string

	mu      sync.Mutex
	prompts []*gollm.Prompt
}

var _ provider.Generator = (*MockLLM)(nil)

// NewMockLLM creates a MockLLM. If generateFunc is nil, Generate returns "ok".
func NewMockLLM(generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return NewMockLLMWithConfig("mock", "mock-model", generateFunc)
}

// NewMockLLMWithConfig creates a MockLLM with specific provider and model names.
func NewMockLLMWithConfig(providerName, model string, generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     providerName,
		Model:        model,
	}
}

// Generate records the prompt and delegates to GenerateFunc.
func (m *MockLLM) Generate(ctx context.Context, prompt *gollm.Prompt, _ ...llm.GenerateOption) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "ok", nil
}

// Prompts returns the prompts received so far.
func (m *MockLLM) Prompts() []*gollm.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*gollm.Prompt(nil), m.prompts...)
}

// LastPrompt returns the most recent prompt, or nil.
func (m *MockLLM) LastPrompt() *gollm.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return nil
	}
	return m.prompts[len(m.prompts)-1]
}

// Backend wraps the mock in a provider backend named after m.Provider.
func (m *MockLLM) Backend(c conversation.ProviderConstraints) *provider.GollmBackend {
	return provider.NewGollmBackend(m.Provider, m, c)
}
