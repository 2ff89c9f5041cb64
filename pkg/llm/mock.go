package llm

import (
	"context"
	"sync"
)

// MockTextGenerator is a configurable TextGenerator for tests.
type MockTextGenerator struct {
	// CompleteFunc is called by Complete. If nil, Response is returned.
	CompleteFunc func(ctx context.Context, prompt Prompt) (string, error)
	Response     string
	Model        string

	mu      sync.Mutex
	prompts []Prompt
}

// NewMockTextGenerator returns a mock that always answers response.
func NewMockTextGenerator(response string) *MockTextGenerator {
	return &MockTextGenerator{Response: response, Model: "mock-model"}
}

// Complete implements TextGenerator.
func (m *MockTextGenerator) Complete(ctx context.Context, prompt Prompt) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return m.Response, nil
}

// GetModel implements TextGenerator.
func (m *MockTextGenerator) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// Prompts returns every prompt received.
func (m *MockTextGenerator) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}

// Calls returns how many times Complete ran.
func (m *MockTextGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var _ TextGenerator = (*MockTextGenerator)(nil)
