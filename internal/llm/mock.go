package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockGenerator replays scripted increments. It records the last prompt it saw.
type MockGenerator struct {
	// Tokens are emitted in order.
	Tokens []string
	// Err, when set, is returned after FailAfter tokens have been emitted.
	Err       error
	FailAfter int
	// Delay is slept before each token.
	Delay time.Duration

	mu         sync.Mutex
	lastPrompt string
	calls      int
}

// NewMockGenerator returns a generator that emits tokens.
func NewMockGenerator(tokens ...string) *MockGenerator {
	return &MockGenerator{Tokens: tokens}
}

// LastPrompt returns the prompt of the most recent call.
func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

// Calls returns how many generations were started.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockGenerator) record(prompt string) {
	m.mu.Lock()
	m.lastPrompt = prompt
	m.calls++
	m.mu.Unlock()
}

// Generate returns the concatenated tokens.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.GenerateStream(ctx, prompt, func(context.Context, string) error { return nil })
}

// GenerateStream emits the scripted tokens, honoring ctx cancellation.
func (m *MockGenerator) GenerateStream(ctx context.Context, prompt string, onToken TokenFunc) (string, error) {
	m.record(prompt)
	var sb strings.Builder
	for i, tok := range m.Tokens {
		if m.Err != nil && i >= m.FailAfter {
			return "", m.Err
		}
		if m.Delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sb.WriteString(tok)
		if err := onToken(ctx, tok); err != nil {
			return "", err
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return sb.String(), nil
}
