package services

import (
	"context"
	"sync"
)

// MockGateway is a scriptable InferenceGateway for tests. Responses can be
// driven by a custom func or queued per call; every call is recorded.
type MockGateway struct {
	InferFunc func(ctx context.Context, req InferenceRequest) (string, error)

	// Queued responses returned in order when InferFunc is nil.
	responses []mockResponse

	// Calls records every request in arrival order.
	Calls []InferenceRequest

	mu sync.Mutex
}

type mockResponse struct {
	text string
	err  error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Queue appends a canned response.
func (m *MockGateway) Queue(text string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{text: text})
	return m
}

// QueueError appends a canned failure.
func (m *MockGateway) QueueError(err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

func (m *MockGateway) Infer(ctx context.Context, req InferenceRequest) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.InferFunc
	var next *mockResponse
	if fn == nil && len(m.responses) > 0 {
		next = &m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if next != nil {
		return next.text, next.err
	}
	return "Mock response", nil
}

// CallCount returns how many requests the mock has served.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsFor returns the recorded requests for one agent id.
func (m *MockGateway) CallsFor(characterID string) []InferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InferenceRequest
	for _, c := range m.Calls {
		if c.CharacterID == characterID {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and queued responses.
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.responses = nil
	m.InferFunc = nil
}
