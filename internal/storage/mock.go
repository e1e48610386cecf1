package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
)

// MockStore is an in-memory Store for tests and single-process console
// runs without Redis.
type MockStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	contexts map[uuid.UUID][]chat.Message

	// Optional error overrides.
	SaveSessionErr error
	LoadSessionErr error
	SaveContextErr error
	LoadContextErr error
}

var _ Store = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[uuid.UUID]*session.Session),
		contexts: make(map[uuid.UUID][]chat.Message),
	}
}

func (m *MockStore) Ping(context.Context) error { return nil }

func (m *MockStore) SaveSession(_ context.Context, s *session.Session) error {
	if m.SaveSessionErr != nil {
		return m.SaveSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MockStore) LoadSession(_ context.Context, id uuid.UUID) (*session.Session, error) {
	if m.LoadSessionErr != nil {
		return nil, m.LoadSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.contexts, id)
	return nil
}

func (m *MockStore) SaveContext(_ context.Context, id uuid.UUID, messages []chat.Message) error {
	if m.SaveContextErr != nil {
		return m.SaveContextErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]chat.Message, len(messages))
	copy(cp, messages)
	m.contexts[id] = cp
	return nil
}

func (m *MockStore) LoadContext(_ context.Context, id uuid.UUID) ([]chat.Message, error) {
	if m.LoadContextErr != nil {
		return nil, m.LoadContextErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]chat.Message, len(msgs))
	copy(cp, msgs)
	return cp, nil
}

func (m *MockStore) Close() error { return nil }
