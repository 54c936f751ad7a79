package pending

import (
	"context"
	"sync"
	"time"

	"github.com/ashbert/nestor/internal/ai/llm"
)

// MemoryStore keeps pending actions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[int64]Action
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[int64]Action)}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[userID]
	if !ok {
		return nil, nil
	}
	a.ToolCalls = append([]llm.ToolCall(nil), a.ToolCalls...)
	return &a, nil
}

func (m *MemoryStore) Put(_ context.Context, a Action) error {
	if err := validate(a); err != nil {
		return err
	}
	a.ToolCalls = append([]llm.ToolCall(nil), a.ToolCalls...)
	m.mu.Lock()
	m.actions[a.UserID] = a
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.actions[userID]
	delete(m.actions, userID)
	return ok, nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.actions {
		if a.Expired(now, ttl) {
			delete(m.actions, id)
			n++
		}
	}
	return n, nil
}
