package storefront

import (
	"context"
	"sync"
	"time"

	"storefront/internal/redisclient"
)

// MemoryTokenStore keeps session tokens in process. It serves single-instance
// development setups without Redis.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

type memoryToken struct {
	token   string
	expires time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken), now: time.Now}
}

func (m *MemoryTokenStore) SaveSession(_ context.Context, sessionID, accessToken string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[sessionID] = memoryToken{token: accessToken, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryTokenStore) LoadSession(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[sessionID]
	if !ok || !m.now().Before(t.expires) {
		delete(m.tokens, sessionID)
		return "", redisclient.ErrSessionNotFound
	}
	return t.token, nil
}

func (m *MemoryTokenStore) TouchSession(_ context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[sessionID]
	if !ok || !m.now().Before(t.expires) {
		delete(m.tokens, sessionID)
		return redisclient.ErrSessionNotFound
	}
	t.expires = m.now().Add(ttl)
	m.tokens[sessionID] = t
	return nil
}

func (m *MemoryTokenStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, sessionID)
	return nil
}
