package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
)

// Memory keeps sessions in process memory. Suitable for tests and single-node demos.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]study.Session
}

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]study.Session)}
}

// Create stores a new session under a fresh UUIDv4.
func (m *Memory) Create(ctx context.Context, title, content, ownerRef string) (*study.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session := study.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		OwnerRef:  ownerRef,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return &session, nil
}

// Get returns a copy of the stored session.
func (m *Memory) Get(_ context.Context, id string) (*study.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
