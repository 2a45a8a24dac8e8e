package store

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/chatform/internal/domain"
)

// MemorySubmissions is an in-memory Submissions implementation used when
// no database is configured. Contents are lost on restart.
type MemorySubmissions struct {
	mu        sync.RWMutex
	byID      map[string]domain.Submission
	bySession map[string]string // session id → submission id
}

// NewMemorySubmissions creates an empty in-memory submission store.
func NewMemorySubmissions() *MemorySubmissions {
	return &MemorySubmissions{
		byID:      make(map[string]domain.Submission),
		bySession: make(map[string]string),
	}
}

// Save implements Submissions.
func (m *MemorySubmissions) Save(_ context.Context, sub *domain.Submission) error {
	prepare(sub)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySession[sub.SessionID]; ok {
		return nil
	}
	cp := *sub
	cp.Fields = domain.CloneFields(sub.Fields)
	cp.Transcript = append([]domain.ChatMessage(nil), sub.Transcript...)
	m.byID[cp.ID] = cp
	m.bySession[cp.SessionID] = cp.ID
	return nil
}

// Get implements Submissions.
func (m *MemorySubmissions) Get(_ context.Context, id string) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

// List implements Submissions.
func (m *MemorySubmissions) List(_ context.Context, agentID string, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	m.mu.RLock()
	var out []domain.Submission
	for _, sub := range m.byID {
		if sub.AgentID == agentID {
			out = append(out, sub)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
