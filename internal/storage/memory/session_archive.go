package memory

import (
	"context"
	"sort"
	"sync"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

// SessionArchive implements storage.SessionArchive in memory.
type SessionArchive struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ArchivedSession
}

// NewSessionArchive creates an empty in-memory archive.
func NewSessionArchive() *SessionArchive {
	return &SessionArchive{sessions: make(map[string]*domain.ArchivedSession)}
}

// Compile-time interface check.
var _ storage.SessionArchive = (*SessionArchive)(nil)

// Insert adds a terminal session record. Returns ErrDuplicateKey if
// session_id exists.
func (a *SessionArchive) Insert(_ context.Context, s *domain.ArchivedSession) error {
	if s == nil || s.SessionID == "" {
		return storage.ErrInvalidInput
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.sessions[s.SessionID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *s
	a.sessions[s.SessionID] = &cp
	return nil
}

// GetBySessionID retrieves an archived session. Returns ErrNotFound if not
// exists.
func (a *SessionArchive) GetBySessionID(_ context.Context, sessionID string) (*domain.ArchivedSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// GetByTimeRange retrieves sessions completed within [start, end], ordered
// by completed_at ASC.
func (a *SessionArchive) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.ArchivedSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*domain.ArchivedSession
	for _, s := range a.sessions {
		if s.CompletedAt >= start && s.CompletedAt <= end {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt < out[j].CompletedAt })
	return out, nil
}
