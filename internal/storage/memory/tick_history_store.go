package memory

import (
	"context"
	"sort"
	"sync"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

// TickHistoryStore implements storage.TickHistoryStore in memory.
type TickHistoryStore struct {
	mu     sync.RWMutex
	points map[string][]*domain.TickPoint
}

// NewTickHistoryStore creates an empty in-memory tick history store.
func NewTickHistoryStore() *TickHistoryStore {
	return &TickHistoryStore{points: make(map[string][]*domain.TickPoint)}
}

// Compile-time interface check.
var _ storage.TickHistoryStore = (*TickHistoryStore)(nil)

// InsertBulk adds multiple tick points.
func (t *TickHistoryStore) InsertBulk(_ context.Context, points []*domain.TickPoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil || p.SessionID == "" {
			return storage.ErrInvalidInput
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range points {
		cp := *p
		t.points[p.SessionID] = append(t.points[p.SessionID], &cp)
	}
	return nil
}

// GetBySessionID retrieves all points for a session, ordered by timestamp ASC.
func (t *TickHistoryStore) GetBySessionID(_ context.Context, sessionID string) ([]*domain.TickPoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stored := t.points[sessionID]
	out := make([]*domain.TickPoint, 0, len(stored))
	for _, p := range stored {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// GetByTimeRange retrieves points for a session within [start, end], ordered
// by timestamp ASC.
func (t *TickHistoryStore) GetByTimeRange(_ context.Context, sessionID string, start, end int64) ([]*domain.TickPoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*domain.TickPoint
	for _, p := range t.points[sessionID] {
		if p.Timestamp >= start && p.Timestamp <= end {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
