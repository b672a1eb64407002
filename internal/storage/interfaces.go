package storage

import (
	"context"

	"tradewatch/internal/domain"
)

// SessionArchive provides access to archived_sessions storage.
type SessionArchive interface {
	// Insert adds a terminal session record. Returns ErrDuplicateKey if
	// session_id exists.
	Insert(ctx context.Context, s *domain.ArchivedSession) error

	// GetBySessionID retrieves an archived session. Returns ErrNotFound if
	// not exists.
	GetBySessionID(ctx context.Context, sessionID string) (*domain.ArchivedSession, error)

	// GetByTimeRange retrieves sessions completed within [start, end]
	// (inclusive, ms), ordered by completed_at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ArchivedSession, error)
}

// TickHistoryStore provides access to tick_history storage.
type TickHistoryStore interface {
	// InsertBulk adds multiple tick points in one batch.
	InsertBulk(ctx context.Context, points []*domain.TickPoint) error

	// GetBySessionID retrieves all points for a session, ordered by
	// timestamp ASC.
	GetBySessionID(ctx context.Context, sessionID string) ([]*domain.TickPoint, error)

	// GetByTimeRange retrieves points for a session within [start, end]
	// (inclusive, ms), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, sessionID string, start, end int64) ([]*domain.TickPoint, error)
}
