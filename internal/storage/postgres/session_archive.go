package postgres

import (
	"context"
	"fmt"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

// SessionArchive implements storage.SessionArchive using PostgreSQL.
type SessionArchive struct {
	pool *Pool
}

// NewSessionArchive creates a new SessionArchive.
func NewSessionArchive(pool *Pool) *SessionArchive {
	return &SessionArchive{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionArchive = (*SessionArchive)(nil)

// Insert adds a terminal session record. Returns ErrDuplicateKey if
// session_id exists.
func (a *SessionArchive) Insert(ctx context.Context, s *domain.ArchivedSession) error {
	if s == nil || s.SessionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO archived_sessions (
			session_id, status, total_pnl, win_rate, total_trades,
			completed_at, final_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := a.pool.Exec(ctx, query,
		s.SessionID, string(s.Status), s.TotalPnL, s.WinRate, s.TotalTrades,
		s.CompletedAt, s.FinalState,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert archived session: %w", err)
	}
	return nil
}

// GetBySessionID retrieves an archived session. Returns ErrNotFound if not
// exists.
func (a *SessionArchive) GetBySessionID(ctx context.Context, sessionID string) (*domain.ArchivedSession, error) {
	query := `
		SELECT session_id, status, total_pnl, win_rate, total_trades,
		       completed_at, final_state
		FROM archived_sessions
		WHERE session_id = $1
	`

	var (
		s      domain.ArchivedSession
		status string
	)
	err := a.pool.QueryRow(ctx, query, sessionID).Scan(
		&s.SessionID, &status, &s.TotalPnL, &s.WinRate, &s.TotalTrades,
		&s.CompletedAt, &s.FinalState,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get archived session: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	return &s, nil
}

// GetByTimeRange retrieves sessions completed within [start, end], ordered
// by completed_at ASC.
func (a *SessionArchive) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ArchivedSession, error) {
	query := `
		SELECT session_id, status, total_pnl, win_rate, total_trades,
		       completed_at, final_state
		FROM archived_sessions
		WHERE completed_at >= $1 AND completed_at <= $2
		ORDER BY completed_at ASC
	`

	rows, err := a.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query archived sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ArchivedSession
	for rows.Next() {
		var (
			s      domain.ArchivedSession
			status string
		)
		if err := rows.Scan(
			&s.SessionID, &status, &s.TotalPnL, &s.WinRate, &s.TotalTrades,
			&s.CompletedAt, &s.FinalState,
		); err != nil {
			return nil, fmt.Errorf("scan archived session: %w", err)
		}
		s.Status = domain.SessionStatus(status)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived sessions: %w", err)
	}
	return out, nil
}
