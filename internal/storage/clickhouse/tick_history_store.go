package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

// TickHistoryStore implements storage.TickHistoryStore using ClickHouse.
// Tick history is append-only and high volume, which is what MergeTree is
// for; duplicates are tolerated at insert time and collapse on read order.
type TickHistoryStore struct {
	conn *Conn
}

// NewTickHistoryStore creates a new TickHistoryStore.
func NewTickHistoryStore(conn *Conn) *TickHistoryStore {
	return &TickHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickHistoryStore = (*TickHistoryStore)(nil)

// InsertBulk adds multiple tick points in one batch.
func (s *TickHistoryStore) InsertBulk(ctx context.Context, points []*domain.TickPoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil || p.SessionID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tick_history (
			session_id, symbol, price, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		price, _ := p.Price.Float64()
		if err := batch.Append(p.SessionID, p.Symbol, price, uint64(p.Timestamp)); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySessionID retrieves all points for a session, ordered by timestamp ASC.
func (s *TickHistoryStore) GetBySessionID(ctx context.Context, sessionID string) ([]*domain.TickPoint, error) {
	query := `
		SELECT session_id, symbol, price, timestamp_ms
		FROM tick_history
		WHERE session_id = ?
		ORDER BY timestamp_ms ASC
	`
	return s.query(ctx, query, sessionID)
}

// GetByTimeRange retrieves points for a session within [start, end], ordered
// by timestamp ASC.
func (s *TickHistoryStore) GetByTimeRange(ctx context.Context, sessionID string, start, end int64) ([]*domain.TickPoint, error) {
	query := `
		SELECT session_id, symbol, price, timestamp_ms
		FROM tick_history
		WHERE session_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`
	return s.query(ctx, query, sessionID, uint64(start), uint64(end))
}

func (s *TickHistoryStore) query(ctx context.Context, query string, args ...any) ([]*domain.TickPoint, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tick history: %w", err)
	}
	defer rows.Close()

	var out []*domain.TickPoint
	for rows.Next() {
		var (
			p     domain.TickPoint
			price float64
			ts    uint64
		)
		if err := rows.Scan(&p.SessionID, &p.Symbol, &price, &ts); err != nil {
			return nil, fmt.Errorf("scan tick point: %w", err)
		}
		p.Price = decimal.NewFromFloat(price)
		p.Timestamp = int64(ts)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tick history: %w", err)
	}
	return out, nil
}
