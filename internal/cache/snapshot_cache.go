// Package cache persists the last reconciled session state to Redis so a
// restarted client can show last-known data while the transports connect.
// The cache is best-effort: errors are logged and swallowed, a miss is not
// an error, and live events always take precedence over cached state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
)

const keyPrefix = "tradewatch:session:"

// DefaultTTL is how long a cached snapshot outlives its last write.
const DefaultTTL = 24 * time.Hour

// SnapshotCache stores one serialized SessionState per session id.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// New creates a SnapshotCache. ttl <= 0 uses DefaultTTL.
func New(client *redis.Client, ttl time.Duration, log *zap.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotCache{client: client, ttl: ttl, log: log}
}

// Put persists a snapshot, replacing any previous value for the session.
func (c *SnapshotCache) Put(ctx context.Context, st domain.SessionState) error {
	payload, err := json.Marshal(toCached(st))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+st.SessionID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot %s: %w", st.SessionID, err)
	}
	return nil
}

// Get loads the cached snapshot for a session. The second return value is
// false on a miss.
func (c *SnapshotCache) Get(ctx context.Context, sessionID string) (domain.SessionState, bool, error) {
	payload, err := c.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordCacheLookup(false)
		return domain.SessionState{}, false, nil
	}
	if err != nil {
		observability.RecordCacheLookup(false)
		return domain.SessionState{}, false, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}

	var snap cachedSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		c.log.Warn("discarding corrupt cached snapshot",
			zap.String("session_id", sessionID), zap.Error(err))
		observability.RecordCacheLookup(false)
		return domain.SessionState{}, false, nil
	}

	observability.RecordCacheLookup(true)
	return snap.toState(sessionID), true, nil
}

// Delete removes the cached snapshot for a session.
func (c *SnapshotCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, keyPrefix+sessionID).Err()
}

// cachedSnapshot is the serialized form. The trade set uses a slice because
// composite struct keys do not survive JSON object keys.
type cachedSnapshot struct {
	SessionID          string                                `json:"session_id"`
	TickPrices         map[string]domain.Tick                `json:"tick_prices"`
	Trades             []domain.TradeRecord                  `json:"trades"`
	Positions          map[string]domain.PositionRecord      `json:"positions"`
	NodeExecutions     map[string]domain.NodeExecutionRecord `json:"node_executions"`
	NodeProjection     map[string]domain.NodeProjectionEntry `json:"node_projection"`
	Summary            domain.SummaryRecord                  `json:"summary"`
	Status             domain.SessionStatus                  `json:"status"`
	LastEventTimestamp int64                                 `json:"last_event_timestamp"`
}

func toCached(st domain.SessionState) cachedSnapshot {
	trades := make([]domain.TradeRecord, 0, len(st.Trades))
	for _, t := range st.Trades {
		trades = append(trades, t)
	}
	return cachedSnapshot{
		SessionID:          st.SessionID,
		TickPrices:         st.TickPrices,
		Trades:             trades,
		Positions:          st.Positions,
		NodeExecutions:     st.NodeExecutions,
		NodeProjection:     st.NodeProjection,
		Summary:            st.Summary,
		Status:             st.Status,
		LastEventTimestamp: st.LastEventTimestamp,
	}
}

func (c cachedSnapshot) toState(sessionID string) domain.SessionState {
	st := domain.NewSessionState(sessionID)
	for k, v := range c.TickPrices {
		st.TickPrices[k] = v
	}
	for _, t := range c.Trades {
		st.Trades[t.Key()] = t
	}
	for k, v := range c.Positions {
		st.Positions[k] = v
	}
	for k, v := range c.NodeExecutions {
		st.NodeExecutions[k] = v
	}
	for k, v := range c.NodeProjection {
		st.NodeProjection[k] = v
	}
	st.Summary = c.Summary
	if c.Status != "" {
		st.Status = c.Status
	}
	st.LastEventTimestamp = c.LastEventTimestamp
	return st
}
