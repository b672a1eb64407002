// Package domain defines the session state model shared by the sync pipeline.
package domain

// SessionStatus is the lifecycle status reported by the remote session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// SessionState is the authoritative merged view of one remote session.
// It is owned by the state store; all mutation flows through the reconciler,
// which treats it as an immutable value and returns a new copy.
type SessionState struct {
	SessionID string

	// TickPrices holds the latest tick per instrument symbol.
	TickPrices map[string]Tick

	// Trades is the executed-trade set keyed by composite identity.
	Trades map[TradeKey]TradeRecord

	// Positions is keyed by position id.
	Positions map[string]PositionRecord

	// NodeExecutions is the append-only history of node firings, keyed by
	// execution id. Records are never overwritten once stored.
	NodeExecutions map[string]NodeExecutionRecord

	// NodeProjection maps node id to its latest execution, last-write-wins
	// by execution timestamp.
	NodeProjection map[string]NodeProjectionEntry

	Summary SummaryRecord
	Status  SessionStatus

	// LastEventTimestamp is the newest event timestamp observed so far (ms).
	LastEventTimestamp int64
}

// NewSessionState returns an empty initialized state for a session id.
func NewSessionState(sessionID string) SessionState {
	return SessionState{
		SessionID:      sessionID,
		TickPrices:     make(map[string]Tick),
		Trades:         make(map[TradeKey]TradeRecord),
		Positions:      make(map[string]PositionRecord),
		NodeExecutions: make(map[string]NodeExecutionRecord),
		NodeProjection: make(map[string]NodeProjectionEntry),
		Status:         SessionIdle,
	}
}

// Clone returns a deep copy. Map values are plain value types, so copying
// the maps is sufficient.
func (s SessionState) Clone() SessionState {
	out := s
	out.TickPrices = make(map[string]Tick, len(s.TickPrices))
	for k, v := range s.TickPrices {
		out.TickPrices[k] = v
	}
	out.Trades = make(map[TradeKey]TradeRecord, len(s.Trades))
	for k, v := range s.Trades {
		out.Trades[k] = v
	}
	out.Positions = make(map[string]PositionRecord, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.NodeExecutions = make(map[string]NodeExecutionRecord, len(s.NodeExecutions))
	for k, v := range s.NodeExecutions {
		out.NodeExecutions[k] = v
	}
	out.NodeProjection = make(map[string]NodeProjectionEntry, len(s.NodeProjection))
	for k, v := range s.NodeProjection {
		out.NodeProjection[k] = v
	}
	return out
}
