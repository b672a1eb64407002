// Package event defines the transport-agnostic canonical event union and the
// normalizer that converts raw transport frames into it. Canonical events are
// the only input the reconciler accepts, which is what keeps the merge logic
// identical no matter which transport delivered an update.
package event

import (
	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
)

// Facet names a replaceable slice of session state. Snapshot-replace events
// target exactly one facet.
type Facet string

const (
	FacetTrades    Facet = "trades"
	FacetPositions Facet = "positions"
	FacetNodes     Facet = "nodes"
)

// Event is one canonical update. When reports the event timestamp in ms
// (zero when the wire payload carried none).
type Event interface {
	When() int64
	isEvent()
}

// Tick is a last-value-wins price update for one instrument.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp int64
}

// TradeUpsert inserts or refines one trade in the trade set.
type TradeUpsert struct {
	Trade     domain.TradeRecord
	Timestamp int64
}

// PositionUpsert inserts or updates one position.
type PositionUpsert struct {
	Position  domain.PositionRecord
	Timestamp int64
}

// NodeExecution appends one historical node firing.
type NodeExecution struct {
	Record domain.NodeExecutionRecord
}

// SummaryReplace wholesale-replaces the remote-computed aggregates.
type SummaryReplace struct {
	Summary   domain.SummaryRecord
	Timestamp int64
}

// StatusChange updates the session lifecycle status.
type StatusChange struct {
	Status    domain.SessionStatus
	Timestamp int64
}

// SnapshotReplace carries a full facet from a poll snapshot or initial-state
// message. The reconciler replaces the facet wholesale and then keeps
// accepting incremental events on top; this is how the pipeline recovers
// after a missed-update window.
type SnapshotReplace struct {
	Facet      Facet
	Trades     []domain.TradeRecord
	Positions  []domain.PositionRecord
	Executions []domain.NodeExecutionRecord
	Timestamp  int64
}

func (e Tick) When() int64            { return e.Timestamp }
func (e TradeUpsert) When() int64     { return e.Timestamp }
func (e PositionUpsert) When() int64  { return e.Timestamp }
func (e NodeExecution) When() int64   { return e.Record.Timestamp }
func (e SummaryReplace) When() int64  { return e.Timestamp }
func (e StatusChange) When() int64    { return e.Timestamp }
func (e SnapshotReplace) When() int64 { return e.Timestamp }

func (Tick) isEvent()            {}
func (TradeUpsert) isEvent()     {}
func (PositionUpsert) isEvent()  {}
func (NodeExecution) isEvent()   {}
func (SummaryReplace) isEvent()  {}
func (StatusChange) isEvent()    {}
func (SnapshotReplace) isEvent() {}

// TypeName returns a stable short name for an event, used for metrics labels
// and publish envelopes.
func TypeName(ev Event) string {
	switch ev.(type) {
	case Tick:
		return "tick"
	case TradeUpsert:
		return "trade"
	case PositionUpsert:
		return "position"
	case NodeExecution:
		return "node_execution"
	case SummaryReplace:
		return "summary"
	case StatusChange:
		return "status"
	case SnapshotReplace:
		return "snapshot"
	default:
		return "unknown"
	}
}
