// Package reconcile implements the pure merge function that folds canonical
// events into session state. Reduce never mutates its input; it returns a new
// state value with only the touched facet copied.
//
// The merge rules are chosen so that Reduce is idempotent (applying the same
// event twice equals applying it once) and order-convergent across
// transports: within one transport events apply in arrival order, across
// transports no order is guaranteed, and the final state is the same either
// way. That property is what lets the socket, the event stream and the
// staleness refetch all feed one pipeline without cross-transport sequencing.
package reconcile

import (
	"tradewatch/internal/domain"
	"tradewatch/internal/event"
)

// Reduce applies one canonical event and returns the next state.
func Reduce(s domain.SessionState, ev event.Event) domain.SessionState {
	switch e := ev.(type) {
	case event.Tick:
		s = applyTick(s, e)
	case event.TradeUpsert:
		s = applyTrade(s, e)
	case event.PositionUpsert:
		s = applyPosition(s, e)
	case event.NodeExecution:
		s = applyNodeExecution(s, e)
	case event.SummaryReplace:
		s.Summary = e.Summary
	case event.StatusChange:
		s = applyStatus(s, e)
	case event.SnapshotReplace:
		s = applySnapshot(s, e)
	}

	if ts := ev.When(); ts > s.LastEventTimestamp {
		s.LastEventTimestamp = ts
	}
	return s
}

// applyTick is last-value-wins per instrument key.
func applyTick(s domain.SessionState, e event.Tick) domain.SessionState {
	ticks := make(map[string]domain.Tick, len(s.TickPrices)+1)
	for k, v := range s.TickPrices {
		ticks[k] = v
	}
	ticks[e.Symbol] = domain.Tick{Symbol: e.Symbol, Price: e.Price, Timestamp: e.Timestamp}
	s.TickPrices = ticks
	return s
}

// applyTrade upserts by composite identity. A redelivery with a known
// identity replaces the element in place; the set never grows on repeats.
func applyTrade(s domain.SessionState, e event.TradeUpsert) domain.SessionState {
	trades := make(map[domain.TradeKey]domain.TradeRecord, len(s.Trades)+1)
	for k, v := range s.Trades {
		trades[k] = v
	}
	trades[e.Trade.Key()] = e.Trade
	s.Trades = trades
	return s
}

// applyPosition upserts by position id. closed -> open is a stale delivery
// and is discarded; only the timestamp watermark advances.
func applyPosition(s domain.SessionState, e event.PositionUpsert) domain.SessionState {
	if prev, ok := s.Positions[e.Position.PositionID]; ok {
		if prev.Status == domain.PositionClosed && e.Position.Status == domain.PositionOpen {
			return s
		}
	}

	positions := make(map[string]domain.PositionRecord, len(s.Positions)+1)
	for k, v := range s.Positions {
		positions[k] = v
	}
	positions[e.Position.PositionID] = e.Position
	s.Positions = positions
	return s
}

// applyNodeExecution inserts the record only if absent (executions are
// historical facts, never overwritten) and advances the per-node projection.
func applyNodeExecution(s domain.SessionState, e event.NodeExecution) domain.SessionState {
	r := e.Record

	if _, exists := s.NodeExecutions[r.ExecutionID]; !exists {
		execs := make(map[string]domain.NodeExecutionRecord, len(s.NodeExecutions)+1)
		for k, v := range s.NodeExecutions {
			execs[k] = v
		}
		execs[r.ExecutionID] = r
		s.NodeExecutions = execs
	}

	s.NodeProjection = projectExecution(s.NodeProjection, r)
	return s
}

// projectExecution is last-write-wins by timestamp per node id. Equal
// timestamps break ties on execution id so replay order cannot flip the
// projection.
func projectExecution(proj map[string]domain.NodeProjectionEntry, r domain.NodeExecutionRecord) map[string]domain.NodeProjectionEntry {
	if r.NodeID == "" {
		return proj
	}
	if cur, ok := proj[r.NodeID]; ok {
		if r.Timestamp < cur.Timestamp {
			return proj
		}
		if r.Timestamp == cur.Timestamp && r.ExecutionID <= cur.ExecutionID {
			return proj
		}
	}

	next := make(map[string]domain.NodeProjectionEntry, len(proj)+1)
	for k, v := range proj {
		next[k] = v
	}
	next[r.NodeID] = domain.NodeProjectionEntry{ExecutionID: r.ExecutionID, Timestamp: r.Timestamp}
	return next
}

// applyStatus moves the session lifecycle forward. completed and failed are
// terminal; a stale running delivered after completion is ignored.
func applyStatus(s domain.SessionState, e event.StatusChange) domain.SessionState {
	if s.Status == domain.SessionCompleted || s.Status == domain.SessionFailed {
		return s
	}
	s.Status = e.Status
	return s
}

// applySnapshot wholesale-replaces one facet. Trades and positions are
// rebuilt from the snapshot; node executions keep their append-only history
// (snapshot records are union-inserted) while the projection is rebuilt.
func applySnapshot(s domain.SessionState, e event.SnapshotReplace) domain.SessionState {
	switch e.Facet {
	case event.FacetTrades:
		trades := make(map[domain.TradeKey]domain.TradeRecord, len(e.Trades))
		for _, t := range e.Trades {
			trades[t.Key()] = t
		}
		s.Trades = trades

	case event.FacetPositions:
		positions := make(map[string]domain.PositionRecord, len(e.Positions))
		for _, p := range e.Positions {
			positions[p.PositionID] = p
		}
		s.Positions = positions

	case event.FacetNodes:
		execs := make(map[string]domain.NodeExecutionRecord, len(s.NodeExecutions)+len(e.Executions))
		for k, v := range s.NodeExecutions {
			execs[k] = v
		}
		proj := make(map[string]domain.NodeProjectionEntry, len(e.Executions))
		for _, r := range e.Executions {
			if _, exists := execs[r.ExecutionID]; !exists {
				execs[r.ExecutionID] = r
			}
			proj = projectExecution(proj, r)
		}
		s.NodeExecutions = execs
		s.NodeProjection = proj
	}
	return s
}
