package event

import (
	"encoding/json"

	"go.uber.org/zap"

	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
	"tradewatch/internal/transport"
)

// Frame and event names understood by the normalizer.
const (
	frameTick          = "tick"
	frameTrade         = "trade"
	framePosition      = "position"
	frameNodeExecution = "node_execution"
	frameStatus        = "status"
	frameInitialState  = "initial_state"
	frameTradeUpdate   = "trade_update"
	frameNodeEvents    = "node_events"
	frameComplete      = "session_complete"
)

// Normalizer converts raw transport frames into canonical events. It is
// deliberately forgiving: missing optional fields default, malformed
// sub-records are dropped and logged, and only a fully undecodable frame
// produces zero events. It never fails the pipeline.
type Normalizer struct {
	log *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{log: log}
}

// Normalize produces zero or more canonical events from one frame. No
// cross-transport ordering is assumed; snapshot frames are tagged as
// SnapshotReplace so the reconciler can tell them apart from increments.
func (n *Normalizer) Normalize(f transport.Frame) []Event {
	observability.RecordFrame(string(f.Kind))

	switch f.Name {
	case frameTick:
		return n.tick(f)
	case frameTrade:
		return n.trade(f)
	case framePosition:
		return n.position(f)
	case frameNodeExecution:
		return n.nodeExecution(f)
	case frameStatus:
		return n.status(f)
	case frameInitialState:
		return n.snapshot(f)
	case frameTradeUpdate:
		return n.tradeUpdate(f)
	case frameNodeEvents:
		return n.nodeEvents(f)
	case frameComplete:
		return n.complete(f)
	case transport.PollSnapshotFrame:
		return n.pollSnapshot(f)
	default:
		n.log.Debug("ignoring unknown frame",
			zap.String("transport", string(f.Kind)),
			zap.String("name", f.Name))
		return nil
	}
}

func (n *Normalizer) drop(f transport.Frame, reason string, err error) []Event {
	observability.RecordProtocolError(string(f.Kind), reason)
	n.log.Warn("dropping malformed frame",
		zap.String("transport", string(f.Kind)),
		zap.String("name", f.Name),
		zap.String("reason", reason),
		zap.Error(err))
	return nil
}

func (n *Normalizer) emit(events []Event) []Event {
	for _, ev := range events {
		observability.RecordEventNormalized(TypeName(ev))
	}
	return events
}

func (n *Normalizer) tick(f transport.Frame) []Event {
	var w wireTick
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_tick", err)
	}
	if w.Symbol == "" {
		return n.drop(f, "tick_missing_symbol", nil)
	}
	return n.emit([]Event{Tick{Symbol: w.Symbol, Price: w.Price, Timestamp: w.Timestamp}})
}

func (n *Normalizer) trade(f transport.Frame) []Event {
	var w wireTrade
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_trade", err)
	}
	t, ok := w.record()
	if !ok {
		return n.drop(f, "trade_missing_id", nil)
	}
	return n.emit([]Event{TradeUpsert{Trade: t, Timestamp: w.eventTime()}})
}

func (n *Normalizer) position(f transport.Frame) []Event {
	var w wirePosition
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_position", err)
	}
	p, ok := w.record()
	if !ok {
		return n.drop(f, "position_missing_id", nil)
	}
	return n.emit([]Event{PositionUpsert{Position: p, Timestamp: w.Timestamp}})
}

func (n *Normalizer) nodeExecution(f transport.Frame) []Event {
	var w wireNodeExecution
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_node_execution", err)
	}
	r, ok := w.record()
	if !ok {
		return n.drop(f, "execution_missing_id", nil)
	}
	return n.emit([]Event{NodeExecution{Record: r}})
}

func (n *Normalizer) status(f transport.Frame) []Event {
	var w wireStatus
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_status", err)
	}
	if w.Status == "" {
		return n.drop(f, "status_missing_value", nil)
	}
	return n.emit([]Event{StatusChange{Status: domain.SessionStatus(w.Status), Timestamp: w.Timestamp}})
}

// snapshot handles both the socket's initial snapshot message and the
// stream's initial_state event; the payload shape is shared.
func (n *Normalizer) snapshot(f transport.Frame) []Event {
	var w wireSnapshot
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_snapshot", err)
	}
	return n.emit(n.snapshotEvents(f, &w))
}

func (n *Normalizer) tradeUpdate(f transport.Frame) []Event {
	var w wireTradeUpdate
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_trade_update", err)
	}

	events := make([]Event, 0, 2)
	if w.Trade != nil {
		if t, ok := w.Trade.record(); ok {
			events = append(events, TradeUpsert{Trade: t, Timestamp: w.Trade.eventTime()})
		} else {
			observability.RecordProtocolError(string(f.Kind), "trade_missing_id")
			n.log.Warn("dropping malformed trade in trade_update")
		}
	}
	if w.Summary != nil {
		events = append(events, SummaryReplace{Summary: w.Summary.record(), Timestamp: w.Timestamp})
	}
	return n.emit(events)
}

// nodeEvents decodes the stream's execution_id -> record map. Malformed
// entries are dropped individually, not as a batch.
func (n *Normalizer) nodeEvents(f transport.Frame) []Event {
	var w map[string]wireNodeExecution
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_node_events", err)
	}

	events := make([]Event, 0, len(w))
	for executionID, we := range w {
		if we.ExecutionID == "" {
			we.ExecutionID = executionID
		}
		r, ok := we.record()
		if !ok {
			observability.RecordProtocolError(string(f.Kind), "execution_missing_id")
			n.log.Warn("dropping malformed node execution", zap.String("key", executionID))
			continue
		}
		events = append(events, NodeExecution{Record: r})
	}
	return n.emit(events)
}

func (n *Normalizer) complete(f transport.Frame) []Event {
	var w wireStatus
	// session_complete may carry an empty body; that is not an error.
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &w); err != nil {
			n.log.Debug("ignoring undecodable session_complete body", zap.Error(err))
		}
	}
	return n.emit([]Event{StatusChange{Status: domain.SessionCompleted, Timestamp: w.Timestamp}})
}

// pollSnapshot decodes the {found, trades, diagnostics} poll response.
func (n *Normalizer) pollSnapshot(f transport.Frame) []Event {
	var w wirePollSnapshot
	if err := json.Unmarshal(f.Payload, &w); err != nil {
		return n.drop(f, "decode_poll_snapshot", err)
	}
	if !w.Found {
		n.log.Debug("poll snapshot: session not found")
		return nil
	}

	snap := wireSnapshot{Trades: w.Trades, Timestamp: w.Timestamp}
	if w.Diagnostics != nil {
		snap.Executions = w.Diagnostics.Executions
		snap.Positions = w.Diagnostics.Positions
		snap.Summary = w.Diagnostics.Summary
	}
	return n.emit(n.snapshotEvents(f, &snap))
}

// snapshotEvents builds per-facet SnapshotReplace events plus any summary or
// status riding along. Only facets present in the payload are replaced; a
// snapshot that omits positions must not wipe them.
func (n *Normalizer) snapshotEvents(f transport.Frame, w *wireSnapshot) []Event {
	var events []Event

	if w.Trades != nil {
		trades := make([]domain.TradeRecord, 0, len(w.Trades))
		for i, wt := range w.Trades {
			t, ok := wt.record()
			if !ok {
				observability.RecordProtocolError(string(f.Kind), "trade_missing_id")
				n.log.Warn("dropping malformed trade in snapshot", zap.Int("index", i))
				continue
			}
			trades = append(trades, t)
		}
		events = append(events, SnapshotReplace{Facet: FacetTrades, Trades: trades, Timestamp: w.Timestamp})
	}

	if w.Positions != nil {
		positions := make([]domain.PositionRecord, 0, len(w.Positions))
		for i, wp := range w.Positions {
			p, ok := wp.record()
			if !ok {
				observability.RecordProtocolError(string(f.Kind), "position_missing_id")
				n.log.Warn("dropping malformed position in snapshot", zap.Int("index", i))
				continue
			}
			positions = append(positions, p)
		}
		events = append(events, SnapshotReplace{Facet: FacetPositions, Positions: positions, Timestamp: w.Timestamp})
	}

	if w.Executions != nil {
		executions := make([]domain.NodeExecutionRecord, 0, len(w.Executions))
		for i, we := range w.Executions {
			r, ok := we.record()
			if !ok {
				observability.RecordProtocolError(string(f.Kind), "execution_missing_id")
				n.log.Warn("dropping malformed execution in snapshot", zap.Int("index", i))
				continue
			}
			executions = append(executions, r)
		}
		events = append(events, SnapshotReplace{Facet: FacetNodes, Executions: executions, Timestamp: w.Timestamp})
	}

	if w.Summary != nil {
		events = append(events, SummaryReplace{Summary: w.Summary.record(), Timestamp: w.Timestamp})
	}
	if w.Status != "" {
		events = append(events, StatusChange{Status: domain.SessionStatus(w.Status), Timestamp: w.Timestamp})
	}
	return events
}
