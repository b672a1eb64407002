package domain

import "github.com/shopspring/decimal"

// Tick is the latest observed price for one instrument.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// TradeKey is the composite identity of an executed trade. A redelivery with
// the same key refines fields in place; it never grows the trade set.
type TradeKey struct {
	TradeID    string
	ReEntryNum int
	EntryTime  int64
	ExitTime   int64
}

// TradeRecord is one executed trade as reported by the remote session.
type TradeRecord struct {
	TradeID    string          `json:"trade_id"`
	ReEntryNum int             `json:"re_entry_num"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  int64           `json:"entry_time"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitTime   int64           `json:"exit_time"`
	PnL        decimal.Decimal `json:"pnl"`
	Status     string          `json:"status"`
}

// Key returns the composite identity of the trade.
func (t TradeRecord) Key() TradeKey {
	return TradeKey{
		TradeID:    t.TradeID,
		ReEntryNum: t.ReEntryNum,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
	}
}

// Position status values. Transitions open -> closed are accepted;
// closed -> open deliveries are stale and discarded.
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// PositionRecord is one open or closed position, keyed by position id.
type PositionRecord struct {
	PositionID   string          `json:"position_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
	Status       string          `json:"status"`
}

// NodeExecutionRecord is a single historical firing of a strategy decision
// node. It is identified by execution id and immutable once stored.
type NodeExecutionRecord struct {
	ExecutionID   string `json:"execution_id"`
	NodeID        string `json:"node_id"`
	NodeType      string `json:"node_type"`
	Timestamp     int64  `json:"timestamp"`
	SignalEmitted bool   `json:"signal_emitted"`
}

// NodeProjectionEntry is the derived "current status" of a decision node:
// the newest execution seen for that node id.
type NodeProjectionEntry struct {
	ExecutionID string `json:"execution_id"`
	Timestamp   int64  `json:"timestamp"`
}

// SummaryRecord holds the remote-computed aggregates. The remote system is
// authoritative for these numbers; they are never recomputed locally.
type SummaryRecord struct {
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	WinRate       float64         `json:"win_rate"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
}
