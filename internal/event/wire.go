package event

import (
	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
)

// Wire payload shapes shared by the three transports. All fields are
// optional on the wire; absent values default to their zero value so one
// missing field never fails a whole frame.

type wireTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

type wireTrade struct {
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

// record validates and converts to the domain type. A trade without an id
// has no identity and is unusable.
func (w *wireTrade) record() (domain.TradeRecord, bool) {
	if w.TradeID == "" {
		return domain.TradeRecord{}, false
	}
	return domain.TradeRecord{
		TradeID:    w.TradeID,
		ReEntryNum: w.ReEntryNum,
		Symbol:     w.Symbol,
		Side:       w.Side,
		Quantity:   w.Quantity,
		EntryPrice: w.EntryPrice,
		EntryTime:  w.EntryTime,
		ExitPrice:  w.ExitPrice,
		ExitTime:   w.ExitTime,
		PnL:        w.PnL,
		Status:     w.Status,
	}, true
}

// eventTime picks the best available timestamp for a trade delivery.
func (w *wireTrade) eventTime() int64 {
	if w.ExitTime > 0 {
		return w.ExitTime
	}
	return w.EntryTime
}

type wirePosition struct {
	PositionID   string          `json:"position_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
	Status       string          `json:"status"`
	Timestamp    int64           `json:"timestamp"`
}

func (w *wirePosition) record() (domain.PositionRecord, bool) {
	if w.PositionID == "" {
		return domain.PositionRecord{}, false
	}
	status := w.Status
	if status == "" {
		status = domain.PositionOpen
	}
	return domain.PositionRecord{
		PositionID:   w.PositionID,
		Symbol:       w.Symbol,
		Side:         w.Side,
		Quantity:     w.Quantity,
		EntryPrice:   w.EntryPrice,
		CurrentPrice: w.CurrentPrice,
		PnL:          w.PnL,
		Status:       status,
	}, true
}

type wireNodeExecution struct {
	ExecutionID   string `json:"execution_id"`
	NodeID        string `json:"node_id"`
	NodeType      string `json:"node_type"`
	Timestamp     int64  `json:"timestamp"`
	SignalEmitted bool   `json:"signal_emitted"`
}

func (w *wireNodeExecution) record() (domain.NodeExecutionRecord, bool) {
	if w.ExecutionID == "" {
		return domain.NodeExecutionRecord{}, false
	}
	return domain.NodeExecutionRecord{
		ExecutionID:   w.ExecutionID,
		NodeID:        w.NodeID,
		NodeType:      w.NodeType,
		Timestamp:     w.Timestamp,
		SignalEmitted: w.SignalEmitted,
	}, true
}

type wireSummary struct {
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	WinRate       float64         `json:"win_rate"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
}

func (w *wireSummary) record() domain.SummaryRecord {
	return domain.SummaryRecord{
		TotalPnL:      w.TotalPnL,
		WinRate:       w.WinRate,
		TotalTrades:   w.TotalTrades,
		WinningTrades: w.WinningTrades,
		LosingTrades:  w.LosingTrades,
	}
}

type wireStatus struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// wireSnapshot is the shared shape of the socket initial snapshot and the
// stream initial_state event. nil slices mean "facet absent", which must be
// distinguished from an empty facet.
type wireSnapshot struct {
	Trades     []wireTrade         `json:"trades"`
	Positions  []wirePosition      `json:"positions"`
	Executions []wireNodeExecution `json:"executions"`
	Summary    *wireSummary        `json:"summary"`
	Status     string              `json:"status"`
	Timestamp  int64               `json:"timestamp"`
}

type wireTradeUpdate struct {
	Trade     *wireTrade   `json:"trade"`
	Summary   *wireSummary `json:"summary"`
	Timestamp int64        `json:"timestamp"`
}

// wirePollSnapshot is the poll endpoint's {found, trades, diagnostics} body.
type wirePollSnapshot struct {
	Found       bool             `json:"found"`
	Trades      []wireTrade      `json:"trades"`
	Diagnostics *wireDiagnostics `json:"diagnostics"`
	Timestamp   int64            `json:"timestamp"`
}

type wireDiagnostics struct {
	Executions []wireNodeExecution `json:"executions"`
	Positions  []wirePosition      `json:"positions"`
	Summary    *wireSummary        `json:"summary"`
}
