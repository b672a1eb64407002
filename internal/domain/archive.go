package domain

import "github.com/shopspring/decimal"

// ArchivedSession is the durable record written once a watched session
// reaches a terminal status. The full final state is preserved as JSON next
// to the queryable summary columns.
type ArchivedSession struct {
	SessionID   string          `json:"session_id"`
	Status      SessionStatus   `json:"status"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	WinRate     float64         `json:"win_rate"`
	TotalTrades int             `json:"total_trades"`
	CompletedAt int64           `json:"completed_at"`
	FinalState  []byte          `json:"final_state"`
}

// TickPoint is one historical tick row for the tick history store.
type TickPoint struct {
	SessionID string          `json:"session_id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}
