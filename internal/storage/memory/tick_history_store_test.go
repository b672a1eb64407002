package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

func tickPoint(sessionID, symbol string, ts int64) *domain.TickPoint {
	return &domain.TickPoint{
		SessionID: sessionID,
		Symbol:    symbol,
		Price:     decimal.NewFromInt(100),
		Timestamp: ts,
	}
}

func TestTickHistoryStore_InsertBulkAndGet(t *testing.T) {
	store := NewTickHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.TickPoint{
		tickPoint("sess1", "BTCUSDT", 300),
		tickPoint("sess1", "BTCUSDT", 100),
		tickPoint("sess2", "ETHUSDT", 200),
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetBySessionID(ctx, "sess1")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(got))
	}
	if got[0].Timestamp != 100 || got[1].Timestamp != 300 {
		t.Errorf("Points not ordered by timestamp: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestTickHistoryStore_EmptyBulkIsNoop(t *testing.T) {
	store := NewTickHistoryStore()
	if err := store.InsertBulk(context.Background(), nil); err != nil {
		t.Fatalf("Empty InsertBulk failed: %v", err)
	}
}

func TestTickHistoryStore_InvalidInput(t *testing.T) {
	store := NewTickHistoryStore()

	err := store.InsertBulk(context.Background(), []*domain.TickPoint{{Symbol: "BTCUSDT"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestTickHistoryStore_GetByTimeRange(t *testing.T) {
	store := NewTickHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.TickPoint{
		tickPoint("sess1", "BTCUSDT", 100),
		tickPoint("sess1", "BTCUSDT", 200),
		tickPoint("sess1", "BTCUSDT", 300),
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, "sess1", 150, 300)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(got))
	}
}
