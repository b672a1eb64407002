package memory

import (
	"context"
	"errors"
	"testing"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

func TestSessionArchive_InsertAndGet(t *testing.T) {
	store := NewSessionArchive()
	ctx := context.Background()

	err := store.Insert(ctx, &domain.ArchivedSession{
		SessionID:   "sess1",
		Status:      domain.SessionCompleted,
		TotalTrades: 3,
		CompletedAt: 1000,
		FinalState:  []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetBySessionID(ctx, "sess1")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if got.TotalTrades != 3 {
		t.Errorf("TotalTrades = %d, want 3", got.TotalTrades)
	}
}

func TestSessionArchive_DuplicateKey(t *testing.T) {
	store := NewSessionArchive()
	ctx := context.Background()

	rec := &domain.ArchivedSession{SessionID: "sess1", CompletedAt: 1000}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, rec)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSessionArchive_NotFound(t *testing.T) {
	store := NewSessionArchive()

	_, err := store.GetBySessionID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionArchive_InvalidInput(t *testing.T) {
	store := NewSessionArchive()

	err := store.Insert(context.Background(), &domain.ArchivedSession{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestSessionArchive_GetByTimeRange(t *testing.T) {
	store := NewSessionArchive()
	ctx := context.Background()

	for _, rec := range []*domain.ArchivedSession{
		{SessionID: "s1", CompletedAt: 100},
		{SessionID: "s2", CompletedAt: 200},
		{SessionID: "s3", CompletedAt: 300},
	} {
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByTimeRange(ctx, 100, 200)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(got))
	}
	if got[0].SessionID != "s1" || got[1].SessionID != "s2" {
		t.Errorf("Wrong order: %s, %s", got[0].SessionID, got[1].SessionID)
	}
}

func TestSessionArchive_ReturnsCopies(t *testing.T) {
	store := NewSessionArchive()
	ctx := context.Background()

	rec := &domain.ArchivedSession{SessionID: "sess1", TotalTrades: 1, CompletedAt: 100}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.GetBySessionID(ctx, "sess1")
	got.TotalTrades = 99

	again, _ := store.GetBySessionID(ctx, "sess1")
	if again.TotalTrades != 1 {
		t.Error("mutating a returned record leaked into the store")
	}
}
