package state

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
	"tradewatch/internal/event"
)

func TestStore_SubscribeSeesStateToDate(t *testing.T) {
	s := New("sess1", nil)
	s.Apply(event.TradeUpsert{
		Trade:     domain.TradeRecord{TradeID: "T1", EntryTime: 100},
		Timestamp: 100,
	})

	var got domain.SessionState
	calls := 0
	s.Subscribe(func(st domain.SessionState) {
		got = st
		calls++
	})

	if calls != 1 {
		t.Fatalf("expected immediate callback, got %d calls", calls)
	}
	if len(got.Trades) != 1 {
		t.Errorf("late subscriber missed merged state: %d trades", len(got.Trades))
	}
}

func TestStore_ApplyNotifiesInOrder(t *testing.T) {
	s := New("sess1", nil)

	var watermarks []int64
	s.Subscribe(func(st domain.SessionState) {
		watermarks = append(watermarks, st.LastEventTimestamp)
	})

	s.Apply(event.Tick{Symbol: "A", Price: decimal.NewFromInt(1), Timestamp: 10})
	s.Apply(event.Tick{Symbol: "A", Price: decimal.NewFromInt(2), Timestamp: 20})

	want := []int64{0, 10, 20}
	if len(watermarks) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(watermarks))
	}
	for i, w := range want {
		if watermarks[i] != w {
			t.Errorf("notification %d watermark = %d, want %d", i, watermarks[i], w)
		}
	}
}

func TestStore_Unsubscribe(t *testing.T) {
	s := New("sess1", nil)

	calls := 0
	unsub := s.Subscribe(func(domain.SessionState) { calls++ })
	unsub()
	s.Apply(event.Tick{Symbol: "A", Price: decimal.NewFromInt(1), Timestamp: 10})

	if calls != 1 {
		t.Errorf("unsubscribed callback invoked, calls = %d", calls)
	}
	if s.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", s.SubscriberCount())
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := New("sess1", nil)
	s.Apply(event.Tick{Symbol: "A", Price: decimal.NewFromInt(1), Timestamp: 10})

	snap := s.Snapshot()
	snap.TickPrices["B"] = domain.Tick{Symbol: "B"}

	if len(s.Snapshot().TickPrices) != 1 {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestStore_PrimeOnlyBeforeEvents(t *testing.T) {
	cached := domain.NewSessionState("sess1")
	cached.Trades[domain.TradeKey{TradeID: "T1"}] = domain.TradeRecord{TradeID: "T1"}
	cached.LastEventTimestamp = 500

	s := New("sess1", nil)
	s.Prime(cached)
	if len(s.Snapshot().Trades) != 1 {
		t.Fatal("prime on a fresh store must take effect")
	}

	// Once live data arrived, priming is a no-op.
	s2 := New("sess1", nil)
	s2.Apply(event.Tick{Symbol: "A", Price: decimal.NewFromInt(1), Timestamp: 10})
	s2.Prime(cached)
	if len(s2.Snapshot().Trades) != 0 {
		t.Error("prime overwrote live state")
	}
}

func TestStore_PrimeRejectsWrongSession(t *testing.T) {
	cached := domain.NewSessionState("other")
	cached.LastEventTimestamp = 500

	s := New("sess1", nil)
	s.Prime(cached)

	if s.Snapshot().LastEventTimestamp != 0 {
		t.Error("prime accepted a state from a different session")
	}
}

func TestStore_ResetNotifiesEmptyState(t *testing.T) {
	s := New("sess1", nil)
	s.Apply(event.TradeUpsert{Trade: domain.TradeRecord{TradeID: "T1"}, Timestamp: 100})

	var last domain.SessionState
	s.Subscribe(func(st domain.SessionState) { last = st })

	s.Reset("sess2")

	if last.SessionID != "sess2" || len(last.Trades) != 0 {
		t.Errorf("reset state not observed: id=%q trades=%d", last.SessionID, len(last.Trades))
	}
}
