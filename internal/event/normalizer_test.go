package event

import (
	"testing"

	"tradewatch/internal/domain"
	"tradewatch/internal/transport"
)

func frame(name, payload string) transport.Frame {
	return transport.Frame{Kind: transport.KindSocket, Name: name, Payload: []byte(payload)}
}

func TestNormalize_Tick(t *testing.T) {
	n := NewNormalizer(nil)
	events := n.Normalize(frame("tick", `{"symbol":"BTCUSDT","price":"50000.5","timestamp":123}`))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	tick, ok := events[0].(Tick)
	if !ok {
		t.Fatalf("expected Tick, got %T", events[0])
	}
	if tick.Symbol != "BTCUSDT" || tick.Timestamp != 123 {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestNormalize_TradeMissingIDDropped(t *testing.T) {
	n := NewNormalizer(nil)
	events := n.Normalize(frame("trade", `{"symbol":"BTCUSDT","pnl":"10"}`))

	if len(events) != 0 {
		t.Fatalf("trade without id must be dropped, got %d events", len(events))
	}
}

func TestNormalize_MalformedPayloadDropped(t *testing.T) {
	n := NewNormalizer(nil)
	events := n.Normalize(frame("trade", `{not json`))

	if len(events) != 0 {
		t.Fatalf("malformed payload must produce no events, got %d", len(events))
	}
}

func TestNormalize_UnknownFrameIgnored(t *testing.T) {
	n := NewNormalizer(nil)
	if events := n.Normalize(frame("mystery", `{}`)); events != nil {
		t.Fatalf("unknown frame must be ignored, got %v", events)
	}
}

func TestNormalize_InitialStateFacets(t *testing.T) {
	n := NewNormalizer(nil)
	payload := `{
		"trades": [{"trade_id":"T1","entry_time":100}],
		"positions": [],
		"summary": {"total_trades": 1},
		"status": "running",
		"timestamp": 500
	}`
	events := n.Normalize(frame("initial_state", payload))

	var trades, positions, nodes, summaries, statuses int
	for _, ev := range events {
		switch e := ev.(type) {
		case SnapshotReplace:
			switch e.Facet {
			case FacetTrades:
				trades++
				if len(e.Trades) != 1 {
					t.Errorf("expected 1 trade in snapshot, got %d", len(e.Trades))
				}
			case FacetPositions:
				positions++
				if len(e.Positions) != 0 {
					t.Errorf("expected empty positions facet, got %d", len(e.Positions))
				}
			case FacetNodes:
				nodes++
			}
		case SummaryReplace:
			summaries++
		case StatusChange:
			statuses++
			if e.Status != domain.SessionRunning {
				t.Errorf("status = %q, want running", e.Status)
			}
		}
	}

	if trades != 1 || positions != 1 || summaries != 1 || statuses != 1 {
		t.Errorf("facet events: trades=%d positions=%d summaries=%d statuses=%d", trades, positions, summaries, statuses)
	}
	// The payload had no executions key, so the nodes facet must be absent.
	if nodes != 0 {
		t.Errorf("absent executions key produced a nodes snapshot")
	}
}

func TestNormalize_TradeUpdateCarriesSummary(t *testing.T) {
	n := NewNormalizer(nil)
	payload := `{
		"trade": {"trade_id":"T1","exit_time":200,"pnl":"15"},
		"summary": {"total_pnl":"15","total_trades":1},
		"timestamp": 200
	}`
	events := n.Normalize(frame("trade_update", payload))

	if len(events) != 2 {
		t.Fatalf("expected trade + summary, got %d events", len(events))
	}
	if _, ok := events[0].(TradeUpsert); !ok {
		t.Errorf("first event %T, want TradeUpsert", events[0])
	}
	if _, ok := events[1].(SummaryReplace); !ok {
		t.Errorf("second event %T, want SummaryReplace", events[1])
	}
}

func TestNormalize_NodeEventsMap(t *testing.T) {
	n := NewNormalizer(nil)
	payload := `{
		"E1": {"node_id":"N1","timestamp":100},
		"E2": {"execution_id":"E2","node_id":"N2","timestamp":200}
	}`
	events := n.Normalize(frame("node_events", payload))

	if len(events) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(events))
	}
	for _, ev := range events {
		rec := ev.(NodeExecution).Record
		// The map key backfills a missing execution_id field.
		if rec.ExecutionID == "" {
			t.Errorf("execution id not backfilled: %+v", rec)
		}
	}
}

func TestNormalize_SessionCompleteEmptyBody(t *testing.T) {
	n := NewNormalizer(nil)
	events := n.Normalize(frame("session_complete", ""))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	sc, ok := events[0].(StatusChange)
	if !ok || sc.Status != domain.SessionCompleted {
		t.Errorf("expected completed status, got %+v", events[0])
	}
}

func TestNormalize_PollSnapshotNotFound(t *testing.T) {
	n := NewNormalizer(nil)
	f := transport.Frame{Kind: transport.KindPoll, Name: transport.PollSnapshotFrame, Payload: []byte(`{"found":false}`)}

	if events := n.Normalize(f); len(events) != 0 {
		t.Fatalf("not-found snapshot must produce no events, got %d", len(events))
	}
}

func TestNormalize_PollSnapshotDiagnostics(t *testing.T) {
	n := NewNormalizer(nil)
	payload := `{
		"found": true,
		"trades": [{"trade_id":"T1"}],
		"diagnostics": {
			"executions": [{"execution_id":"E1","node_id":"N1","timestamp":10}],
			"positions": [{"position_id":"P1"}],
			"summary": {"total_trades":1}
		},
		"timestamp": 300
	}`
	f := transport.Frame{Kind: transport.KindPoll, Name: transport.PollSnapshotFrame, Payload: []byte(payload)}
	events := n.Normalize(f)

	facets := make(map[Facet]bool)
	var summary bool
	for _, ev := range events {
		switch e := ev.(type) {
		case SnapshotReplace:
			facets[e.Facet] = true
		case SummaryReplace:
			summary = true
		}
	}
	if !facets[FacetTrades] || !facets[FacetPositions] || !facets[FacetNodes] || !summary {
		t.Errorf("missing facets: %v summary=%v", facets, summary)
	}
}

func TestNormalize_SnapshotSkipsMalformedEntries(t *testing.T) {
	n := NewNormalizer(nil)
	payload := `{"trades":[{"trade_id":"T1"},{"symbol":"no-id"}]}`
	events := n.Normalize(frame("initial_state", payload))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	snap := events[0].(SnapshotReplace)
	if len(snap.Trades) != 1 {
		t.Errorf("malformed entry must be skipped individually, got %d trades", len(snap.Trades))
	}
}
