package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/event"
	"tradewatch/internal/transport"
)

// scriptedConn replays frames, then blocks until closed.
type scriptedConn struct {
	frames chan transport.Frame
	once   sync.Once
	closed chan struct{}
}

func (c *scriptedConn) Recv() (transport.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return transport.Frame{}, transport.ErrStreamClosed
	}
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type scriptedTransport struct {
	mu     sync.Mutex
	frames []transport.Frame
	dials  int
}

func (t *scriptedTransport) Kind() transport.Kind { return transport.KindSocket }

func (t *scriptedTransport) Dial(ctx context.Context, sessionID string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	ch := make(chan transport.Frame, len(t.frames))
	for _, f := range t.frames {
		ch <- f
	}
	return &scriptedConn{frames: ch, closed: make(chan struct{})}, nil
}

func socketFrame(name, payload string) transport.Frame {
	return transport.Frame{Kind: transport.KindSocket, Name: name, Payload: []byte(payload)}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestEngine_SessionLifecycle drives a full session: initial snapshot, one
// trade refinement with a summary, then completion.
func TestEngine_SessionLifecycle(t *testing.T) {
	tr := &scriptedTransport{frames: []transport.Frame{
		socketFrame("initial_state", `{
			"trades": [{"trade_id":"T1","entry_time":100,"status":"open"}],
			"positions": [{"position_id":"P1","status":"open"}],
			"timestamp": 100
		}`),
		socketFrame("trade_update", `{
			"trade": {"trade_id":"T1","entry_time":100,"pnl":"25","status":"closed"},
			"summary": {"total_pnl":"25","total_trades":1,"winning_trades":1},
			"timestamp": 200
		}`),
		socketFrame("session_complete", `{"timestamp":300}`),
	}}

	eng := New(Options{Candidates: []transport.Transport{tr}})
	defer eng.Close()

	var mu sync.Mutex
	var last domain.SessionState
	unsub := eng.Subscribe("sess1", func(st domain.SessionState) {
		mu.Lock()
		last = st
		mu.Unlock()
	})
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Status == domain.SessionCompleted
	}, "session never completed")

	mu.Lock()
	defer mu.Unlock()

	if len(last.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(last.Trades))
	}
	for _, trade := range last.Trades {
		if trade.Status != "closed" {
			t.Errorf("trade status = %q, want closed", trade.Status)
		}
	}
	if len(last.Positions) != 1 {
		t.Errorf("positions = %d, want 1", len(last.Positions))
	}
	if last.Summary.TotalTrades != 1 {
		t.Errorf("summary trades = %d, want 1", last.Summary.TotalTrades)
	}
	if last.LastEventTimestamp != 300 {
		t.Errorf("watermark = %d, want 300", last.LastEventTimestamp)
	}
}

// TestEngine_DuplicateDeliveryConverges sends the same trade over two frames
// and requires a single trade in the final state.
func TestEngine_DuplicateDeliveryConverges(t *testing.T) {
	tradeJSON := `{"trade_id":"T1","entry_time":100,"pnl":"10"}`
	tr := &scriptedTransport{frames: []transport.Frame{
		socketFrame("trade", tradeJSON),
		socketFrame("trade", tradeJSON),
		socketFrame("status", `{"status":"running","timestamp":150}`),
	}}

	eng := New(Options{Candidates: []transport.Transport{tr}})
	defer eng.Close()

	var mu sync.Mutex
	var last domain.SessionState
	unsub := eng.Subscribe("sess1", func(st domain.SessionState) {
		mu.Lock()
		last = st
		mu.Unlock()
	})
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Status == domain.SessionRunning
	}, "status never arrived")

	mu.Lock()
	defer mu.Unlock()
	if len(last.Trades) != 1 {
		t.Errorf("duplicate delivery grew the trade set: %d", len(last.Trades))
	}
}

func TestEngine_SnapshotUnknownSessionIsEmpty(t *testing.T) {
	eng := New(Options{Candidates: []transport.Transport{&scriptedTransport{}}})
	defer eng.Close()

	st := eng.Snapshot("ghost")
	if st.SessionID != "ghost" {
		t.Errorf("session id = %q", st.SessionID)
	}
	if len(st.Trades) != 0 || st.Status != domain.SessionIdle {
		t.Errorf("expected empty initialized state, got %+v", st)
	}
}

func TestEngine_LastUnsubscribeDiscardsSession(t *testing.T) {
	tr := &scriptedTransport{frames: []transport.Frame{
		socketFrame("trade", `{"trade_id":"T1","entry_time":100}`),
	}}

	eng := New(Options{Candidates: []transport.Transport{tr}})
	defer eng.Close()

	gotTrade := make(chan struct{}, 1)
	unsub := eng.Subscribe("sess1", func(st domain.SessionState) {
		if len(st.Trades) > 0 {
			select {
			case gotTrade <- struct{}{}:
			default:
			}
		}
	})

	select {
	case <-gotTrade:
	case <-time.After(2 * time.Second):
		t.Fatal("trade never applied")
	}

	unsub()

	// State does not leak into a later subscription under the same id.
	st := eng.Snapshot("sess1")
	if len(st.Trades) != 0 {
		t.Errorf("discarded session retained %d trades", len(st.Trades))
	}
}

func TestEngine_SetEnabledStopsAndRestarts(t *testing.T) {
	tr := &scriptedTransport{frames: []transport.Frame{
		socketFrame("status", `{"status":"running","timestamp":10}`),
	}}

	eng := New(Options{Candidates: []transport.Transport{tr}})
	defer eng.Close()

	unsub := eng.Subscribe("sess1", func(domain.SessionState) {})
	defer unsub()

	waitFor(t, func() bool {
		return eng.ConnectionStatus("sess1") == domain.ConnConnected
	}, "never connected")

	eng.SetEnabled("sess1", false)
	if got := eng.ConnectionStatus("sess1"); got != domain.ConnDisconnected {
		t.Errorf("status after disable = %q, want disconnected", got)
	}

	// State survives the disable.
	if eng.Snapshot("sess1").Status != domain.SessionRunning {
		t.Error("state lost across disable")
	}

	eng.SetEnabled("sess1", true)
	waitFor(t, func() bool {
		return eng.ConnectionStatus("sess1") == domain.ConnConnected
	}, "never reconnected after enable")

	tr.mu.Lock()
	dials := tr.dials
	tr.mu.Unlock()
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
}

// slowCloseConn holds Close open until released, simulating a teardown that
// takes a while to drain.
type slowCloseConn struct {
	recvClosed   chan struct{}
	closeStarted chan struct{}
	release      chan struct{}
	once         sync.Once
}

func newSlowCloseConn() *slowCloseConn {
	return &slowCloseConn{
		recvClosed:   make(chan struct{}),
		closeStarted: make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (c *slowCloseConn) Recv() (transport.Frame, error) {
	<-c.recvClosed
	return transport.Frame{}, transport.ErrStreamClosed
}

func (c *slowCloseConn) Close() error {
	c.once.Do(func() {
		close(c.closeStarted)
		<-c.release
		close(c.recvClosed)
	})
	return nil
}

// slowCloseTransport hands out one slow-closing connection first and plain
// blocking connections afterwards.
type slowCloseTransport struct {
	mu    sync.Mutex
	dials int
	first *slowCloseConn
}

func (t *slowCloseTransport) Kind() transport.Kind { return transport.KindSocket }

func (t *slowCloseTransport) Dial(ctx context.Context, sessionID string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dials == 1 {
		t.first = newSlowCloseConn()
		return t.first, nil
	}
	return &scriptedConn{frames: make(chan transport.Frame), closed: make(chan struct{})}, nil
}

func (t *slowCloseTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *slowCloseTransport) firstConn() *slowCloseConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.first
}

// TestEngine_ReenableDuringSlowDisable re-enables a session while the
// previous pipeline is still draining its stop. The fresh pipeline's
// connected status must survive the tail of the slow disable.
func TestEngine_ReenableDuringSlowDisable(t *testing.T) {
	tr := &slowCloseTransport{}
	eng := New(Options{Candidates: []transport.Transport{tr}})
	defer eng.Close()

	unsub := eng.Subscribe("sess1", func(domain.SessionState) {})
	defer unsub()

	waitFor(t, func() bool {
		return eng.ConnectionStatus("sess1") == domain.ConnConnected
	}, "never connected")

	disabled := make(chan struct{})
	go func() {
		eng.SetEnabled("sess1", false)
		close(disabled)
	}()

	<-tr.firstConn().closeStarted
	eng.SetEnabled("sess1", true)

	waitFor(t, func() bool { return tr.dialCount() == 2 }, "re-enable never dialed")
	waitFor(t, func() bool {
		return eng.ConnectionStatus("sess1") == domain.ConnConnected
	}, "fresh pipeline never connected")

	close(tr.firstConn().release)
	<-disabled

	if got := eng.ConnectionStatus("sess1"); got != domain.ConnConnected {
		t.Errorf("status after the slow disable drained = %q, want connected", got)
	}
}

func TestEngine_WatchConnectionSurvivesToggle(t *testing.T) {
	tr := &scriptedTransport{}
	eng := New(Options{Candidates: []transport.Transport{tr}})
	defer eng.Close()

	unsub := eng.Subscribe("sess1", func(domain.SessionState) {})
	defer unsub()

	ch, stop := eng.WatchConnection("sess1")
	defer stop()

	drainUntil := func(want domain.ConnectionStatus) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case got := <-ch:
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	drainUntil(domain.ConnConnected)
	eng.SetEnabled("sess1", false)
	drainUntil(domain.ConnDisconnected)
	eng.SetEnabled("sess1", true)
	drainUntil(domain.ConnConnected)
}

func TestEngine_HooksObserveEvents(t *testing.T) {
	tr := &scriptedTransport{frames: []transport.Frame{
		socketFrame("tick", `{"symbol":"BTCUSDT","price":"1","timestamp":5}`),
	}}

	var mu sync.Mutex
	var seen []string
	eng := New(Options{
		Candidates: []transport.Transport{tr},
		Hooks: []EventHook{func(sessionID string, ev event.Event) {
			mu.Lock()
			seen = append(seen, sessionID+"/"+event.TypeName(ev))
			mu.Unlock()
		}},
	})
	defer eng.Close()

	unsub := eng.Subscribe("sess1", func(domain.SessionState) {})
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, "hook never fired")

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "sess1/tick" {
		t.Errorf("hook saw %q, want sess1/tick", seen[0])
	}
}
