// Package archive persists terminal sessions and tick history. The recorder
// hangs off the event pipeline as a hook: it buffers ticks for bulk insert
// and writes one archive row when a session reaches a terminal status.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradewatch/internal/domain"
	"tradewatch/internal/event"
	"tradewatch/internal/observability"
	"tradewatch/internal/storage"
)

// DefaultFlushInterval is how often buffered ticks are flushed.
const DefaultFlushInterval = 5 * time.Second

// flushThreshold forces an early flush when the buffer grows past it.
const flushThreshold = 500

// Options configures a Recorder.
type Options struct {
	Sessions storage.SessionArchive
	Ticks    storage.TickHistoryStore

	// SnapshotFn returns the current reconciled state for a session. It is
	// called once when the session turns terminal.
	SnapshotFn func(sessionID string) domain.SessionState

	// FlushInterval overrides DefaultFlushInterval when positive.
	FlushInterval time.Duration

	Logger *zap.Logger
}

// Recorder buffers tick points and archives terminal sessions. Either store
// may be nil, in which case that half is disabled.
type Recorder struct {
	opts     Options
	interval time.Duration
	log      *zap.Logger

	mu         sync.Mutex
	buffer     []*domain.TickPoint
	archived   map[string]bool
	snapshotFn func(sessionID string) domain.SessionState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder. Call Run to start the flush loop.
func New(opts Options) *Recorder {
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		opts:       opts,
		interval:   interval,
		log:        log,
		archived:   make(map[string]bool),
		snapshotFn: opts.SnapshotFn,
	}
}

// SetSnapshotFn installs the state lookup after construction. The recorder
// is built before the engine it observes, so the wiring closes here.
func (r *Recorder) SetSnapshotFn(fn func(sessionID string) domain.SessionState) {
	r.mu.Lock()
	r.snapshotFn = fn
	r.mu.Unlock()
}

// Run starts the periodic flush loop.
func (r *Recorder) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.flush(context.Background())
			}
		}
	}()
}

// Close stops the flush loop and writes out any remaining buffered ticks.
func (r *Recorder) Close() {
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}
	r.flush(context.Background())
}

// OnEvent observes one canonical event for a session. Safe for concurrent
// use; it never blocks on storage except at the flush threshold.
func (r *Recorder) OnEvent(sessionID string, ev event.Event) {
	switch e := ev.(type) {
	case event.Tick:
		if r.opts.Ticks == nil {
			return
		}
		r.mu.Lock()
		r.buffer = append(r.buffer, &domain.TickPoint{
			SessionID: sessionID,
			Symbol:    e.Symbol,
			Price:     e.Price,
			Timestamp: e.Timestamp,
		})
		full := len(r.buffer) >= flushThreshold
		r.mu.Unlock()
		if full {
			r.flush(context.Background())
		}

	case event.StatusChange:
		if e.Status == domain.SessionCompleted || e.Status == domain.SessionFailed {
			r.archiveSession(sessionID, e)
		}
	}
}

// flush bulk-inserts the buffered ticks. The buffer is swapped out under the
// lock so concurrent OnEvent calls are never delayed by the insert.
func (r *Recorder) flush(ctx context.Context) {
	if r.opts.Ticks == nil {
		return
	}

	r.mu.Lock()
	points := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(points) == 0 {
		return
	}

	if err := r.opts.Ticks.InsertBulk(ctx, points); err != nil {
		observability.RecordArchiveError("ticks")
		r.log.Warn("flush tick history failed",
			zap.Int("points", len(points)), zap.Error(err))
		return
	}
	observability.RecordTicksArchived(len(points))
}

// archiveSession writes the terminal archive row exactly once per session.
func (r *Recorder) archiveSession(sessionID string, e event.StatusChange) {
	if r.opts.Sessions == nil {
		return
	}

	r.mu.Lock()
	snapshotFn := r.snapshotFn
	if snapshotFn == nil || r.archived[sessionID] {
		r.mu.Unlock()
		return
	}
	r.archived[sessionID] = true
	r.mu.Unlock()

	st := snapshotFn(sessionID)
	finalState, err := json.Marshal(st)
	if err != nil {
		observability.RecordArchiveError("sessions")
		r.log.Error("marshal final state", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	completedAt := e.Timestamp
	if completedAt == 0 {
		completedAt = time.Now().UnixMilli()
	}

	rec := &domain.ArchivedSession{
		SessionID:   sessionID,
		Status:      e.Status,
		TotalPnL:    st.Summary.TotalPnL,
		WinRate:     st.Summary.WinRate,
		TotalTrades: st.Summary.TotalTrades,
		CompletedAt: completedAt,
		FinalState:  finalState,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.opts.Sessions.Insert(ctx, rec); err != nil {
		// A duplicate means a redelivered terminal status; the first
		// archive row stands.
		if errors.Is(err, storage.ErrDuplicateKey) {
			return
		}
		observability.RecordArchiveError("sessions")
		r.log.Error("archive session failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	observability.RecordSessionArchived()
	r.log.Info("session archived",
		zap.String("session_id", sessionID),
		zap.String("status", string(e.Status)),
		zap.Int("trades", st.Summary.TotalTrades))
}
