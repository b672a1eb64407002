// Package staleness runs a lightweight heartbeat poller alongside the active
// transport. It compares per-facet modification markers and triggers an
// out-of-band full snapshot refetch when the transport may have missed
// updates. The refetch result flows through the same normalizer pipeline as
// every other frame, so the detector never mutates state directly.
package staleness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradewatch/internal/observability"
	"tradewatch/internal/transport"
)

// DefaultInterval is the heartbeat poll interval.
const DefaultInterval = 2 * time.Second

// Source is the poll side of the session server used by the detector.
// *transport.PollClient satisfies it.
type Source interface {
	Snapshot(ctx context.Context, sessionID string) ([]byte, error)
	Heartbeat(ctx context.Context, sessionID string) (map[string]int64, error)
}

// Options configures a Detector.
type Options struct {
	SessionID string
	Source    Source

	// Sink receives the snapshot frame produced by a successful refetch.
	Sink func(transport.Frame)

	// Interval overrides DefaultInterval when positive.
	Interval time.Duration

	// RequestTimeout bounds each heartbeat and snapshot call.
	RequestTimeout time.Duration

	Logger *zap.Logger
}

// Detector polls the heartbeat endpoint and refetches on marker change.
// Overlapping triggers collapse into one in-flight refetch; stored markers
// advance only after a refetch succeeds, so a failed fetch is retried on the
// next cycle.
type Detector struct {
	opts     Options
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	markers map[string]int64
	started bool

	forced   atomic.Bool
	inflight atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Detector. It does nothing until Start.
func New(opts Options) *Detector {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = interval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		opts:     opts,
		interval: interval,
		timeout:  timeout,
		log:      log.With(zap.String("session_id", opts.SessionID)),
		markers:  make(map[string]int64),
	}
}

// Start launches the poll loop.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	pollCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(pollCtx)
}

// Stop halts the poll loop, waits for any in-flight refetch to settle, and
// clears stored markers so a later session does not inherit stale
// comparison baselines.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	d.mu.Lock()
	d.markers = make(map[string]int64)
	d.started = false
	d.mu.Unlock()
}

// RequireRefetch marks the next cycle as needing a refetch even if markers
// compare equal. This covers the ambiguous equal-markers-but-changed case:
// a redundant fetch is cheaper than a missed update.
func (d *Detector) RequireRefetch() {
	d.forced.Store(true)
}

func (d *Detector) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle performs one heartbeat poll and, when needed, kicks off a refetch.
func (d *Detector) cycle(ctx context.Context) {
	hbCtx, cancel := context.WithTimeout(ctx, d.timeout)
	markers, err := d.opts.Source.Heartbeat(hbCtx, d.opts.SessionID)
	cancel()
	observability.RecordHeartbeatPoll()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Timed-out or failed heartbeat: skip this cycle, keep state.
		d.log.Debug("heartbeat poll failed", zap.Error(err))
		return
	}

	needed := d.forced.Load()
	if !needed {
		if d.adoptBaseline(markers) {
			return
		}
		needed = d.changed(markers)
	}
	if !needed {
		return
	}

	// Overlapping triggers collapse into the one in-flight refetch. The
	// forced flag is consumed at claim time, so a RequireRefetch issued
	// while a fetch is already in flight survives until the next cycle.
	if !d.inflight.CompareAndSwap(false, true) {
		return
	}
	d.forced.Store(false)

	d.wg.Add(1)
	go d.refetch(ctx, markers)
}

// adoptBaseline stores the first observed markers without refetching: the
// active transport delivers the initial snapshot, the detector only watches
// for drift afterwards. Returns true when this poll established the baseline.
func (d *Detector) adoptBaseline(markers map[string]int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.markers) > 0 {
		return false
	}
	for facet, ts := range markers {
		d.markers[facet] = ts
	}
	return len(d.markers) > 0
}

// changed reports whether any facet marker differs from the stored baseline.
// A facet never seen before counts as changed.
func (d *Detector) changed(markers map[string]int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for facet, ts := range markers {
		if prev, ok := d.markers[facet]; !ok || prev != ts {
			return true
		}
	}
	return false
}

// refetch fetches one full snapshot and feeds it through the shared
// pipeline. Markers advance only on success; a timed-out fetch leaves the
// previous state and baselines intact.
func (d *Detector) refetch(ctx context.Context, markers map[string]int64) {
	defer d.wg.Done()
	defer d.inflight.Store(false)

	fetchCtx, cancel := context.WithTimeout(ctx, d.timeout)
	body, err := d.opts.Source.Snapshot(fetchCtx, d.opts.SessionID)
	cancel()
	if err != nil {
		observability.RecordRefetch(true)
		// Re-arm so the next cycle retries even if markers compare equal.
		d.forced.Store(true)
		if ctx.Err() == nil {
			d.log.Warn("snapshot refetch failed", zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		// Teardown raced the response; discard the result.
		return
	}
	observability.RecordRefetch(false)

	d.opts.Sink(transport.Frame{
		Kind:    transport.KindPoll,
		Name:    transport.PollSnapshotFrame,
		Payload: body,
	})

	d.mu.Lock()
	for facet, ts := range markers {
		d.markers[facet] = ts
	}
	d.mu.Unlock()
}
