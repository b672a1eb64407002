// Package engine is the top-level API of the synchronization client. It
// manages one pipeline per watched session: transport supervision, frame
// normalization, state reconciliation, staleness detection, and the optional
// cache, publish and archive side channels.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradewatch/internal/cache"
	"tradewatch/internal/domain"
	"tradewatch/internal/event"
	"tradewatch/internal/publish"
	"tradewatch/internal/staleness"
	"tradewatch/internal/state"
	"tradewatch/internal/supervisor"
	"tradewatch/internal/transport"
)

// cachePutInterval throttles snapshot cache writes per session.
const cachePutInterval = 2 * time.Second

// EventHook observes every canonical event after it has been applied.
type EventHook func(sessionID string, ev event.Event)

// Options configures an Engine.
type Options struct {
	// Candidates are the transports tried in preference order for every
	// session connection.
	Candidates []transport.Transport

	// Poll drives the staleness detector. Nil disables detection.
	Poll *transport.PollClient

	// Cache warm-starts new sessions and persists reconciled snapshots.
	// Nil disables caching.
	Cache *cache.SnapshotCache

	// Publisher fans canonical events out to Kafka. Nil disables publishing.
	Publisher *publish.Publisher

	// Hooks observe applied events, e.g. the archive recorder.
	Hooks []EventHook

	// Backoff and MaxAttempts override the supervisor defaults.
	Backoff     []time.Duration
	MaxAttempts int

	// HeartbeatInterval overrides the staleness detector default.
	HeartbeatInterval time.Duration

	Logger *zap.Logger
}

// Engine owns all per-session pipelines. All methods are safe for concurrent
// use.
type Engine struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// session is one watched session's pipeline. The supervisor and detector are
// recreated on every enable so a session recovering from the terminal error
// state always starts from a zeroed attempt counter.
type session struct {
	id    string
	store *state.Store
	norm  *event.Normalizer

	enabled bool
	refs    int
	sup     *supervisor.Supervisor
	det     *staleness.Detector

	// status relay survives supervisor swaps, so WatchConnection channels
	// stay valid across disable/enable cycles.
	status     domain.ConnectionStatus
	watchers   map[int]chan domain.ConnectionStatus
	nextWatch  int
	relayStop  func()
	lastCached time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		opts:     opts,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Subscribe registers a state callback for a session, creating the pipeline
// on first use. The callback fires immediately with the merged state-to-date
// and then on every applied event. The returned function unsubscribes; when
// the last subscriber leaves, the session's connection is torn down and its
// state discarded.
func (e *Engine) Subscribe(sessionID string, cb func(domain.SessionState)) func() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cb(domain.NewSessionState(sessionID))
		return func() {}
	}
	sess := e.ensureSessionLocked(sessionID)
	sess.refs++
	e.mu.Unlock()

	unsub := sess.store.Subscribe(cb)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			e.release(sessionID)
		})
	}
}

// Snapshot returns the current merged state for a session. An unknown
// session yields an empty initialized state, not an error.
func (e *Engine) Snapshot(sessionID string) domain.SessionState {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()

	if !ok {
		return domain.NewSessionState(sessionID)
	}
	return sess.store.Snapshot()
}

// SetEnabled starts or stops a session's connection without touching its
// subscribers or accumulated state. Enabling a session that previously hit
// the terminal error state is the manual-retry path: it gets a fresh
// supervisor with a zeroed attempt counter.
func (e *Engine) SetEnabled(sessionID string, enabled bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	sess, ok := e.sessions[sessionID]
	if !ok || enabled == sess.enabled {
		e.mu.Unlock()
		return
	}
	if enabled {
		e.startLocked(sess)
		e.mu.Unlock()
		return
	}

	sess.enabled = false
	sup, det, relayStop := sess.sup, sess.det, sess.relayStop
	sess.sup, sess.det, sess.relayStop = nil, nil, nil
	e.mu.Unlock()

	stopPipeline(relayStop, det, sup)

	// A concurrent re-enable may have built a fresh pipeline while the old
	// one drained; its status must not be overwritten.
	e.mu.Lock()
	if !sess.enabled {
		sess.status = domain.ConnDisconnected
		for _, ch := range sess.watchers {
			select {
			case ch <- domain.ConnDisconnected:
			default:
			}
		}
	}
	e.mu.Unlock()
}

// Refresh forces a snapshot refetch on the session's next heartbeat cycle,
// regardless of marker movement. No-op for unknown or disabled sessions.
func (e *Engine) Refresh(sessionID string) {
	var det *staleness.Detector
	e.mu.Lock()
	if sess, ok := e.sessions[sessionID]; ok {
		det = sess.det
	}
	e.mu.Unlock()

	if det != nil {
		det.RequireRefetch()
	}
}

// ConnectionStatus reports the current connection status for a session.
// Unknown sessions are disconnected.
func (e *Engine) ConnectionStatus(sessionID string) domain.ConnectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[sessionID]
	if !ok {
		return domain.ConnDisconnected
	}
	return sess.status
}

// WatchConnection returns a channel of connection status updates for a
// session and an unsubscribe function. The channel stays valid across
// disable/enable cycles of the session.
func (e *Engine) WatchConnection(sessionID string) (<-chan domain.ConnectionStatus, func()) {
	ch := make(chan domain.ConnectionStatus, 16)

	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		ch <- domain.ConnDisconnected
		return ch, func() {}
	}
	id := sess.nextWatch
	sess.nextWatch++
	sess.watchers[id] = ch
	ch <- sess.status
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		delete(sess.watchers, id)
		e.mu.Unlock()
	}
}

// Close tears down every session pipeline. The engine is unusable afterward.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessions = make(map[string]*session)
	e.mu.Unlock()

	for _, s := range sessions {
		e.teardown(s)
	}
}

// ensureSessionLocked creates and starts the pipeline for a new session id.
func (e *Engine) ensureSessionLocked(sessionID string) *session {
	if sess, ok := e.sessions[sessionID]; ok {
		return sess
	}

	sess := &session{
		id:       sessionID,
		store:    state.New(sessionID, e.log),
		norm:     event.NewNormalizer(e.log),
		status:   domain.ConnDisconnected,
		watchers: make(map[int]chan domain.ConnectionStatus),
	}
	e.sessions[sessionID] = sess

	if e.opts.Cache != nil {
		go e.warmStart(sess)
	}

	e.startLocked(sess)
	return sess
}

// warmStart primes a fresh store from the snapshot cache. Prime is a no-op
// once live events have arrived, so losing this race is harmless.
func (e *Engine) warmStart(sess *session) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	st, ok, err := e.opts.Cache.Get(ctx, sess.id)
	if err != nil {
		e.log.Warn("snapshot cache read failed",
			zap.String("session_id", sess.id), zap.Error(err))
		return
	}
	if ok {
		sess.store.Prime(st)
	}
}

// startLocked wires a fresh supervisor and detector for the session.
func (e *Engine) startLocked(sess *session) {
	sess.enabled = true

	sess.sup = supervisor.New(supervisor.Options{
		SessionID:   sess.id,
		Candidates:  e.opts.Candidates,
		Sink:        func(f transport.Frame) { e.ingest(sess, f) },
		Backoff:     e.opts.Backoff,
		MaxAttempts: e.opts.MaxAttempts,
		Logger:      e.log,
	})
	if err := sess.sup.Start(context.Background()); err != nil {
		e.log.Error("start supervisor", zap.String("session_id", sess.id), zap.Error(err))
		sess.sup = nil
		sess.enabled = false
		return
	}

	statusCh, stopRelay := sess.sup.Watch()
	relayDone := make(chan struct{})
	// The stop function also waits for the relay goroutine to finish
	// draining, so no stale status lands after the pipeline is down.
	sess.relayStop = func() {
		stopRelay()
		<-relayDone
	}
	go func() {
		defer close(relayDone)
		e.relayStatus(sess, statusCh)
	}()

	if e.opts.Poll != nil {
		sess.det = staleness.New(staleness.Options{
			SessionID: sess.id,
			Source:    e.opts.Poll,
			Sink:      func(f transport.Frame) { e.ingest(sess, f) },
			Interval:  e.opts.HeartbeatInterval,
			Logger:    e.log,
		})
		sess.det.Start(context.Background())
	}
}

// stopPipeline halts a detached supervisor, detector and status relay.
// Blocking; must run without e.mu held.
func stopPipeline(relayStop func(), det *staleness.Detector, sup *supervisor.Supervisor) {
	if relayStop != nil {
		relayStop()
	}
	if det != nil {
		det.Stop()
	}
	if sup != nil {
		sup.Stop()
	}
}

// relayStatus forwards supervisor status transitions to the session's
// watchers. The goroutine ends when the supervisor's watch is unsubscribed
// and its channel drained.
func (e *Engine) relayStatus(sess *session, ch <-chan domain.ConnectionStatus) {
	for status := range ch {
		e.mu.Lock()
		sess.status = status
		for _, w := range sess.watchers {
			select {
			case w <- status:
			default:
			}
		}
		e.mu.Unlock()
	}
}

// ingest is the per-session sink shared by the supervisor and the staleness
// detector. Every frame, no matter the transport, takes the same path.
func (e *Engine) ingest(sess *session, f transport.Frame) {
	for _, ev := range sess.norm.Normalize(f) {
		sess.store.Apply(ev)

		for _, hook := range e.opts.Hooks {
			hook(sess.id, ev)
		}
		if e.opts.Publisher != nil {
			e.opts.Publisher.Publish(sess.id, ev)
		}
	}
	e.maybeCache(sess)
}

// maybeCache persists the reconciled state, throttled per session.
func (e *Engine) maybeCache(sess *session) {
	if e.opts.Cache == nil {
		return
	}

	e.mu.Lock()
	if time.Since(sess.lastCached) < cachePutInterval {
		e.mu.Unlock()
		return
	}
	sess.lastCached = time.Now()
	e.mu.Unlock()

	snapshot := sess.store.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.opts.Cache.Put(ctx, snapshot); err != nil {
			e.log.Debug("snapshot cache write failed",
				zap.String("session_id", sess.id), zap.Error(err))
		}
	}()
}

// release drops one subscriber reference and discards the session when the
// last one leaves.
func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.refs--
	if sess.refs > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	e.teardown(sess)
}

// teardown fully stops a removed session.
func (e *Engine) teardown(sess *session) {
	stopPipeline(sess.relayStop, sess.det, sess.sup)
}
