// Package state holds the authoritative SessionState for one session and
// fans reconciled updates out to subscribers.
package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tradewatch/internal/domain"
	"tradewatch/internal/event"
	"tradewatch/internal/observability"
	"tradewatch/internal/reconcile"
)

// Store is the single logical mutation point of the pipeline. Every
// transport funnels into Apply, which serializes reconciliation under one
// mutex; reads never block on I/O or on in-flight applies beyond the lock.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	state     domain.SessionState
	subs      map[int]func(domain.SessionState)
	nextSub   int
	log       *zap.Logger
}

// New creates a store with an empty initialized state for the session id.
func New(sessionID string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		sessionID: sessionID,
		state:     domain.NewSessionState(sessionID),
		subs:      make(map[int]func(domain.SessionState)),
		log:       log,
	}
}

// Subscribe registers a callback and immediately invokes it with the fully
// merged state-to-date, so a late subscriber never sees only future deltas.
// The returned function unsubscribes.
func (s *Store) Subscribe(cb func(domain.SessionState)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	snapshot := s.state.Clone()
	s.mu.Unlock()

	cb(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// SubscriberCount reports the number of registered callbacks.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Apply folds one canonical event into the state and notifies subscribers.
// Subscribers are called while the lock is held, which keeps per-subscriber
// notification order identical to apply order; callbacks must not call back
// into the store.
func (s *Store) Apply(ev event.Event) {
	start := time.Now()

	s.mu.Lock()
	s.state = reconcile.Reduce(s.state, ev)
	snapshot := s.state.Clone()
	for _, cb := range s.subs {
		cb(snapshot)
	}
	s.mu.Unlock()

	observability.RecordApplyLatency(time.Since(start).Seconds())
}

// Prime seeds the store with a previously persisted state, used for
// warm-starting from the snapshot cache. It is a no-op once any event has
// been applied: live data always beats a stale cache.
func (s *Store) Prime(st domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.LastEventTimestamp > 0 || st.SessionID != s.sessionID {
		return
	}
	s.state = st.Clone()
	s.log.Debug("primed state from cache",
		zap.String("session_id", s.sessionID),
		zap.Int64("last_event_timestamp", st.LastEventTimestamp))
}

// Reset synchronously replaces the state with the empty initial value for a
// (possibly new) session id, before any new-session event can be applied.
// Subscribers are notified of the reset so no flash of the previous
// session's data is visible under the new id.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.state = domain.NewSessionState(sessionID)
	snapshot := s.state.Clone()
	for _, cb := range s.subs {
		cb(snapshot)
	}
	s.mu.Unlock()
}
