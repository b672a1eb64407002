// Package supervisor owns the lifecycle of exactly one active transport
// connection per session: dialing, reconnection with backoff, transport
// fallback, and deterministic teardown.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
	"tradewatch/internal/transport"
)

// ErrRetriesExhausted is the terminal condition after the configured maximum
// of consecutive connection failures. It is surfaced to consumers as the
// error connection status; recovery requires an explicit restart.
var ErrRetriesExhausted = errors.New("supervisor: retries exhausted")

// DefaultBackoff is the retry delay table. The last entry is the cap for all
// later attempts.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// DefaultMaxAttempts is the consecutive-failure count that triggers the
// terminal error state.
const DefaultMaxAttempts = 10

// Options configures a Supervisor.
type Options struct {
	SessionID string

	// Candidates are tried in order as consecutive attempts fail, wrapping
	// around: attempt n uses candidate n mod len(Candidates).
	Candidates []transport.Transport

	// Sink receives every raw frame from the active connection. It is
	// never called after Stop returns.
	Sink func(transport.Frame)

	// Backoff overrides DefaultBackoff when non-empty.
	Backoff []time.Duration

	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int

	Logger *zap.Logger
}

// Supervisor maintains one active connection for a session. Its only
// externally observable side channel besides raw frames is the connection
// status feed.
type Supervisor struct {
	opts    Options
	backoff []time.Duration
	max     int
	log     *zap.Logger

	mu       sync.Mutex
	status   domain.ConnectionStatus
	watchers map[int]chan domain.ConnectionStatus
	nextID   int
	conn     transport.Conn
	cancel   context.CancelFunc
	started  bool
	stopped  bool

	wg sync.WaitGroup
}

// New creates a Supervisor. It does nothing until Start.
func New(opts Options) *Supervisor {
	backoff := opts.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	max := opts.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		opts:     opts,
		backoff:  backoff,
		max:      max,
		log:      log.With(zap.String("session_id", opts.SessionID)),
		status:   domain.ConnDisconnected,
		watchers: make(map[int]chan domain.ConnectionStatus),
	}
}

// Start establishes the connection loop. A Supervisor is one-shot: after
// Stop (or a terminal error) a fresh Supervisor must be created, which is
// what gives session hot-swaps their clean-slate guarantee.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	if len(s.opts.Candidates) == 0 {
		s.mu.Unlock()
		return errors.New("supervisor: no transport candidates")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop tears the connection down deterministically: it cancels all pending
// backoff timers, aborts any in-flight dial, closes the socket, and blocks
// until the run loop has exited. No frame reaches the sink and no status
// transition (other than the final disconnected) happens after Stop returns.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	cancel()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.status = domain.ConnDisconnected
	for _, ch := range s.watchers {
		select {
		case ch <- domain.ConnDisconnected:
		default:
		}
	}
	s.mu.Unlock()
}

// Status returns the current connection status.
func (s *Supervisor) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Watch returns a channel of status updates and an unsubscribe function.
// One update is emitted per transition attempt; slow consumers lose
// intermediate values, never the ordering of what they do receive.
func (s *Supervisor) Watch() (<-chan domain.ConnectionStatus, func()) {
	ch := make(chan domain.ConnectionStatus, 16)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.status
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			// Safe to close here: all sends happen under the same mutex.
			close(ch)
		}
		s.mu.Unlock()
	}
}

func (s *Supervisor) setStatus(status domain.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.status = status
	for _, ch := range s.watchers {
		select {
		case ch <- status:
		default:
		}
	}
}

func (s *Supervisor) setConn(conn transport.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// run is the connection loop. failures counts consecutive failed attempts,
// where both a refused dial and a connection dropped before delivering a
// single frame count. It indexes both the backoff table and the transport
// candidate list, and resets to zero once a connection proves itself by
// delivering a frame.
func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	failures := 0
	s.setStatus(domain.ConnConnecting)

	for {
		if ctx.Err() != nil {
			s.setStatus(domain.ConnDisconnected)
			return
		}

		candidate := s.opts.Candidates[failures%len(s.opts.Candidates)]
		conn, err := candidate.Dial(ctx, s.opts.SessionID)
		if err != nil {
			if ctx.Err() != nil {
				s.setStatus(domain.ConnDisconnected)
				return
			}

			s.log.Warn("connection attempt failed",
				zap.String("transport", string(candidate.Kind())),
				zap.Int("failures", failures+1),
				zap.Error(err))
			if s.recordFailure(ctx, &failures) {
				return
			}
			continue
		}

		s.setConn(conn)
		s.setStatus(domain.ConnConnected)
		observability.SetSessionConnected(true)
		s.log.Info("connected", zap.String("transport", string(candidate.Kind())))

		delivered := false
		err = s.readLoop(ctx, conn, &delivered)
		conn.Close()
		s.setConn(nil)
		observability.SetSessionConnected(false)

		if ctx.Err() != nil {
			s.setStatus(domain.ConnDisconnected)
			return
		}

		// A connection that delivered at least one frame earns a fresh
		// attempt budget. One dropped before any frame is another
		// consecutive failure, so a server that accepts dials and then
		// kills the connection still backs off and still exhausts.
		if delivered {
			failures = 0
		}
		s.log.Warn("connection lost, reconnecting",
			zap.String("transport", string(candidate.Kind())),
			zap.Error(err))
		if s.recordFailure(ctx, &failures) {
			return
		}
	}
}

// recordFailure counts one failed attempt and waits out the backoff delay
// before the next one. Returns true when the loop must exit, either because
// the attempt budget is spent or the context was cancelled mid-wait.
func (s *Supervisor) recordFailure(ctx context.Context, failures *int) bool {
	*failures++
	observability.RecordReconnectAttempt()

	if *failures >= s.max {
		s.log.Error("retries exhausted, entering terminal error state",
			zap.Int("attempts", *failures))
		observability.RecordRetriesExhausted()
		s.setStatus(domain.ConnError)
		return true
	}

	s.setStatus(domain.ConnReconnecting)
	idx := *failures - 1
	if idx >= len(s.backoff) {
		idx = len(s.backoff) - 1
	}
	select {
	case <-ctx.Done():
		s.setStatus(domain.ConnDisconnected)
		return true
	case <-time.After(s.backoff[idx]):
	}
	return false
}

// readLoop feeds frames to the sink until the connection fails, flagging
// whether at least one frame was delivered. Frames that race with
// cancellation are discarded.
func (s *Supervisor) readLoop(ctx context.Context, conn transport.Conn, delivered *bool) error {
	for {
		frame, err := conn.Recv()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		*delivered = true
		s.opts.Sink(frame)
	}
}
