package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default poll client configuration values.
const (
	DefaultPollTimeout  = 10 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// PollClient talks to the request/poll side of the session server: the
// on-demand snapshot endpoint and the lightweight heartbeat endpoint that
// returns per-facet modification markers.
type PollClient struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// PollOption configures PollClient.
type PollOption func(*PollClient)

// WithPollTimeout sets the per-request timeout.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *PollClient) {
		c.client.Timeout = d
	}
}

// WithPollHTTPClient sets a custom http.Client.
func WithPollHTTPClient(client *http.Client) PollOption {
	return func(c *PollClient) {
		c.client = client
	}
}

// NewPollClient creates a poll client rooted at baseURL (e.g. "http://host:port").
func NewPollClient(baseURL string, log *zap.Logger, opts ...PollOption) *PollClient {
	if log == nil {
		log = zap.NewNop()
	}
	c := &PollClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultPollTimeout},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot fetches the full on-demand snapshot for a session. The raw body
// is returned undecoded; the normalizer owns payload interpretation.
func (c *PollClient) Snapshot(ctx context.Context, sessionID string) ([]byte, error) {
	url := fmt.Sprintf("%s/sessions/%s/snapshot", c.baseURL, sessionID)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", sessionID, err)
	}
	return body, nil
}

// Heartbeat fetches the per-facet modification markers for a session,
// e.g. {"trades": 1712345678000, "diagnostics": 1712345670000}.
func (c *PollClient) Heartbeat(ctx context.Context, sessionID string) (map[string]int64, error) {
	url := fmt.Sprintf("%s/sessions/%s/heartbeat", c.baseURL, sessionID)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch heartbeat %s: %w", sessionID, err)
	}

	markers := make(map[string]int64)
	if err := json.Unmarshal(body, &markers); err != nil {
		return nil, fmt.Errorf("decode heartbeat %s: %w", sessionID, err)
	}
	return markers, nil
}

func (c *PollClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// PollTransport is the last-resort transport candidate: its "connection" is
// a ticker-driven snapshot fetch loop producing snapshot frames. Fallback to
// it degrades freshness but not correctness.
type PollTransport struct {
	client   *PollClient
	interval time.Duration
}

// NewPollTransport wraps a PollClient as a Transport. interval <= 0 uses
// DefaultPollInterval.
func NewPollTransport(client *PollClient, interval time.Duration) *PollTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollTransport{client: client, interval: interval}
}

// Kind returns KindPoll.
func (t *PollTransport) Kind() Kind { return KindPoll }

// Dial verifies the session is reachable via heartbeat, then returns a
// connection that emits one snapshot frame per interval.
func (t *PollTransport) Dial(ctx context.Context, sessionID string) (Conn, error) {
	if _, err := t.client.Heartbeat(ctx, sessionID); err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	return &pollConn{
		client:    t.client,
		sessionID: sessionID,
		interval:  t.interval,
		ctx:       pollCtx,
		cancel:    cancel,
	}, nil
}

type pollConn struct {
	client    *PollClient
	sessionID string
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	fetched   atomic.Bool
}

// PollSnapshotFrame is the frame name produced by snapshot fetches, both
// from the poll transport and from staleness-triggered refetches.
const PollSnapshotFrame = "poll_snapshot"

// Recv fetches the next snapshot. The first call fetches immediately;
// subsequent calls wait one interval.
func (c *pollConn) Recv() (Frame, error) {
	if c.fetched.Swap(true) {
		select {
		case <-c.ctx.Done():
			return Frame{}, ErrStreamClosed
		case <-time.After(c.interval):
		}
	}

	if c.closed.Load() {
		return Frame{}, ErrStreamClosed
	}

	body, err := c.client.Snapshot(c.ctx, c.sessionID)
	if err != nil {
		if c.closed.Load() {
			return Frame{}, ErrStreamClosed
		}
		return Frame{}, err
	}
	return Frame{Kind: KindPoll, Name: PollSnapshotFrame, Payload: body}, nil
}

// Close stops the poll loop and aborts any in-flight fetch.
func (c *pollConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	return nil
}

var _ Transport = (*PollTransport)(nil)
