package transport

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StreamConfig configures the server-push event stream transport.
type StreamConfig struct {
	// ConnectTimeout bounds the initial HTTP handshake.
	ConnectTimeout time.Duration
	// IdleTimeout aborts the stream when no bytes (including keepalive
	// comments) arrive for this long.
	IdleTimeout time.Duration
}

// DefaultStreamConfig returns the default event-stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ConnectTimeout: 10 * time.Second,
		IdleTimeout:    90 * time.Second,
	}
}

// StreamTransport consumes the text/event-stream endpoint. The server emits
// named events: initial_state, trade_update, node_events, session_complete.
type StreamTransport struct {
	baseURL string
	client  *http.Client
	config  StreamConfig
	log     *zap.Logger
}

// NewStreamTransport creates an event-stream transport rooted at baseURL
// (e.g. "http://host:port").
func NewStreamTransport(baseURL string, config *StreamConfig, log *zap.Logger) *StreamTransport {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamTransport{
		baseURL: baseURL,
		// No overall timeout: the stream is long-lived. Liveness is
		// enforced by the idle timer in streamConn.
		client: &http.Client{},
		config: cfg,
		log:    log,
	}
}

// Kind returns KindStream.
func (t *StreamTransport) Kind() Kind { return KindStream }

// Dial opens the per-session event stream and verifies the handshake.
func (t *StreamTransport) Dial(ctx context.Context, sessionID string) (Conn, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/sessions/%s/events", t.baseURL, sessionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	handshake := time.AfterFunc(t.config.ConnectTimeout, cancel)
	resp, err := t.client.Do(req)
	handshake.Stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream dial %s: %w", sessionID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream dial %s: unexpected status %d", sessionID, resp.StatusCode)
	}

	c := &streamConn{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}
	// The idle timer cancels the request context, which unblocks the
	// pending read inside Recv.
	c.idle = time.AfterFunc(t.config.IdleTimeout, cancel)
	c.idleTimeout = t.config.IdleTimeout
	return c, nil
}

type streamConn struct {
	resp        *http.Response
	reader      *bufio.Reader
	cancel      context.CancelFunc
	idle        *time.Timer
	idleTimeout time.Duration
	closed      atomic.Bool
}

// Recv parses the next server-sent event. Comment lines (leading ':') are
// keepalives and only reset the idle timer.
func (c *streamConn) Recv() (Frame, error) {
	var name string
	var data strings.Builder

	for {
		if c.closed.Load() {
			return Frame{}, ErrStreamClosed
		}

		line, err := c.reader.ReadString('\n')
		if err != nil {
			if c.closed.Load() {
				return Frame{}, ErrStreamClosed
			}
			return Frame{}, fmt.Errorf("stream read: %w", err)
		}
		c.idle.Reset(c.idleTimeout)

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			// Blank line terminates one event.
			if data.Len() == 0 && name == "" {
				continue
			}
			if name == "" {
				name = "message"
			}
			return Frame{Kind: KindStream, Name: name, Payload: []byte(data.String())}, nil
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// Unknown field (id:, retry:, ...) - ignored.
		}
	}
}

// Close aborts the stream.
func (c *streamConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.idle.Stop()
	c.cancel()
	return c.resp.Body.Close()
}

var _ Transport = (*StreamTransport)(nil)
