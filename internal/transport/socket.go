package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SocketConfig configures the push-socket transport.
type SocketConfig struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// PingInterval is the interval for keepalive ping frames.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout is the deadline for control frame writes.
	WriteTimeout time.Duration
}

// DefaultSocketConfig returns the default push-socket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// SocketTransport dials the bidirectional push-socket endpoint. Frames carry
// typed messages for ticks, trades, positions, node executions and status.
type SocketTransport struct {
	baseURL string
	config  SocketConfig
	log     *zap.Logger
}

// NewSocketTransport creates a push-socket transport rooted at baseURL
// (e.g. "ws://host:port").
func NewSocketTransport(baseURL string, config *SocketConfig, log *zap.Logger) *SocketTransport {
	cfg := DefaultSocketConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SocketTransport{baseURL: baseURL, config: cfg, log: log}
}

// Kind returns KindSocket.
func (t *SocketTransport) Kind() Kind { return KindSocket }

// Dial connects to the per-session feed endpoint.
func (t *SocketTransport) Dial(ctx context.Context, sessionID string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("X-Client-ID", uuid.NewString())

	url := fmt.Sprintf("%s/sessions/%s/feed", t.baseURL, sessionID)
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("socket dial %s: %w", sessionID, err)
	}

	c := &socketConn{
		conn:   conn,
		config: t.config,
		log:    t.log,
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.pingLoop()
	return c, nil
}

// socketMessage is the wire envelope for push-socket frames.
type socketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type socketConn struct {
	conn   *websocket.Conn
	config SocketConfig
	log    *zap.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Recv reads the next typed frame. Envelopes that fail to decode are dropped
// and logged; the read loop continues with the next message.
func (c *socketConn) Recv() (Frame, error) {
	for {
		if c.closed.Load() {
			return Frame{}, ErrStreamClosed
		}

		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return Frame{}, ErrStreamClosed
			}
			return Frame{}, fmt.Errorf("socket read: %w", err)
		}

		var msg socketMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			c.log.Warn("dropping undecodable socket frame", zap.Error(err))
			continue
		}

		return Frame{Kind: KindSocket, Name: msg.Type, Payload: msg.Data}, nil
	}
}

// Close sends a close frame and tears the connection down.
func (c *socketConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *socketConn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection might be dead; the reader surfaces the error.
			}
			c.writeMu.Unlock()
		}
	}
}

var _ Transport = (*SocketTransport)(nil)
