// Package publish fans normalized events out to Kafka so downstream
// consumers (alerting, dashboards) see the same canonical stream the local
// reconciler consumes. Publishing is asynchronous and best-effort: a broker
// outage never stalls the state pipeline.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tradewatch/internal/event"
	"tradewatch/internal/observability"
)

// Writer is the slice of kafka.Writer the publisher needs. Tests substitute
// a recording fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the published wire form of one canonical event.
type envelope struct {
	SessionID string      `json:"session_id"`
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      event.Event `json:"data"`
}

// Publisher writes canonical events to a Kafka topic, keyed by session id so
// each session's events stay ordered within a partition.
type Publisher struct {
	writer  Writer
	timeout time.Duration
	log     *zap.Logger

	ch   chan kafka.Message
	done chan struct{}
}

// DefaultWriteTimeout bounds each broker write.
const DefaultWriteTimeout = 5 * time.Second

var errBufferFull = errors.New("publish buffer full")

// NewWriter builds the production kafka-go writer for a broker list and topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// New creates a Publisher and starts its background drain loop.
func New(writer Writer, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		writer:  writer,
		timeout: DefaultWriteTimeout,
		log:     log,
		ch:      make(chan kafka.Message, 256),
		done:    make(chan struct{}),
	}
	go p.drain()
	return p
}

// Publish enqueues one event. When the buffer is full the event is dropped
// and counted; the live pipeline is never backpressured by the broker.
func (p *Publisher) Publish(sessionID string, ev event.Event) {
	payload, err := json.Marshal(envelope{
		SessionID: sessionID,
		Type:      event.TypeName(ev),
		Timestamp: ev.When(),
		Data:      ev,
	})
	if err != nil {
		observability.RecordPublish(err)
		p.log.Warn("marshal publish envelope", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Time:  time.Now(),
	}

	select {
	case p.ch <- msg:
	default:
		observability.RecordPublish(errBufferFull)
		p.log.Warn("publish buffer full, dropping event",
			zap.String("session_id", sessionID),
			zap.String("type", event.TypeName(ev)))
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for msg := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		observability.RecordPublish(err)
		if err != nil {
			p.log.Warn("kafka write failed", zap.Error(err))
		}
	}
}

// Close flushes queued messages and closes the writer.
func (p *Publisher) Close() error {
	close(p.ch)
	<-p.done
	return p.writer.Close()
}
