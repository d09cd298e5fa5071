package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Events emitted after every task run.
const (
	EventTaskCompleted = "task:completed"
	EventTaskFailed    = "task:failed"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples the runner from where run events go
// ─────────────────────────────────────────────────────────────

// EventEmitter publishes run events. Emit never fails the run; delivery
// problems are the emitter's to log.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes events to a logger.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e *LogEmitter) Emit(_ context.Context, event string, data any) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("event", "event", event, "data", data)
}

// MultiEmitter fans an event out to every emitter in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event string, data any) {
	for _, e := range m {
		e.Emit(ctx, event, data)
	}
}

// ── Kafka ──────────────────────────────────────────────────

// MessageWriter is the part of *kafka.Writer the emitter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes each event as a JSON message keyed by event name.
type KafkaEmitter struct {
	Writer  MessageWriter
	Logger  *slog.Logger
	Timeout time.Duration
}

// NewKafkaEmitter creates a synchronous writer for topic.
func NewKafkaEmitter(brokers []string, topic string, logger *slog.Logger) (*KafkaEmitter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &KafkaEmitter{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		Logger:  logger,
		Timeout: 10 * time.Second,
	}, nil
}

type kafkaEvent struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Data  any       `json:"data"`
}

func (e *KafkaEmitter) Emit(ctx context.Context, event string, data any) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	body, err := json.Marshal(kafkaEvent{Event: event, At: time.Now().UTC(), Data: data})
	if err != nil {
		log.Error("encode event", "event", event, "error", err)
		return
	}
	// The run context may already be cancelled; publishing gets its own deadline.
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := e.Writer.WriteMessages(wctx, kafka.Message{Key: []byte(event), Value: body}); err != nil {
		log.Error("publish event", "event", event, "error", err)
	}
}

func (e *KafkaEmitter) Close() error { return e.Writer.Close() }

// ── Mock ───────────────────────────────────────────────────

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Snapshot returns a copy of the recorded events.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}
