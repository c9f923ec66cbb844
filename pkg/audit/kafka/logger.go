// Package kafka streams audit events to a Kafka topic.
//
// Log only enqueues onto a bounded local queue; a fixed set of workers
// sends each event with exponential backoff and drops it after MaxRetry
// failed attempts. A full queue drops the event immediately, so a slow
// broker never stalls a collaboration request.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 2
	defaultMaxRetry    = 3
	defaultBaseBackoff = 100 * time.Millisecond
	defaultMaxBackoff  = 2 * time.Second
)

// ErrQueueFull is returned by Log when the local queue cannot take the event.
var ErrQueueFull = errors.New("kafka audit queue full")

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("kafka audit logger closed")

// Config configures the dispatcher.
type Config struct {
	Topic       string
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
}

// Logger implements audit.Logger on top of a sarama SyncProducer.
type Logger struct {
	producer sarama.SyncProducer
	cfg      Config
	queue    chan audit.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewProducer dials the brokers with the settings the dispatcher relies on.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return producer, nil
}

// New starts the worker pool. The logger owns producer and closes it.
func New(producer sarama.SyncProducer, cfg Config) *Logger {
	cfg.applyDefaults()
	l := &Logger{
		producer: producer,
		cfg:      cfg,
		queue:    make(chan audit.Event, cfg.QueueSize),
	}
	for i := range cfg.Workers {
		l.wg.Add(1)
		go l.workerLoop(i)
	}
	return l
}

// Log enqueues the event without blocking.
func (l *Logger) Log(_ context.Context, event audit.Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue, waits for the workers and closes the producer.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if err := l.producer.Close(); err != nil {
		return fmt.Errorf("closing kafka producer: %w", err)
	}
	return nil
}

func (l *Logger) workerLoop(workerID int) {
	defer l.wg.Done()
	for event := range l.queue {
		l.sendWithRetry(workerID, event)
	}
}

func (l *Logger) sendWithRetry(workerID int, event audit.Event) {
	for attempt := 0; attempt <= l.cfg.MaxRetry; attempt++ {
		err := l.sendOnce(event)
		if err == nil {
			return
		}
		if attempt == l.cfg.MaxRetry {
			slog.Warn("audit: kafka send failed, dropping event",
				"event_id", event.ID,
				"action", event.ActionType,
				"worker", workerID,
				"error", err)
			return
		}
		time.Sleep(l.backoff(attempt))
	}
}

func (l *Logger) backoff(attempt int) time.Duration {
	d := l.cfg.BaseBackoff * time.Duration(1<<attempt)
	if d <= 0 || d > l.cfg.MaxBackoff {
		return l.cfg.MaxBackoff
	}
	return d
}

func (l *Logger) sendOnce(event audit.Event) error {
	event.OldValues = audit.SanitizeValues(event.OldValues)
	event.NewValues = audit.SanitizeValues(event.NewValues)
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: l.cfg.Topic,
		Key:   sarama.StringEncoder(event.EntityID),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := l.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("sending audit event: %w", err)
	}
	return nil
}

var _ audit.Logger = (*Logger)(nil)
