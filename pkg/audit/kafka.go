package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSinkConfig configures the Kafka audit sink.
type KafkaSinkConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives one message per audit entry.
	Topic string

	// MaxAttempts is how many times a write is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// messageWriter is the slice of kafka.Writer the sink uses. Tests swap
// in a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams audit entries to a Kafka topic. Messages are keyed
// by the entry subject so per-subject ordering survives partitioning.
type KafkaSink struct {
	writer      messageWriter
	maxAttempts int
	backoffBase time.Duration
}

// NewKafkaSink constructs a Kafka-backed sink.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	}
	return &KafkaSink{writer: w, maxAttempts: cfg.MaxAttempts, backoffBase: 100 * time.Millisecond}, nil
}

// Append produces one entry, retrying transient failures with capped
// exponential backoff.
func (k *KafkaSink) Append(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Subject),
		Value: value,
		Time:  e.Timestamp,
	}

	var lastErr error
	backoff := k.backoffBase
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		if err := k.writer.WriteMessages(ctx, msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("produce audit entry %d: %w", e.Sequence, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce audit entry %d failed after %d attempts: %w", e.Sequence, k.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
