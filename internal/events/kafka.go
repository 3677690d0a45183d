package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/carpool-matching/internal/models"
)

const publishBatchTimeout = 10 * time.Millisecond

type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		// Publish writes one message at a time while callers hold user locks.
		BatchTimeout: publishBatchTimeout,
	}
	return &KafkaPublisher{writer: w, timeout: timeout}
}

// Publish keys messages by group id so one group's events stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, e models.GroupEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode group event: %w", err)
	}
	key := e.GroupID
	if key == "" {
		key = e.UserID
	}
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b, Time: e.At}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", e.Type, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
