package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is the envelope written to the topic.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	now    func() time.Time
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		now: time.Now,
	}
}

// Publish writes one event. Messages are keyed by the company key so every
// version of a company lands on the same partition in order.
func (p *Producer) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	value, err := json.Marshal(Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// NoOpProducer discards events. Used when no brokers are configured.
type NoOpProducer struct{}

func (NoOpProducer) Publish(context.Context, string, string, interface{}) error { return nil }

func (NoOpProducer) Close() error { return nil }
