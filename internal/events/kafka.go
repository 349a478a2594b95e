// Package events publishes image lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stefando/imageHostAWS/internal/model"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event to a topic, keyed by owner
// so an owner's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter returns a writer for brokers that waits for all replicas.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
	}
}

// NewKafkaPublisher creates a publisher over writer. The topic is set per
// message, so writer must not have its own Topic.
func NewKafkaPublisher(writer MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("KafkaPublisher - Publish - json.Marshal: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.OwnerID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "item_id", Value: []byte(event.ItemID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("KafkaPublisher - Publish - WriteMessages: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("KafkaPublisher - Close: %w", err)
	}
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, model.Event) error { return nil }

func (Nop) Close() error { return nil }
