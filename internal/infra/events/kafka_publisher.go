// File: internal/infra/events/kafka_publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

var tracer = otel.Tracer("gym-membership/events")

// messageWriter is the part of *kafka.Writer we use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes settlement events as JSON, keyed by user id so a
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
		topic: topic,
	}
}

func (k *KafkaPublisher) PublishPurchaseSettled(ctx context.Context, evt model.PurchaseSettled) error {
	ctx, span := tracer.Start(ctx, "KafkaPublisher.PublishPurchaseSettled")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", k.topic),
		attribute.String("purchase.id", evt.PurchaseID),
	)

	msg, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal purchase settled: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.UserID),
		Value: msg,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("membership.purchase_settled")},
			{Key: "event_id", Value: []byte(evt.EventID)},
		},
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
