// Package events publishes membership lifecycle events to Kafka so downstream
// services (course enrolment, billing, analytics) can react to adds, reactivations,
// email changes, and deactivations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/membership"
	"github.com/learnhub/membership-service/internal/telemetry"
)

// Writer is the subset of kafka.Writer the publisher uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements membership.Publisher on a Kafka topic. Messages are
// keyed by identity so every event for one person lands on the same partition.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher for the configured brokers and topic
func NewKafkaPublisher(cfg config.EventsConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events.brokers is required when events are enabled")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events.topic is required when events are enabled")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}, nil
}

// NewKafkaPublisherWithWriter allows injecting a test writer
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish implements membership.Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, e membership.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(e.Type, "error").Inc()
		return fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(e.Membership.IdentityID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "tenant_id", Value: []byte(e.Membership.TenantID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(e.Type, "error").Inc()
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}

	telemetry.EventsPublishedTotal.WithLabelValues(e.Type, "success").Inc()
	slog.Debug("membership event published", "type", e.Type, "event_id", e.ID)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
