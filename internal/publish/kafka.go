// Package publish forwards newly created entities to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"paperTrading/internal/model"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes one message per entity, keyed by entity id so a
// given id always lands on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher builds a publisher with a synchronous writer.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaPublisherWithWriter(writer, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Message is the published envelope.
type Message struct {
	Type   model.EventKind `json:"type"`
	Entity model.Entity    `json:"entity"`
}

// Publish sends entities in order.
func (p *KafkaPublisher) Publish(ctx context.Context, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(entities))
	for i, e := range entities {
		value, err := json.Marshal(Message{Type: e.Kind, Entity: e})
		if err != nil {
			return fmt.Errorf("marshal entity %s: %w", e.ID, err)
		}
		messages[i] = kafka.Message{
			Key:   []byte(e.ID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
			},
		}
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	p.logger.Debug("entities published", zap.String("topic", p.topic), zap.Int("count", len(messages)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
