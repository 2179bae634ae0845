package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ticketing-core/internal/logger"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes outbox messages to "<prefix>.<topic>".
type Producer struct {
	Writer  MessageWriter
	prefix  string
	timeout time.Duration
	logger  *logger.Logger
}

func NewProducer(brokers []string, prefix string, timeout time.Duration, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
	}
	return &Producer{Writer: writer, prefix: prefix, timeout: timeout, logger: log}
}

func (p *Producer) TopicName(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *Producer) Name() string { return "kafka" }

// Deliver implements outbox.Sink.
func (p *Producer) Deliver(ctx context.Context, msg models.OutboxMessage, env outbox.Envelope) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	topic := p.TopicName(msg.Topic)
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: []byte(msg.Payload),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("message %d key %s", msg.ID, msg.Key))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
