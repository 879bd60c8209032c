package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/manifest-network/eventstream/internal/models"
)

// messageWriter is the part of kafka.Writer the handler uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOutputHandler publishes one message per record, keyed by height.
type KafkaOutputHandler struct {
	writer messageWriter
	topic  string
}

func NewKafkaOutputHandler(brokers []string, topic string) *KafkaOutputHandler {
	return &KafkaOutputHandler{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

func (h *KafkaOutputHandler) Write(ctx context.Context, record models.Record) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %d: %w", record.Kind(), record.GetHeight(), err)
	}
	msg := kafka.Message{
		Key:     []byte(strconv.FormatUint(record.GetHeight(), 10)),
		Value:   value,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(record.Kind())}},
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s %d to %s: %w", record.Kind(), record.GetHeight(), h.topic, err)
	}
	return nil
}

func (h *KafkaOutputHandler) Close() error {
	if err := h.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
