package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chronomed-ai/cdss/pkg/common/config"
	"github.com/chronomed-ai/cdss/pkg/common/logger"
	"github.com/chronomed-ai/cdss/pkg/common/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(topic string) *Producer {
	cfg := config.Load()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer}
}

func (p *Producer) PublishAudit(ctx context.Context, event models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.Patient),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "code", Value: []byte(event.Code)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"action":   event.Action,
		}).Error("failed to publish audit event")
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
