package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sequelae-ai/tokenize/pkg/common/config"
	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
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

func (p *Producer) PublishRunEvent(ctx context.Context, eventType string, runID string, data map[string]interface{}) error {
	event := models.RunEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Data:      data,
		Timestamp: time.Now(),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(runID),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "run-id", Value: []byte(runID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		}).Error("Failed to publish run event")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.writer.Topic,
	}).Info("Run event published")

	return nil
}

func (p *Producer) PublishTokenized(ctx context.Context, ts models.TokenizedSubject) error {
	payload, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to marshal tokenized subject: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(ts.SubjectID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "run-id", Value: []byte(ts.RunID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"run_id":     ts.RunID,
			"subject_id": ts.SubjectID,
		}).Error("Failed to publish tokenized subject")
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
