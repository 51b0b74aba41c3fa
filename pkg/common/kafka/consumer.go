package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"github.com/sequelae-ai/tokenize/pkg/common/config"
	"github.com/sequelae-ai/tokenize/pkg/common/logger"
	"github.com/sequelae-ai/tokenize/pkg/common/models"
)

type Consumer struct {
	reader *kafka.Reader
}

type TimelineHandler func(ctx context.Context, tl models.SubjectTimeline) error

func NewConsumer(topic string, groupID string) *Consumer {
	cfg := config.Load()
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler TimelineHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				logger.Log.WithError(err).Error("Failed to fetch message")
				continue
			}

			var tl models.SubjectTimeline
			if err := json.Unmarshal(message.Value, &tl); err != nil {
				logger.Log.WithError(err).Error("Failed to unmarshal subject timeline")
				c.reader.CommitMessages(ctx, message)
				continue
			}

			if err := handler(ctx, tl); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"run_id":     tl.RunID,
					"subject_id": tl.SubjectID,
				}).Error("Failed to process subject timeline")
				// Don't commit on error, will retry
				continue
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
