// Package notify publishes new-issue alerts to Kafka for downstream
// notification delivery (email, chat webhooks). Publishing is asynchronous
// and fire-and-forget.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/bugscout/bugscout/internal/config"
	"github.com/bugscout/bugscout/internal/storage"
)

// Notifier writes new-issue alerts to the alerts topic.
type Notifier struct {
	writer *kafka.Writer
}

// New creates a Notifier. Returns a disabled notifier when no brokers or no
// alerts topic are configured.
func New(cfg config.KafkaConfig) *Notifier {
	topic, ok := cfg.Topics["alerts"]
	if !ok || len(cfg.Brokers) == 0 {
		return &Notifier{}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              1,
		BatchTimeout:           time.Millisecond * 10,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}
	log.Info().Str("topic", topic).Msg("Kafka alert writer initialized")
	return &Notifier{writer: writer}
}

// NotifyNewIssue publishes one alert for a newly created issue. Failures are
// logged and swallowed; the alert path never blocks or fails the pipeline.
func (n *Notifier) NotifyNewIssue(ctx context.Context, issue storage.Issue) {
	if n.writer == nil {
		return
	}

	alert := map[string]interface{}{
		"recording_id": issue.RecordingID,
		"title":        issue.Title,
		"severity":     issue.Severity,
		"category":     issue.Category,
		"start_url":    issue.StartURL,
		"published_at": time.Now().UnixMilli(),
	}

	data, err := json.Marshal(alert)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal issue alert")
		return
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(issue.RecordingID),
		Value: data,
	})
	if err != nil {
		log.Error().Err(err).Str("recording_id", issue.RecordingID).Msg("Failed to publish issue alert")
		return
	}
	log.Debug().Str("recording_id", issue.RecordingID).Msg("Issue alert published")
}

// Close closes the Kafka writer.
func (n *Notifier) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
