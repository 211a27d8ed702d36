// Package publisher fans committed audit entries out to Kafka for downstream
// reporting and export consumers. Kafka is a mirror, not the source of truth;
// the audit_entries table remains authoritative.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"rollcall/internal/platform/config"
)

// Kafka publishes audit payloads to a single topic, keyed by entry id so
// replays dedupe cleanly on the consumer side.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the brokers and ensures the audit topic exists.
// Returns nil when no brokers are configured (audit fanout disabled).
func NewKafka(ctx context.Context, cfg config.Kafka, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	topicDetails, err := admin.ListTopics(ctx, cfg.Topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("list topics: %w", err)
	}
	if !topicDetails.Has(cfg.Topic) {
		if _, err := admin.CreateTopic(ctx, 1, 1, nil, cfg.Topic); err != nil {
			client.Close()
			return nil, fmt.Errorf("create audit topic: %w", err)
		}
		logger.Info("created audit topic", "topic", cfg.Topic)
	}

	return &Kafka{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Publish produces all payloads and waits for acknowledgement. Any failed
// record fails the whole batch so the outbox worker retries it.
func (k *Kafka) Publish(ctx context.Context, keys []string, payloads [][]byte) error {
	records := make([]*kgo.Record, len(payloads))
	for i, payload := range payloads {
		records[i] = &kgo.Record{
			Topic: k.topic,
			Key:   []byte(keys[i]),
			Value: payload,
		}
	}
	results := k.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}
