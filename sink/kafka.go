// Package sink holds example EnqueueFunc implementations: concrete
// collaborators that forward validated oplog entries somewhere durable.
// Exactly one is provided, a Kafka producer, grounded on the teacher's
// lib/kafkalib batch/retry/reload idiom (spec.md §1, §6).
package sink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/lib/backoff"
	"github.com/artie-labs/oplogfetcher/oplogfetcher"
)

const (
	maxRetries   = 5
	retryDelayMs = 250
)

// KafkaConfig describes how to reach the Kafka cluster and which topic to
// publish validated oplog entries to.
type KafkaConfig struct {
	BootstrapServers []string
	Topic            string
	MaxRequestBytes  int
}

// KafkaSink publishes validated oplog entries to a Kafka topic as they are
// accepted by the fetcher. Each message's key is the entry's "_id" field,
// mirroring the teacher's newMessage partition-key convention.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSink constructs a KafkaSink and its underlying kafka.Writer,
// adapted from the teacher's kafkalib.NewWriter.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("no bootstrap servers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no topic configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BootstrapServers...),
		Compression:            kafka.Gzip,
		Balancer:               &kafka.LeastBytes{},
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			DialTimeout: 10 * time.Second,
			TLS:         &tls.Config{},
		},
	}

	if cfg.MaxRequestBytes > 0 {
		writer.BatchBytes = int64(cfg.MaxRequestBytes)
	}

	return &KafkaSink{writer: writer, topic: cfg.Topic}, nil
}

// Enqueue implements the shape of oplogfetcher.EnqueueFunc. It JSON-encodes
// each entry and publishes it to the configured topic, retrying transient
// failures with jittered backoff the way the teacher's kafkalib.Batch.Publish
// does.
func (k *KafkaSink) Enqueue(ctx context.Context, entries []bson.Raw, info oplogfetcher.DocumentsInfo) error {
	if len(entries) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, doc := range entries {
		key, err := partitionKey(doc)
		if err != nil {
			return fmt.Errorf("failed to derive partition key: %w", err)
		}

		var asMap map[string]any
		if err := bson.Unmarshal(doc, &asMap); err != nil {
			return fmt.Errorf("failed to convert entry to JSON: %w", err)
		}

		value, err := json.Marshal(asMap)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		msgs = append(msgs, kafka.Message{Topic: k.topic, Key: key, Value: value})
	}

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = k.writer.WriteMessages(ctx, msgs...)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("enqueue interrupted: %w", ctx.Err())
		}

		sleepMs := backoff.JitterMs(retryDelayMs, retryDelayMs*20, attempt)
		slog.Warn("failed to publish oplog entries, retrying after jitter sleep",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Int("maxRetries", maxRetries),
		)
		time.Sleep(time.Duration(sleepMs) * time.Millisecond)
	}

	return fmt.Errorf("failed to publish %d entries after %d attempts: %w", len(msgs), maxRetries, err)
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func partitionKey(doc bson.Raw) ([]byte, error) {
	idVal, err := doc.LookupErr("_id")
	if err != nil {
		return nil, fmt.Errorf("entry missing _id field: %w", err)
	}

	switch idVal.Type {
	case bson.TypeString:
		return []byte(idVal.StringValue()), nil
	default:
		return []byte(idVal.String()), nil
	}
}
