// Package outbox relays committed deed events from the outbox table to Kafka.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"titledeed/internal/deed/metrics"
	"titledeed/internal/deed/models"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100

	headerEventType = "event_type"
	headerEventID   = "event_id"
)

// Source hands out unpublished entries and marks them processed once publish
// returns nil.
type Source interface {
	Drain(ctx context.Context, limit int, publish func(context.Context, []models.OutboxEntry) error) (int, error)
}

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// TopicAdmin is the subset of *kadm.Client used to provision the topic.
type TopicAdmin interface {
	CreateTopic(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topic string) (kadm.CreateTopicResponse, error)
}

// Relay polls the outbox and produces each entry to topic, keyed by the
// aggregate so events for one deed stay ordered.
type Relay struct {
	source       Source
	producer     Producer
	topic        string
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func New(source Source, producer Producer, topic string, opts ...Option) (*Relay, error) {
	if source == nil {
		return nil, fmt.Errorf("outbox source is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	r := &Relay{
		source:       source,
		producer:     producer,
		topic:        topic,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until ctx is cancelled. Publish failures are logged and retried
// on the next tick; entries stay unprocessed until Kafka acknowledges them.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.metrics.IncrementOutboxPublishError()
			r.logger.WarnContext(ctx, "outbox relay flush failed", "topic", r.topic, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush drains full batches until the outbox is empty and returns the number
// of entries published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.source.Drain(ctx, r.batchSize, r.publish)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, entries []models.OutboxEntry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: headerEventType, Value: []byte(e.EventType)},
				{Key: headerEventID, Value: []byte(e.ID.String())},
			},
			Timestamp: e.CreatedAt,
		})
	}
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce %d outbox records: %w", len(records), err)
	}
	r.metrics.IncrementOutboxPublished(len(records))
	r.logger.DebugContext(ctx, "outbox entries published", "topic", r.topic, "count", len(records))
	return nil
}

// EnsureTopic creates topic if it does not exist.
func EnsureTopic(ctx context.Context, admin TopicAdmin, topic string, partitions int32, replication int16) error {
	resp, err := admin.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}
