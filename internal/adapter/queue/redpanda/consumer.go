package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is a single consumed message, stripped down to what the worker's
// handlers need.
type Record struct {
	Topic       string
	Key         []byte
	Value       []byte
	ContentType string
}

// Consumer wraps a kgo consumer-group client for the worker process:
// duplicate-detector reconcile triggers and raw CATI webhook payloads both
// flow through it so the HTTP handlers that produce them never block on
// downstream processing.
type Consumer struct {
	client *kgo.Client
}

// NewConsumer constructs a Consumer subscribed to topics as part of
// groupID, so multiple worker replicas share the partition load.
func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Run polls for records until ctx is cancelled, invoking handle for each
// one and marking it for commit only once handle returns nil. A record
// whose handler fails is logged and left unmarked; this client does not
// fetch it again, and a later successfully handled record on the same
// partition commits the group offset past it.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, Record) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("redpanda fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			contentType := ""
			for _, h := range rec.Headers {
				if h.Key == "content_type" {
					contentType = string(h.Value)
				}
			}
			r := Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, ContentType: contentType}
			if err := handle(ctx, r); err != nil {
				slog.Error("redpanda handler failed, record left uncommitted", slog.String("topic", rec.Topic), slog.Any("error", err))
				return
			}
			c.client.MarkCommitRecords(rec)
		})
	}
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
