// Package redpanda provides the EventPublisher implementation: async
// eventing for batch-closed notifications, duplicate-detector reconcile
// triggers, and decoupled CATI webhook ingestion.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fieldops/surveypipe/internal/domain"
)

const (
	// TopicBatchClosed carries batch-closed notifications for downstream
	// reporting/export consumers.
	TopicBatchClosed = "batch-closed"
	// TopicReconcileTrigger carries duplicate-detector reconciliation
	// requests so the sweep can run off the request path.
	TopicReconcileTrigger = "duplicate-reconcile-trigger"
	// TopicCATIWebhookRaw carries raw inbound telephony webhook payloads so
	// the HTTP handler can ack fast and let a worker normalize/process them.
	TopicCATIWebhookRaw = "cati-webhook-raw"
)

// Producer implements domain.EventPublisher over Kafka/Redpanda.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer and ensures its topics exist.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	p := &Producer{client: client}
	ctx := context.Background()
	for _, topic := range []string{TopicBatchClosed, TopicReconcileTrigger, TopicCATIWebhookRaw} {
		if err := createTopicIfNotExists(ctx, client, topic, 3, 1); err != nil {
			slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
		}
	}
	return p, nil
}

type batchClosedEvent struct {
	BatchID  string `json:"batch_id"`
	SurveyID string `json:"survey_id"`
}

// PublishBatchClosed notifies downstream consumers a QC batch closed.
func (p *Producer) PublishBatchClosed(ctx domain.Context, batchID, surveyID string) error {
	payload, err := json.Marshal(batchClosedEvent{BatchID: batchID, SurveyID: surveyID})
	if err != nil {
		return fmt.Errorf("marshal batch closed event: %w", err)
	}
	record := &kgo.Record{
		Topic: TopicBatchClosed,
		Key:   []byte(batchID),
		Value: payload,
	}
	return p.produceSync(ctx, record, "batch_closed")
}

type reconcileTriggerEvent struct {
	SurveyMode string    `json:"survey_mode"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// PublishReconcileTrigger requests an out-of-band duplicate-detector sweep.
func (p *Producer) PublishReconcileTrigger(ctx domain.Context, surveyMode domain.SurveyMode, from, to time.Time) error {
	payload, err := json.Marshal(reconcileTriggerEvent{SurveyMode: string(surveyMode), From: from, To: to})
	if err != nil {
		return fmt.Errorf("marshal reconcile trigger event: %w", err)
	}
	record := &kgo.Record{
		Topic: TopicReconcileTrigger,
		Key:   []byte(surveyMode),
		Value: payload,
	}
	return p.produceSync(ctx, record, "reconcile_trigger")
}

// PublishCATIWebhookRaw hands a raw inbound telephony webhook payload to a
// worker so the HTTP handler can ack the provider immediately.
func (p *Producer) PublishCATIWebhookRaw(ctx domain.Context, companyID string, raw []byte, contentType string) error {
	record := &kgo.Record{
		Topic: TopicCATIWebhookRaw,
		Key:   []byte(companyID),
		Value: raw,
		Headers: []kgo.RecordHeader{
			{Key: "content_type", Value: []byte(contentType)},
			{Key: "company_id", Value: []byte(companyID)},
		},
	}
	return p.produceSync(ctx, record, "cati_webhook_raw")
}

func (p *Producer) produceSync(ctx domain.Context, record *kgo.Record, kind string) error {
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		slog.Error("failed to produce event", slog.String("kind", kind), slog.String("topic", record.Topic), slog.Any("error", err))
		return fmt.Errorf("produce %s: %w", kind, err)
	}
	return nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
