package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"escrowd/pkg/domain"
)

// KafkaPublisher ships domain events to the reputation subscriber's topic.
// Produces are synchronous: an event is only considered emitted once the
// broker acknowledges it, matching the engine's fail-closed posture.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects a franz-go client to the given brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// kafkaEnvelope matches the outbox payload contract so both delivery paths
// produce identical messages.
type kafkaEnvelope struct {
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	EscrowID    uint64 `json:"escrow_id"`
	DisputeID   uint64 `json:"dispute_id,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Buyer       string `json:"buyer,omitempty"`
	Seller      string `json:"seller,omitempty"`
	Asset       string `json:"asset,omitempty"`
	AssetAmount int64  `json:"asset_amount,omitempty"`
	FiatAmount  int64  `json:"fiat_amount,omitempty"`
	Fee         int64  `json:"fee,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Append implements Store. Events are keyed by escrow id so per-escrow
// ordering survives partitioning.
func (p *KafkaPublisher) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(kafkaEnvelope{
		Type:        string(event.Type),
		Timestamp:   event.Timestamp.Format(time.RFC3339Nano),
		EscrowID:    uint64(event.EscrowID),
		DisputeID:   uint64(event.DisputeID),
		Actor:       event.Actor.String(),
		Buyer:       event.Buyer.String(),
		Seller:      event.Seller.String(),
		Asset:       event.Asset.String(),
		AssetAmount: event.AssetAmount,
		FiatAmount:  event.FiatAmount,
		Fee:         event.Fee,
		RequestID:   event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.EscrowID.String()),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", event.Type, err)
	}
	return nil
}

// ListByEscrow is not supported on the Kafka sink; the feed is write-only
// from the engine's perspective.
func (p *KafkaPublisher) ListByEscrow(context.Context, domain.EscrowID) ([]Event, error) {
	return nil, fmt.Errorf("kafka publisher does not support reads")
}

// Close flushes and closes the underlying client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
