// Package events publishes billing events for downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"frameworks/pkg/kafka"
	"frameworks/pkg/logging"
)

// Billing event types.
const (
	TypeMessageCharged  = "message.charged"
	TypeMessageRefunded = "message.refunded"
	TypeMessageFailed   = "message.failed"
	TypeMessageUnbilled = "message.unbilled"
	TypeWalletRecharged = "wallet.recharged"
	TypeWalletLowBal    = "wallet.low_balance"
)

const source = "bosun"

// Event is one billing fact.
type Event struct {
	Type      string
	TenantID  string
	MessageID string
	Amount    decimal.Decimal
	Balance   decimal.Decimal
	Detail    string
}

// Publisher delivers billing events. Publishing is best effort: callers log
// failures and carry on, the ledger is the record.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// KafkaPublisher writes events to one topic.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   logging.Logger
}

// NewKafkaPublisher creates a publisher on topic.
func NewKafkaPublisher(producer *kafka.Producer, topic string, logger logging.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	if err := p.producer.PublishEvent(ctx, p.topic, envelope(evt)); err != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"event_type": evt.Type,
			"tenant_id":  evt.TenantID,
		}).Warn("Failed to publish billing event")
		return err
	}
	return nil
}

func envelope(evt Event) kafka.Event {
	data := map[string]interface{}{
		"amount":  evt.Amount.String(),
		"balance": evt.Balance.String(),
	}
	if evt.MessageID != "" {
		data["message_id"] = evt.MessageID
	}
	if evt.Detail != "" {
		data["detail"] = evt.Detail
	}
	return kafka.Event{
		ID:        uuid.New().String(),
		Type:      evt.Type,
		Source:    source,
		TenantID:  evt.TenantID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the published event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
