// Package events publishes domain events (appointment.created,
// invoice.issued, consent.signed, ...) for downstream consumers such as
// marketing segmentation and analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	AppointmentCreated   = "appointment.created"
	AppointmentCancelled = "appointment.cancelled"
	ParticipantEnrolled  = "group_activity.enrolled"
	ClientTagsUpdated    = "client.tags_updated"
	InvoiceIssued        = "invoice.issued"
	InvoicePaid          = "invoice.paid"
	ConsentSigned        = "consent.signed"
	SubscriptionSynced   = "subscription.synced"
	MessageReceived      = "whatsapp.message_received"
)

type Event struct {
	ID             uuid.UUID   `json:"id"`
	Type           string      `json:"type"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	OccurredAt     time.Time   `json:"occurred_at"`
	Data           interface{} `json:"data"`
}

func New(eventType string, orgID uuid.UUID, data interface{}) Event {
	return Event{ID: uuid.New(), Type: eventType, OrganizationID: orgID, OccurredAt: time.Now().UTC(), Data: data}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Emit publishes evt after the owning transaction committed. Failures are
// logged and swallowed.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, evt Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).
			Str("event", evt.Type).
			Str("organization_id", evt.OrganizationID.String()).
			Msg("publish event failed")
	}
}

// KafkaPublisher writes JSON events keyed by organization id so that each
// organization's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrganizationID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
