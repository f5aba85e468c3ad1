package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"tenant-lifecycle/backend/pkg/models"
)

// EventType is the value carried in the message "type" header.
const EventType = "tenant.lifecycle"

// Event describes a committed lifecycle transition.
type Event struct {
	Type           string               `json:"type"`
	TenantID       string               `json:"tenantId"`
	Action         models.AuditAction   `json:"action"`
	PreviousStatus *models.TenantStatus `json:"previousStatus,omitempty"`
	NewStatus      *models.TenantStatus `json:"newStatus,omitempty"`
	Status         models.TenantStatus  `json:"status"`
	PerformedBy    string               `json:"performedBy"`
	ScheduledAt    *time.Time           `json:"scheduledAt,omitempty"`
	AuditEntryID   string               `json:"auditEntryId"`
	OccurredAt     time.Time            `json:"occurredAt"`
}

// FromAudit builds the event for entry, committed against tenant.
func FromAudit(entry *models.LifecycleAuditEntry, tenant *models.Tenant) Event {
	return Event{
		Type:           EventType,
		TenantID:       entry.TenantID,
		Action:         entry.Action,
		PreviousStatus: entry.PreviousStatus,
		NewStatus:      entry.NewStatus,
		Status:         tenant.Status,
		PerformedBy:    entry.PerformedBy,
		ScheduledAt:    entry.ScheduledAt,
		AuditEntryID:   entry.ID,
		OccurredAt:     entry.CreatedAt,
	}
}

// Publisher delivers lifecycle events after commit.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a kafka topic keyed by tenant id, so every
// event of one tenant lands on the same partition in commit order.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish marshals event to JSON and writes it.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	msg := skafka.Message{
		Key:   []byte(event.TenantID),
		Value: b,
		Headers: []skafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write lifecycle event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
