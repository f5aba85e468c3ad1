package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-lifecycle/backend/pkg/models"
)

// fakeWriter records messages written.
type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)

	deadline := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	entry := &models.LifecycleAuditEntry{
		ID:             "entry-1",
		TenantID:       "tenant-1",
		Action:         models.ActionSoftDelete,
		PreviousStatus: models.StatusPtr(models.TenantStatusActive),
		NewStatus:      models.StatusPtr(models.TenantStatusSoftDeleted),
		PerformedBy:    "admin",
		ScheduledAt:    &deadline,
		CreatedAt:      deadline.AddDate(0, 0, -30),
	}
	tenant := &models.Tenant{ID: "tenant-1", Status: models.TenantStatusSoftDeleted}

	require.NoError(t, p.Publish(context.Background(), FromAudit(entry, tenant)))
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	assert.Equal(t, "tenant-1", string(msg.Key))
	assert.Contains(t, msg.Headers, skafka.Header{Key: "action", Value: []byte("soft_delete")})

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, EventType, got.Type)
	assert.Equal(t, "entry-1", got.AuditEntryID)
	assert.Equal(t, models.TenantStatusSoftDeleted, got.Status)
	assert.True(t, deadline.Equal(*got.ScheduledAt))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), Event{TenantID: "t"})
	assert.ErrorContains(t, err, "broker down")
}
