package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant-lifecycle/backend/pkg/models"
)

// PostgresAuditStore appends lifecycle audit entries to PostgreSQL.
type PostgresAuditStore struct {
	db *pgxpool.Pool
}

// NewPostgresAuditStore creates a new PostgresAuditStore.
func NewPostgresAuditStore(db *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

var _ AuditStore = (*PostgresAuditStore)(nil)

// Append inserts entry. Inside RunInTx it commits or rolls back with the
// tenant update.
func (s *PostgresAuditStore) Append(ctx context.Context, entry *models.LifecycleAuditEntry) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	metadata, err := models.EncodeMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	_, err = conn(ctx, s.db).Exec(ctx, `
		INSERT INTO tenant_lifecycle_audit (
			id, tenant_id, action, previous_status, new_status, performed_by,
			reason, metadata, scheduled_at, created_at
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)`,
		entry.ID, entry.TenantID, string(entry.Action),
		statusText(entry.PreviousStatus), statusText(entry.NewStatus),
		entry.PerformedBy, entry.Reason, string(metadata), entry.ScheduledAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByTenant returns a tenant's entries in commit order. Writers hold the
// tenant row lock, so seq is monotonic per tenant regardless of host clocks.
func (s *PostgresAuditStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.LifecycleAuditEntry, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return []*models.LifecycleAuditEntry{}, nil
	}
	rows, err := conn(ctx, s.db).Query(ctx, `
		SELECT id::text, tenant_id::text, action, previous_status, new_status, performed_by,
		       reason, metadata, scheduled_at, created_at
		FROM tenant_lifecycle_audit
		WHERE tenant_id = $1::uuid
		ORDER BY seq`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []*models.LifecycleAuditEntry{}
	for rows.Next() {
		var (
			e              models.LifecycleAuditEntry
			action         string
			previousStatus *string
			newStatus      *string
			metadata       []byte
		)
		if err := rows.Scan(
			&e.ID, &e.TenantID, &action, &previousStatus, &newStatus, &e.PerformedBy,
			&e.Reason, &metadata, &e.ScheduledAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.PreviousStatus = statusFromText(previousStatus)
		e.NewStatus = statusFromText(newStatus)
		e.CreatedAt = e.CreatedAt.UTC()
		e.ScheduledAt = utcPtr(e.ScheduledAt)
		if e.Metadata, err = models.DecodeMetadata(e.Action, metadata); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}

func statusText(s *models.TenantStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusFromText(s *string) *models.TenantStatus {
	if s == nil {
		return nil
	}
	return models.StatusPtr(models.TenantStatus(*s))
}
