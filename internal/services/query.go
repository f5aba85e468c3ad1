package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tenant-lifecycle/backend/internal/repository"
	"tenant-lifecycle/backend/pkg/models"
)

const (
	DefaultPendingLimit = 100
	MaxPendingLimit     = 1000
)

// GetStatus returns the current tenant record.
func (s *LifecycleService) GetStatus(ctx context.Context, tenantID string) (*models.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.get_status",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, lookupError(tenantID, err)
	}
	return tenant, nil
}

// GetAuditLog returns every audit entry of the tenant, oldest first. Entries
// of a hard deleted tenant stay readable.
func (s *LifecycleService) GetAuditLog(ctx context.Context, tenantID string) ([]*models.LifecycleAuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.get_audit_log",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	if _, err := s.tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, lookupError(tenantID, err)
	}
	entries, err := s.audit.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list audit log: %w", ErrPersistence, err)
	}
	span.SetAttributes(attribute.Int("audit.entries", len(entries)))
	return entries, nil
}

// ListPendingDeletions returns soft deleted tenants ordered by deadline.
func (s *LifecycleService) ListPendingDeletions(ctx context.Context, limit int) ([]*models.Tenant, error) {
	switch {
	case limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	case limit == 0:
		limit = DefaultPendingLimit
	case limit > MaxPendingLimit:
		limit = MaxPendingLimit
	}
	tenants, err := s.tenants.ListSoftDeleted(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending deletions: %w", ErrPersistence, err)
	}
	if tenants == nil {
		tenants = []*models.Tenant{}
	}
	return tenants, nil
}

// DueForHardDelete returns ids of tenants whose deadline is at or before
// asOf.
func (s *LifecycleService) DueForHardDelete(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	ids, err := s.tenants.ListDueForHardDelete(ctx, asOf.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list due tenants: %w", ErrPersistence, err)
	}
	return ids, nil
}

func lookupError(tenantID string, err error) error {
	if errors.Is(err, repository.ErrTenantNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
