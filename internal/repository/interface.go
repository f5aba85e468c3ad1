package repository

import (
	"context"
	"errors"
	"time"

	"tenant-lifecycle/backend/pkg/models"
)

var (
	// ErrTenantNotFound is returned when no tenant row matches the id.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrConcurrentUpdate is returned when an update's expected status no
	// longer matches the stored row.
	ErrConcurrentUpdate = errors.New("tenant was modified concurrently")
	// ErrNoTransaction is returned by row-locking reads issued outside RunInTx.
	ErrNoTransaction = errors.New("operation requires a transaction")
)

// TenantStore persists tenant records.
type TenantStore interface {
	// GetTenant reads the current record without locking.
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	// GetTenantForUpdate reads the record and holds its row lock until the
	// surrounding transaction ends. Must be called inside RunInTx.
	GetTenantForUpdate(ctx context.Context, tenantID string) (*models.Tenant, error)
	// CreateTenant inserts a new tenant. Used by provisioning and seeding.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	// UpdateTenant writes every lifecycle column, but only if the stored
	// status still equals expected.
	UpdateTenant(ctx context.Context, tenant *models.Tenant, expected models.TenantStatus) error
	// ListDueForHardDelete returns ids of soft deleted tenants whose deadline
	// is at or before asOf, earliest deadline first.
	ListDueForHardDelete(ctx context.Context, asOf time.Time, limit int) ([]string, error)
	// ListSoftDeleted returns soft deleted tenants ordered by deadline.
	ListSoftDeleted(ctx context.Context, limit int) ([]*models.Tenant, error)
}

// AuditStore is the append-only lifecycle audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *models.LifecycleAuditEntry) error
	// ListByTenant returns entries in the order their transactions committed.
	ListByTenant(ctx context.Context, tenantID string) ([]*models.LifecycleAuditEntry, error)
}

// TransactionManager runs fn inside one database transaction. Stores called
// with the ctx passed to fn join that transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Purger removes every business record owned by a tenant. It runs inside the
// hard-delete transaction and reports rows removed per table.
type Purger interface {
	PurgeTenant(ctx context.Context, tenantID string) (map[string]int64, error)
}
