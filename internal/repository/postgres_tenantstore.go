package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant-lifecycle/backend/pkg/models"
)

const tenantColumns = `
	id::text,
	name,
	status,
	retention_period_days,
	soft_deleted_at,
	hard_delete_scheduled_at,
	deleted_by,
	deletion_reason,
	created_at,
	updated_at`

// PostgresTenantStore is a PostgreSQL implementation of TenantStore.
type PostgresTenantStore struct {
	db *pgxpool.Pool
}

// NewPostgresTenantStore creates a new PostgresTenantStore.
func NewPostgresTenantStore(db *pgxpool.Pool) *PostgresTenantStore {
	return &PostgresTenantStore{db: db}
}

var _ TenantStore = (*PostgresTenantStore)(nil)

// GetTenant retrieves a tenant by id.
func (s *PostgresTenantStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, ErrTenantNotFound
	}
	row := conn(ctx, s.db).QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1::uuid`, tenantID)
	return scanTenant(row)
}

// GetTenantForUpdate retrieves a tenant and locks its row until the
// surrounding transaction ends.
func (s *PostgresTenantStore) GetTenantForUpdate(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if !inTx(ctx) {
		return nil, ErrNoTransaction
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, ErrTenantNotFound
	}
	row := conn(ctx, s.db).QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1::uuid FOR UPDATE`, tenantID)
	return scanTenant(row)
}

// CreateTenant inserts a tenant. A missing id is generated.
func (s *PostgresTenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant == nil {
		return errors.New("tenant is required")
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusActive
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = tenant.CreatedAt
	if err := tenant.Validate(); err != nil {
		return err
	}

	_, err := conn(ctx, s.db).Exec(ctx, `
		INSERT INTO tenants (
			id, name, status, retention_period_days, soft_deleted_at, hard_delete_scheduled_at,
			deleted_by, deletion_reason, created_at, updated_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tenant.ID, tenant.Name, string(tenant.Status), tenant.RetentionPeriodDays,
		tenant.SoftDeletedAt, tenant.HardDeleteScheduledAt, tenant.DeletedBy, tenant.DeletionReason,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// UpdateTenant writes the lifecycle columns guarded by the expected status.
func (s *PostgresTenantStore) UpdateTenant(ctx context.Context, tenant *models.Tenant, expected models.TenantStatus) error {
	tag, err := conn(ctx, s.db).Exec(ctx, `
		UPDATE tenants SET
			status = $2,
			retention_period_days = $3,
			soft_deleted_at = $4,
			hard_delete_scheduled_at = $5,
			deleted_by = $6,
			deletion_reason = $7,
			updated_at = $8
		WHERE id = $1::uuid AND status = $9`,
		tenant.ID, string(tenant.Status), tenant.RetentionPeriodDays,
		tenant.SoftDeletedAt, tenant.HardDeleteScheduledAt, tenant.DeletedBy, tenant.DeletionReason,
		tenant.UpdatedAt, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ListDueForHardDelete returns soft deleted tenant ids whose deadline passed.
func (s *PostgresTenantStore) ListDueForHardDelete(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	rows, err := conn(ctx, s.db).Query(ctx, `
		SELECT id::text FROM tenants
		WHERE status = 'soft_deleted' AND hard_delete_scheduled_at <= $1
		ORDER BY hard_delete_scheduled_at, id
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan due tenants: %w", err)
	}
	return ids, nil
}

// ListSoftDeleted returns soft deleted tenants, earliest deadline first.
func (s *PostgresTenantStore) ListSoftDeleted(ctx context.Context, limit int) ([]*models.Tenant, error) {
	rows, err := conn(ctx, s.db).Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE status = 'soft_deleted'
		ORDER BY hard_delete_scheduled_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list soft deleted tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t      models.Tenant
		status string
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&status,
		&t.RetentionPeriodDays,
		&t.SoftDeletedAt,
		&t.HardDeleteScheduledAt,
		&t.DeletedBy,
		&t.DeletionReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	t.Status = models.TenantStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.SoftDeletedAt = utcPtr(t.SoftDeletedAt)
	t.HardDeleteScheduledAt = utcPtr(t.HardDeleteScheduledAt)
	return &t, nil
}

func utcPtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	u := v.UTC()
	return &u
}
