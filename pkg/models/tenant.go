package models

import (
	"errors"
	"fmt"
	"time"
)

// TenantStatus is the lifecycle state of a tenant account.
type TenantStatus string

const (
	TenantStatusActive      TenantStatus = "active"
	TenantStatusInactive    TenantStatus = "inactive"
	TenantStatusSuspended   TenantStatus = "suspended"
	TenantStatusSoftDeleted TenantStatus = "soft_deleted"
	TenantStatusHardDeleted TenantStatus = "hard_deleted"
)

// AllTenantStatuses lists every status in lifecycle order.
var AllTenantStatuses = []TenantStatus{
	TenantStatusActive,
	TenantStatusInactive,
	TenantStatusSuspended,
	TenantStatusSoftDeleted,
	TenantStatusHardDeleted,
}

// Valid reports whether s is a known status.
func (s TenantStatus) Valid() bool {
	for _, known := range AllTenantStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s TenantStatus) Terminal() bool {
	return s == TenantStatusHardDeleted
}

// Tenant is an isolated customer account. Nullable columns are pointers so
// that JSON consumers see null rather than zero values.
type Tenant struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Status                TenantStatus `json:"status"`
	RetentionPeriodDays   int          `json:"retentionPeriodDays"`
	SoftDeletedAt         *time.Time   `json:"softDeletedAt"`
	HardDeleteScheduledAt *time.Time   `json:"hardDeleteScheduledAt"`
	DeletedBy             *string      `json:"deletedBy"`
	DeletionReason        *string      `json:"deletionReason"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
}

// ErrTenantInvariant is returned by Validate when a tenant record breaks the
// schedule/status coupling.
var ErrTenantInvariant = errors.New("tenant invariant violated")

// Validate checks the record-level invariants: a hard delete is scheduled
// exactly when the tenant is soft deleted, and soft-delete bookkeeping is
// present only in that state.
func (t *Tenant) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrTenantInvariant, t.Status)
	}
	if t.RetentionPeriodDays <= 0 {
		return fmt.Errorf("%w: retention period must be positive, got %d", ErrTenantInvariant, t.RetentionPeriodDays)
	}
	softDeleted := t.Status == TenantStatusSoftDeleted
	if softDeleted != (t.HardDeleteScheduledAt != nil) {
		return fmt.Errorf("%w: status %s with hardDeleteScheduledAt set=%t", ErrTenantInvariant, t.Status, t.HardDeleteScheduledAt != nil)
	}
	if softDeleted && t.SoftDeletedAt == nil {
		return fmt.Errorf("%w: soft deleted tenant without softDeletedAt", ErrTenantInvariant)
	}
	return nil
}

// ClearDeletion removes every soft-delete field.
func (t *Tenant) ClearDeletion() {
	t.SoftDeletedAt = nil
	t.HardDeleteScheduledAt = nil
	t.DeletedBy = nil
	t.DeletionReason = nil
}

// Clone returns a deep copy so stores can hand out records without sharing
// pointer fields.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	c.SoftDeletedAt = cloneTime(t.SoftDeletedAt)
	c.HardDeleteScheduledAt = cloneTime(t.HardDeleteScheduledAt)
	c.DeletedBy = cloneString(t.DeletedBy)
	c.DeletionReason = cloneString(t.DeletionReason)
	return &c
}

// ScheduleFrom returns from + days as the hard-delete deadline.
func ScheduleFrom(from time.Time, days int) time.Time {
	return from.Add(time.Duration(days) * 24 * time.Hour)
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
