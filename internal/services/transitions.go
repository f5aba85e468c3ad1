package services

import (
	"context"
	"fmt"
	"time"

	"tenant-lifecycle/backend/pkg/models"
)

// request carries the inputs of one lifecycle operation.
type request struct {
	action        models.AuditAction
	performedBy   string
	reason        *string
	retentionDays int
	now           time.Time
	// guard runs under the row lock after the transition is found legal.
	guard func(t *models.Tenant) error
}

// applyFunc mutates t in place for the transition and returns the audit
// metadata and the deadline recorded as the entry's scheduledAt.
type applyFunc func(s *LifecycleService, ctx context.Context, t *models.Tenant, req *request) (models.AuditMetadata, *time.Time, error)

type rule struct {
	to    models.TenantStatus
	noop  bool
	apply applyFunc
}

// transitions is the complete lifecycle state machine. Any (status, action)
// pair missing from it is an invalid transition.
var transitions = map[models.TenantStatus]map[models.AuditAction]rule{
	models.TenantStatusActive: {
		models.ActionSoftDelete: {to: models.TenantStatusSoftDeleted, apply: (*LifecycleService).applySoftDelete},
		models.ActionReactivate: {to: models.TenantStatusActive, noop: true},
	},
	models.TenantStatusInactive: {
		models.ActionSoftDelete: {to: models.TenantStatusSoftDeleted, apply: (*LifecycleService).applySoftDelete},
	},
	models.TenantStatusSuspended: {
		models.ActionSoftDelete: {to: models.TenantStatusSoftDeleted, apply: (*LifecycleService).applySoftDelete},
	},
	models.TenantStatusSoftDeleted: {
		models.ActionReactivate:      {to: models.TenantStatusActive, apply: (*LifecycleService).applyReactivate},
		models.ActionHardDelete:      {to: models.TenantStatusHardDeleted, apply: (*LifecycleService).applyHardDelete},
		models.ActionRetentionUpdate: {to: models.TenantStatusSoftDeleted, apply: (*LifecycleService).applyRetentionUpdate},
	},
	models.TenantStatusHardDeleted: {},
}

func lookupTransition(from models.TenantStatus, action models.AuditAction) (rule, error) {
	r, ok := transitions[from][action]
	if !ok {
		return rule{}, fmt.Errorf("%w: cannot %s a tenant in status %s", ErrInvalidTransition, action, from)
	}
	return r, nil
}

// CanTransition reports whether action is legal from status.
func CanTransition(from models.TenantStatus, action models.AuditAction) bool {
	_, err := lookupTransition(from, action)
	return err == nil
}

func (s *LifecycleService) applySoftDelete(_ context.Context, t *models.Tenant, req *request) (models.AuditMetadata, *time.Time, error) {
	if req.retentionDays > 0 {
		t.RetentionPeriodDays = req.retentionDays
	}
	deletedAt := req.now
	deadline := models.ScheduleFrom(deletedAt, t.RetentionPeriodDays)
	performedBy := req.performedBy

	t.SoftDeletedAt = &deletedAt
	t.HardDeleteScheduledAt = &deadline
	t.DeletedBy = &performedBy
	t.DeletionReason = req.reason

	return models.SoftDeleteMetadata{
		RetentionPeriodDays:   t.RetentionPeriodDays,
		HardDeleteScheduledAt: deadline,
	}, &deadline, nil
}

func (s *LifecycleService) applyReactivate(_ context.Context, t *models.Tenant, _ *request) (models.AuditMetadata, *time.Time, error) {
	md := models.ReactivateMetadata{
		SoftDeletedAt:        *t.SoftDeletedAt,
		CancelledScheduledAt: *t.HardDeleteScheduledAt,
	}
	if t.DeletedBy != nil {
		md.PreviousDeletedBy = *t.DeletedBy
	}
	if t.DeletionReason != nil {
		md.PreviousDeletionReason = *t.DeletionReason
	}
	t.ClearDeletion()
	return md, nil, nil
}

func (s *LifecycleService) applyHardDelete(ctx context.Context, t *models.Tenant, _ *request) (models.AuditMetadata, *time.Time, error) {
	purged, err := s.purger.PurgeTenant(ctx, t.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: purge tenant data: %w", ErrPersistence, err)
	}
	deadline := *t.HardDeleteScheduledAt
	md := models.HardDeleteMetadata{
		SoftDeletedAt:         *t.SoftDeletedAt,
		HardDeleteScheduledAt: deadline,
		PurgedRecords:         purged,
	}
	// softDeletedAt stays as the tombstone's record of when deletion began.
	t.HardDeleteScheduledAt = nil
	return md, &deadline, nil
}

func (s *LifecycleService) applyRetentionUpdate(_ context.Context, t *models.Tenant, req *request) (models.AuditMetadata, *time.Time, error) {
	md := models.RetentionUpdateMetadata{
		PreviousRetentionPeriodDays:   t.RetentionPeriodDays,
		PreviousHardDeleteScheduledAt: *t.HardDeleteScheduledAt,
	}
	deadline := models.ScheduleFrom(*t.SoftDeletedAt, req.retentionDays)
	t.RetentionPeriodDays = req.retentionDays
	t.HardDeleteScheduledAt = &deadline

	md.RetentionPeriodDays = req.retentionDays
	md.HardDeleteScheduledAt = deadline
	return md, &deadline, nil
}
