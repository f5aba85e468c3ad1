package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tenant-lifecycle/backend/internal/events"
	"tenant-lifecycle/backend/internal/repository"
	"tenant-lifecycle/backend/pkg/models"
)

var t0 = time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newTestService(t *testing.T, opts ...Option) (*LifecycleService, *repository.MemoryStore, *fakeClock) {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := &fakeClock{now: t0}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewLifecycleService(store, store, store, store, opts...), store, clock
}

// seedInStatus stores a tenant already in status with consistent fields.
func seedInStatus(t *testing.T, store *repository.MemoryStore, status models.TenantStatus) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Name: "acme", Status: status, RetentionPeriodDays: 30, CreatedAt: t0.AddDate(-1, 0, 0)}
	if status == models.TenantStatusSoftDeleted || status == models.TenantStatusHardDeleted {
		deletedAt := t0.AddDate(0, 0, -40)
		tenant.SoftDeletedAt = &deletedAt
		by := "seed"
		tenant.DeletedBy = &by
	}
	if status == models.TenantStatusSoftDeleted {
		deadline := models.ScheduleFrom(*tenant.SoftDeletedAt, tenant.RetentionPeriodDays)
		tenant.HardDeleteScheduledAt = &deadline
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	return tenant
}

func auditActions(t *testing.T, svc *LifecycleService, id string) []models.AuditAction {
	t.Helper()
	entries, err := svc.GetAuditLog(context.Background(), id)
	require.NoError(t, err)
	actions := make([]models.AuditAction, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}

func TestScenario_SoftDeleteThenReactivate(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusActive)

	deleted, err := svc.SoftDelete(ctx, tenant.ID, "admin", "cleanup", 90)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSoftDeleted, deleted.Status)
	assert.Equal(t, 90, deleted.RetentionPeriodDays)
	require.NotNil(t, deleted.HardDeleteScheduledAt)
	assert.Equal(t, t0.Add(90*24*time.Hour), *deleted.HardDeleteScheduledAt)
	assert.Equal(t, t0, *deleted.SoftDeletedAt)
	assert.Equal(t, "admin", *deleted.DeletedBy)
	assert.Equal(t, "cleanup", *deleted.DeletionReason)

	clock.Advance(time.Hour)
	restored, err := svc.Reactivate(ctx, tenant.ID, "admin", "restore")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, restored.Status)
	assert.Nil(t, restored.SoftDeletedAt)
	assert.Nil(t, restored.HardDeleteScheduledAt)
	assert.Nil(t, restored.DeletedBy)
	assert.Nil(t, restored.DeletionReason)

	entries, err := svc.GetAuditLog(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, models.ActionSoftDelete, entries[0].Action)
	assert.Equal(t, models.TenantStatusActive, *entries[0].PreviousStatus)
	assert.Equal(t, models.TenantStatusSoftDeleted, *entries[0].NewStatus)
	assert.Equal(t, *deleted.HardDeleteScheduledAt, *entries[0].ScheduledAt)
	assert.Equal(t, models.SoftDeleteMetadata{RetentionPeriodDays: 90, HardDeleteScheduledAt: *deleted.HardDeleteScheduledAt}, entries[0].Metadata)

	assert.Equal(t, models.ActionReactivate, entries[1].Action)
	assert.Equal(t, models.TenantStatusSoftDeleted, *entries[1].PreviousStatus)
	assert.Equal(t, models.TenantStatusActive, *entries[1].NewStatus)
	assert.Equal(t, "restore", *entries[1].Reason)
	md, ok := entries[1].Metadata.(models.ReactivateMetadata)
	require.True(t, ok)
	assert.Equal(t, "cleanup", md.PreviousDeletionReason)
}

func TestScenario_RetentionUpdate(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusSuspended)

	deleted, err := svc.SoftDelete(ctx, tenant.ID, "admin", "x", 30)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	updated, err := svc.UpdateRetentionPeriod(ctx, tenant.ID, "admin", 5)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSoftDeleted, updated.Status)
	assert.Equal(t, 5, updated.RetentionPeriodDays)
	want := deleted.SoftDeletedAt.Add(5 * 24 * time.Hour)
	assert.Equal(t, want, *updated.HardDeleteScheduledAt)

	entries, err := svc.GetAuditLog(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, models.ActionRetentionUpdate, last.Action)
	assert.Nil(t, last.PreviousStatus)
	assert.Nil(t, last.NewStatus)
	assert.Equal(t, want, *last.ScheduledAt)
	assert.Equal(t, models.RetentionUpdateMetadata{
		PreviousRetentionPeriodDays:   30,
		RetentionPeriodDays:           5,
		PreviousHardDeleteScheduledAt: *deleted.HardDeleteScheduledAt,
		HardDeleteScheduledAt:         want,
	}, last.Metadata)
}

func TestRetentionUpdate_MayMoveDeadlineIntoThePast(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusSoftDeleted)

	updated, err := svc.UpdateRetentionPeriod(ctx, tenant.ID, "admin", 1)
	require.NoError(t, err)
	assert.True(t, updated.HardDeleteScheduledAt.Before(t0))

	due, err := svc.DueForHardDelete(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{tenant.ID}, due)
}

func TestSoftDelete_OmittedRetentionKeepsStoredValue(t *testing.T) {
	svc, store, _ := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusInactive)

	deleted, err := svc.SoftDelete(context.Background(), tenant.ID, "admin", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, deleted.RetentionPeriodDays)
	assert.Equal(t, t0.Add(30*24*time.Hour), *deleted.HardDeleteScheduledAt)
	assert.Nil(t, deleted.DeletionReason)
}

func TestTransitionTable_Exhaustive(t *testing.T) {
	legal := map[models.TenantStatus]map[models.AuditAction]models.TenantStatus{
		models.TenantStatusActive: {
			models.ActionSoftDelete: models.TenantStatusSoftDeleted,
			models.ActionReactivate: models.TenantStatusActive,
		},
		models.TenantStatusInactive:  {models.ActionSoftDelete: models.TenantStatusSoftDeleted},
		models.TenantStatusSuspended: {models.ActionSoftDelete: models.TenantStatusSoftDeleted},
		models.TenantStatusSoftDeleted: {
			models.ActionReactivate:      models.TenantStatusActive,
			models.ActionHardDelete:      models.TenantStatusHardDeleted,
			models.ActionRetentionUpdate: models.TenantStatusSoftDeleted,
		},
	}

	for _, from := range models.AllTenantStatuses {
		for _, action := range models.AllAuditActions {
			t.Run(string(from)+"/"+string(action), func(t *testing.T) {
				ctx := context.Background()
				svc, store, _ := newTestService(t)
				tenant := seedInStatus(t, store, from)

				var (
					got *models.Tenant
					err error
				)
				switch action {
				case models.ActionSoftDelete:
					got, err = svc.SoftDelete(ctx, tenant.ID, "admin", "r", 7)
				case models.ActionReactivate:
					got, err = svc.Reactivate(ctx, tenant.ID, "admin", "r")
				case models.ActionHardDelete:
					got, err = svc.HardDelete(ctx, tenant.ID, "admin", "r")
				case models.ActionRetentionUpdate:
					got, err = svc.UpdateRetentionPeriod(ctx, tenant.ID, "admin", 7)
				}

				to, ok := legal[from][action]
				assert.Equal(t, ok, CanTransition(from, action))
				if !ok {
					assert.ErrorIs(t, err, ErrInvalidTransition)
					stored, getErr := svc.GetStatus(ctx, tenant.ID)
					require.NoError(t, getErr)
					assert.Equal(t, from, stored.Status)
					assert.Empty(t, auditActions(t, svc, tenant.ID))
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)
				require.NoError(t, got.Validate())

				stored, err := svc.GetStatus(ctx, tenant.ID)
				require.NoError(t, err)
				assert.Equal(t, to, stored.Status)
			})
		}
	}
}

func TestHardDelete_RejectedOutsideSoftDeleted(t *testing.T) {
	for _, status := range []models.TenantStatus{
		models.TenantStatusActive,
		models.TenantStatusInactive,
		models.TenantStatusSuspended,
		models.TenantStatusHardDeleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			svc, store, _ := newTestService(t)
			tenant := seedInStatus(t, store, status)
			store.AddRecords(tenant.ID, "invoices", 4)

			_, err := svc.HardDelete(context.Background(), tenant.ID, "admin", "now")
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Empty(t, auditActions(t, svc, tenant.ID))
			assert.EqualValues(t, 4, store.RecordCount(tenant.ID))
		})
	}
}

func TestHardDelete_PurgesAndTombstones(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusSoftDeleted)
	store.AddRecords(tenant.ID, "invoices", 3)
	store.AddRecords(tenant.ID, "orders", 2)

	deleted, err := svc.HardDelete(ctx, tenant.ID, "admin", "gdpr")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusHardDeleted, deleted.Status)
	assert.Nil(t, deleted.HardDeleteScheduledAt)
	assert.Zero(t, store.RecordCount(tenant.ID))

	entries, err := svc.GetAuditLog(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	md, ok := entries[0].Metadata.(models.HardDeleteMetadata)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"invoices": 3, "orders": 2}, md.PurgedRecords)
	assert.Equal(t, *tenant.HardDeleteScheduledAt, *entries[0].ScheduledAt)

	_, err = svc.Reactivate(ctx, tenant.ID, "admin", "oops")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReactivate_IdempotentOnActive(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, store, _ := newTestService(t, WithPublisher(pub))
	tenant := seedInStatus(t, store, models.TenantStatusActive)

	for i := 0; i < 2; i++ {
		got, err := svc.Reactivate(ctx, tenant.ID, "admin", "retry")
		require.NoError(t, err)
		assert.Equal(t, models.TenantStatusActive, got.Status)
	}
	assert.Empty(t, auditActions(t, svc, tenant.ID))
	assert.Empty(t, pub.events)
}

func TestAuditLog_FollowsCommitOrderAcrossSkewedClocks(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestService(t)
	lagging := &fakeClock{now: t0.Add(-2 * time.Second)}
	b := NewLifecycleService(store, store, store, store, WithClock(lagging.Now))
	tenant := seedInStatus(t, store, models.TenantStatusActive)

	_, err := a.SoftDelete(ctx, tenant.ID, "replica-a", "cleanup", 0)
	require.NoError(t, err)
	_, err = b.Reactivate(ctx, tenant.ID, "replica-b", "restore")
	require.NoError(t, err)

	assert.Equal(t, []models.AuditAction{models.ActionSoftDelete, models.ActionReactivate}, auditActions(t, a, tenant.ID))
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for _, id := range []string{"7a1f7a3e-8d35-4a4a-9bd6-1d1b1c54c0aa", "not-a-uuid"} {
		_, err := svc.SoftDelete(ctx, id, "admin", "", 0)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.Reactivate(ctx, id, "admin", "")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.HardDelete(ctx, id, "admin", "")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.UpdateRetentionPeriod(ctx, id, "admin", 3)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.GetStatus(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.GetAuditLog(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusSoftDeleted)

	_, err := svc.SoftDelete(ctx, tenant.ID, "admin", "", -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.UpdateRetentionPeriod(ctx, tenant.ID, "admin", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Reactivate(ctx, tenant.ID, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreateTenant(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.ListPendingDeletions(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateTenant_UsesDefaultRetention(t *testing.T) {
	svc, _, _ := newTestService(t, WithDefaultRetention(45))

	tenant, err := svc.CreateTenant(context.Background(), "globex", 0)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, tenant.Status)
	assert.Equal(t, 45, tenant.RetentionPeriodDays)
}

func TestHardDelete_PurgeFailureLeavesTenantSoftDeleted(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusSoftDeleted)
	store.AddRecords(tenant.ID, "invoices", 2)
	store.FailPurge(errors.New("foreign key violation"))

	_, err := svc.SweepHardDelete(ctx, tenant.ID, t0)
	assert.ErrorIs(t, err, ErrPersistence)

	stored, err := svc.GetStatus(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSoftDeleted, stored.Status)
	assert.Equal(t, *tenant.HardDeleteScheduledAt, *stored.HardDeleteScheduledAt)
	assert.EqualValues(t, 2, store.RecordCount(tenant.ID))
	assert.Empty(t, auditActions(t, svc, tenant.ID))

	store.FailPurge(nil)
	_, err = svc.SweepHardDelete(ctx, tenant.ID, t0)
	require.NoError(t, err)
}

func TestSweepHardDelete_DeadlineGuard(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	tenant := seedInStatus(t, store, models.TenantStatusSoftDeleted)

	early := tenant.HardDeleteScheduledAt.Add(-time.Second)
	_, err := svc.SweepHardDelete(ctx, tenant.ID, early)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := svc.SweepHardDelete(ctx, tenant.ID, *tenant.HardDeleteScheduledAt)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusHardDeleted, got.Status)

	entries, err := svc.GetAuditLog(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SweeperActor, entries[0].PerformedBy)
}

func TestConcurrentReactivateAndSweep_ExactlyOneWins(t *testing.T) {
	for i := 0; i < 25; i++ {
		ctx := context.Background()
		svc, store, _ := newTestService(t)
		tenant := seedInStatus(t, store, models.TenantStatusSoftDeleted)
		store.AddRecords(tenant.ID, "invoices", 1)

		var (
			wg                 sync.WaitGroup
			reactErr, sweepErr error
			start              = make(chan struct{})
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, reactErr = svc.Reactivate(ctx, tenant.ID, "admin", "customer paid")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, sweepErr = svc.SweepHardDelete(ctx, tenant.ID, t0)
		}()
		close(start)
		wg.Wait()

		stored, err := svc.GetStatus(ctx, tenant.ID)
		require.NoError(t, err)
		entries, err := svc.GetAuditLog(ctx, tenant.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		if reactErr == nil {
			assert.ErrorIs(t, sweepErr, ErrInvalidTransition)
			assert.Equal(t, models.TenantStatusActive, stored.Status)
			assert.EqualValues(t, 1, store.RecordCount(tenant.ID))
			assert.Equal(t, models.ActionReactivate, entries[0].Action)
		} else {
			require.NoError(t, sweepErr)
			assert.ErrorIs(t, reactErr, ErrInvalidTransition)
			assert.Equal(t, models.TenantStatusHardDeleted, stored.Status)
			assert.Zero(t, store.RecordCount(tenant.ID))
			assert.Equal(t, models.ActionHardDelete, entries[0].Action)
		}
	}
}

func TestPublisher_ReceivesCommittedTransitions(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, store, _ := newTestService(t, WithPublisher(pub))
	tenant := seedInStatus(t, store, models.TenantStatusActive)

	_, err := svc.SoftDelete(ctx, tenant.ID, "admin", "", 10)
	require.NoError(t, err, "publish failure must not fail the transition")
	_, err = svc.UpdateRetentionPeriod(ctx, "missing", "admin", 3)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Reactivate(ctx, tenant.ID, "admin", "")
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, models.ActionSoftDelete, pub.events[0].Action)
	assert.Equal(t, models.ActionReactivate, pub.events[1].Action)
	assert.Equal(t, models.TenantStatusActive, pub.events[1].Status)
}

// mockAuditStore fails appends to exercise the transactional rollback.
type mockAuditStore struct {
	mock.Mock
}

func (m *mockAuditStore) Append(ctx context.Context, entry *models.LifecycleAuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAuditStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.LifecycleAuditEntry, error) {
	args := m.Called(ctx, tenantID)
	entries, _ := args.Get(0).([]*models.LifecycleAuditEntry)
	return entries, args.Error(1)
}

func TestAuditFailure_RollsBackStateChange(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	audit := new(mockAuditStore)
	audit.On("Append", mock.Anything, mock.MatchedBy(func(e *models.LifecycleAuditEntry) bool {
		return e.Action == models.ActionSoftDelete
	})).Return(errors.New("connection reset")).Once()

	svc := NewLifecycleService(store, audit, store, store, WithClock(func() time.Time { return t0 }))
	tenant := seedInStatus(t, store, models.TenantStatusActive)

	_, err := svc.SoftDelete(ctx, tenant.ID, "admin", "", 10)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorContains(t, err, "connection reset")

	stored, err := svc.GetStatus(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, stored.Status)
	assert.Nil(t, stored.HardDeleteScheduledAt)
	audit.AssertExpectations(t)
}

func TestListPendingDeletions(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	seedInStatus(t, store, models.TenantStatusActive)
	pending := seedInStatus(t, store, models.TenantStatusSoftDeleted)

	got, err := svc.ListPendingDeletions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}
