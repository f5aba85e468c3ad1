package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-lifecycle/backend/internal/repository"
	"tenant-lifecycle/backend/internal/services"
	"tenant-lifecycle/backend/pkg/models"
)

var now = time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)

func softDeleted(t *testing.T, store *repository.MemoryStore, deadline time.Time) *models.Tenant {
	t.Helper()
	deletedAt := deadline.AddDate(0, 0, -30)
	by := "admin"
	tenant := &models.Tenant{
		Name:                  "acme",
		Status:                models.TenantStatusSoftDeleted,
		RetentionPeriodDays:   30,
		SoftDeletedAt:         &deletedAt,
		HardDeleteScheduledAt: &deadline,
		DeletedBy:             &by,
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
	return tenant
}

func newService(store *repository.MemoryStore) *services.LifecycleService {
	return services.NewLifecycleService(store, store, store, store,
		services.WithClock(func() time.Time { return now }))
}

type recorder struct {
	mu                       sync.Mutex
	deleted, skipped, failed int
	leaseHeld                int
}

func (r *recorder) ObserveCycle(deleted, skipped, failed int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted += deleted
	r.skipped += skipped
	r.failed += failed
}

func (r *recorder) ObserveLeaseHeld() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaseHeld++
}

func TestRunOnce_HardDeletesDueTenants(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(store)

	due := softDeleted(t, store, now.Add(-time.Minute))
	store.AddRecords(due.ID, "invoices", 5)
	notYet := softDeleted(t, store, now.Add(time.Hour))

	rec := &recorder{}
	sw := New(svc, WithClock(func() time.Time { return now }), WithRecorder(rec))
	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 1, Deleted: 1}, res)
	assert.Equal(t, 1, rec.deleted)

	got, err := svc.GetStatus(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusHardDeleted, got.Status)
	assert.Zero(t, store.RecordCount(due.ID))

	entries, err := svc.GetAuditLog(ctx, due.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, models.ActionHardDelete, last.Action)
	assert.Equal(t, services.SweeperActor, last.PerformedBy)

	_, err = svc.Reactivate(ctx, due.ID, "admin", "too late")
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	pending, err := svc.GetStatus(ctx, notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSoftDeleted, pending.Status)

	// nothing left to do on the next cycle
	res, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

// staleLifecycle returns due ids that a concurrent actor already changed.
type staleLifecycle struct {
	ids     []string
	results map[string]error
}

func (s *staleLifecycle) DueForHardDelete(context.Context, time.Time, int) ([]string, error) {
	return s.ids, nil
}

func (s *staleLifecycle) SweepHardDelete(_ context.Context, id string, _ time.Time) (*models.Tenant, error) {
	if err := s.results[id]; err != nil {
		return nil, err
	}
	return &models.Tenant{ID: id, Status: models.TenantStatusHardDeleted}, nil
}

func TestRunOnce_CountsOutcomes(t *testing.T) {
	lc := &staleLifecycle{
		ids: []string{"a", "b", "c", "d"},
		results: map[string]error{
			"b": fmt.Errorf("%w: cannot hard_delete a tenant in status active", services.ErrInvalidTransition),
			"c": fmt.Errorf("%w: connection refused", services.ErrPersistence),
			"d": fmt.Errorf("%w: d", services.ErrNotFound),
		},
	}
	res, err := New(lc, WithWorkers(2)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 4, Deleted: 1, Skipped: 2, Failed: 1}, res)
}

// cancellingLifecycle cancels the cycle while its first tenant is in flight.
type cancellingLifecycle struct {
	cancel  context.CancelFunc
	mu      sync.Mutex
	started []string
	ctxErrs []error
}

func (c *cancellingLifecycle) DueForHardDelete(context.Context, time.Time, int) ([]string, error) {
	return []string{"a", "b", "c"}, nil
}

func (c *cancellingLifecycle) SweepHardDelete(ctx context.Context, id string, _ time.Time) (*models.Tenant, error) {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, id)
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	return &models.Tenant{ID: id, Status: models.TenantStatusHardDeleted}, nil
}

func TestRunOnce_CancellationStopsBetweenTenants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc := &cancellingLifecycle{cancel: cancel}

	res, err := New(lc, WithWorkers(1)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 3, Deleted: 1}, res)
	assert.Equal(t, []string{"a"}, lc.started)
	assert.Equal(t, []error{nil}, lc.ctxErrs, "in-flight tenant must not see cancellation")
}

type failingLifecycle struct{}

func (failingLifecycle) DueForHardDelete(context.Context, time.Time, int) ([]string, error) {
	return nil, errors.New("db down")
}

func (failingLifecycle) SweepHardDelete(context.Context, string, time.Time) (*models.Tenant, error) {
	return nil, nil
}

func TestRunOnce_ListFailure(t *testing.T) {
	_, err := New(failingLifecycle{}).RunOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRunOnce_ReactivatedTenantIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(store)
	tenant := softDeleted(t, store, now.Add(-time.Hour))

	ids, err := svc.DueForHardDelete(ctx, now, 10)
	require.NoError(t, err)
	_, err = svc.Reactivate(ctx, tenant.ID, "admin", "paid")
	require.NoError(t, err)

	res, err := New(&staleIDs{Lifecycle: svc, ids: ids}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 1, Skipped: 1}, res)

	got, err := svc.GetStatus(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, got.Status)
}

// staleIDs replays a due list captured before a concurrent change.
type staleIDs struct {
	Lifecycle
	ids []string
}

func (s *staleIDs) DueForHardDelete(context.Context, time.Time, int) ([]string, error) {
	return s.ids, nil
}

func TestRedisLease(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	first := NewRedisLease(client, "sweeper", time.Minute)
	second := NewRedisLease(client, "sweeper", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a non-holder must not release someone else's lease
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("sweeper"))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("sweeper"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")
}

func TestRunOnce_SkipsWhenLeaseHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := repository.NewMemoryStore()
	svc := newService(store)
	tenant := softDeleted(t, store, now.Add(-time.Hour))

	holder := NewRedisLease(client, "sweeper", time.Minute)
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	rec := &recorder{}
	sw := New(svc,
		WithClock(func() time.Time { return now }),
		WithLease(NewRedisLease(client, "sweeper", time.Minute)),
		WithRecorder(rec),
	)
	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.LeaseHeld)
	assert.Equal(t, 1, rec.leaseHeld)

	require.NoError(t, holder.Release(ctx))
	res, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.False(t, mr.Exists("sweeper"), "lease is released after the cycle")

	got, err := svc.GetStatus(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusHardDeleted, got.Status)
}

func TestStart_StopsOnCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newService(store)
	softDeleted(t, store, now.Add(-time.Hour))

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(svc, WithClock(func() time.Time { return now }), WithRecorder(rec), WithInterval(time.Hour)).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.deleted == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
