package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tenant-lifecycle/backend/internal/logging"
	"tenant-lifecycle/backend/internal/services"
	"tenant-lifecycle/backend/pkg/models"
)

// Lifecycle is the part of the lifecycle service the sweeper drives.
type Lifecycle interface {
	DueForHardDelete(ctx context.Context, asOf time.Time, limit int) ([]string, error)
	SweepHardDelete(ctx context.Context, tenantID string, asOf time.Time) (*models.Tenant, error)
}

// Recorder receives per-cycle outcomes.
type Recorder interface {
	ObserveCycle(deleted, skipped, failed int, duration time.Duration)
	ObserveLeaseHeld()
}

// Result summarises one sweep cycle.
type Result struct {
	Due     int
	Deleted int
	// Skipped counts tenants no longer eligible, e.g. reactivated after the
	// due query ran.
	Skipped int
	// Failed tenants are retried next cycle.
	Failed int
	// LeaseHeld is set when another replica owns the cycle.
	LeaseHeld bool
}

// Sweeper hard deletes tenants whose retention deadline has passed.
type Sweeper struct {
	svc       Lifecycle
	lease     Lease
	recorder  Recorder
	logger    *logging.Logger
	now       func() time.Time
	interval  time.Duration
	batchSize int
	workers   int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithLease(l Lease) Option { return func(s *Sweeper) { s.lease = l } }
func WithRecorder(r Recorder) Option { return func(s *Sweeper) { s.recorder = r } }
func WithLogger(l *logging.Logger) Option { return func(s *Sweeper) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Sweeper. Defaults: every 5 minutes, 100 tenants, 4 workers.
func New(svc Lifecycle, opts ...Option) *Sweeper {
	s := &Sweeper{
		svc:       svc,
		logger:    logging.NewNop(),
		now:       time.Now,
		interval:  5 * time.Minute,
		batchSize: 100,
		workers:   4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a cycle immediately and then on every tick until ctx is done.
// It blocks.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("Retention sweeper started", "interval", s.interval.String(), "batch_size", s.batchSize, "workers", s.workers)

	_, _ = s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep cycle. Only a failure to list due tenants or to
// take the lease is returned as an error; per-tenant failures are counted.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	started := time.Now()
	var res Result

	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx)
		if err != nil {
			s.logger.Error("Sweep cycle aborted", "error", err)
			return res, err
		}
		if !acquired {
			res.LeaseHeld = true
			s.logger.Debug("Sweep cycle skipped, lease held elsewhere")
			if s.recorder != nil {
				s.recorder.ObserveLeaseHeld()
			}
			return res, nil
		}
		defer func() {
			// release with a fresh context so shutdown does not strand the lease
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.lease.Release(relCtx); err != nil {
				s.logger.Warn("Failed to release sweeper lease", "error", err)
			}
		}()
	}

	asOf := s.now().UTC()
	ids, err := s.svc.DueForHardDelete(ctx, asOf, s.batchSize)
	if err != nil {
		s.logger.Error("Sweep cycle aborted", "error", err)
		return res, err
	}
	res.Due = len(ids)

	// a started tenant runs to commit; cancellation only stops new ones
	work := context.WithoutCancel(ctx)
	var deleted, skipped, failed, notStarted atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				notStarted.Add(1)
				return nil
			}
			_, err := s.svc.SweepHardDelete(work, id, asOf)
			switch {
			case err == nil:
				deleted.Add(1)
				s.logger.Info("Tenant hard deleted by sweep", "tenant_id", id)
			case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrNotFound):
				skipped.Add(1)
				s.logger.Info("Tenant no longer eligible for hard delete", "tenant_id", id, "reason", err.Error())
			default:
				failed.Add(1)
				s.logger.Error("Hard delete failed, will retry next cycle", "tenant_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if n := notStarted.Load(); n > 0 {
		s.logger.Info("Sweep cycle interrupted", "not_started", n)
	}

	res.Deleted = int(deleted.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())

	elapsed := time.Since(started)
	if s.recorder != nil {
		s.recorder.ObserveCycle(res.Deleted, res.Skipped, res.Failed, elapsed)
	}
	s.logger.Info("Sweep cycle completed",
		"due", res.Due, "deleted", res.Deleted, "skipped", res.Skipped, "failed", res.Failed,
		"duration", elapsed.String())
	return res, nil
}
