package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"tenant-lifecycle/backend/internal/events"
	"tenant-lifecycle/backend/internal/logging"
	"tenant-lifecycle/backend/internal/repository"
	"tenant-lifecycle/backend/pkg/models"
)

// SweeperActor is the performedBy recorded for deadline-driven hard deletes.
const SweeperActor = "system-retention-sweep"

const instrumentationName = "tenant-lifecycle/backend/internal/services"

// LifecycleService executes tenant lifecycle transitions. Every transition
// locks the tenant row, checks the transition table, writes the new state and
// its audit entry in one transaction, and publishes an event after commit.
type LifecycleService struct {
	tenants   repository.TenantStore
	audit     repository.AuditStore
	tx        repository.TransactionManager
	purger    repository.Purger
	publisher events.Publisher
	logger    *logging.Logger
	now       func() time.Time
	tracer    trace.Tracer
	counter   metric.Int64Counter

	defaultRetentionDays int
}

// Option configures a LifecycleService.
type Option func(*LifecycleService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *LifecycleService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *LifecycleService) { s.logger = l }
}

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *LifecycleService) { s.publisher = p }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *LifecycleService) { s.tracer = t }
}

// WithMeter sets the meter that records transition outcomes.
func WithMeter(m metric.Meter) Option {
	return func(s *LifecycleService) { s.counter = newTransitionCounter(m) }
}

// WithDefaultRetention sets the retention applied to newly provisioned tenants.
func WithDefaultRetention(days int) Option {
	return func(s *LifecycleService) {
		if days > 0 {
			s.defaultRetentionDays = days
		}
	}
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(
	tenants repository.TenantStore,
	audit repository.AuditStore,
	tx repository.TransactionManager,
	purger repository.Purger,
	opts ...Option,
) *LifecycleService {
	s := &LifecycleService{
		tenants:              tenants,
		audit:                audit,
		tx:                   tx,
		purger:               purger,
		publisher:            events.NoopPublisher{},
		logger:               logging.NewNop(),
		now:                  time.Now,
		tracer:               otel.Tracer(instrumentationName),
		counter:              newTransitionCounter(otel.Meter(instrumentationName)),
		defaultRetentionDays: 30,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newTransitionCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter("tenant_lifecycle.transitions",
		metric.WithDescription("Lifecycle operations by action and outcome"))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("tenant_lifecycle.transitions")
	}
	return c
}

func (s *LifecycleService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateTenant provisions an active tenant. A retention of zero uses the
// configured default.
func (s *LifecycleService) CreateTenant(ctx context.Context, name string, retentionDays int) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: retention period must be positive", ErrInvalidInput)
	}
	if retentionDays == 0 {
		retentionDays = s.defaultRetentionDays
	}
	tenant := &models.Tenant{
		ID:                  uuid.NewString(),
		Name:                name,
		Status:              models.TenantStatusActive,
		RetentionPeriodDays: retentionDays,
		CreatedAt:           s.clock(),
	}
	if err := s.tenants.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("%w: create tenant: %w", ErrPersistence, err)
	}
	s.logger.Info("Tenant provisioned", "tenant_id", tenant.ID, "retention_days", retentionDays)
	return tenant, nil
}

// SoftDelete marks the tenant soft deleted and schedules its hard delete
// retentionDays from now. Zero keeps the tenant's stored retention.
func (s *LifecycleService) SoftDelete(ctx context.Context, tenantID, performedBy, reason string, retentionDays int) (*models.Tenant, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("%w: retention period must be positive, got %d", ErrInvalidInput, retentionDays)
	}
	return s.execute(ctx, tenantID, &request{
		action:        models.ActionSoftDelete,
		performedBy:   performedBy,
		reason:        optional(reason),
		retentionDays: retentionDays,
	})
}

// Reactivate returns a soft deleted tenant to active and cancels its
// scheduled hard delete. An already active tenant is returned unchanged.
func (s *LifecycleService) Reactivate(ctx context.Context, tenantID, performedBy, reason string) (*models.Tenant, error) {
	return s.execute(ctx, tenantID, &request{
		action:      models.ActionReactivate,
		performedBy: performedBy,
		reason:      optional(reason),
	})
}

// HardDelete purges a soft deleted tenant's data and marks it hard deleted.
func (s *LifecycleService) HardDelete(ctx context.Context, tenantID, performedBy, reason string) (*models.Tenant, error) {
	return s.execute(ctx, tenantID, &request{
		action:      models.ActionHardDelete,
		performedBy: performedBy,
		reason:      optional(reason),
	})
}

// SweepHardDelete is the sweeper's hard delete. It is rejected unless the
// deadline read under the row lock is at or before asOf.
func (s *LifecycleService) SweepHardDelete(ctx context.Context, tenantID string, asOf time.Time) (*models.Tenant, error) {
	return s.execute(ctx, tenantID, &request{
		action:      models.ActionHardDelete,
		performedBy: SweeperActor,
		reason:      optional("retention period elapsed"),
		guard: func(t *models.Tenant) error {
			if t.HardDeleteScheduledAt == nil || t.HardDeleteScheduledAt.After(asOf) {
				return fmt.Errorf("%w: hard delete deadline has not passed", ErrInvalidTransition)
			}
			return nil
		},
	})
}

// UpdateRetentionPeriod recomputes a soft deleted tenant's deadline as
// softDeletedAt + days. The new deadline may already be in the past.
func (s *LifecycleService) UpdateRetentionPeriod(ctx context.Context, tenantID, performedBy string, days int) (*models.Tenant, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: retention period must be positive, got %d", ErrInvalidInput, days)
	}
	return s.execute(ctx, tenantID, &request{
		action:        models.ActionRetentionUpdate,
		performedBy:   performedBy,
		retentionDays: days,
	})
}

func (s *LifecycleService) execute(ctx context.Context, tenantID string, req *request) (*models.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle."+string(req.action),
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("lifecycle.action", string(req.action)),
		))
	defer span.End()

	if strings.TrimSpace(req.performedBy) == "" {
		return nil, s.finish(ctx, span, tenantID, req, fmt.Errorf("%w: performedBy is required", ErrInvalidInput), false)
	}

	var (
		result *models.Tenant
		entry  *models.LifecycleAuditEntry
		noop   bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.tenants.GetTenantForUpdate(ctx, tenantID)
		if err != nil {
			if errors.Is(err, repository.ErrTenantNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, tenantID)
			}
			return err
		}

		r, err := lookupTransition(current.Status, req.action)
		if err != nil {
			return err
		}
		if r.noop {
			result, noop = current, true
			return nil
		}
		if req.guard != nil {
			if err := req.guard(current); err != nil {
				return err
			}
		}

				req.now = s.clock()
		next := current.Clone()
		metadata, scheduledAt, err := r.apply(s, ctx, next, req)
		if err != nil {
			return err
		}
		next.Status = r.to
		next.UpdatedAt = req.now
		if err := next.Validate(); err != nil {
			return err
		}

		if err := s.tenants.UpdateTenant(ctx, next, current.Status); err != nil {
			return fmt.Errorf("update tenant: %w", err)
		}

		entry = &models.LifecycleAuditEntry{
			ID:          uuid.NewString(),
			TenantID:    next.ID,
			Action:      req.action,
			PerformedBy: req.performedBy,
			Reason:      req.reason,
			Metadata:    metadata,
			ScheduledAt: scheduledAt,
			CreatedAt:   req.now,
		}
		if req.action != models.ActionRetentionUpdate {
			entry.PreviousStatus = models.StatusPtr(current.Status)
			entry.NewStatus = models.StatusPtr(next.Status)
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}

		result = next
		return nil
	})
	if err != nil {
		if !classified(err) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return nil, s.finish(ctx, span, tenantID, req, err, false)
	}

	_ = s.finish(ctx, span, tenantID, req, nil, noop)
	if !noop {
		s.publish(ctx, entry, result)
	}
	return result, nil
}

// finish records the outcome on the span, the counter and the log.
func (s *LifecycleService) finish(ctx context.Context, span trace.Span, tenantID string, req *request, err error, noop bool) error {
	outcome := "applied"
	switch {
	case err == nil && noop:
		outcome = "noop"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidInput):
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}
	s.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(req.action)),
		attribute.String("outcome", outcome),
	))

	log := s.logger.With("tenant_id", tenantID, "action", string(req.action), "performed_by", req.performedBy)
	switch outcome {
	case "applied", "noop":
		span.SetAttributes(attribute.String("lifecycle.outcome", outcome))
		log.Info("Lifecycle transition "+outcome)
	case "failed":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Lifecycle transition failed", "error", err)
	default:
		span.SetAttributes(attribute.String("lifecycle.outcome", outcome))
		log.Warn("Lifecycle transition rejected", "error", err)
	}
	return err
}

// publish delivers the event for a committed transition. Failures are logged
// and never undo the transition.
func (s *LifecycleService) publish(ctx context.Context, entry *models.LifecycleAuditEntry, tenant *models.Tenant) {
	if err := s.publisher.Publish(ctx, events.FromAudit(entry, tenant)); err != nil {
		s.logger.Warn("Failed to publish lifecycle event",
			"tenant_id", entry.TenantID, "audit_entry_id", entry.ID, "error", err)
	}
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
