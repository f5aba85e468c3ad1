package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant-lifecycle/backend/internal/config"
	"tenant-lifecycle/backend/internal/logging"
	"tenant-lifecycle/backend/internal/repository"
	"tenant-lifecycle/backend/internal/services"
	"tenant-lifecycle/backend/pkg/models"
)

const (
	seedActor   = "seed@localhost"
	demoTable   = "demo_invoices"
	rowsPerSeed = 5
)

const demoTableDDL = `CREATE TABLE IF NOT EXISTS demo_invoices (
    id         UUID PRIMARY KEY,
    tenant_id  UUID NOT NULL,
    amount     NUMERIC(12, 2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// seedTenant describes one demo tenant and the lifecycle state it should end
// up in. deletedDaysAgo backdates the soft delete so the sweeper has work.
type seedTenant struct {
	name           string
	status         models.TenantStatus
	retentionDays  int
	deletedDaysAgo int
	reason         string
}

var seedTenants = []seedTenant{
	{name: "Acme Corp", status: models.TenantStatusActive, retentionDays: 30},
	{name: "Globex", status: models.TenantStatusSuspended, retentionDays: 30},
	{name: "Hooli", status: models.TenantStatusInactive, retentionDays: 60},
	{name: "Initech", status: models.TenantStatusSoftDeleted, retentionDays: 30, deletedDaysAgo: 2, reason: "contract ended"},
	{name: "Umbrella", status: models.TenantStatusSoftDeleted, retentionDays: 7, deletedDaysAgo: 10, reason: "customer request"},
}

func main() {
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: "console", ServiceName: "seed"})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, demoTableDDL); err != nil {
		log.Fatalf("Failed to create %s: %v", demoTable, err)
	}

	tenants := repository.NewPostgresTenantStore(pool)
	existing, err := existingNames(ctx, pool)
	if err != nil {
		log.Fatalf("Failed to list existing tenants: %v", err)
	}

	for _, st := range seedTenants {
		if existing[st.name] {
			logger.Info("Tenant already seeded", "name", st.name)
			continue
		}
		id, err := seed(ctx, pool, tenants, logger, st)
		if err != nil {
			log.Fatalf("Failed to seed %s: %v", st.name, err)
		}
		logger.Info("Seeded tenant", "name", st.name, "id", id, "status", st.status)
	}

	logger.Info("Seeding complete",
		"hint", fmt.Sprintf("add %q to purge.tables so hard deletes remove demo rows", demoTable))
}

func seed(ctx context.Context, pool *pgxpool.Pool, tenants *repository.PostgresTenantStore, logger *logging.Logger, st seedTenant) (string, error) {
	initial := st.status
	if initial == models.TenantStatusSoftDeleted {
		initial = models.TenantStatusActive
	}
	tenant := &models.Tenant{Name: st.name, Status: initial, RetentionPeriodDays: st.retentionDays}
	if err := tenants.CreateTenant(ctx, tenant); err != nil {
		return "", err
	}
	if err := insertInvoices(ctx, pool, tenant.ID); err != nil {
		return "", err
	}

	if st.status == models.TenantStatusSoftDeleted {
		deletedAt := time.Now().UTC().AddDate(0, 0, -st.deletedDaysAgo)
		svc := services.NewLifecycleService(
			tenants,
			repository.NewPostgresAuditStore(pool),
			repository.NewPostgresTxManager(pool),
			repository.NewTablePurger(pool, []string{demoTable}),
			services.WithLogger(logger),
			services.WithClock(func() time.Time { return deletedAt }),
		)
		if _, err := svc.SoftDelete(ctx, tenant.ID, seedActor, st.reason, 0); err != nil {
			return "", err
		}
	}
	return tenant.ID, nil
}

func insertInvoices(ctx context.Context, pool *pgxpool.Pool, tenantID string) error {
	batch := &pgx.Batch{}
	for i := 1; i <= rowsPerSeed; i++ {
		batch.Queue(`INSERT INTO demo_invoices (id, tenant_id, amount) VALUES ($1, $2, $3)`,
			uuid.New(), tenantID, float64(i)*99.5)
	}
	return pool.SendBatch(ctx, batch).Close()
}

func existingNames(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM tenants`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}
