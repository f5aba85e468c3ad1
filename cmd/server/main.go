package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"tenant-lifecycle/backend/internal/api"
	"tenant-lifecycle/backend/internal/config"
	"tenant-lifecycle/backend/internal/events"
	"tenant-lifecycle/backend/internal/logging"
	"tenant-lifecycle/backend/internal/metrics"
	"tenant-lifecycle/backend/internal/repository"
	"tenant-lifecycle/backend/internal/services"
	"tenant-lifecycle/backend/internal/sweeper"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "tenant-lifecycle",
		Short:        "Tenant soft delete, retention and hard delete service",
		Version:      api.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	root.AddCommand(
		newServeCmd(&envFile),
		newSweepCmd(&envFile),
		newMigrateCmd(&envFile),
	)
	return root
}

// app carries the dependencies shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	pool      *pgxpool.Pool
	svc       *services.LifecycleService
	publisher events.Publisher
	registry  *prometheus.Registry
	redis     *redis.Client
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger, err := logging.NewLogger(logging.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}
	logger.Info("Configuration loaded",
		"okta_client_id", cfg.Auth.ClientID,
		"okta_domain", cfg.Auth.OktaDomain,
		"secret_len", len(cfg.Auth.ClientSecret),
		"swagger_client_id", cfg.Auth.SwaggerClientID,
		"config_file", cfg.ConfigFileUsed,
		"purge_tables", cfg.Purge.Tables,
	)

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database initialization failed: %w", err)
	}
	logger.Info("Database connected")

	a := &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		publisher: events.NoopPublisher{},
		registry:  prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Events.Enabled {
		a.publisher = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		logger.Info("Lifecycle events enabled", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	name := cfg.Telemetry.ServiceName
	a.svc = services.NewLifecycleService(
		repository.NewPostgresTenantStore(pool),
		repository.NewPostgresAuditStore(pool),
		repository.NewPostgresTxManager(pool),
		repository.NewTablePurger(pool, cfg.Purge.Tables),
		services.WithLogger(logger),
		services.WithPublisher(a.publisher),
		services.WithTracer(otel.Tracer(name)),
		services.WithMeter(otel.Meter(name)),
		services.WithDefaultRetention(cfg.Lifecycle.DefaultRetentionDays),
	)
	logger.Info("Service layer initialized", "default_retention_days", cfg.Lifecycle.DefaultRetentionDays)
	return a, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("Failed to close event publisher", "error", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
	_ = a.logger.Sync()
}

// newSweeper builds the retention sweeper, guarded by a redis lease when
// several replicas run it.
func (a *app) newSweeper() *sweeper.Sweeper {
	cfg := a.cfg
	opts := []sweeper.Option{
		sweeper.WithLogger(a.logger),
		sweeper.WithRecorder(metrics.NewSweeperMetrics(a.registry)),
		sweeper.WithInterval(cfg.Sweeper.Interval),
		sweeper.WithBatchSize(cfg.Sweeper.BatchSize),
		sweeper.WithWorkers(cfg.Sweeper.Workers),
	}
	if cfg.Sweeper.Lock.Enabled {
		opts = append(opts, sweeper.WithLease(sweeper.NewRedisLease(a.redis, cfg.Sweeper.Lock.Key, cfg.Sweeper.Lock.TTL)))
	}
	return sweeper.New(a.svc, opts...)
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := repository.Migrate(ctx, a.pool); err != nil {
				return err
			}
			a.logger.Info("Migrations applied")
			return nil
		},
	}
}

func newSweepCmd(envFile *string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Hard delete tenants whose retention period has expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			sw := a.newSweeper()
			if !once {
				sw.Start(ctx)
				return nil
			}
			res, err := sw.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d deleted=%d skipped=%d failed=%d lease_held=%t\n",
				res.Due, res.Deleted, res.Skipped, res.Failed, res.LeaseHeld)
			if res.Failed > 0 {
				return fmt.Errorf("%d tenants could not be hard deleted", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}
