package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careloop/careloop/internal/config"
	"github.com/careloop/careloop/internal/domain/audit"
	"github.com/careloop/careloop/internal/domain/escalation"
	"github.com/careloop/careloop/internal/domain/followup"
	"github.com/careloop/careloop/internal/domain/reminder"
	"github.com/careloop/careloop/internal/domain/routine"
	"github.com/careloop/careloop/internal/platform/auth"
	"github.com/careloop/careloop/internal/platform/db"
	"github.com/careloop/careloop/internal/platform/events"
	"github.com/careloop/careloop/internal/platform/middleware"
	"github.com/careloop/careloop/internal/platform/notification"
	"github.com/careloop/careloop/internal/platform/scheduler"
	"github.com/careloop/careloop/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careloop-server",
		Short: "CareLoop reminder and follow-up engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CareLoop API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore the schema from a backup instead.")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, ""); err != nil {
				return err
			}
			fmt.Println("Tenant created. Run migrations with: careloop-server migrate up --schema tenant_" + name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// generateCmd runs one generator pass and exits, for deployments that drive
// the cadence from an external cron rather than the in-process scheduler.
func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate today's reminder instances once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, app *application) error {
				return app.runForTenants(ctx, func(ctx context.Context) error {
					return app.reminders.GenerateAll(ctx, time.Now().UTC())
				})
			})
		},
	}
}

// sweepCmd runs one escalation sweep and exits.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, app *application) error {
				return app.runForTenants(ctx, func(ctx context.Context) error {
					result, err := app.escalations.Sweep(ctx, time.Now().UTC())
					if err != nil {
						return err
					}
					fmt.Printf("tenant %s: swept %d escalation(s): %d triggered, %d resolved, %d failed\n",
						db.TenantFromContext(ctx), result.Scanned, result.Triggered, result.Resolved, result.Failed)
					return nil
				})
			})
		},
	}
}

// application bundles the wired domain services so serve and the one-shot
// commands share the same construction path.
type application struct {
	pool        *pgxpool.Pool
	cfg         *config.Config
	logger      zerolog.Logger
	audits      *audit.Service
	routines    *routine.Service
	reminders   *reminder.Service
	followups   *followup.Service
	escalations *escalation.Service

	routineHandler    *routine.Handler
	reminderHandler   *reminder.Handler
	followupHandler   *followup.Handler
	escalationHandler *escalation.Handler
	auditHandler      *audit.Handler

	notifications *notification.Manager
	publisher     *events.Publisher
}

func buildApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*application, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Outbound side effects: audit trail, change events, notifications.
	auditRepo := audit.NewRepoPG(pool)
	auditSvc := audit.NewService(auditRepo)

	publisher := events.NewPublisher(events.NewMemoryStore())

	notifMgr := notification.NewManager(
		notification.NewLogEmailSender(logger),
		notification.NewLogSMSSender(logger),
		notification.NewTemplates(),
	)

	// Routines and their recurrence rules.
	routineRepo := routine.NewRepoPG(pool)
	routineSvc := routine.NewService(routineRepo)

	// Reminder instances, classification, responses, gate.
	reminderRepo := reminder.NewRepoPG(pool)
	reminderSvc := reminder.NewService(reminderRepo, routineRepo, reminder.Config{
		CriticalWindow: cfg.CriticalWindow(),
		NextWindow:     cfg.NextWindow(),
		NextCap:        cfg.NextCap,
		DefaultSnooze:  cfg.DefaultSnooze(),
	}, logger)
	reminderSvc.SetAuditor(auditSvc)
	reminderSvc.SetPublisher(publisher)
	reminderSvc.SetNotifier(notifMgr)

	// Follow-up items.
	followupRepo := followup.NewRepoPG(pool)
	followupSvc := followup.NewService(followupRepo, logger)
	followupSvc.SetPublisher(publisher)

	// Escalations over both parents.
	escRepo := escalation.NewRepoPG(pool)
	escSvc := escalation.NewService(escRepo, followupRepo, reminderRepo, logger)
	escSvc.SetAuditor(auditSvc)
	escSvc.SetNotifier(notifMgr)
	escSvc.SetPublisher(publisher)

	return &application{
		pool:              pool,
		cfg:               cfg,
		logger:            logger,
		audits:            auditSvc,
		routines:          routineSvc,
		reminders:         reminderSvc,
		followups:         followupSvc,
		escalations:       escSvc,
		routineHandler:    routine.NewHandler(routineSvc),
		reminderHandler:   reminder.NewHandler(reminderSvc),
		followupHandler:   followup.NewHandler(followupSvc),
		escalationHandler: escalation.NewHandler(escSvc),
		auditHandler:      audit.NewHandler(auditSvc),
		notifications:     notifMgr,
		publisher:         publisher,
	}, nil
}

// runForTenants runs fn once per provisioned tenant, each pass on a
// connection pinned to that tenant's schema. The bare job context carries no
// tenant connection, so running fn on it directly would read and write the
// connection default search_path instead of tenant tables. Tenants fail
// independently.
func (app *application) runForTenants(ctx context.Context, fn func(ctx context.Context) error) error {
	tenants, err := db.ListTenantIDs(ctx, app.pool)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		tenants = []string{app.cfg.DefaultTenant}
	}
	for _, tid := range tenants {
		if err := db.WithTenant(ctx, app.pool, tid, fn); err != nil {
			app.logger.Error().Err(err).Str("tenant_id", tid).Msg("tenant pass failed")
		}
	}
	return nil
}

func runOnce(fn func(ctx context.Context, app *application) error) error {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.pool.Close()

	return fn(ctx, app)
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build application")
	}
	defer app.pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewRegistry()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	e.Use(db.TenantMiddleware(app.pool, cfg.DefaultTenant))
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health and observability
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(app.pool))
	e.GET("/metrics", metrics.Handler())

	// Domain routes
	app.routineHandler.RegisterRoutes(apiV1)
	app.reminderHandler.RegisterRoutes(apiV1)
	app.followupHandler.RegisterRoutes(apiV1)
	app.escalationHandler.RegisterRoutes(apiV1)
	app.auditHandler.RegisterRoutes(apiV1)

	// Change-event subscriptions and direct notification sends
	events.NewHandler(app.publisher).RegisterRoutes(apiV1)
	notification.NewHandler(app.notifications).RegisterRoutes(apiV1)

	// Background cadence: instance generation and escalation sweeping, one
	// pass per tenant schema. Both jobs are idempotent, so an overlapping
	// external cron invocation of the generate/sweep commands is harmless.
	sched := scheduler.New(logger, metrics)
	if err := sched.RegisterJob("reminder_generator", cfg.GeneratorInterval(), func(ctx context.Context) error {
		return app.runForTenants(ctx, func(ctx context.Context) error {
			return app.reminders.GenerateAll(ctx, time.Now().UTC())
		})
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to register generator job")
	}
	if err := sched.RegisterJob("escalation_sweeper", cfg.SweepInterval(), func(ctx context.Context) error {
		return app.runForTenants(ctx, func(ctx context.Context) error {
			_, err := app.escalations.Sweep(ctx, time.Now().UTC())
			return err
		})
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to register sweeper job")
	}
	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
