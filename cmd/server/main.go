// @title           Membership Service API
// @version         1.0.0
// @description     Collaborator identity and membership lifecycle for tenant workspaces
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
//
// @tag.name         Members
// @tag.description  Add, reactivate, update and deactivate tenant collaborators.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090), separate from the API listener. Configure it with MBR_TELEMETRY_METRICS_PROMETHEUS_PORT.

// Package main is the entry point for the membership service binary.
// It dispatches four subcommands (serve, migrate, token and version) via a
// switch on os.Args. serve applies pending migrations on startup.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/learnhub/membership-service/internal/api"
	"github.com/learnhub/membership-service/internal/audit"
	"github.com/learnhub/membership-service/internal/auth"
	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/db"
	"github.com/learnhub/membership-service/internal/db/repositories"
	"github.com/learnhub/membership-service/internal/events"
	"github.com/learnhub/membership-service/internal/identity"
	_ "github.com/learnhub/membership-service/internal/identity/kratos"
	_ "github.com/learnhub/membership-service/internal/identity/memory"
	"github.com/learnhub/membership-service/internal/lock"
	"github.com/learnhub/membership-service/internal/membership"
	"github.com/learnhub/membership-service/internal/middleware"
	"github.com/learnhub/membership-service/internal/notify"
	"github.com/learnhub/membership-service/internal/redis"
	"github.com/learnhub/membership-service/internal/safego"
	"github.com/learnhub/membership-service/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// A local .env is optional; real deployments inject the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Membership Service v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "token":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s token <identity-id> [email]", os.Args[0])
		}
		return issueToken(cfg, os.Args[2:])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, token, version", command)
	}
}

// closer is a shutdown step run after the HTTP server stops
type closer struct {
	name string
	fn   func() error
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWT)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	membershipRepo := repositories.NewMembershipRepository(database)
	tenantRepo := repositories.NewTenantRepository(database)
	profileRepo := repositories.NewProfileRepository(sqlxDB)
	planRepo := repositories.NewTenantPlanRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	identities, err := identity.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	slog.Info("identity provider ready", "backend", cfg.Identity.Backend)

	checks := map[string]api.ReadinessCheck{}
	var closers []closer

	var redisClient *goredis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(&cfg.Redis)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"redis", redisClient.Close})
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var locker lock.Locker = lock.Noop{}
	switch {
	case !cfg.Locking.Enabled:
		slog.Warn("email locking disabled; concurrent adds for one email are not serialized")
	case redisClient != nil:
		locker = lock.NewRedis(redisClient, cfg.Locking.Prefix, cfg.Locking.TTL, cfg.Locking.Wait)
	default:
		locker = lock.NewLocal(cfg.Locking.Wait)
	}

	deps := membership.Deps{
		Store:      membershipRepo,
		Identities: identities,
		Profiles:   profileRepo,
		Tenants:    tenantRepo,
		Seats: &membership.SeatPolicy{
			Plans:        planRepo,
			Counter:      membershipRepo,
			Enforce:      cfg.Billing.EnforceSeatLimits,
			DefaultLimit: cfg.Billing.DefaultSeatLimit,
		},
		Locker:                  locker,
		InitialCredentialLength: cfg.Identity.InitialCredentialLength,
	}

	if cfg.Notifications.Enabled {
		mailer := notify.NewSMTPMailer(cfg.Notifications.SMTP)
		deps.Notifier = notify.NewEmailNotifier(mailer, tenantRepo, cfg.Notifications.LoginURL)
		slog.Info("invitation emails enabled", "smtp_host", cfg.Notifications.SMTP.Host)
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewKafkaPublisher(cfg.Events)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		deps.Events = publisher
		closers = append(closers, closer{"kafka", publisher.Close})
		slog.Info("membership events enabled", "topic", cfg.Events.Topic)
	}

	svc := membership.NewService(deps)

	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		shipper, err := audit.NewMultiShipper(context.Background(), cfg.Audit.Shippers)
		if err != nil {
			return fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
		recorder = audit.NewRecorder(auditRepo, shipper)
		closers = append(closers, closer{"audit shippers", shipper.Close})
		slog.Info("audit logging enabled", "shippers", shipper.Len())
	}

	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if redisClient != nil {
			limiter = middleware.NewRedisRateLimiter(redisClient, rlCfg)
		} else {
			local := middleware.NewRateLimiter(rlCfg)
			limiter = local
			closers = append(closers, closer{"rate limiter", func() error { local.Stop(); return nil }})
		}
	}

	routerDeps := api.RouterDeps{
		Config:   cfg,
		DB:       database,
		Service:  svc,
		Gate:     auth.NewGate(profileRepo),
		Verifier: verifier,
		Limiter:  limiter,
		Audits:   auditRepo,
		Checks:   checks,
	}
	if recorder != nil {
		routerDeps.Audit = recorder
	}
	router := api.NewRouter(routerDeps)

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Drain queued side effects before closing the sinks they write to.
	svc.Wait()
	if recorder != nil {
		recorder.Wait()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			slog.Warn("shutdown step failed", "step", closers[i].name, "error", err)
		}
	}

	slog.Info("server stopped gracefully")
	return nil
}

// issueToken prints a bearer token for local testing against a running server
func issueToken(cfg *config.Config, args []string) error {
	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWT)
	if err != nil {
		return err
	}
	email := ""
	if len(args) > 1 {
		email = args[1]
	}
	token, err := verifier.Issue(args[0], email, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}
