package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	dbhttp "github.com/drawbridge-sh/drawbridge/internal/adapter/http"
	dbnats "github.com/drawbridge-sh/drawbridge/internal/adapter/nats"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/natskv"
	dbotel "github.com/drawbridge-sh/drawbridge/internal/adapter/otel"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/postgres"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/redisstate"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/restchannel"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/ristretto"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/tiered"
	"github.com/drawbridge-sh/drawbridge/internal/adapter/ws"
	"github.com/drawbridge-sh/drawbridge/internal/config"
	"github.com/drawbridge-sh/drawbridge/internal/idempotency"
	"github.com/drawbridge-sh/drawbridge/internal/logger"
	"github.com/drawbridge-sh/drawbridge/internal/middleware"
	"github.com/drawbridge-sh/drawbridge/internal/port/channel"
	"github.com/drawbridge-sh/drawbridge/internal/port/messagequeue"
	"github.com/drawbridge-sh/drawbridge/internal/port/notifier"
	"github.com/drawbridge-sh/drawbridge/internal/resilience"
	"github.com/drawbridge-sh/drawbridge/internal/secrets"
	"github.com/drawbridge-sh/drawbridge/internal/service"

	// Notifier providers register themselves with the registry.
	_ "github.com/drawbridge-sh/drawbridge/internal/adapter/discord"
	_ "github.com/drawbridge-sh/drawbridge/internal/adapter/email"
	_ "github.com/drawbridge-sh/drawbridge/internal/adapter/push"
	_ "github.com/drawbridge-sh/drawbridge/internal/adapter/slack"
	_ "github.com/drawbridge-sh/drawbridge/internal/adapter/sms"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Logging))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Telemetry ---

	shutdownTelemetry, err := dbotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	// Instruments are no-ops until Init installed a real meter provider.
	metrics, err := dbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres ready")

	// NATS
	queue, err := dbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Idempotency cache: in-process L1 over a replicated JetStream KV L2.
	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("nats kv: %w", err)
	}
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()

	guard := idempotency.New(tiered.New(l1, natskv.New(kv), cfg.Cache.L1Expire), cfg.Idempotency.TTL)

	// Redis-backed shared circuit state. A dead Redis degrades to
	// fail-open admission inside the breaker, so a startup ping failure
	// is only worth a warning.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	stateStore := redisstate.New(rdb)
	if err := stateStore.Ping(ctx); err != nil {
		slog.Warn("redis unreachable, breakers fail open until it returns", "error", err)
	}

	breakers := resilience.NewRegistry(stateStore, resilience.Config{
		Threshold:         cfg.Breaker.Threshold,
		BaseTimeout:       cfg.Breaker.BaseTimeout,
		MaxTimeout:        cfg.Breaker.MaxTimeout,
		HalfOpenMaxTrials: cfg.Breaker.HalfOpenMaxTrials,
	})

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.EnvKeys()...))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	notifiers, err := buildNotifiers(cfg.Notifications, hub, vault)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	notifications := service.NewNotificationService(notifiers, nil)

	recordDegradation := service.DegradationRecorder(store)
	breakers.OnOpen(func(ctx context.Context, svc string, snap resilience.Snapshot) {
		metrics.BreakerOpens.Add(ctx, 1)
		recordDegradation(ctx, svc, snap)
		payload, _ := json.Marshal(messagequeue.BreakerEventPayload{
			Service:    svc,
			State:      string(snap.State),
			RetryAfter: snap.RetryAfter.String(),
		})
		if err := queue.Publish(ctx, messagequeue.SubjectBreakerEvents, payload); err != nil {
			slog.Warn("publish breaker event", "service", svc, "error", err)
		}
		hub.BroadcastEvent(ctx, ws.EventBreakerState, ws.BreakerStateEvent{
			Service:    svc,
			State:      string(snap.State),
			RetryAfter: snap.RetryAfter.String(),
		})
	})
	breakers.OnRecover(func(ctx context.Context, svc string) {
		metrics.BreakerRecoveries.Add(ctx, 1)
		payload, _ := json.Marshal(messagequeue.BreakerEventPayload{
			Service: svc,
			State:   string(resilience.StateClosed),
		})
		if err := queue.Publish(ctx, messagequeue.SubjectBreakerEvents, payload); err != nil {
			slog.Warn("publish breaker event", "service", svc, "error", err)
		}
		hub.BroadcastEvent(ctx, ws.EventBreakerState, ws.BreakerStateEvent{
			Service: svc,
			State:   string(resilience.StateClosed),
		})
	})

	approvals := service.NewApprovalService(store, queue, notifications, hub, cfg.Authorization, metrics)
	go approvals.RunSweeper(ctx)

	primary := restchannel.New(cfg.Channels.Primary)
	secondaries := make([]channel.Adapter, 0, len(cfg.Channels.Secondaries))
	for _, ep := range cfg.Channels.Secondaries {
		secondaries = append(secondaries, restchannel.New(ep))
	}

	orchestrator := service.NewOrchestrator(
		store,
		service.NewStoreGate(store),
		service.NewHeuristicSimulator(),
		service.NewAuthorizationPolicy(cfg.Policy),
		approvals,
		breakers,
		queue,
		notifications,
		hub,
		primary,
		secondaries,
		cfg.Retry,
		cfg.Authorization.DefaultTimeout,
		metrics,
	)

	// --- HTTP ---

	handlers := &dbhttp.Handlers{
		Store:        store,
		Orchestrator: orchestrator,
		Approvals:    approvals,
		Idempotency:  guard,
		Breakers:     breakers,
		Metrics:      metrics,
		HealthChecks: map[string]dbhttp.HealthChecker{
			"postgres": pool.Ping,
			"redis":    stateStore.Ping,
			"nats": func(context.Context) error {
				if !queue.IsConnected() {
					return fmt.Errorf("nats disconnected")
				}
				return nil
			},
		},
	}

	limiter := middleware.NewRateLimiter(50, 100)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(dbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(dbhttp.SecurityHeaders)
	r.Use(dbhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(middleware.TenantID)
	r.Use(limiter.Handler)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(120 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(dbotel.HTTPMiddleware(cfg.Logging.Service))
	}

	dbhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Executions can block on a human decision for minutes.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")
	cancel() // stops the sweeper and any in-flight waits

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

// buildNotifiers constructs the configured providers from the registry,
// filling blank credential fields from the secret vault. The dashboard
// provider is wired directly because it pushes through the in-process
// WebSocket hub rather than an external gateway.
func buildNotifiers(cfg config.Notifications, hub *ws.Hub, vault *secrets.Vault) ([]notifier.Notifier, error) {
	notifiers := make([]notifier.Notifier, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		if name == "dashboard" {
			notifiers = append(notifiers, ws.NewDashboardNotifier(hub))
			continue
		}

		providerCfg := make(map[string]string, len(cfg.Providers[name]))
		for k, v := range cfg.Providers[name] {
			providerCfg[k] = v
		}
		vault.Fill(name, providerCfg)
		for _, b := range secrets.Bindings() {
			if b.Provider == name {
				slog.Debug("provider credential",
					"provider", name, "field", b.Field, "value", vault.Redacted(b.Key))
			}
		}

		n, err := notifier.New(name, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}
