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

	cfhttp "github.com/Strob0t/ContextForge/internal/adapter/http"
	"github.com/Strob0t/ContextForge/internal/adapter/mcp"
	cfnats "github.com/Strob0t/ContextForge/internal/adapter/nats"
	"github.com/Strob0t/ContextForge/internal/adapter/natskv"
	"github.com/Strob0t/ContextForge/internal/adapter/openai"
	cfotel "github.com/Strob0t/ContextForge/internal/adapter/otel"
	"github.com/Strob0t/ContextForge/internal/adapter/postgres"
	"github.com/Strob0t/ContextForge/internal/adapter/ristretto"
	"github.com/Strob0t/ContextForge/internal/adapter/tiered"
	"github.com/Strob0t/ContextForge/internal/adapter/ws"
	"github.com/Strob0t/ContextForge/internal/config"
	"github.com/Strob0t/ContextForge/internal/logger"
	"github.com/Strob0t/ContextForge/internal/middleware"
	"github.com/Strob0t/ContextForge/internal/port/modelclient"
	"github.com/Strob0t/ContextForge/internal/port/toolexec"
	"github.com/Strob0t/ContextForge/internal/resilience"
	"github.com/Strob0t/ContextForge/internal/service"
)

func main() {
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

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"model", cfg.Model.DefaultModel,
		"approval_policy", cfg.Engine.ApprovalPolicy,
	)

	ctx := context.Background()

	// --- Telemetry ---
	var otelShutdown cfotel.ShutdownFunc = func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		otelShutdown, err = cfotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := cfotel.NewMetrics()
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
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS: signal mirror plus the KV bucket backing the L2 cache.
	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("nats kv: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()
	msgCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)

	// --- Tool executors ---
	registry := toolexec.NewRegistry()
	var specs []modelclient.ToolSpec
	for _, def := range cfg.MCP {
		exec, err := mcp.Connect(ctx, def)
		if err != nil {
			slog.Warn("mcp server unavailable, skipping", "name", def.Name, "error", err)
			continue
		}
		defer func() { _ = exec.Close() }()
		if err := registry.Register(exec); err != nil {
			return fmt.Errorf("register mcp %s: %w", def.Name, err)
		}
		specs = append(specs, exec.Specs()...)
	}

	// --- Services ---
	model, err := openai.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	notifier := service.NewDispatcher(hub, queue, log)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	engine := service.NewEngine(model, registry, specs, notifier, store, breaker, metrics, cfg.Engine, log)
	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore contexts: %w", err)
	}
	retrieval := service.NewRetrieval(engine, msgCache, cfg.Cache.L2TTL)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	notifier.StartHeartbeat(heartbeatCtx, cfg.Engine.HeartbeatInterval)

	// --- HTTP ---
	handlers := cfhttp.NewHandlers(engine, retrieval)

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(5*time.Minute, 15*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)
	if cfg.Telemetry.Enabled {
		r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	}

	r.Get("/health", healthHandler(cfg, queue))
	r.Get("/ws", hub.HandleWS)

	cfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config, queue *cfnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status    string `json:"status"`
		NATS      string `json:"nats"`
		Model     string `json:"model"`
		Heartbeat int    `json:"heartbeat_interval_sec"`
		PollHint  int    `json:"catchup_poll_interval_sec"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		natsStatus := "disconnected"
		if queue.IsConnected() {
			natsStatus = "connected"
		}
		status := healthStatus{
			Status:    "ok",
			NATS:      natsStatus,
			Model:     cfg.Model.DefaultModel,
			Heartbeat: int(cfg.Engine.HeartbeatInterval.Seconds()),
			PollHint:  int(cfg.Engine.CatchupPollInterval.Seconds()),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
