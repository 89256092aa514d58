package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/activities"
	"github.com/meridianlab/orchestrator/internal/agents"
	"github.com/meridianlab/orchestrator/internal/circuitbreaker"
	"github.com/meridianlab/orchestrator/internal/config"
	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/health"
	"github.com/meridianlab/orchestrator/internal/httpapi"
	"github.com/meridianlab/orchestrator/internal/modelgateway"
	"github.com/meridianlab/orchestrator/internal/pricing"
	"github.com/meridianlab/orchestrator/internal/server"
	"github.com/meridianlab/orchestrator/internal/steering"
	"github.com/meridianlab/orchestrator/internal/streaming"
	temporalzap "github.com/meridianlab/orchestrator/internal/temporal"
	"github.com/meridianlab/orchestrator/internal/tracing"
	"github.com/meridianlab/orchestrator/internal/trajectory"
	"github.com/meridianlab/orchestrator/internal/workflows"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadOrDefaults()

	// Hot reload feeds new runs the current steering window and source
	// limits and re-reads the pricing table; gateway endpoints and worker
	// options stay pinned to the startup snapshot.
	var cfgSource config.Source = config.NewStatic(cfg)
	cfgPath := envOrDefault("CONFIG_PATH", "./config/features.yaml")
	cfgManager, err := config.NewManager(cfgPath, logger)
	if err != nil {
		logger.Warn("Config watcher unavailable, using static config", zap.Error(err))
	} else {
		cfgManager.OnChange(func(f *config.Features) {
			pricing.Reload()
			logger.Info("Configuration reloaded",
				zap.Int("steering_window_seconds", f.Steering.WindowSeconds),
			)
		})
		if err := cfgManager.Start(); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			cfgSource = cfgManager
			defer cfgManager.Stop()
		}
	}

	// Tracing
	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Observability.Tracing.Enabled,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	// Postgres
	dbClient, err := db.NewClient(&db.Config{
		Host:     envOrDefault("POSTGRES_HOST", "localhost"),
		Port:     envOrDefaultInt("POSTGRES_PORT", 5432),
		User:     envOrDefault("POSTGRES_USER", "meridian"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: envOrDefault("POSTGRES_DB", "meridian"),
		SSLMode:  envOrDefault("POSTGRES_SSLMODE", "disable"),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer dbClient.Close()

	// Redis (steering inbox)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer redisClient.Close()
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, logger)

	// Streaming ring capacity
	if capStr := os.Getenv("STREAMING_RING_CAPACITY"); capStr != "" {
		if n, err := strconv.Atoi(capStr); err == nil && n > 0 {
			streaming.Configure(n)
		}
	}

	// Temporal
	temporalClient, err := client.Dial(client.Options{
		HostPort:  envOrDefault("TEMPORAL_HOST", "localhost:7233"),
		Namespace: envOrDefault("TEMPORAL_NAMESPACE", "default"),
		Logger:    temporalzap.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	// Domain wiring
	registry := agents.NewRegistry(logger)
	gateway := modelgateway.New(
		modelgateway.NewOpenAIProvider(cfg.Gateway.Primary),
		modelgateway.NewOpenAIProvider(cfg.Gateway.Secondary),
		logger,
	)
	recorder := trajectory.NewRecorder(dbClient, logger)
	inbox := steering.NewInbox(redisWrapper, logger)
	acts := activities.NewActivities(gateway, registry, dbClient, recorder, inbox, logger)

	// Worker
	w := worker.New(temporalClient, workflows.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(workflows.ResearchWorkflow, workflow.RegisterOptions{
		Name: workflows.ResearchWorkflowName,
	})
	w.RegisterActivity(acts)
	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal("Worker stopped", zap.Error(err))
		}
	}()

	// Health
	hm := health.NewManager(logger)
	hm.Register(health.NewPostgresChecker(dbClient))
	hm.Register(health.NewRedisChecker(redisWrapper))
	hm.Register(health.NewTemporalChecker(temporalClient))
	hm.Start(ctx)
	defer hm.Stop()

	// HTTP surface: API, streaming, health, metrics on one mux.
	svc := server.NewService(temporalClient, dbClient, inbox, registry, cfgSource, logger)
	auth := httpapi.NewAuthenticator(os.Getenv("JWT_SECRET"), logger)
	api := httpapi.NewHandler(svc, streaming.Get(), auth, logger)

	mux := http.NewServeMux()
	api.Register(mux)
	hm.RegisterHandlers(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpAddr := ":" + strconv.Itoa(envOrDefaultInt("HTTP_PORT", 8080))
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	w.Stop()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
