// Command server runs the ingestion API, the background job worker, and
// the continuous-scan scheduler in one process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openctemio/ingest/internal/app/control"
	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/internal/config"
	"github.com/openctemio/ingest/internal/infra/http"
	"github.com/openctemio/ingest/internal/infra/http/handler"
	"github.com/openctemio/ingest/internal/infra/jobs"
	"github.com/openctemio/ingest/internal/infra/postgres"
	"github.com/openctemio/ingest/internal/infra/redis"
	"github.com/openctemio/ingest/internal/infra/scheduler"
	"github.com/openctemio/ingest/internal/infra/search"
	"github.com/openctemio/ingest/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	primaryDB, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to primary database", "error", err)
		return 1
	}
	defer closeWithLog(primaryDB, "primary database", log)
	log.Info("primary database connected")

	secondaryDB, err := postgres.New(&cfg.SecDB)
	if err != nil {
		log.Error("failed to connect to secondary database", "error", err)
		return 1
	}
	defer closeWithLog(secondaryDB, "secondary database", log)
	log.Info("secondary database connected")

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)

	// ==========================================================================
	// Stores
	// ==========================================================================
	primaryStore := postgres.NewPrimaryStore(primaryDB)
	secondaryStore := postgres.NewSecondaryStore(secondaryDB)
	scanSource := postgres.NewScanSource(primaryDB)
	quotaSource := postgres.NewQuotaSource(primaryDB, cfg.Ingestion.DefaultVulnerabilityQuota)
	recorder := postgres.NewAuditRecorder(primaryDB, log)
	resolver := postgres.NewAutoResolver(primaryDB, recorder)
	searchTracker := search.NewTracker(redisClient, cfg.Ingestion.SearchIndexingEnabled)

	// ==========================================================================
	// Job Queue
	// ==========================================================================
	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Services
	// ==========================================================================
	reportOrchestrator := ingestion.NewReportSliceOrchestrator(
		primaryStore, secondaryStore, quotaSource, searchTracker, recorder, log)
	continuousOrchestrator := ingestion.NewContinuousScanOrchestrator(
		primaryStore, secondaryStore, quotaSource, searchTracker, recorder, log)
	reconciler := ingestion.NewResolutionReconciler(
		primaryStore, resolver, recorder, log,
		cfg.Ingestion.ReconcileBatchSize, cfg.Ingestion.AutoResolveBudget)

	driver := ingestion.NewReportsIngestionDriver(
		primaryStore, secondaryStore, scanSource, reportOrchestrator, reconciler, jobClient, log)
	continuousService := ingestion.NewContinuousScanService(
		primaryStore, scanSource, continuousOrchestrator, reconciler, log)

	webhookClient := control.NewWebhookClient(
		cfg.Control.RequestTimeout, cfg.Control.RatePerSecond, cfg.Control.RateBurst)
	controlService := control.NewService(
		secondaryStore, webhookClient, jobClient, recorder, log, cfg.Control.TimeoutAfter)
	log.Info("services initialized")

	// ==========================================================================
	// Worker & Scheduler
	// ==========================================================================
	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Worker.Concurrency,
	}, continuousService, primaryStore, primaryStore, controlService, redis.NewApprovalNotifier(redisClient), log)

	if err := worker.Start(); err != nil {
		log.Error("failed to start worker", "error", err)
		return 1
	}

	continuousScheduler, err := scheduler.New(
		cfg.Ingestion.ContinuousScanSchedule, scanSource, continuousService, log)
	if err != nil {
		log.Error("invalid continuous scan schedule", "error", err)
		return 1
	}
	continuousScheduler.Start()

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(cfg, log)
	server.Register(http.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"primary_database":   primaryDB,
			"secondary_database": secondaryDB,
			"redis":              redisClient,
		}),
		Ingestion: handler.NewIngestionHandler(primaryStore, driver, continuousService, log),
		Control:   handler.NewControlHandler(controlService, log),
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	continuousScheduler.Stop()
	worker.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
