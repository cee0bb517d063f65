package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/internal/config"
	"github.com/openctemio/ingest/internal/infra/jobs"
	"github.com/openctemio/ingest/internal/infra/postgres"
	"github.com/openctemio/ingest/internal/infra/redis"
	"github.com/openctemio/ingest/internal/infra/search"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <pipeline-id>",
	Short: "Ingest all succeeded scans of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelineID, err := shared.IDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid pipeline id: %w", err)
		}

		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := context.Background()
		pipeline, err := env.primaryStore.Pipeline(ctx, pipelineID)
		if err != nil {
			return err
		}

		result, err := env.driver.IngestPipeline(ctx, pipeline)
		if err != nil {
			return err
		}

		cmd.Printf("slices ingested: %d, skipped: %d\n", result.SlicesIngested, result.SlicesSkipped)
		for scanner, ids := range result.IngestedIDs {
			cmd.Printf("  %s: %d vulnerabilities\n", scanner, len(ids))
		}
		cmd.Printf("flagged: %d, auto-resolved: %d\n", result.Flagged, result.AutoResolved)
		return nil
	},
}

// env bundles the wiring the commands share.
type env struct {
	cfg          *config.Config
	log          *logger.Logger
	primaryDB    *postgres.DB
	secondaryDB  *postgres.DB
	redisClient  *redis.Client
	jobClient    *jobs.Client
	primaryStore *postgres.PrimaryStore
	quotaSource  *postgres.QuotaSource
	driver       *ingestion.ReportsIngestionDriver
	continuous   *ingestion.ContinuousScanService
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log := logger.NewNop()
	if flagVerbose {
		log = logger.New(logger.Config{Level: "debug", Format: "text"})
	}

	primaryDB, err := postgres.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect primary database: %w", err)
	}

	secondaryDB, err := postgres.New(&cfg.SecDB)
	if err != nil {
		_ = primaryDB.Close()
		return nil, fmt.Errorf("connect secondary database: %w", err)
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		_ = primaryDB.Close()
		_ = secondaryDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		_ = primaryDB.Close()
		_ = secondaryDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("initialize job client: %w", err)
	}

	primaryStore := postgres.NewPrimaryStore(primaryDB)
	secondaryStore := postgres.NewSecondaryStore(secondaryDB)
	scanSource := postgres.NewScanSource(primaryDB)
	quotaSource := postgres.NewQuotaSource(primaryDB, cfg.Ingestion.DefaultVulnerabilityQuota)
	recorder := postgres.NewAuditRecorder(primaryDB, log)
	resolver := postgres.NewAutoResolver(primaryDB, recorder)
	searchTracker := search.NewTracker(redisClient, cfg.Ingestion.SearchIndexingEnabled)

	reportOrchestrator := ingestion.NewReportSliceOrchestrator(
		primaryStore, secondaryStore, quotaSource, searchTracker, recorder, log)
	continuousOrchestrator := ingestion.NewContinuousScanOrchestrator(
		primaryStore, secondaryStore, quotaSource, searchTracker, recorder, log)
	reconciler := ingestion.NewResolutionReconciler(
		primaryStore, resolver, recorder, log,
		cfg.Ingestion.ReconcileBatchSize, cfg.Ingestion.AutoResolveBudget)

	return &env{
		cfg:          cfg,
		log:          log,
		primaryDB:    primaryDB,
		secondaryDB:  secondaryDB,
		redisClient:  redisClient,
		jobClient:    jobClient,
		primaryStore: primaryStore,
		quotaSource:  quotaSource,
		driver: ingestion.NewReportsIngestionDriver(
			primaryStore, secondaryStore, scanSource, reportOrchestrator, reconciler, jobClient, log),
		continuous: ingestion.NewContinuousScanService(
			primaryStore, scanSource, continuousOrchestrator, reconciler, log),
	}, nil
}

func (e *env) Close() {
	_ = e.jobClient.Close()
	_ = e.redisClient.Close()
	_ = e.secondaryDB.Close()
	_ = e.primaryDB.Close()
}
