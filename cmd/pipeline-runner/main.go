package main

import (
	"context"
	"flag"
	"time"

	"github.com/clinalytics/platform/pkg/analytics"
	"github.com/clinalytics/platform/pkg/common/config"
	"github.com/clinalytics/platform/pkg/common/database"
	"github.com/clinalytics/platform/pkg/common/kafka"
	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/ingest"
	"github.com/clinalytics/platform/pkg/pipeline"
	"github.com/clinalytics/platform/pkg/privacy"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file to load into the source table before running")
	seedCount := flag.Int("seed", 0, "generate N synthetic rows into the source table before running")
	seedValue := flag.Uint64("seed-value", 42, "PRNG seed for synthetic rows")
	sourceTable := flag.String("source", "", "source table (default PIPELINE_SOURCE_TABLE)")
	workingTable := flag.String("working", "", "working table (default PIPELINE_WORKING_TABLE)")
	publish := flag.Bool("publish", false, "publish run lifecycle events to Kafka")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall run timeout")
	flag.Parse()

	logger.Init()
	cfg := config.Load()

	if *sourceTable == "" {
		*sourceTable = cfg.SourceTable
	}
	if *workingTable == "" {
		*workingTable = cfg.WorkingTable
	}

	catalog := dataset.Default()
	if cfg.CatalogPath != "" {
		loaded, err := dataset.Load(cfg.CatalogPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load dataset catalog")
		}
		catalog = loaded
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *csvPath != "" || *seedCount > 0 {
		loader, err := ingest.NewLoader(ctx, database.DSN(cfg), catalog)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect bulk loader")
		}
		defer loader.Close()

		svc := ingest.NewService(ingest.NewReader(catalog), loader, catalog)
		if *csvPath != "" {
			if _, err := svc.LoadCSV(ctx, *csvPath, *sourceTable); err != nil {
				logger.Log.WithError(err).Fatal("failed to load csv into source table")
			}
		} else {
			if _, err := svc.Seed(ctx, *sourceTable, *seedCount, *seedValue); err != nil {
				logger.Log.WithError(err).Fatal("failed to seed source table")
			}
		}
	}

	runRepo := pipeline.NewRunRepository(db)
	if err := runRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate run tables")
	}

	snapshots := analytics.NewSnapshotRepository(db)
	if err := snapshots.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate snapshot tables")
	}

	reportRepo := analytics.NewRepository(db, *workingTable)
	service := analytics.NewService(reportRepo, catalog,
		analytics.WithRunRepository(runRepo),
		analytics.WithSnapshots(snapshots),
	)
	builder := analytics.NewMaterializer(service, snapshots, 1)

	var qualityOpts []pipeline.QualityOption
	if cfg.AuditEnabled {
		rules := privacy.DefaultRules()
		if cfg.AuditRulesPath != "" {
			rules, err = privacy.LoadRules(cfg.AuditRulesPath)
			if err != nil {
				logger.Log.WithError(err).Fatal("failed to load audit rules")
			}
		}
		detector, err := privacy.NewDetector(rules)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to compile audit rules")
		}
		qualityOpts = append(qualityOpts, pipeline.WithDetector(detector))
	}

	stages := []pipeline.Stage{
		pipeline.NewSnapshotStage(db, *sourceTable, *workingTable),
		pipeline.NewNormalizeStage(db, catalog, *workingTable),
		pipeline.NewProvisionStage(db, *workingTable, cfg.IndexPrefixLength),
		pipeline.NewQualityStage(db, catalog, *workingTable, runRepo, qualityOpts...),
		pipeline.NewAggregateStage(builder),
	}

	var runnerOpts []pipeline.RunnerOption
	if *publish {
		producer := kafka.NewProducer(cfg.PipelineTopic)
		defer producer.Close()
		runnerOpts = append(runnerOpts, pipeline.WithProducer(producer))
	}

	runner := pipeline.NewRunner(runRepo, *sourceTable, *workingTable, stages, runnerOpts...)
	if _, err := runner.Run(ctx); err != nil {
		logger.Log.WithError(err).Fatal("pipeline run failed")
	}
}
