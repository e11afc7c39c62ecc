package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clinalytics/platform/pkg/analytics"
	"github.com/clinalytics/platform/pkg/common/config"
	"github.com/clinalytics/platform/pkg/common/database"
	"github.com/clinalytics/platform/pkg/common/kafka"
	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/export"
	"github.com/clinalytics/platform/pkg/notify"
	"github.com/clinalytics/platform/pkg/pipeline"
	"github.com/clinalytics/platform/pkg/privacy"
)

func main() {
	logger.Init()
	cfg := config.Load()

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

	runRepo := pipeline.NewRunRepository(db)
	if err := runRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate run tables")
	}
	snapshots := analytics.NewSnapshotRepository(db)
	if err := snapshots.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate snapshot tables")
	}

	repo := analytics.NewRepository(db, cfg.WorkingTable)
	service := analytics.NewService(repo, catalog,
		analytics.WithCache(database.GetRedis(), cfg.CacheTTL),
		analytics.WithRunRepository(runRepo),
		analytics.WithSnapshots(snapshots),
	)
	materializer := analytics.NewMaterializer(service, snapshots, cfg.ReportWorkers)

	var exportOpts []export.Option
	if cfg.ExportPseudonymize {
		tokenizer, err := privacy.NewTokenizer(cfg.PseudonymSalt)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to configure pseudonymization")
		}
		exportOpts = append(exportOpts, export.WithTokenizer(tokenizer))
	}
	exporter := export.NewExporter(repo, cfg.ExportDir, exportOpts...)

	archiver, err := export.NewArchiver(context.Background(), cfg.ArchiveBucket, cfg.ArchivePrefix)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure archive bucket")
	}

	notifier := notify.NewNotifier(cfg.WebhookURL, cfg.WebhookTimeout, cfg.WebhookAttempts)

	completion := func(ctx context.Context, snapshot *models.ReportSnapshot) {
		if err := service.InvalidateCache(ctx); err != nil {
			logger.Log.WithError(err).Warn("Failed to invalidate analytics cache")
		}

		stamp := snapshot.CreatedAt.UTC().Format("20060102T150405Z")
		csvPath, err := exporter.WriteCSV(ctx, fmt.Sprintf("admissions-%s.csv", stamp))
		if err != nil {
			logger.Log.WithError(err).Error("Failed to export admissions csv")
		} else if _, err := archiver.UploadFile(ctx, csvPath); err != nil {
			logger.Log.WithError(err).Error("Failed to archive admissions csv")
		}
		parquetPath, err := exporter.WriteParquet(ctx, fmt.Sprintf("admissions-%s.parquet", stamp))
		if err != nil {
			logger.Log.WithError(err).Error("Failed to export admissions parquet")
		} else if _, err := archiver.UploadFile(ctx, parquetPath); err != nil {
			logger.Log.WithError(err).Error("Failed to archive admissions parquet")
		}

		if snapshot.Report != nil {
			payload, err := json.Marshal(snapshot.Report)
			if err != nil {
				logger.Log.WithError(err).Error("Failed to encode report payload")
			} else {
				key := fmt.Sprintf("report-%s.json", snapshot.ID)
				if _, err := archiver.Upload(ctx, key, payload, "application/json"); err != nil {
					logger.Log.WithError(err).Error("Failed to archive report payload")
				}
			}
			reportPath, err := exporter.WriteReportCSV(fmt.Sprintf("report-%s.csv", snapshot.ID), snapshot.Report)
			if err != nil {
				logger.Log.WithError(err).Error("Failed to export report csv")
			} else if _, err := archiver.UploadFile(ctx, reportPath); err != nil {
				logger.Log.WithError(err).Error("Failed to archive report csv")
			}
		}

		summary := models.RunSummary{
			RunID:      snapshot.RunID,
			Status:     snapshot.Status,
			SnapshotID: snapshot.ID.String(),
		}
		if snapshot.Report != nil {
			summary.RowCount = snapshot.Report.RowCount
		}
		if snapshot.CompletedAt != nil {
			summary.CompletedAt = *snapshot.CompletedAt
			summary.Duration = snapshot.CompletedAt.Sub(snapshot.CreatedAt).String()
		}
		if err := notifier.RunCompleted(ctx, summary); err != nil {
			logger.Log.WithError(err).Error("Failed to deliver run summary")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := kafka.NewConsumer(cfg.PipelineTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	go func() {
		logger.Log.WithField("topic", cfg.PipelineTopic).Info("Report worker consuming")
		err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
			if event.Type != "run.completed" {
				return nil
			}
			raw, _ := event.Data["run_id"].(string)
			runID, err := uuid.Parse(raw)
			if err != nil {
				logger.Log.WithField("event_id", event.ID).Warn("Skipping event without run id")
				return nil
			}
			materializer.Enqueue(ctx, runID, completion)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("consumer stopped")
		}
	}()

	if cfg.RefreshInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					materializer.Enqueue(ctx, uuid.Nil, completion)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down report worker...")
	cancel()

	database.ClosePostgres()
	database.CloseRedis()
	logger.Log.Info("Report worker stopped")
}
