package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinalytics/platform/pkg/common/kafka"
	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/observability/metrics"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	StageSnapshot  = "snapshot"
	StageNormalize = "normalize"
	StageProvision = "provision"
	StageQuality   = "quality"
	StageAggregate = "aggregate"
)

// Stage is one step of the preparation pipeline. Stages run strictly in
// order on a single goroutine; each consumes the table state the previous
// stage left behind and reports the rows it covered.
type Stage interface {
	Name() string
	Run(ctx context.Context, run *models.PipelineRun) (int64, error)
}

// Runner drives the stages sequentially, records run bookkeeping, and
// publishes lifecycle events. The first stage failure aborts the rest of
// the run; nothing is retried and nothing rolls back. Reruns are safe
// because the snapshot stage rebuilds the working table from scratch.
type Runner struct {
	repo     *RunRepository
	producer *kafka.Producer
	stages   []Stage
	source   string
	working  string
}

type RunnerOption func(*Runner)

// WithProducer publishes run and stage lifecycle events to Kafka.
func WithProducer(p *kafka.Producer) RunnerOption {
	return func(r *Runner) { r.producer = p }
}

func NewRunner(repo *RunRepository, source, working string, stages []Stage, opts ...RunnerOption) *Runner {
	r := &Runner{repo: repo, source: source, working: working, stages: stages}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Run(ctx context.Context) (*models.PipelineRun, error) {
	started := time.Now().UTC()
	run := &models.PipelineRun{
		ID:           uuid.New(),
		SourceTable:  r.source,
		WorkingTable: r.working,
		Status:       StatusRunning,
		CreatedAt:    started,
		StartedAt:    &started,
	}
	if err := r.repo.Create(ctx, run); err != nil {
		return nil, err
	}
	metrics.RunStarted()
	r.publishRun(ctx, "run.started", run)
	logger.WithRun(run.ID.String()).WithFields(map[string]interface{}{
		"source_table":  r.source,
		"working_table": r.working,
	}).Info("Pipeline run started")

	for _, stage := range r.stages {
		result, err := r.runStage(ctx, stage, run)
		run.Stages = append(run.Stages, result)
		if err != nil {
			return r.fail(ctx, run, &StageError{Stage: stage.Name(), Err: err})
		}
		if uerr := r.repo.Update(ctx, run); uerr != nil {
			return run, uerr
		}
		r.publishStage(ctx, run, result)
	}

	completed := time.Now().UTC()
	run.Status = StatusCompleted
	run.CompletedAt = &completed
	if err := r.repo.Update(ctx, run); err != nil {
		return run, err
	}
	metrics.RunCompleted(completed.Sub(started).Milliseconds())
	r.publishRun(ctx, "run.completed", run)
	logger.WithRun(run.ID.String()).WithFields(map[string]interface{}{
		"rows":        run.RowCount,
		"duration_ms": completed.Sub(started).Milliseconds(),
	}).Info("Pipeline run completed")
	return run, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, run *models.PipelineRun) (models.StageResult, error) {
	log := logger.WithStage(run.ID.String(), stage.Name())
	log.Info("Stage started")

	startedAt := time.Now().UTC()
	count, err := stage.Run(ctx, run)
	finishedAt := time.Now().UTC()

	result := models.StageResult{
		Name:       stage.Name(),
		Status:     StatusCompleted,
		Duration:   finishedAt.Sub(startedAt),
		RowCount:   count,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		log.WithError(err).Error("Stage failed")
		return result, err
	}

	metrics.StageRows(count)
	log.WithFields(map[string]interface{}{
		"rows":        count,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Stage completed")
	return result, nil
}

func (r *Runner) fail(ctx context.Context, run *models.PipelineRun, stageErr *StageError) (*models.PipelineRun, error) {
	completed := time.Now().UTC()
	run.Status = StatusFailed
	run.ErrorMessage = stageErr.Error()
	run.CompletedAt = &completed
	if err := r.repo.Update(ctx, run); err != nil {
		logger.WithRun(run.ID.String()).WithError(err).Error("Failed to record failed run")
	}
	metrics.RunFailed()
	r.publishRun(ctx, "run.failed", run)
	return run, stageErr
}

func (r *Runner) publishRun(ctx context.Context, eventType string, run *models.PipelineRun) {
	if r.producer == nil {
		return
	}
	if err := r.producer.PublishRunEvent(ctx, eventType, "pipeline-runner", *run); err != nil {
		logger.WithRun(run.ID.String()).WithError(err).Warn("Failed to publish run event")
	}
}

func (r *Runner) publishStage(ctx context.Context, run *models.PipelineRun, result models.StageResult) {
	if r.producer == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":      run.ID.String(),
		"stage":       result.Name,
		"rows":        result.RowCount,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if err := r.producer.PublishEvent(ctx, "stage.completed", "pipeline-runner", data); err != nil {
		logger.WithRun(run.ID.String()).WithError(err).Warn("Failed to publish stage event")
	}
}
