package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/observability/metrics"
	"github.com/clinalytics/platform/pkg/pipeline"
)

const (
	SnapshotAccepted  = "accepted"
	SnapshotRunning   = "running"
	SnapshotCompleted = "completed"
	SnapshotFailed    = "failed"
)

// SnapshotModel is the stored form of a report snapshot. The report body is
// kept as a JSON payload rather than spread over columns.
type SnapshotModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	RunID       string         `gorm:"column:run_id;index"`
	Status      string         `gorm:"column:status"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	Error       string         `gorm:"column:error"`
	CreatedAt   time.Time      `gorm:"column:created_at;index"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
}

func (SnapshotModel) TableName() string { return "report_snapshots" }

type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&SnapshotModel{})
}

func (r *SnapshotRepository) Save(ctx context.Context, snapshot *models.ReportSnapshot) error {
	model, err := toSnapshotModel(snapshot)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(model).Error
}

func (r *SnapshotRepository) Get(ctx context.Context, id string) (*models.ReportSnapshot, error) {
	var model SnapshotModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report snapshot %s: %w", id, pipeline.ErrNotFound)
		}
		return nil, err
	}
	return fromSnapshotModel(&model)
}

// Latest returns the newest completed snapshot.
func (r *SnapshotRepository) Latest(ctx context.Context) (*models.ReportSnapshot, error) {
	var model SnapshotModel
	err := r.db.WithContext(ctx).
		Where("status = ?", SnapshotCompleted).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("completed report snapshot: %w", pipeline.ErrNotFound)
		}
		return nil, err
	}
	return fromSnapshotModel(&model)
}

// ForRun returns the newest snapshot materialized for one run.
func (r *SnapshotRepository) ForRun(ctx context.Context, runID string) (*models.ReportSnapshot, error) {
	var model SnapshotModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report snapshot for run %s: %w", runID, pipeline.ErrNotFound)
		}
		return nil, err
	}
	return fromSnapshotModel(&model)
}

func toSnapshotModel(snapshot *models.ReportSnapshot) (*SnapshotModel, error) {
	model := &SnapshotModel{
		ID:          snapshot.ID.String(),
		RunID:       snapshot.RunID.String(),
		Status:      snapshot.Status,
		Error:       snapshot.ErrorMessage,
		CreatedAt:   snapshot.CreatedAt,
		CompletedAt: snapshot.CompletedAt,
	}
	if snapshot.Report != nil {
		payload, err := json.Marshal(snapshot.Report)
		if err != nil {
			return nil, fmt.Errorf("encode report payload: %w", err)
		}
		model.Payload = datatypes.JSON(payload)
	}
	return model, nil
}

func fromSnapshotModel(model *SnapshotModel) (*models.ReportSnapshot, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot id %q: %w", model.ID, err)
	}
	runID, err := uuid.Parse(model.RunID)
	if err != nil {
		return nil, fmt.Errorf("snapshot run id %q: %w", model.RunID, err)
	}
	snapshot := &models.ReportSnapshot{
		ID:           id,
		RunID:        runID,
		Status:       model.Status,
		ErrorMessage: model.Error,
		CreatedAt:    model.CreatedAt,
		CompletedAt:  model.CompletedAt,
	}
	if len(model.Payload) > 0 {
		var report models.Report
		if err := json.Unmarshal(model.Payload, &report); err != nil {
			return nil, fmt.Errorf("decode report payload: %w", err)
		}
		snapshot.Report = &report
	}
	return snapshot, nil
}

// CompletionFunc runs after a snapshot completes. The report worker hangs
// cache invalidation, exports and webhooks off it.
type CompletionFunc func(ctx context.Context, snapshot *models.ReportSnapshot)

// Materializer builds full reports and persists them as snapshots. It backs
// the pipeline's aggregate stage and the report worker's async jobs.
type Materializer struct {
	service   *Service
	snapshots *SnapshotRepository
	sem       chan struct{}
}

func NewMaterializer(service *Service, snapshots *SnapshotRepository, workers int) *Materializer {
	if workers <= 0 {
		workers = 1
	}
	return &Materializer{
		service:   service,
		snapshots: snapshots,
		sem:       make(chan struct{}, workers),
	}
}

// Materialize runs the full report and persists the outcome. The snapshot
// is stored in the running state first so a crash leaves a visible trace.
func (m *Materializer) Materialize(ctx context.Context, runID uuid.UUID) (*models.ReportSnapshot, error) {
	snapshot := &models.ReportSnapshot{
		ID:        uuid.New(),
		RunID:     runID,
		Status:    SnapshotRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.snapshots.Save(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("record snapshot %s: %w", snapshot.ID, err)
	}

	report, err := m.service.FullReport(ctx)
	completed := time.Now().UTC()
	snapshot.CompletedAt = &completed
	if err != nil {
		snapshot.Status = SnapshotFailed
		snapshot.ErrorMessage = err.Error()
		if saveErr := m.snapshots.Save(ctx, snapshot); saveErr != nil {
			logger.Log.WithError(saveErr).WithField("snapshot_id", snapshot.ID).
				Warn("Failed snapshot not recorded")
		}
		return snapshot, err
	}

	snapshot.Status = SnapshotCompleted
	snapshot.Report = report
	if err := m.snapshots.Save(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("record snapshot %s: %w", snapshot.ID, err)
	}
	metrics.ReportMaterialized()
	logger.Log.WithField("snapshot_id", snapshot.ID).
		WithField("run_id", runID).
		WithField("rows", report.RowCount).
		Info("Report snapshot materialized")
	return snapshot, nil
}

// Enqueue materializes asynchronously. The semaphore bounds concurrent
// jobs; Enqueue blocks when all workers are busy.
func (m *Materializer) Enqueue(ctx context.Context, runID uuid.UUID, done CompletionFunc) {
	m.sem <- struct{}{}
	go func() {
		defer func() { <-m.sem }()
		snapshot, err := m.Materialize(ctx, runID)
		if err != nil {
			logger.Log.WithError(err).WithField("run_id", runID).
				Error("Report materialization failed")
			return
		}
		if done != nil {
			done(ctx, snapshot)
		}
	}()
}
