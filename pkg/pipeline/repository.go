package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
)

type RunModel struct {
	ID           string         `gorm:"primaryKey;column:id"`
	SourceTable  string         `gorm:"column:source_table"`
	WorkingTable string         `gorm:"column:working_table"`
	Status       string         `gorm:"column:status"`
	RowCount     int64          `gorm:"column:row_count"`
	Stages       datatypes.JSON `gorm:"column:stages"`
	Error        string         `gorm:"column:error"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	StartedAt    *time.Time     `gorm:"column:started_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "pipeline_runs"
}

type QualityReportModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	RunID     string         `gorm:"column:run_id"`
	TotalRows int64          `gorm:"column:total_rows"`
	Flagged   int64          `gorm:"column:flagged"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (QualityReportModel) TableName() string {
	return "quality_reports"
}

// RunRepository persists run bookkeeping and quality reports. It writes only
// its own tables, never the dataset.
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{}, &QualityReportModel{})
}

func (r *RunRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *RunRepository) Update(ctx context.Context, run *models.PipelineRun) error {
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *RunRepository) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	var m RunModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pipeline run %s: %w", id, ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return fromRunModel(&m)
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []RunModel
	err := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	runs := make([]models.PipelineRun, 0, len(rows))
	for i := range rows {
		run, err := fromRunModel(&rows[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (r *RunRepository) SaveQualityReport(ctx context.Context, report *models.QualityReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	m := &QualityReportModel{
		ID:        uuid.NewString(),
		RunID:     report.RunID.String(),
		TotalRows: report.TotalRows,
		Flagged:   int64(len(report.Flagged)),
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *RunRepository) LatestQualityReport(ctx context.Context) (*models.QualityReport, error) {
	var m QualityReportModel
	result := r.db.WithContext(ctx).Order("created_at desc").First(&m)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("quality report: %w", ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return decodeQualityReport(&m)
}

func (r *RunRepository) QualityReportForRun(ctx context.Context, runID string) (*models.QualityReport, error) {
	var m QualityReportModel
	result := r.db.WithContext(ctx).Order("created_at desc").First(&m, "run_id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("quality report for run %s: %w", runID, ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return decodeQualityReport(&m)
}

func toRunModel(run *models.PipelineRun) (*RunModel, error) {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return nil, err
	}
	return &RunModel{
		ID:           run.ID.String(),
		SourceTable:  run.SourceTable,
		WorkingTable: run.WorkingTable,
		Status:       run.Status,
		RowCount:     run.RowCount,
		Stages:       datatypes.JSON(stages),
		Error:        run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}, nil
}

func fromRunModel(m *RunModel) (*models.PipelineRun, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", m.ID, err)
	}
	run := &models.PipelineRun{
		ID:           id,
		SourceTable:  m.SourceTable,
		WorkingTable: m.WorkingTable,
		Status:       m.Status,
		RowCount:     m.RowCount,
		ErrorMessage: m.Error,
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}
	if len(m.Stages) > 0 {
		if err := json.Unmarshal(m.Stages, &run.Stages); err != nil {
			return nil, fmt.Errorf("run %s stages: %w", m.ID, err)
		}
	}
	return run, nil
}

func decodeQualityReport(m *QualityReportModel) (*models.QualityReport, error) {
	var report models.QualityReport
	if err := json.Unmarshal(m.Payload, &report); err != nil {
		return nil, fmt.Errorf("quality report %s: %w", m.ID, err)
	}
	return &report, nil
}
