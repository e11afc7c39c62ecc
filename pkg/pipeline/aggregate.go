package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinalytics/platform/pkg/common/models"
)

// ReportBuilder materializes the full analytical report for a run. The
// analytics materializer satisfies it; the indirection keeps the stage
// read-only over the dataset and testable without a database.
type ReportBuilder interface {
	Materialize(ctx context.Context, runID uuid.UUID) (*models.ReportSnapshot, error)
}

// AggregateStage runs the full set of read queries over the normalized
// table and persists the result as a report snapshot.
type AggregateStage struct {
	builder ReportBuilder
}

func NewAggregateStage(builder ReportBuilder) *AggregateStage {
	return &AggregateStage{builder: builder}
}

func (a *AggregateStage) Name() string { return StageAggregate }

func (a *AggregateStage) Run(ctx context.Context, run *models.PipelineRun) (int64, error) {
	snapshot, err := a.builder.Materialize(ctx, run.ID)
	if err != nil {
		return 0, err
	}
	if snapshot.Report == nil {
		return 0, fmt.Errorf("report snapshot %s carries no report", snapshot.ID)
	}
	return snapshot.Report.RowCount, nil
}
