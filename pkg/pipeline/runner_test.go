package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/dataset"
)

type fakeBuilder struct {
	rows int64
}

func (f fakeBuilder) Materialize(_ context.Context, runID uuid.UUID) (*models.ReportSnapshot, error) {
	return &models.ReportSnapshot{
		ID:     uuid.New(),
		RunID:  runID,
		Status: "completed",
		Report: &models.Report{RowCount: f.rows, GeneratedAt: time.Now().UTC()},
	}, nil
}

func newTestRunner(db *gorm.DB, repo *RunRepository, source, working string, rows int64) *Runner {
	catalog := dataset.Default()
	stages := []Stage{
		NewSnapshotStage(db, source, working),
		NewNormalizeStage(db, catalog, working),
		NewProvisionStage(db, working, 191),
		NewQualityStage(db, catalog, working, repo),
		NewAggregateStage(fakeBuilder{rows: rows}),
	}
	return NewRunner(repo, source, working, stages)
}

func TestRunnerEndToEnd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source, working := "hc_source_e2e", "hc_admissions_e2e"

	seedAdmissions(t, db, source)
	t.Cleanup(func() {
		_ = db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(working))).Error
	})

	repo := NewRunRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate bookkeeping tables: %v", err)
	}

	runner := newTestRunner(db, repo, source, working, 4)
	run, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected status %s, got %s", StatusCompleted, run.Status)
	}
	if run.RowCount != 4 {
		t.Fatalf("expected 4 rows, got %d", run.RowCount)
	}
	if len(run.Stages) != 5 {
		t.Fatalf("expected 5 stage results, got %d", len(run.Stages))
	}

	var columns []string
	err = db.Raw(`SELECT column_name FROM information_schema.columns
	              WHERE table_schema = current_schema() AND table_name = ?
	              ORDER BY column_name`, working).Scan(&columns).Error
	if err != nil {
		t.Fatalf("inspect working table: %v", err)
	}
	if len(columns) != 16 {
		t.Fatalf("expected 16 columns, got %d: %v", len(columns), columns)
	}
	seen := map[string]bool{}
	for _, c := range columns {
		seen[c] = true
	}
	if !seen["patient_id"] || !seen["full_name"] || seen["Name"] {
		t.Fatalf("columns not canonical: %v", columns)
	}

	var ids []int64
	q := fmt.Sprintf("SELECT patient_id FROM %s ORDER BY patient_id", quoteIdent(working))
	if err := db.Raw(q).Scan(&ids).Error; err != nil {
		t.Fatalf("read patient ids: %v", err)
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("expected patient_id %d at position %d, got %d", i+1, i, id)
		}
	}

	var admitted time.Time
	q = fmt.Sprintf("SELECT date_of_admission FROM %s WHERE patient_id = 1", quoteIdent(working))
	if err := db.Raw(q).Scan(&admitted).Error; err != nil {
		t.Fatalf("read coerced date: %v", err)
	}
	if got := admitted.Format("2006-01-02"); got != "2024-01-31" {
		t.Fatalf("expected admission 2024-01-31, got %s", got)
	}

	var billing float64
	q = fmt.Sprintf("SELECT billing_amount FROM %s WHERE patient_id = 1", quoteIdent(working))
	if err := db.Raw(q).Scan(&billing).Error; err != nil {
		t.Fatalf("read coerced billing: %v", err)
	}
	if math.Abs(billing-18856.28) > 0.001 {
		t.Fatalf("expected billing rounded to 18856.28, got %v", billing)
	}

	report, err := repo.LatestQualityReport(ctx)
	if err != nil {
		t.Fatalf("load quality report: %v", err)
	}
	if report.TotalRows != 4 {
		t.Fatalf("expected 4 total rows, got %d", report.TotalRows)
	}
	if len(report.Flagged) != 1 || report.Flagged[0].PatientID != 2 {
		t.Fatalf("expected patient 2 flagged, got %+v", report.Flagged)
	}
	missing := map[string]bool{}
	for _, f := range report.Flagged[0].MissingFields {
		missing[f] = true
	}
	if !missing["discharge_date"] || !missing["medication"] {
		t.Fatalf("expected discharge_date and medication missing, got %v", report.Flagged[0].MissingFields)
	}
	if report.MissingByField["medication"] != 1 || report.MissingByField["age"] != 0 {
		t.Fatalf("unexpected per-field counts: %v", report.MissingByField)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0].Count != 2 {
		t.Fatalf("expected one duplicate pair, got %+v", report.Duplicates)
	}
	if ids := report.Duplicates[0].PatientIDs; ids[0] != 3 || ids[1] != 4 {
		t.Fatalf("expected duplicate patients 3 and 4, got %v", ids)
	}

	stored, err := repo.Get(ctx, run.ID.String())
	if err != nil {
		t.Fatalf("load run record: %v", err)
	}
	if stored.Status != StatusCompleted || len(stored.Stages) != 5 {
		t.Fatalf("stored run mismatch: status %s, %d stages", stored.Status, len(stored.Stages))
	}
	wantOrder := []string{StageSnapshot, StageNormalize, StageProvision, StageQuality, StageAggregate}
	for i, want := range wantOrder {
		if stored.Stages[i].Name != want {
			t.Fatalf("stage %d: expected %s, got %s", i, want, stored.Stages[i].Name)
		}
	}

	// Rerunning rebuilds the working table from scratch.
	rerun, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if rerun.Status != StatusCompleted || rerun.RowCount != 4 {
		t.Fatalf("rerun mismatch: status %s, rows %d", rerun.Status, rerun.RowCount)
	}
}

func TestSnapshotMissingSource(t *testing.T) {
	db := openTestDB(t)
	stage := NewSnapshotStage(db, "hc_no_such_source", "hc_never_created")
	_, err := stage.Run(context.Background(), &models.PipelineRun{ID: uuid.New()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizeRejectsBadDate(t *testing.T) {
	db := openTestDB(t)
	table := "hc_baddate_test"
	createFixtureTable(t, db, table)
	insertFixtureRow(t, db, table,
		"Bobby Jackson", 30, "Male", "B-", "Cancer", "2024-01-31",
		"Dr. Matthew Smith", "Sons and Miller", "Blue Cross", 18856.28,
		328, "Urgent", "2024-02-02", "Paracetamol", "Normal")
	insertFixtureRow(t, db, table,
		"Leslie Terry", 62, "Male", "A+", "Obesity", "31/08/2019",
		"Dr. Samantha Davies", "Kim Inc", "Medicare", 33643.33,
		265, "Emergency", "2019-08-26", "Ibuprofen", "Inconclusive")

	stage := NewNormalizeStage(db, dataset.Default(), table)
	_, err := stage.Run(context.Background(), &models.PipelineRun{ID: uuid.New()})
	var coercion *TypeCoercionError
	if !errors.As(err, &coercion) {
		t.Fatalf("expected TypeCoercionError, got %v", err)
	}
	if coercion.Row != 2 || coercion.Column != "date_of_admission" || coercion.Value != "31/08/2019" {
		t.Fatalf("wrong cell identified: %+v", coercion)
	}
}

func TestNormalizeTwiceFailsDuplicate(t *testing.T) {
	db := openTestDB(t)
	table := "hc_renamed_twice_test"
	createFixtureTable(t, db, table)
	insertFixtureRow(t, db, table,
		"Bobby Jackson", 30, "Male", "B-", "Cancer", "2024-01-31",
		"Dr. Matthew Smith", "Sons and Miller", "Blue Cross", 18856.28,
		328, "Urgent", "2024-02-02", "Paracetamol", "Normal")

	stage := NewNormalizeStage(db, dataset.Default(), table)
	if _, err := stage.Run(context.Background(), &models.PipelineRun{ID: uuid.New()}); err != nil {
		t.Fatalf("first normalize failed: %v", err)
	}
	_, err := stage.Run(context.Background(), &models.PipelineRun{ID: uuid.New()})
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("expected ErrDuplicateColumn, got %v", err)
	}
}

func TestProvisionRerunFailsDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	table := "hc_keyed_twice_test"
	createFixtureTable(t, db, table)
	insertFixtureRow(t, db, table,
		"Bobby Jackson", 30, "Male", "B-", "Cancer", "2024-01-31",
		"Dr. Matthew Smith", "Sons and Miller", "Blue Cross", 18856.28,
		328, "Urgent", "2024-02-02", "Paracetamol", "Normal")

	normalize := NewNormalizeStage(db, dataset.Default(), table)
	if _, err := normalize.Run(ctx, &models.PipelineRun{ID: uuid.New()}); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	provision := NewProvisionStage(db, table, 191)
	if _, err := provision.Run(ctx, &models.PipelineRun{ID: uuid.New()}); err != nil {
		t.Fatalf("first provision failed: %v", err)
	}

	var indexes int64
	err := db.Raw(`SELECT count(*) FROM pg_indexes WHERE tablename = ? AND indexname IN (?, ?)`,
		table, "idx_"+table+"_doctor", "idx_"+table+"_hospital").Scan(&indexes).Error
	if err != nil {
		t.Fatalf("inspect indexes: %v", err)
	}
	if indexes != 2 {
		t.Fatalf("expected doctor and hospital indexes, found %d", indexes)
	}

	// Index creation is IF NOT EXISTS, so a rebuild alone is a no-op.
	if err := provision.addIndex(ctx, "doctor"); err != nil {
		t.Fatalf("index rebuild should be a no-op: %v", err)
	}

	_, err = provision.Run(ctx, &models.PipelineRun{ID: uuid.New()})
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("expected ErrDuplicateColumn, got %v", err)
	}
}
