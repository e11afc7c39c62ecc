package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/pipeline"
)

func newSnapshotRepo(t *testing.T, db *gorm.DB) *SnapshotRepository {
	t.Helper()
	repo := NewSnapshotRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate snapshots: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS report_snapshots").Error
	})
	return repo
}

func TestSnapshotRepositoryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := newSnapshotRepo(t, db)
	ctx := context.Background()

	runID := uuid.New()
	completed := time.Now().UTC().Truncate(time.Millisecond)
	snapshot := &models.ReportSnapshot{
		ID:          uuid.New(),
		RunID:       runID,
		Status:      SnapshotCompleted,
		Report:      &models.Report{RowCount: 42},
		CreatedAt:   completed.Add(-time.Second),
		CompletedAt: &completed,
	}
	if err := repo.Save(ctx, snapshot); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(ctx, snapshot.ID.String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != snapshot.ID || got.RunID != runID {
		t.Fatalf("expected ids %s/%s, got %s/%s", snapshot.ID, runID, got.ID, got.RunID)
	}
	if got.Status != SnapshotCompleted {
		t.Fatalf("expected status %s, got %s", SnapshotCompleted, got.Status)
	}
	if got.Report == nil || got.Report.RowCount != 42 {
		t.Fatalf("expected report with 42 rows, got %+v", got.Report)
	}

	latest, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != snapshot.ID {
		t.Fatalf("expected latest snapshot %s, got %s", snapshot.ID, latest.ID)
	}

	byRun, err := repo.ForRun(ctx, runID.String())
	if err != nil {
		t.Fatalf("ForRun: %v", err)
	}
	if byRun.ID != snapshot.ID {
		t.Fatalf("expected snapshot %s for run, got %s", snapshot.ID, byRun.ID)
	}

	_, err = repo.Get(ctx, uuid.NewString())
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected not-found for unknown snapshot, got %v", err)
	}
}

func TestMaterializeCompletes(t *testing.T) {
	db := openTestDB(t)
	seedWorkingTable(t, db, "admissions_materialize")
	repo := newSnapshotRepo(t, db)
	service := NewService(NewRepository(db, "admissions_materialize"), dataset.Default())
	materializer := NewMaterializer(service, repo, 2)

	runID := uuid.New()
	snapshot, err := materializer.Materialize(context.Background(), runID)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if snapshot.Status != SnapshotCompleted {
		t.Fatalf("expected status %s, got %s", SnapshotCompleted, snapshot.Status)
	}
	if snapshot.Report == nil || snapshot.Report.RowCount != 6 {
		t.Fatalf("expected report over 6 rows, got %+v", snapshot.Report)
	}
	if snapshot.CompletedAt == nil {
		t.Fatal("expected a completion timestamp")
	}

	stored, err := repo.ForRun(context.Background(), runID.String())
	if err != nil {
		t.Fatalf("ForRun: %v", err)
	}
	if stored.ID != snapshot.ID || stored.Status != SnapshotCompleted {
		t.Fatalf("expected stored snapshot %s completed, got %s %s",
			snapshot.ID, stored.ID, stored.Status)
	}
}

func TestMaterializeRecordsFailure(t *testing.T) {
	db := openTestDB(t)
	repo := newSnapshotRepo(t, db)
	service := NewService(NewRepository(db, "no_such_table"), dataset.Default())
	materializer := NewMaterializer(service, repo, 1)

	runID := uuid.New()
	snapshot, err := materializer.Materialize(context.Background(), runID)
	if err == nil {
		t.Fatal("expected materialization to fail")
	}
	if snapshot == nil || snapshot.Status != SnapshotFailed {
		t.Fatalf("expected failed snapshot, got %+v", snapshot)
	}
	if snapshot.ErrorMessage == "" {
		t.Fatal("expected the failure to carry an error message")
	}

	stored, err := repo.ForRun(context.Background(), runID.String())
	if err != nil {
		t.Fatalf("ForRun: %v", err)
	}
	if stored.Status != SnapshotFailed {
		t.Fatalf("expected stored status %s, got %s", SnapshotFailed, stored.Status)
	}
}
