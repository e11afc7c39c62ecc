package pipeline

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
)

// SnapshotStage copies the source table into the working table. Rows and
// columns come over untouched; the source is never modified. The working
// table is dropped first so a rerun always starts from a clean copy.
type SnapshotStage struct {
	db      *gorm.DB
	source  string
	working string
}

func NewSnapshotStage(db *gorm.DB, source, working string) *SnapshotStage {
	return &SnapshotStage{db: db, source: source, working: working}
}

func (s *SnapshotStage) Name() string { return StageSnapshot }

func (s *SnapshotStage) Run(ctx context.Context, run *models.PipelineRun) (int64, error) {
	if !s.db.WithContext(ctx).Migrator().HasTable(s.source) {
		return 0, fmt.Errorf("source table %q: %w", s.source, ErrNotFound)
	}

	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(s.working))
	if err := s.db.WithContext(ctx).Exec(drop).Error; err != nil {
		return 0, classify(err)
	}

	copySQL := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		quoteIdent(s.working), quoteIdent(s.source))
	if err := s.db.WithContext(ctx).Exec(copySQL).Error; err != nil {
		return 0, classify(err)
	}

	count, err := rowCount(ctx, s.db, s.working)
	if err != nil {
		return 0, err
	}
	run.RowCount = count
	return count, nil
}
