package pipeline

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
)

// ProvisionStage appends the patient_id surrogate key and the doctor and
// hospital lookup indexes. patient_id is an identity column starting at 1,
// so existing rows number strictly upward in current row order and future
// inserts keep drawing unique values; it is then promoted to primary key.
//
// Re-running against a keyed table fails with ErrDuplicateColumn rather
// than silently skipping: a skipped key step could mask a half-normalized
// table. Index creation uses IF NOT EXISTS, so a rebuild is a no-op.
type ProvisionStage struct {
	db           *gorm.DB
	table        string
	prefixLength int
	indexColumns []string
}

func NewProvisionStage(db *gorm.DB, table string, prefixLength int) *ProvisionStage {
	return &ProvisionStage{
		db:           db,
		table:        table,
		prefixLength: prefixLength,
		indexColumns: []string{"doctor", "hospital"},
	}
}

func (p *ProvisionStage) Name() string { return StageProvision }

func (p *ProvisionStage) Run(ctx context.Context, run *models.PipelineRun) (int64, error) {
	if err := p.addKey(ctx); err != nil {
		return 0, err
	}
	for _, col := range p.indexColumns {
		if err := p.addIndex(ctx, col); err != nil {
			return 0, err
		}
	}
	return p.verifyKey(ctx)
}

func (p *ProvisionStage) addKey(ctx context.Context) error {
	add := fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN patient_id BIGINT GENERATED BY DEFAULT AS IDENTITY (START WITH 1 INCREMENT BY 1)",
		quoteIdent(p.table))
	if err := p.db.WithContext(ctx).Exec(add).Error; err != nil {
		err = classify(err)
		if errors.Is(err, ErrDuplicateColumn) {
			return fmt.Errorf("patient_id already provisioned on %q: %w", p.table, ErrDuplicateColumn)
		}
		return err
	}

	pk := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (patient_id)",
		quoteIdent(p.table), quoteIdent(p.table+"_pkey"))
	if err := p.db.WithContext(ctx).Exec(pk).Error; err != nil {
		return classify(err)
	}
	return nil
}

// addIndex creates a lookup index, bounding the indexed key with a prefix
// expression when a prefix length is configured. 0 indexes the full column.
func (p *ProvisionStage) addIndex(ctx context.Context, column string) error {
	expr := quoteIdent(column)
	if p.prefixLength > 0 {
		expr = fmt.Sprintf("(left(%s, %d))", quoteIdent(column), p.prefixLength)
	}
	name := fmt.Sprintf("idx_%s_%s", p.table, column)
	create := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(p.table), expr)
	if err := p.db.WithContext(ctx).Exec(create).Error; err != nil {
		return classify(err)
	}
	return nil
}

// verifyKey confirms the assigned keys run 1..n with no gaps at the ends.
func (p *ProvisionStage) verifyKey(ctx context.Context) (int64, error) {
	var bounds struct {
		Count int64
		Min   int64
		Max   int64
	}
	q := fmt.Sprintf(
		"SELECT count(*) AS count, coalesce(min(patient_id), 0) AS min, coalesce(max(patient_id), 0) AS max FROM %s",
		quoteIdent(p.table))
	if err := p.db.WithContext(ctx).Raw(q).Scan(&bounds).Error; err != nil {
		return 0, classify(err)
	}
	if bounds.Count > 0 && (bounds.Min != 1 || bounds.Max != bounds.Count) {
		return 0, &ConstraintViolation{
			Constraint: p.table + "_pkey",
			Detail: fmt.Sprintf("patient_id spans %d..%d over %d rows, expected 1..%d",
				bounds.Min, bounds.Max, bounds.Count, bounds.Count),
		}
	}
	return bounds.Count, nil
}
