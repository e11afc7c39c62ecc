package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/privacy"
)

// QualityStage flags records where any of the non-key fields holds a
// missing value: SQL NULL always, and for text fields blank-after-trim or
// one of the catalog's marker literals. full_name is identity, not quality
// input; it rides along so flagged records stay recognizable. The same scan
// fingerprints every record to surface suspected duplicates and, when a
// detector is configured, audits free-text fields for stray identifiers.
//
// The dataset is never modified; findings land in a quality report row
// keyed by the run.
type QualityStage struct {
	db       *gorm.DB
	catalog  dataset.Catalog
	table    string
	repo     *RunRepository
	detector *privacy.Detector
}

type QualityOption func(*QualityStage)

// WithDetector enables the stray-identifier audit.
func WithDetector(d *privacy.Detector) QualityOption {
	return func(q *QualityStage) { q.detector = d }
}

func NewQualityStage(db *gorm.DB, catalog dataset.Catalog, table string, repo *RunRepository, opts ...QualityOption) *QualityStage {
	q := &QualityStage{db: db, catalog: catalog, table: table, repo: repo}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QualityStage) Name() string { return StageQuality }

func (q *QualityStage) Run(ctx context.Context, run *models.PipelineRun) (int64, error) {
	total, err := rowCount(ctx, q.db, q.table)
	if err != nil {
		return 0, err
	}

	flagged, missingByField, err := q.scanMissing(ctx)
	if err != nil {
		return 0, err
	}

	duplicates, findings, err := q.scanRecords(ctx)
	if err != nil {
		return 0, err
	}

	report := &models.QualityReport{
		RunID:          run.ID,
		TotalRows:      total,
		MissingByField: missingByField,
		Flagged:        flagged,
		Duplicates:     duplicates,
		AuditFindings:  findings,
		GeneratedAt:    time.Now().UTC(),
	}
	if q.repo != nil {
		if err := q.repo.SaveQualityReport(ctx, report); err != nil {
			return 0, err
		}
	}
	return int64(len(flagged)), nil
}

// missingCond renders the missing test for one column. Non-text columns can
// only be missing as NULL once the normalizer has coerced them.
func (q *QualityStage) missingCond(col dataset.Column) string {
	if col.Kind == dataset.KindText {
		return missingTextCond(quoteIdent(col.Name), q.catalog.MissingMarkers)
	}
	return fmt.Sprintf("%s IS NULL", quoteIdent(col.Name))
}

func (q *QualityStage) identityExpr() string {
	for _, col := range q.catalog.Columns {
		if col.Identity {
			return fmt.Sprintf("coalesce(%s, '')", quoteIdent(col.Name))
		}
	}
	return "''"
}

func (q *QualityStage) scanMissing(ctx context.Context) ([]models.QualityRecord, map[string]int64, error) {
	fields := q.catalog.QualityFields()
	selects := make([]string, 0, len(fields)+2)
	preds := make([]string, 0, len(fields))
	selects = append(selects, "patient_id", q.identityExpr())
	for _, col := range fields {
		cond := q.missingCond(col)
		selects = append(selects, cond)
		preds = append(preds, cond)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY patient_id",
		strings.Join(selects, ", "), quoteIdent(q.table), strings.Join(preds, " OR "))
	rows, err := q.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, nil, classify(err)
	}
	defer rows.Close()

	missingByField := make(map[string]int64, len(fields))
	for _, col := range fields {
		missingByField[col.Name] = 0
	}

	var flagged []models.QualityRecord
	for rows.Next() {
		var patientID int64
		var fullName string
		flags := make([]bool, len(fields))
		dest := make([]interface{}, 0, len(fields)+2)
		dest = append(dest, &patientID, &fullName)
		for i := range flags {
			dest = append(dest, &flags[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}

		record := models.QualityRecord{PatientID: patientID, FullName: fullName}
		for i, col := range fields {
			if flags[i] {
				record.MissingFields = append(record.MissingFields, col.Name)
				missingByField[col.Name]++
			}
		}
		flagged = append(flagged, record)
	}
	return flagged, missingByField, rows.Err()
}

// scanRecords walks every record once, fingerprinting the canonical field
// concatenation and feeding free-text fields to the detector.
func (q *QualityStage) scanRecords(ctx context.Context) ([]models.DuplicateGroup, []models.AuditFinding, error) {
	selects := []string{"patient_id"}
	textIdx := map[int]string{}
	for i, col := range q.catalog.Columns {
		selects = append(selects, fmt.Sprintf("coalesce(%s::text, '')", quoteIdent(col.Name)))
		if col.Kind == dataset.KindText {
			textIdx[i] = col.Name
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY patient_id",
		strings.Join(selects, ", "), quoteIdent(q.table))
	rows, err := q.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, nil, classify(err)
	}
	defer rows.Close()

	groups := map[uint64][]int64{}
	var findings []models.AuditFinding
	for rows.Next() {
		var patientID int64
		values := make([]string, len(q.catalog.Columns))
		dest := make([]interface{}, 0, len(values)+1)
		dest = append(dest, &patientID)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}

		fp := xxh3.Hash([]byte(strings.Join(values, "\x1f")))
		groups[fp] = append(groups[fp], patientID)

		if q.detector != nil {
			cells := make(map[string]string, len(textIdx))
			for i, name := range textIdx {
				if values[i] != "" {
					cells[name] = values[i]
				}
			}
			for _, f := range q.detector.ScanFields(cells) {
				findings = append(findings, models.AuditFinding{
					PatientID: patientID,
					Field:     f.Field,
					Rule:      f.Rule,
					Severity:  f.Severity,
				})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var duplicates []models.DuplicateGroup
	for fp, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		duplicates = append(duplicates, models.DuplicateGroup{
			Fingerprint: fmt.Sprintf("%016x", fp),
			PatientIDs:  ids,
			Count:       len(ids),
		})
	}
	sort.Slice(duplicates, func(i, j int) bool {
		return duplicates[i].PatientIDs[0] < duplicates[j].PatientIDs[0]
	})
	return duplicates, findings, nil
}
