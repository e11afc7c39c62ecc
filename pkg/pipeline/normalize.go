package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/dataset"
)

// numericMax is the largest magnitude a numeric(10,2) column can hold.
const numericMax = 1e8

// NormalizeStage renames the working table's columns to their canonical
// snake_case names and coerces the admission and discharge dates to date and
// the billing amount to numeric(10,2). Every rename applies exactly once;
// the catalog must account for every column the table carries.
//
// Coercion is validated in Go before the ALTER runs: a scan streams (row
// ordinal, raw value) and parses each non-missing cell, so an unparseable
// value fails the stage with a TypeCoercionError naming the row and column
// instead of an opaque cast error. Missing markers coerce to NULL.
type NormalizeStage struct {
	db      *gorm.DB
	catalog dataset.Catalog
	table   string
}

func NewNormalizeStage(db *gorm.DB, catalog dataset.Catalog, table string) *NormalizeStage {
	return &NormalizeStage{db: db, catalog: catalog, table: table}
}

func (n *NormalizeStage) Name() string { return StageNormalize }

func (n *NormalizeStage) Run(ctx context.Context, run *models.PipelineRun) (int64, error) {
	if err := n.renameColumns(ctx); err != nil {
		return 0, err
	}
	for _, col := range n.catalog.CoercionTargets() {
		if err := n.coerceColumn(ctx, col); err != nil {
			return 0, err
		}
	}
	return rowCount(ctx, n.db, n.table)
}

func (n *NormalizeStage) renameColumns(ctx context.Context) error {
	columns, err := n.tableColumns(ctx)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("working table %q: %w", n.table, ErrNotFound)
	}

	byDisplay := map[string]dataset.Column{}
	byName := map[string]bool{}
	for _, col := range n.catalog.Columns {
		byDisplay[col.Display] = col
		byName[col.Name] = true
	}

	renames := make([][2]string, 0, len(columns))
	canonical := 0
	seen := map[string]bool{}
	for _, name := range columns {
		if col, ok := byDisplay[name]; ok {
			renames = append(renames, [2]string{name, col.Name})
			seen[col.Name] = true
			continue
		}
		if byName[name] {
			canonical++
			seen[name] = true
			continue
		}
		return fmt.Errorf("column %q has no rename mapping", name)
	}
	for _, col := range n.catalog.Columns {
		if !seen[col.Name] {
			return fmt.Errorf("column %q missing from working table", col.Display)
		}
	}
	if len(renames) == 0 && canonical == len(n.catalog.Columns) {
		return fmt.Errorf("columns already canonical: %w", ErrDuplicateColumn)
	}

	for _, r := range renames {
		alter := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			quoteIdent(n.table), quoteIdent(r[0]), quoteIdent(r[1]))
		if err := n.db.WithContext(ctx).Exec(alter).Error; err != nil {
			return classify(err)
		}
	}
	return nil
}

func (n *NormalizeStage) tableColumns(ctx context.Context) ([]string, error) {
	var columns []string
	err := n.db.WithContext(ctx).
		Raw(`SELECT column_name FROM information_schema.columns
		     WHERE table_schema = current_schema() AND table_name = ?
		     ORDER BY ordinal_position`, n.table).
		Scan(&columns).Error
	if err != nil {
		return nil, classify(err)
	}
	return columns, nil
}

func (n *NormalizeStage) coerceColumn(ctx context.Context, col dataset.Column) error {
	switch col.Kind {
	case dataset.KindDate:
		if err := n.scanDates(ctx, col); err != nil {
			return err
		}
		return n.alterToDate(ctx, col)
	case dataset.KindDecimal:
		if err := n.scanDecimals(ctx, col); err != nil {
			return err
		}
		return n.alterToNumeric(ctx, col)
	default:
		return fmt.Errorf("column %q: no coercion for kind %q", col.Name, col.Kind)
	}
}

// scanDates parses every non-missing date cell before the ALTER so failures
// identify the offending row instead of aborting mid-cast.
func (n *NormalizeStage) scanDates(ctx context.Context, col dataset.Column) error {
	q := fmt.Sprintf("SELECT row_number() OVER (), %s::text FROM %s",
		quoteIdent(col.Name), quoteIdent(n.table))
	rows, err := n.db.WithContext(ctx).Raw(q).Rows()
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var ord int64
		var cell sql.NullString
		if err := rows.Scan(&ord, &cell); err != nil {
			return err
		}
		if !cell.Valid || n.catalog.IsMissing(cell.String) {
			continue
		}
		value := strings.TrimSpace(cell.String)
		if _, err := time.Parse(n.catalog.DateLayout, value); err != nil {
			return &TypeCoercionError{
				Stage:  StageNormalize,
				Column: col.Name,
				Row:    ord,
				Value:  value,
				Target: "date",
			}
		}
	}
	return rows.Err()
}

func (n *NormalizeStage) scanDecimals(ctx context.Context, col dataset.Column) error {
	q := fmt.Sprintf("SELECT row_number() OVER (), %s::text FROM %s",
		quoteIdent(col.Name), quoteIdent(n.table))
	rows, err := n.db.WithContext(ctx).Raw(q).Rows()
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var ord int64
		var cell sql.NullString
		if err := rows.Scan(&ord, &cell); err != nil {
			return err
		}
		if !cell.Valid || n.catalog.IsMissing(cell.String) {
			continue
		}
		value := strings.TrimSpace(cell.String)
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.Abs(f) >= numericMax {
			return &TypeCoercionError{
				Stage:  StageNormalize,
				Column: col.Name,
				Row:    ord,
				Value:  value,
				Target: "numeric(10,2)",
			}
		}
	}
	return rows.Err()
}

func (n *NormalizeStage) alterToDate(ctx context.Context, col dataset.Column) error {
	ident := quoteIdent(col.Name)
	text := ident + "::text"
	alter := fmt.Sprintf(
		"ALTER TABLE %s ALTER COLUMN %s TYPE date USING (CASE WHEN %s THEN NULL ELSE to_date(btrim(%s), %s) END)",
		quoteIdent(n.table), ident,
		missingTextCond(text, n.catalog.MissingMarkers),
		text, quoteLiteral(pgDateFormat(n.catalog.DateLayout)))
	if err := n.db.WithContext(ctx).Exec(alter).Error; err != nil {
		return classify(err)
	}
	return nil
}

func (n *NormalizeStage) alterToNumeric(ctx context.Context, col dataset.Column) error {
	ident := quoteIdent(col.Name)
	text := ident + "::text"
	alter := fmt.Sprintf(
		"ALTER TABLE %s ALTER COLUMN %s TYPE numeric(10,2) USING (CASE WHEN %s THEN NULL ELSE round(btrim(%s)::numeric, 2) END)",
		quoteIdent(n.table), ident,
		missingTextCond(text, n.catalog.MissingMarkers),
		text)
	if err := n.db.WithContext(ctx).Exec(alter).Error; err != nil {
		return classify(err)
	}
	return nil
}

// pgDateFormat translates a Go reference-date layout into the equivalent
// Postgres to_date format. Covers the numeric layouts a catalog can carry.
func pgDateFormat(layout string) string {
	return strings.NewReplacer("2006", "YYYY", "01", "MM", "02", "DD").Replace(layout)
}
