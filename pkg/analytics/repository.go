package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/pipeline"
)

// Repository runs the read queries against the normalized working table.
// Every query is read-only; the table is written only by the pipeline.
type Repository struct {
	db    *gorm.DB
	table string
}

func NewRepository(db *gorm.DB, table string) *Repository {
	return &Repository{db: db, table: table}
}

// wrap surfaces a missing working table as ErrNotFound so callers can map
// it cleanly instead of leaking an engine error.
func (r *Repository) wrap(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("working table %q: %w", r.table, pipeline.ErrNotFound)
	}
	return err
}

func (r *Repository) where(base string, filters []Filter) (string, []interface{}) {
	conds := []string{}
	if base != "" {
		conds = append(conds, base)
	}
	fconds, args := filterConds(filters)
	conds = append(conds, fconds...)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository) RowCount(ctx context.Context) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(r.table))
	if err := r.db.WithContext(ctx).Raw(q).Scan(&count).Error; err != nil {
		return 0, r.wrap(err)
	}
	return count, nil
}

// DistinctValues returns the set of values a field takes, each exactly
// once, ordered ascending. NULL is absence, not a value.
func (r *Repository) DistinctValues(ctx context.Context, field string, filters []Filter) ([]string, error) {
	ident := quoteIdent(field)
	where, args := r.where(ident+" IS NOT NULL", filters)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s ORDER BY %s", ident, quoteIdent(r.table), where, ident)
	var values []string
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&values).Error; err != nil {
		return nil, r.wrap(err)
	}
	return values, nil
}

// CountByField groups rows by a field's value, most frequent first, ties
// broken by value ascending.
func (r *Repository) CountByField(ctx context.Context, field string, filters []Filter) ([]models.FieldCount, error) {
	ident := quoteIdent(field)
	where, args := r.where(ident+" IS NOT NULL", filters)
	q := fmt.Sprintf(
		"SELECT %s AS value, count(*) AS count FROM %s%s GROUP BY %s ORDER BY count DESC, value ASC",
		ident, quoteIdent(r.table), where, ident)
	var counts []models.FieldCount
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&counts).Error; err != nil {
		return nil, r.wrap(err)
	}
	return counts, nil
}

// StayStats averages discharge_date - date_of_admission in whole days.
// Records missing either date drop out of numerator and denominator both.
func (r *Repository) StayStats(ctx context.Context, filters []Filter) (models.StayStats, error) {
	where, args := r.where("discharge_date IS NOT NULL AND date_of_admission IS NOT NULL", filters)
	q := fmt.Sprintf(
		"SELECT coalesce(avg(discharge_date - date_of_admission), 0)::float8 AS average_days, count(*) AS records FROM %s%s",
		quoteIdent(r.table), where)
	var stats models.StayStats
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&stats).Error; err != nil {
		return models.StayStats{}, r.wrap(err)
	}
	return stats, nil
}

// MonthlyTrend counts admissions per (year, month), ascending. Records
// without an admission date cannot bucket and are excluded.
func (r *Repository) MonthlyTrend(ctx context.Context, filters []Filter) ([]models.MonthlyCount, error) {
	where, args := r.where("date_of_admission IS NOT NULL", filters)
	q := fmt.Sprintf(
		"SELECT extract(year FROM date_of_admission)::int AS year, extract(month FROM date_of_admission)::int AS month, count(*) AS count FROM %s%s GROUP BY 1, 2 ORDER BY 1, 2",
		quoteIdent(r.table), where)
	var trend []models.MonthlyCount
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&trend).Error; err != nil {
		return nil, r.wrap(err)
	}
	return trend, nil
}

// ageBandCase buckets every aged record into exactly one band. The labels
// sort lexically in age order on purpose.
const ageBandCase = `CASE
	WHEN age <= 29 THEN '18-29'
	WHEN age <= 39 THEN '30-39'
	WHEN age <= 49 THEN '40-49'
	WHEN age <= 64 THEN '50-64'
	ELSE '65+'
END`

// BillingByAgeBand reports mean billing per age band, ordered by band label
// ascending. Records without an age are excluded.
func (r *Repository) BillingByAgeBand(ctx context.Context, filters []Filter) ([]models.BandBilling, error) {
	where, args := r.where("age IS NOT NULL", filters)
	q := fmt.Sprintf(
		"SELECT %s AS band, coalesce(avg(billing_amount), 0)::float8 AS mean_billing, count(*) AS records FROM %s%s GROUP BY band ORDER BY band ASC",
		ageBandCase, quoteIdent(r.table), where)
	var bands []models.BandBilling
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&bands).Error; err != nil {
		return nil, r.wrap(err)
	}
	return bands, nil
}

// BillingByCondition reports mean billing per medical condition, highest
// mean first, ties broken by condition ascending.
func (r *Repository) BillingByCondition(ctx context.Context, filters []Filter) ([]models.ConditionBilling, error) {
	where, args := r.where("medical_condition IS NOT NULL", filters)
	q := fmt.Sprintf(
		"SELECT medical_condition AS condition, coalesce(avg(billing_amount), 0)::float8 AS mean_billing, count(*) AS records FROM %s%s GROUP BY medical_condition ORDER BY mean_billing DESC, condition ASC",
		quoteIdent(r.table), where)
	var conditions []models.ConditionBilling
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&conditions).Error; err != nil {
		return nil, r.wrap(err)
	}
	return conditions, nil
}

// Admissions streams normalized rows in key order, for exports. limit <= 0
// means all rows.
func (r *Repository) Admissions(ctx context.Context, limit int) ([]models.Admission, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY patient_id", quoteIdent(r.table))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows []models.Admission
	if err := r.db.WithContext(ctx).Raw(q).Scan(&rows).Error; err != nil {
		return nil, r.wrap(err)
	}
	return rows, nil
}
