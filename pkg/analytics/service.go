package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/observability/metrics"
	"github.com/clinalytics/platform/pkg/pipeline"
)

// reportDistinctFields are the categorical fields the full report lists
// distinct values for. medical_condition is covered by the billing-by-
// condition section, keeping each categorical field in the report exactly
// once.
var reportDistinctFields = []string{
	"gender",
	"blood_type",
	"insurance_provider",
	"admission_type",
	"test_results",
}

// Service validates requests against the catalog, answers them from Redis
// when it can, and falls back to the repository. All queries are read-only.
type Service struct {
	repo      *Repository
	runs      *pipeline.RunRepository
	snapshots *SnapshotRepository
	cache     *redis.Client
	catalog   dataset.Catalog
	ttl       time.Duration
}

type ServiceOption func(*Service)

// WithCache serves repeated queries from Redis with the given TTL.
func WithCache(client *redis.Client, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = client
		s.ttl = ttl
	}
}

// WithRunRepository exposes run records and quality reports.
func WithRunRepository(runs *pipeline.RunRepository) ServiceOption {
	return func(s *Service) { s.runs = runs }
}

// WithSnapshots exposes materialized report snapshots.
func WithSnapshots(snapshots *SnapshotRepository) ServiceOption {
	return func(s *Service) { s.snapshots = snapshots }
}

func NewService(repo *Repository, catalog dataset.Catalog, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, catalog: catalog, ttl: 5 * time.Minute}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func cacheKey(parts ...string) string {
	return "analytics:" + strings.Join(parts, ":")
}

func (s *Service) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).Warn("Cache read failed")
		}
		metrics.CacheMiss()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		logger.Log.WithError(err).Warn("Cache entry undecodable")
		metrics.CacheMiss()
		return false
	}
	metrics.CacheHit()
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.Log.WithError(err).Warn("Cache encode failed")
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logger.Log.WithError(err).Warn("Cache write failed")
	}
}

// InvalidateCache drops every cached query result. Called when a pipeline
// run completes and the working table has new content.
func (s *Service) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	iter := s.cache.Scan(ctx, 0, "analytics:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// DistinctValues lists the values a categorical field takes. Unknown or
// non-categorical fields are a validation error.
func (s *Service) DistinctValues(ctx context.Context, field string, filters []Filter) ([]string, error) {
	col, ok := s.catalog.Column(field)
	if !ok {
		return nil, validationErrorf("unknown field %q", field)
	}
	if !col.Categorical {
		return nil, validationErrorf("field %q is not categorical", field)
	}

	key := cacheKey("distinct", col.Name, filterKey(filters))
	var values []string
	if s.cacheGet(ctx, key, &values) {
		return values, nil
	}
	values, err := s.repo.DistinctValues(ctx, col.Name, filters)
	if err != nil {
		return nil, err
	}
	metrics.QueryServed()
	s.cacheSet(ctx, key, values)
	return values, nil
}

func (s *Service) DoctorCounts(ctx context.Context, filters []Filter) ([]models.FieldCount, error) {
	return s.countByField(ctx, "doctor", filters)
}

func (s *Service) HospitalCounts(ctx context.Context, filters []Filter) ([]models.FieldCount, error) {
	return s.countByField(ctx, "hospital", filters)
}

func (s *Service) countByField(ctx context.Context, field string, filters []Filter) ([]models.FieldCount, error) {
	key := cacheKey("counts", field, filterKey(filters))
	var counts []models.FieldCount
	if s.cacheGet(ctx, key, &counts) {
		return counts, nil
	}
	counts, err := s.repo.CountByField(ctx, field, filters)
	if err != nil {
		return nil, err
	}
	metrics.QueryServed()
	s.cacheSet(ctx, key, counts)
	return counts, nil
}

func (s *Service) StayStats(ctx context.Context, filters []Filter) (models.StayStats, error) {
	key := cacheKey("stay", filterKey(filters))
	var stats models.StayStats
	if s.cacheGet(ctx, key, &stats) {
		return stats, nil
	}
	stats, err := s.repo.StayStats(ctx, filters)
	if err != nil {
		return models.StayStats{}, err
	}
	metrics.QueryServed()
	s.cacheSet(ctx, key, stats)
	return stats, nil
}

func (s *Service) MonthlyTrend(ctx context.Context, filters []Filter) ([]models.MonthlyCount, error) {
	key := cacheKey("trend", filterKey(filters))
	var trend []models.MonthlyCount
	if s.cacheGet(ctx, key, &trend) {
		return trend, nil
	}
	trend, err := s.repo.MonthlyTrend(ctx, filters)
	if err != nil {
		return nil, err
	}
	metrics.QueryServed()
	s.cacheSet(ctx, key, trend)
	return trend, nil
}

func (s *Service) BillingByAgeBand(ctx context.Context, filters []Filter) ([]models.BandBilling, error) {
	key := cacheKey("billing-age", filterKey(filters))
	var bands []models.BandBilling
	if s.cacheGet(ctx, key, &bands) {
		return bands, nil
	}
	bands, err := s.repo.BillingByAgeBand(ctx, filters)
	if err != nil {
		return nil, err
	}
	metrics.QueryServed()
	s.cacheSet(ctx, key, bands)
	return bands, nil
}

func (s *Service) BillingByCondition(ctx context.Context, filters []Filter) ([]models.ConditionBilling, error) {
	key := cacheKey("billing-condition", filterKey(filters))
	var conditions []models.ConditionBilling
	if s.cacheGet(ctx, key, &conditions) {
		return conditions, nil
	}
	conditions, err := s.repo.BillingByCondition(ctx, filters)
	if err != nil {
		return nil, err
	}
	metrics.QueryServed()
	s.cacheSet(ctx, key, conditions)
	return conditions, nil
}

// FullReport fans the eleven queries out on an errgroup and assembles one
// document. Reads only; safe alongside other readers.
func (s *Service) FullReport(ctx context.Context) (*models.Report, error) {
	report := &models.Report{
		Distincts:   make(map[string][]string, len(reportDistinctFields)),
		GeneratedAt: time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	g.Go(func() error {
		count, err := s.repo.RowCount(gctx)
		if err != nil {
			return err
		}
		report.RowCount = count
		return nil
	})
	for _, field := range reportDistinctFields {
		g.Go(func() error {
			values, err := s.DistinctValues(gctx, field, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Distincts[field] = values
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		counts, err := s.DoctorCounts(gctx, nil)
		if err != nil {
			return err
		}
		report.DoctorCounts = counts
		return nil
	})
	g.Go(func() error {
		counts, err := s.HospitalCounts(gctx, nil)
		if err != nil {
			return err
		}
		report.HospitalCounts = counts
		return nil
	})
	g.Go(func() error {
		stats, err := s.StayStats(gctx, nil)
		if err != nil {
			return err
		}
		report.Stay = stats
		return nil
	})
	g.Go(func() error {
		trend, err := s.MonthlyTrend(gctx, nil)
		if err != nil {
			return err
		}
		report.MonthlyTrend = trend
		return nil
	})
	g.Go(func() error {
		bands, err := s.BillingByAgeBand(gctx, nil)
		if err != nil {
			return err
		}
		report.BillingByAgeBand = bands
		return nil
	})
	g.Go(func() error {
		conditions, err := s.BillingByCondition(gctx, nil)
		if err != nil {
			return err
		}
		report.BillingByCondition = conditions
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// Run returns one run record by id.
func (s *Service) Run(ctx context.Context, id string) (*models.PipelineRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, validationErrorf("run id %q is not a UUID", id)
	}
	if s.runs == nil {
		return nil, fmt.Errorf("run records: %w", pipeline.ErrNotFound)
	}
	return s.runs.Get(ctx, id)
}

// Runs lists recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("run records: %w", pipeline.ErrNotFound)
	}
	return s.runs.List(ctx, limit)
}

// QualityReport returns the most recent quality report.
func (s *Service) QualityReport(ctx context.Context) (*models.QualityReport, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("quality reports: %w", pipeline.ErrNotFound)
	}
	return s.runs.LatestQualityReport(ctx)
}

// QualityReportForRun returns the quality report a specific run produced.
func (s *Service) QualityReportForRun(ctx context.Context, runID string) (*models.QualityReport, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, validationErrorf("run id %q is not a UUID", runID)
	}
	if s.runs == nil {
		return nil, fmt.Errorf("quality reports: %w", pipeline.ErrNotFound)
	}
	return s.runs.QualityReportForRun(ctx, runID)
}

// LatestSnapshot returns the newest completed report snapshot.
func (s *Service) LatestSnapshot(ctx context.Context) (*models.ReportSnapshot, error) {
	if s.snapshots == nil {
		return nil, fmt.Errorf("report snapshots: %w", pipeline.ErrNotFound)
	}
	return s.snapshots.Latest(ctx)
}
