package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	runsStarted         atomic.Int64
	runsCompleted       atomic.Int64
	runsFailed          atomic.Int64
	stageRowsProcessed  atomic.Int64
	lastRunDurationMs   atomic.Int64
	queriesServed       atomic.Int64
	cacheHits           atomic.Int64
	cacheMisses         atomic.Int64
	reportsMaterialized atomic.Int64
	exportsWritten      atomic.Int64
)

func Init() {}

func RunStarted() {
	runsStarted.Add(1)
}

func RunCompleted(durationMs int64) {
	runsCompleted.Add(1)
	lastRunDurationMs.Store(durationMs)
}

func RunFailed() {
	runsFailed.Add(1)
}

func StageRows(n int64) {
	stageRowsProcessed.Add(n)
}

func QueryServed() {
	queriesServed.Add(1)
}

func CacheHit() {
	cacheHits.Add(1)
}

func CacheMiss() {
	cacheMisses.Add(1)
}

func ReportMaterialized() {
	reportsMaterialized.Add(1)
}

func ExportWritten() {
	exportsWritten.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP clinalytics_pipeline_runs_started_total Number of pipeline runs started.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_pipeline_runs_started_total counter\n")
	fmt.Fprintf(w, "clinalytics_pipeline_runs_started_total %d\n", runsStarted.Load())

	fmt.Fprintf(w, "# HELP clinalytics_pipeline_runs_completed_total Number of pipeline runs completed.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_pipeline_runs_completed_total counter\n")
	fmt.Fprintf(w, "clinalytics_pipeline_runs_completed_total %d\n", runsCompleted.Load())

	fmt.Fprintf(w, "# HELP clinalytics_pipeline_runs_failed_total Number of pipeline runs failed.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_pipeline_runs_failed_total counter\n")
	fmt.Fprintf(w, "clinalytics_pipeline_runs_failed_total %d\n", runsFailed.Load())

	fmt.Fprintf(w, "# HELP clinalytics_pipeline_stage_rows_total Rows counted across completed stages.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_pipeline_stage_rows_total counter\n")
	fmt.Fprintf(w, "clinalytics_pipeline_stage_rows_total %d\n", stageRowsProcessed.Load())

	fmt.Fprintf(w, "# HELP clinalytics_pipeline_last_run_duration_ms Wall time of the most recent completed run.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_pipeline_last_run_duration_ms gauge\n")
	fmt.Fprintf(w, "clinalytics_pipeline_last_run_duration_ms %d\n", lastRunDurationMs.Load())

	fmt.Fprintf(w, "# HELP clinalytics_analytics_queries_served_total Number of analytical queries served.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_analytics_queries_served_total counter\n")
	fmt.Fprintf(w, "clinalytics_analytics_queries_served_total %d\n", queriesServed.Load())

	fmt.Fprintf(w, "# HELP clinalytics_analytics_cache_hits_total Number of analytics cache hits.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_analytics_cache_hits_total counter\n")
	fmt.Fprintf(w, "clinalytics_analytics_cache_hits_total %d\n", cacheHits.Load())

	fmt.Fprintf(w, "# HELP clinalytics_analytics_cache_misses_total Number of analytics cache misses.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_analytics_cache_misses_total counter\n")
	fmt.Fprintf(w, "clinalytics_analytics_cache_misses_total %d\n", cacheMisses.Load())

	fmt.Fprintf(w, "# HELP clinalytics_reports_materialized_total Number of report snapshots materialized.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_reports_materialized_total counter\n")
	fmt.Fprintf(w, "clinalytics_reports_materialized_total %d\n", reportsMaterialized.Load())

	fmt.Fprintf(w, "# HELP clinalytics_exports_written_total Number of dataset or report exports written.\n")
	fmt.Fprintf(w, "# TYPE clinalytics_exports_written_total counter\n")
	fmt.Fprintf(w, "clinalytics_exports_written_total %d\n", exportsWritten.Load())
}
