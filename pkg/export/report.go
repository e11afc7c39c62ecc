package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/observability/metrics"
)

var reportHeader = []string{"metric", "label", "value"}

// WriteReportCSV exports the report's grouped numeric sections to dir/name in
// long format, one (metric, label, value) row per data point. The distinct
// value sets stay in the JSON report.
func (e *Exporter) WriteReportCSV(name string, report *models.Report) (string, error) {
	if report == nil {
		return "", errors.New("no report to export")
	}

	path, file, err := e.create(name)
	if err != nil {
		return "", err
	}
	if err := writeReport(file, report); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	metrics.ExportWritten()
	return path, nil
}

func writeReport(w io.Writer, report *models.Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}

	records := [][]string{
		{"row_count", "", strconv.FormatInt(report.RowCount, 10)},
		{"average_stay_days", "", strconv.FormatFloat(report.Stay.AverageDays, 'f', 2, 64)},
	}
	for _, c := range report.DoctorCounts {
		records = append(records, []string{"doctor_count", c.Value, strconv.FormatInt(c.Count, 10)})
	}
	for _, c := range report.HospitalCounts {
		records = append(records, []string{"hospital_count", c.Value, strconv.FormatInt(c.Count, 10)})
	}
	for _, m := range report.MonthlyTrend {
		label := fmt.Sprintf("%04d-%02d", m.Year, m.Month)
		records = append(records, []string{"monthly_admissions", label, strconv.FormatInt(m.Count, 10)})
	}
	for _, b := range report.BillingByAgeBand {
		records = append(records, []string{"billing_by_age_band", b.Band, strconv.FormatFloat(b.MeanBilling, 'f', 2, 64)})
	}
	for _, c := range report.BillingByCondition {
		records = append(records, []string{"billing_by_condition", c.Condition, strconv.FormatFloat(c.MeanBilling, 'f', 2, 64)})
	}

	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush report csv: %w", err)
	}
	return nil
}
