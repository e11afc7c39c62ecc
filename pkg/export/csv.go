// Package export writes the normalized admissions table out as files for
// downstream consumers: CSV and Parquet locally, with optional S3 archival
// and optional pseudonymization of person-naming fields.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/observability/metrics"
	"github.com/clinalytics/platform/pkg/privacy"
)

const dateLayout = "2006-01-02"

// AdmissionSource provides normalized rows in key order. limit <= 0 means
// all rows.
type AdmissionSource interface {
	Admissions(ctx context.Context, limit int) ([]models.Admission, error)
}

type Exporter struct {
	source    AdmissionSource
	dir       string
	tokenizer *privacy.Tokenizer
}

type Option func(*Exporter)

// WithTokenizer pseudonymizes person-naming fields on the way out.
func WithTokenizer(tokenizer *privacy.Tokenizer) Option {
	return func(e *Exporter) { e.tokenizer = tokenizer }
}

func NewExporter(source AdmissionSource, dir string, opts ...Option) *Exporter {
	e := &Exporter{source: source, dir: dir}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

var csvHeader = []string{
	"patient_id", "full_name", "age", "gender", "blood_type",
	"medical_condition", "date_of_admission", "doctor", "hospital",
	"insurance_provider", "billing_amount", "room_number", "admission_type",
	"discharge_date", "medication", "test_results",
}

// WriteCSV exports every admission to dir/name and returns the full path.
func (e *Exporter) WriteCSV(ctx context.Context, name string) (string, error) {
	rows, err := e.load(ctx)
	if err != nil {
		return "", err
	}

	path, file, err := e.create(name)
	if err != nil {
		return "", err
	}
	if err := writeAdmissions(file, rows); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	metrics.ExportWritten()
	return path, nil
}

// WriteCSVTo streams every admission as CSV to w.
func (e *Exporter) WriteCSVTo(ctx context.Context, w io.Writer) error {
	rows, err := e.load(ctx)
	if err != nil {
		return err
	}
	return writeAdmissions(w, rows)
}

func writeAdmissions(w io.Writer, rows []models.Admission) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(csvRow(row)); err != nil {
			return fmt.Errorf("write csv row %d: %w", row.PatientID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (e *Exporter) load(ctx context.Context) ([]models.Admission, error) {
	rows, err := e.source.Admissions(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("load admissions: %w", err)
	}
	if e.tokenizer != nil {
		for i := range rows {
			rows[i] = e.tokenizer.TokenizeAdmission(rows[i])
		}
	}
	return rows, nil
}

func (e *Exporter) create(name string) (string, *os.File, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("create export file: %w", err)
	}
	return path, file, nil
}

func csvRow(a models.Admission) []string {
	return []string{
		strconv.FormatInt(a.PatientID, 10),
		a.FullName,
		formatInt32(a.Age),
		a.Gender,
		a.BloodType,
		a.MedicalCondition,
		formatDate(a.DateOfAdmission),
		a.Doctor,
		a.Hospital,
		a.InsuranceProvider,
		formatAmount(a.BillingAmount),
		formatInt32(a.RoomNumber),
		a.AdmissionType,
		formatDate(a.DischargeDate),
		a.Medication,
		a.TestResults,
	}
}

func formatInt32(v *int32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(int64(*v), 10)
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func formatDate(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(dateLayout)
}
