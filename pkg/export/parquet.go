package export

import (
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/clinalytics/platform/pkg/common/models"
	"github.com/clinalytics/platform/pkg/observability/metrics"
)

// admissionRow is the Parquet-compatible row shape. Pointer fields become
// optional columns; dates are kept as ISO strings so readers do not need
// timezone handling.
type admissionRow struct {
	PatientID         int64    `parquet:"patient_id"`
	FullName          string   `parquet:"full_name"`
	Age               *int32   `parquet:"age"`
	Gender            string   `parquet:"gender"`
	BloodType         string   `parquet:"blood_type"`
	MedicalCondition  string   `parquet:"medical_condition"`
	DateOfAdmission   *string  `parquet:"date_of_admission"`
	Doctor            string   `parquet:"doctor"`
	Hospital          string   `parquet:"hospital"`
	InsuranceProvider string   `parquet:"insurance_provider"`
	BillingAmount     *float64 `parquet:"billing_amount"`
	RoomNumber        *int32   `parquet:"room_number"`
	AdmissionType     string   `parquet:"admission_type"`
	DischargeDate     *string  `parquet:"discharge_date"`
	Medication        string   `parquet:"medication"`
	TestResults       string   `parquet:"test_results"`
}

const parquetFlushInterval = 10_000

// WriteParquet exports every admission to dir/name as zstd-compressed
// Parquet and returns the full path.
func (e *Exporter) WriteParquet(ctx context.Context, name string) (string, error) {
	rows, err := e.load(ctx)
	if err != nil {
		return "", err
	}

	path, file, err := e.create(name)
	if err != nil {
		return "", err
	}

	writer := parquet.NewGenericWriter[admissionRow](file,
		parquet.Compression(&parquet.Zstd),
	)
	for i, row := range rows {
		if _, err := writer.Write([]admissionRow{toParquetRow(row)}); err != nil {
			file.Close()
			return "", fmt.Errorf("write parquet record %d: %w", row.PatientID, err)
		}
		// Flush row groups periodically to bound memory usage
		if (i+1)%parquetFlushInterval == 0 {
			if err := writer.Flush(); err != nil {
				file.Close()
				return "", fmt.Errorf("flush parquet row group: %w", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return "", fmt.Errorf("close parquet writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	metrics.ExportWritten()
	return path, nil
}

func toParquetRow(a models.Admission) admissionRow {
	row := admissionRow{
		PatientID:         a.PatientID,
		FullName:          a.FullName,
		Age:               a.Age,
		Gender:            a.Gender,
		BloodType:         a.BloodType,
		MedicalCondition:  a.MedicalCondition,
		Doctor:            a.Doctor,
		Hospital:          a.Hospital,
		InsuranceProvider: a.InsuranceProvider,
		BillingAmount:     a.BillingAmount,
		RoomNumber:        a.RoomNumber,
		AdmissionType:     a.AdmissionType,
		Medication:        a.Medication,
		TestResults:       a.TestResults,
	}
	if a.DateOfAdmission != nil {
		admitted := a.DateOfAdmission.UTC().Format(dateLayout)
		row.DateOfAdmission = &admitted
	}
	if a.DischargeDate != nil {
		discharged := a.DischargeDate.UTC().Format(dateLayout)
		row.DischargeDate = &discharged
	}
	return row
}
