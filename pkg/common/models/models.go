package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run.started, stage.completed, run.completed, run.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Pipeline run bookkeeping
type StageResult struct {
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	RowCount   int64         `json:"row_count,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

type PipelineRun struct {
	ID           uuid.UUID     `json:"id"`
	SourceTable  string        `json:"source_table"`
	WorkingTable string        `json:"working_table"`
	Status       string        `json:"status"`
	RowCount     int64         `json:"row_count"`
	Stages       []StageResult `json:"stages"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Normalized admission record
type Admission struct {
	PatientID         int64      `json:"patient_id"`
	FullName          string     `json:"full_name"`
	Age               *int32     `json:"age"`
	Gender            string     `json:"gender"`
	BloodType         string     `json:"blood_type"`
	MedicalCondition  string     `json:"medical_condition"`
	DateOfAdmission   *time.Time `json:"date_of_admission"`
	Doctor            string     `json:"doctor"`
	Hospital          string     `json:"hospital"`
	InsuranceProvider string     `json:"insurance_provider"`
	BillingAmount     *float64   `json:"billing_amount"`
	RoomNumber        *int32     `json:"room_number"`
	AdmissionType     string     `json:"admission_type"`
	DischargeDate     *time.Time `json:"discharge_date"`
	Medication        string     `json:"medication"`
	TestResults       string     `json:"test_results"`
}

// Quality report
type QualityRecord struct {
	PatientID     int64    `json:"patient_id"`
	FullName      string   `json:"full_name"`
	MissingFields []string `json:"missing_fields"`
}

type DuplicateGroup struct {
	Fingerprint string  `json:"fingerprint"`
	PatientIDs  []int64 `json:"patient_ids"`
	Count       int     `json:"count"`
}

type AuditFinding struct {
	PatientID int64  `json:"patient_id"`
	Field     string `json:"field"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
}

type QualityReport struct {
	RunID          uuid.UUID        `json:"run_id"`
	TotalRows      int64            `json:"total_rows"`
	MissingByField map[string]int64 `json:"missing_by_field"`
	Flagged        []QualityRecord  `json:"flagged"`
	Duplicates     []DuplicateGroup `json:"duplicates,omitempty"`
	AuditFindings  []AuditFinding   `json:"audit_findings,omitempty"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// Aggregate query results
type FieldCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type StayStats struct {
	AverageDays float64 `json:"average_days"`
	Records     int64   `json:"records"`
}

type MonthlyCount struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Count int64 `json:"count"`
}

type BandBilling struct {
	Band        string  `json:"band"`
	MeanBilling float64 `json:"mean_billing"`
	Records     int64   `json:"records"`
}

type ConditionBilling struct {
	Condition   string  `json:"condition"`
	MeanBilling float64 `json:"mean_billing"`
	Records     int64   `json:"records"`
}

// Report is the full analytical output: the five distinct-value sets plus the
// six grouped aggregates, assembled in one document.
type Report struct {
	RowCount           int64               `json:"row_count"`
	Distincts          map[string][]string `json:"distincts"`
	DoctorCounts       []FieldCount        `json:"doctor_counts"`
	HospitalCounts     []FieldCount        `json:"hospital_counts"`
	Stay               StayStats           `json:"stay"`
	MonthlyTrend       []MonthlyCount      `json:"monthly_trend"`
	BillingByAgeBand   []BandBilling       `json:"billing_by_age_band"`
	BillingByCondition []ConditionBilling  `json:"billing_by_condition"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// ReportSnapshot is a materialized Report tied to the run that produced it.
type ReportSnapshot struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	Status       string     `json:"status"`
	Report       *Report    `json:"report,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Auth
type Principal struct {
	ID    uuid.UUID `json:"id"`
	Role  string    `json:"role"`
	Email string    `json:"email"`
}

// RunSummary is the payload posted to the completion webhook.
type RunSummary struct {
	RunID       uuid.UUID `json:"run_id"`
	Status      string    `json:"status"`
	RowCount    int64     `json:"row_count"`
	Duration    string    `json:"duration"`
	SnapshotID  string    `json:"snapshot_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
