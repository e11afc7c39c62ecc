package analytics

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/clinalytics/platform/pkg/dataset"
	"github.com/clinalytics/platform/pkg/pipeline"
)

func TestServiceRejectsNonCategoricalField(t *testing.T) {
	service := NewService(nil, dataset.Default())

	for _, field := range []string{"room_number", "billing_amount", "full_name"} {
		_, err := service.DistinctValues(context.Background(), field, nil)
		if err == nil {
			t.Fatalf("%s: expected error", field)
		}
		if !IsValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
	}
}

func TestServiceRejectsUnknownField(t *testing.T) {
	service := NewService(nil, dataset.Default())

	_, err := service.DistinctValues(context.Background(), "ward", nil)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceValidatesRunID(t *testing.T) {
	service := NewService(nil, dataset.Default())

	_, err := service.Run(context.Background(), "not-a-uuid")
	if !IsValidationError(err) {
		t.Fatalf("expected validation error for bad run id, got %v", err)
	}

	_, err = service.Run(context.Background(), uuid.NewString())
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected not-found without run records, got %v", err)
	}
}

func TestServiceFullReport(t *testing.T) {
	db := openTestDB(t)
	seedWorkingTable(t, db, "admissions_report")
	service := NewService(NewRepository(db, "admissions_report"), dataset.Default())

	report, err := service.FullReport(context.Background())
	if err != nil {
		t.Fatalf("FullReport: %v", err)
	}

	if report.RowCount != 6 {
		t.Fatalf("expected row count 6, got %d", report.RowCount)
	}
	if len(report.Distincts) != 5 {
		t.Fatalf("expected 5 distinct sections, got %d", len(report.Distincts))
	}
	genders := report.Distincts["gender"]
	if len(genders) != 2 || genders[0] != "Female" || genders[1] != "Male" {
		t.Fatalf("expected genders [Female Male], got %v", genders)
	}
	if _, ok := report.Distincts["medical_condition"]; ok {
		t.Fatal("medical_condition belongs to the billing section, not the distinct sections")
	}
	if len(report.DoctorCounts) != 3 || report.DoctorCounts[0].Value != "Dr Lee" {
		t.Fatalf("expected doctor counts led by Dr Lee, got %v", report.DoctorCounts)
	}
	if len(report.HospitalCounts) != 3 {
		t.Fatalf("expected 3 hospitals, got %d", len(report.HospitalCounts))
	}
	if report.Stay.Records != 5 || math.Abs(report.Stay.AverageDays-4.6) > 0.0001 {
		t.Fatalf("expected stay 4.6 days over 5 records, got %v over %d",
			report.Stay.AverageDays, report.Stay.Records)
	}
	if len(report.MonthlyTrend) != 3 {
		t.Fatalf("expected 3 months of trend, got %d", len(report.MonthlyTrend))
	}
	if len(report.BillingByAgeBand) != 5 {
		t.Fatalf("expected 5 age bands, got %d", len(report.BillingByAgeBand))
	}
	if len(report.BillingByCondition) != 3 || report.BillingByCondition[0].Condition != "Cancer" {
		t.Fatalf("expected billing led by Cancer, got %v", report.BillingByCondition)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("expected a generation timestamp")
	}
}
