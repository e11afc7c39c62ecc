package ingest

import (
	"strings"
	"testing"

	"github.com/clinalytics/platform/pkg/dataset"
)

func testCatalog() dataset.Catalog {
	return dataset.Catalog{
		DateLayout:     "2006-01-02",
		MissingMarkers: []string{"N/A"},
		Columns: []dataset.Column{
			{Display: "Name", Name: "full_name", Kind: dataset.KindText, Identity: true},
			{Display: "Age", Name: "age", Kind: dataset.KindInteger},
			{Display: "Billing Amount", Name: "billing_amount", Kind: dataset.KindDecimal},
			{Display: "Date of Admission", Name: "date_of_admission", Kind: dataset.KindDate},
		},
	}
}

func TestReaderAlignsRows(t *testing.T) {
	input := "Name,Age,Billing Amount,Date of Admission\n" +
		"Bobby Jackson,30,18856.28,2024-01-31\n" +
		"Leslie Terry,62,33643.33,2019-08-20\n"

	reader := NewReader(testCatalog())
	var rows [][]string
	count, err := reader.Read(strings.NewReader(input), func(row []string) error {
		rows = append(rows, append([]string(nil), row...))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
	if rows[0][0] != "Bobby Jackson" || rows[0][1] != "30" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1][3] != "2019-08-20" {
		t.Fatalf("unexpected admission date: %q", rows[1][3])
	}
}

func TestReaderReordersHeader(t *testing.T) {
	input := "Age,Date of Admission,Name,Billing Amount\n" +
		"30,2024-01-31,Bobby Jackson,18856.28\n"

	reader := NewReader(testCatalog())
	var row []string
	_, err := reader.Read(strings.NewReader(input), func(r []string) error {
		row = append([]string(nil), r...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"Bobby Jackson", "30", "18856.28", "2024-01-31"}
	for i, want := range expected {
		if row[i] != want {
			t.Fatalf("expected cell %d to be %q, got %q", i, want, row[i])
		}
	}
}

func TestReaderStripsBOM(t *testing.T) {
	input := "\ufeffName,Age,Billing Amount,Date of Admission\n" +
		"Bobby Jackson,30,18856.28,2024-01-31\n"

	reader := NewReader(testCatalog())
	count, err := reader.Read(strings.NewReader(input), func([]string) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestReaderRejectsMissingColumn(t *testing.T) {
	input := "Name,Age,Billing Amount\nBobby Jackson,30,18856.28\n"

	reader := NewReader(testCatalog())
	_, err := reader.Read(strings.NewReader(input), func([]string) error { return nil })
	if err == nil {
		t.Fatal("expected error for missing column")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReaderRejectsExtraColumn(t *testing.T) {
	input := "Name,Age,Billing Amount,Date of Admission,Ward\n" +
		"Bobby Jackson,30,18856.28,2024-01-31,B\n"

	reader := NewReader(testCatalog())
	_, err := reader.Read(strings.NewReader(input), func([]string) error { return nil })
	if err == nil {
		t.Fatal("expected error for extra column")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReaderRejectsEmptyInput(t *testing.T) {
	reader := NewReader(testCatalog())
	_, err := reader.Read(strings.NewReader(""), func([]string) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty input")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
