package ingest

import (
	"testing"
	"time"

	"github.com/clinalytics/platform/pkg/dataset"
)

func TestGeneratorIsDeterministic(t *testing.T) {
	catalog := dataset.Default()
	first := NewGenerator(catalog, 42).Rows(5)
	second := NewGenerator(catalog, 42).Rows(5)

	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("expected 5 rows, got %d and %d", len(first), len(second))
	}
	for i := range first {
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatalf("row %d cell %d differs: %q vs %q", i, j, first[i][j], second[i][j])
			}
		}
	}
}

func TestGeneratorRowShape(t *testing.T) {
	catalog := dataset.Default()
	rows := NewGenerator(catalog, 7).Rows(20)

	genders := map[string]bool{"Male": true, "Female": true}
	admissionTypes := map[string]bool{"Emergency": true, "Elective": true, "Urgent": true}

	for i, row := range rows {
		if len(row) != len(catalog.Columns) {
			t.Fatalf("row %d has %d cells, expected %d", i, len(row), len(catalog.Columns))
		}
		cells := map[string]string{}
		for j, col := range catalog.Columns {
			cells[col.Name] = row[j]
		}
		if !genders[cells["gender"]] {
			t.Fatalf("row %d: unexpected gender %q", i, cells["gender"])
		}
		if !admissionTypes[cells["admission_type"]] {
			t.Fatalf("row %d: unexpected admission type %q", i, cells["admission_type"])
		}
		admitted, err := time.Parse(catalog.DateLayout, cells["date_of_admission"])
		if err != nil {
			t.Fatalf("row %d: bad admission date %q: %v", i, cells["date_of_admission"], err)
		}
		discharged, err := time.Parse(catalog.DateLayout, cells["discharge_date"])
		if err != nil {
			t.Fatalf("row %d: bad discharge date %q: %v", i, cells["discharge_date"], err)
		}
		if discharged.Before(admitted) {
			t.Fatalf("row %d: discharge %s precedes admission %s", i, discharged, admitted)
		}
	}
}

func TestGeneratorRowsPassReader(t *testing.T) {
	catalog := dataset.Default()
	rows := NewGenerator(catalog, 3).Rows(10)

	loader := &Loader{catalog: catalog}
	for i, row := range rows {
		if _, err := loader.convertRow(row, int64(i+1)); err != nil {
			t.Fatalf("row %d does not convert: %v", i, err)
		}
	}
}
