package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestLoadConvertsCells(t *testing.T) {
	var gotTable string
	var gotColumns []string
	var gotRows [][]interface{}

	loader := &Loader{catalog: testCatalog()}
	loader.copyFn = func(_ context.Context, table string, columns []string, rows [][]interface{}) (int64, error) {
		gotTable = table
		gotColumns = columns
		gotRows = rows
		return int64(len(rows)), nil
	}

	rows := [][]string{
		{"Bobby Jackson", "30", "18856.28", "2024-01-31"},
		{"Leslie Terry", "", "33643.33", ""},
	}
	count, err := loader.Load(context.Background(), "healthcare_dataset", rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows copied, got %d", count)
	}
	if gotTable != "healthcare_dataset" {
		t.Fatalf("unexpected table: %q", gotTable)
	}
	if len(gotColumns) != 4 || gotColumns[0] != "Name" || gotColumns[3] != "Date of Admission" {
		t.Fatalf("unexpected columns: %v", gotColumns)
	}

	if gotRows[0][1] != int64(30) {
		t.Fatalf("expected age as int64(30), got %T %v", gotRows[0][1], gotRows[0][1])
	}
	if gotRows[0][2] != float64(18856.28) {
		t.Fatalf("expected billing as float64, got %T %v", gotRows[0][2], gotRows[0][2])
	}
	if gotRows[0][3] != "2024-01-31" {
		t.Fatalf("expected date kept as text, got %v", gotRows[0][3])
	}
	if gotRows[1][1] != nil || gotRows[1][3] != nil {
		t.Fatalf("expected blank cells to load as NULL, got %v", gotRows[1])
	}
}

func TestLoadRejectsBadInteger(t *testing.T) {
	loader := &Loader{catalog: testCatalog()}
	loader.copyFn = func(_ context.Context, _ string, _ []string, rows [][]interface{}) (int64, error) {
		return int64(len(rows)), nil
	}

	rows := [][]string{
		{"Bobby Jackson", "30", "18856.28", "2024-01-31"},
		{"Leslie Terry", "sixty-two", "33643.33", "2019-08-20"},
	}
	_, err := loader.Load(context.Background(), "healthcare_dataset", rows)
	if err == nil {
		t.Fatal("expected error for non-integer age")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "row 2") || !strings.Contains(err.Error(), `"Age"`) {
		t.Fatalf("error should name row and column: %v", err)
	}
}

func TestLoadRejectsShortRow(t *testing.T) {
	loader := &Loader{catalog: testCatalog()}
	loader.copyFn = func(_ context.Context, _ string, _ []string, rows [][]interface{}) (int64, error) {
		return int64(len(rows)), nil
	}

	_, err := loader.Load(context.Background(), "healthcare_dataset", [][]string{{"Bobby Jackson", "30"}})
	if err == nil {
		t.Fatal("expected error for short row")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl, err := createTableSQL(testCatalog(), "healthcare_dataset")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `CREATE TABLE "healthcare_dataset" ("Name" text, "Age" integer, "Billing Amount" double precision, "Date of Admission" text)`
	if ddl != expected {
		t.Fatalf("unexpected DDL:\n  got  %s\n  want %s", ddl, expected)
	}
}

func TestCreateTableSQLRequiresTable(t *testing.T) {
	if _, err := createTableSQL(testCatalog(), "  "); err == nil {
		t.Fatal("expected error for blank table name")
	}
}

func TestDropTableSQLQuotesIdent(t *testing.T) {
	got := dropTableSQL(`bad"name`)
	if got != `DROP TABLE IF EXISTS "bad""name"` {
		t.Fatalf("unexpected SQL: %s", got)
	}
}
