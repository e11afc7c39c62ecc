package ingest

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/clinalytics/platform/pkg/dataset"
)

// Value pools mirror the published dataset's categorical vocabulary.
var (
	genders        = []string{"Male", "Female"}
	bloodTypes     = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
	conditions     = []string{"Cancer", "Obesity", "Diabetes", "Asthma", "Hypertension", "Arthritis"}
	insurers       = []string{"Aetna", "Blue Cross", "Cigna", "Medicare", "UnitedHealthcare"}
	admissionTypes = []string{"Emergency", "Elective", "Urgent"}
	testResults    = []string{"Normal", "Abnormal", "Inconclusive"}
	medications    = []string{"Aspirin", "Ibuprofen", "Paracetamol", "Penicillin", "Lipitor"}
)

// Generator produces synthetic admissions rows in catalog column order.
// The same seed yields the same rows.
type Generator struct {
	faker   *gofakeit.Faker
	catalog dataset.Catalog
}

func NewGenerator(catalog dataset.Catalog, seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed), catalog: catalog}
}

// Rows generates n rows aligned to the catalog's columns. Columns the
// generator does not know stay blank.
func (g *Generator) Rows(n int) [][]string {
	layout := g.catalog.DateLayout
	windowStart := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)

	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		admitted := g.faker.DateRange(windowStart, windowEnd).Truncate(24 * time.Hour)
		discharged := admitted.AddDate(0, 0, g.faker.Number(1, 30))

		values := map[string]string{
			"full_name":          g.faker.Name(),
			"age":                fmt.Sprintf("%d", g.faker.Number(18, 85)),
			"gender":             g.faker.RandomString(genders),
			"blood_type":         g.faker.RandomString(bloodTypes),
			"medical_condition":  g.faker.RandomString(conditions),
			"date_of_admission":  admitted.Format(layout),
			"doctor":             "Dr. " + g.faker.Name(),
			"hospital":           g.faker.Company(),
			"insurance_provider": g.faker.RandomString(insurers),
			"billing_amount":     fmt.Sprintf("%.2f", g.faker.Price(1000, 50000)),
			"room_number":        fmt.Sprintf("%d", g.faker.Number(101, 500)),
			"admission_type":     g.faker.RandomString(admissionTypes),
			"discharge_date":     discharged.Format(layout),
			"medication":         g.faker.RandomString(medications),
			"test_results":       g.faker.RandomString(testResults),
		}

		row := make([]string, len(g.catalog.Columns))
		for j, col := range g.catalog.Columns {
			row[j] = values[col.Name]
		}
		rows = append(rows, row)
	}
	return rows
}
