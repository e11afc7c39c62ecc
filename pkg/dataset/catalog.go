// Package dataset describes the admissions dataset: the source column
// headers, their canonical snake_case names, the kind each column carries,
// and the markers that count as missing values. The built-in catalog matches
// the published healthcare admissions CSV; a YAML file can override it.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindText    Kind = "text"
	KindInteger Kind = "integer"
	KindDate    Kind = "date"
	KindDecimal Kind = "decimal"
)

type Column struct {
	Display     string `yaml:"display" json:"display"`
	Name        string `yaml:"name" json:"name"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Categorical bool   `yaml:"categorical,omitempty" json:"categorical,omitempty"`
	// Identity columns name the person a record belongs to. They are reported
	// alongside flagged records instead of being scanned for missing values.
	Identity bool `yaml:"identity,omitempty" json:"identity,omitempty"`
}

type Catalog struct {
	Columns        []Column `yaml:"columns" json:"columns"`
	DateLayout     string   `yaml:"date_layout" json:"date_layout"`
	MissingMarkers []string `yaml:"missing_markers" json:"missing_markers"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Default(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if cat.DateLayout == "" {
		cat.DateLayout = Default().DateLayout
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

func (c Catalog) Validate() error {
	if len(c.Columns) == 0 {
		return fmt.Errorf("dataset catalog has no columns")
	}
	displays := make(map[string]struct{}, len(c.Columns))
	names := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if strings.TrimSpace(col.Display) == "" {
			return fmt.Errorf("column %q has an empty display name", col.Name)
		}
		if !isSnakeCase(col.Name) {
			return fmt.Errorf("column %q: canonical name must be snake_case", col.Display)
		}
		if _, dup := displays[col.Display]; dup {
			return fmt.Errorf("duplicate display name %q", col.Display)
		}
		if _, dup := names[col.Name]; dup {
			return fmt.Errorf("duplicate canonical name %q", col.Name)
		}
		displays[col.Display] = struct{}{}
		names[col.Name] = struct{}{}
		switch col.Kind {
		case KindText, KindInteger, KindDate, KindDecimal:
		default:
			return fmt.Errorf("column %q: unknown kind %q", col.Name, col.Kind)
		}
	}
	return nil
}

// RenameMap returns the display-to-canonical mapping, total over the columns.
func (c Catalog) RenameMap() map[string]string {
	m := make(map[string]string, len(c.Columns))
	for _, col := range c.Columns {
		m[col.Display] = col.Name
	}
	return m
}

func (c Catalog) DisplayNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.Display)
	}
	return names
}

func (c Catalog) CanonicalNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Column looks a column up by canonical name.
func (c Catalog) Column(name string) (Column, bool) {
	for _, col := range c.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

// CategoricalFields lists the canonical names valid for distinct-value queries.
func (c Catalog) CategoricalFields() []string {
	fields := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		if col.Categorical {
			fields = append(fields, col.Name)
		}
	}
	return fields
}

// QualityFields lists the columns the missing-value scan covers: every
// column that is not an identity column.
func (c Catalog) QualityFields() []Column {
	fields := make([]Column, 0, len(c.Columns))
	for _, col := range c.Columns {
		if !col.Identity {
			fields = append(fields, col)
		}
	}
	return fields
}

// CoercionTargets lists the columns whose stored representation the
// normalizer rewrites: dates and fixed-scale decimals.
func (c Catalog) CoercionTargets() []Column {
	targets := make([]Column, 0, len(c.Columns))
	for _, col := range c.Columns {
		if col.Kind == KindDate || col.Kind == KindDecimal {
			targets = append(targets, col)
		}
	}
	return targets
}

// IsMissing reports whether a raw text value counts as a missing-value
// marker under this catalog.
func (c Catalog) IsMissing(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return true
	}
	for _, marker := range c.MissingMarkers {
		if strings.EqualFold(trimmed, marker) {
			return true
		}
	}
	return false
}

func isSnakeCase(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_' && i > 0 && i < len(s)-1:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func Default() Catalog {
	return Catalog{
		DateLayout:     "2006-01-02",
		MissingMarkers: []string{"N/A", "None", "null"},
		Columns: []Column{
			{Display: "Name", Name: "full_name", Kind: KindText, Identity: true},
			{Display: "Age", Name: "age", Kind: KindInteger},
			{Display: "Gender", Name: "gender", Kind: KindText, Categorical: true},
			{Display: "Blood Type", Name: "blood_type", Kind: KindText, Categorical: true},
			{Display: "Medical Condition", Name: "medical_condition", Kind: KindText, Categorical: true},
			{Display: "Date of Admission", Name: "date_of_admission", Kind: KindDate},
			{Display: "Doctor", Name: "doctor", Kind: KindText},
			{Display: "Hospital", Name: "hospital", Kind: KindText},
			{Display: "Insurance Provider", Name: "insurance_provider", Kind: KindText, Categorical: true},
			{Display: "Billing Amount", Name: "billing_amount", Kind: KindDecimal},
			{Display: "Room Number", Name: "room_number", Kind: KindInteger},
			{Display: "Admission Type", Name: "admission_type", Kind: KindText, Categorical: true},
			{Display: "Discharge Date", Name: "discharge_date", Kind: KindDate},
			{Display: "Medication", Name: "medication", Kind: KindText},
			{Display: "Test Results", Name: "test_results", Kind: KindText, Categorical: true},
		},
	}
}
