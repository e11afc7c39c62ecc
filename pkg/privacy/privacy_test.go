package privacy

import (
	"testing"

	"github.com/clinalytics/platform/pkg/common/models"
)

func TestDetectorScansFields(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	fields := map[string]string{
		"medication": "call 555-123-4567 before refill",
		"doctor":     "Dr. Sarah Lee",
		"hospital":   "contact billing@stmarys.example.com",
	}

	findings := detector.ScanFields(fields)
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	seen := make(map[string]string)
	for _, f := range findings {
		seen[f.Field] = f.Rule
		if f.Matches != 1 {
			t.Fatalf("expected 1 match for %s, got %d", f.Field, f.Matches)
		}
	}
	if seen["medication"] != "Phone" {
		t.Fatalf("expected Phone finding in medication, got %q", seen["medication"])
	}
	if seen["hospital"] != "Email" {
		t.Fatalf("expected Email finding in hospital, got %q", seen["hospital"])
	}
}

func TestDetectorSkipsDisabledRules(t *testing.T) {
	cfg := RulesConfig{Rules: []Rule{
		{Name: "SSN", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Severity: "high", Enabled: false},
	}}
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}
	findings := detector.ScanFields(map[string]string{"note": "123-45-6789"})
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(findings))
	}
}

func TestTokenizerDeterministic(t *testing.T) {
	tok, err := NewTokenizer("salt-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := tok.Token("Bobby Jackson")
	second := tok.Token("Bobby Jackson")
	if first != second {
		t.Fatalf("expected stable tokens, got %q and %q", first, second)
	}
	if first == "Bobby Jackson" || first == "" {
		t.Fatalf("expected opaque token, got %q", first)
	}

	other, err := NewTokenizer("salt-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.Token("Bobby Jackson") == first {
		t.Fatal("expected different salts to yield different tokens")
	}
}

func TestTokenizerRequiresSalt(t *testing.T) {
	if _, err := NewTokenizer(""); err == nil {
		t.Fatal("expected error for empty salt")
	}
}

func TestTokenizeAdmission(t *testing.T) {
	tok, err := NewTokenizer("salt-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	admission := models.Admission{
		PatientID: 7,
		FullName:  "Bobby Jackson",
		Doctor:    "Matthew Smith",
		Hospital:  "Sons and Miller",
	}
	out := tok.TokenizeAdmission(admission)
	if out.FullName == admission.FullName {
		t.Fatal("expected full_name to be tokenized")
	}
	if out.Doctor == admission.Doctor {
		t.Fatal("expected doctor to be tokenized")
	}
	if out.Hospital != admission.Hospital {
		t.Fatal("expected hospital to pass through")
	}
	if out.PatientID != admission.PatientID {
		t.Fatal("expected patient_id to pass through")
	}
}
