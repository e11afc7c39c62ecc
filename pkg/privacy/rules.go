// Package privacy scans free-text admission fields for identifiers that do
// not belong there and tokenizes person-naming fields on export.
package privacy

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Severity string `yaml:"severity" json:"severity"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}

	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no audit rules configured")
	}

	return cfg, nil
}

// DefaultRules covers identifiers that should never surface in the free-text
// columns of an admissions table.
func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "SSN", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Severity: "high", Enabled: true},
		{Name: "Phone", Pattern: `\b\d{3}-\d{3}-\d{4}\b|\b\(\d{3}\)\s?\d{3}-\d{4}\b`, Severity: "medium", Enabled: true},
		{Name: "Email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`, Severity: "medium", Enabled: true},
		{Name: "MRN", Pattern: `\bMRN[-:\s]?\d{6,10}\b`, Severity: "high", Enabled: true},
	}}
}
