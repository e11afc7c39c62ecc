package privacy

import "regexp"

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

type Detector struct {
	rules []compiledRule
}

// Finding marks a rule match in a named field. The matched text itself is
// never carried, only where a rule hit and how often.
type Finding struct {
	Field    string `json:"field"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Matches  int    `json:"matches"`
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// ScanFields checks each field value against every enabled rule and returns
// one finding per (field, rule) pair that matched.
func (d *Detector) ScanFields(fields map[string]string) []Finding {
	if d == nil || len(d.rules) == 0 {
		return nil
	}

	var findings []Finding
	for field, text := range fields {
		if text == "" {
			continue
		}
		for _, rule := range d.rules {
			matches := rule.re.FindAllStringIndex(text, -1)
			if len(matches) == 0 {
				continue
			}
			findings = append(findings, Finding{
				Field:    field,
				Rule:     rule.rule.Name,
				Severity: rule.rule.Severity,
				Matches:  len(matches),
			})
		}
	}
	return findings
}
