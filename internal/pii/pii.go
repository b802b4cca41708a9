// Package pii detects personally identifiable information in extracted
// document text using a fixed table of compiled patterns.
//
// The table favors false positives over false negatives: flagging a
// harmless string is cheaper than letting a real SSN into a shared
// workspace unnoticed.
package pii

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies a category of PII.
type Kind string

// Built-in PII kinds.
const (
	KindSSN           Kind = "ssn"
	KindCreditCard    Kind = "credit_card"
	KindEmail         Kind = "email"
	KindPhone         Kind = "phone"
	KindIPAddress     Kind = "ip_address"
	KindPassport      Kind = "passport"
	KindDriverLicense Kind = "driver_license"
	KindBankAccount   Kind = "bank_account"
	KindDateOfBirth   Kind = "date_of_birth"
)

// RedactedPlaceholder replaces matched spans in Redact output.
const RedactedPlaceholder = "[REDACTED]"

// maxSamplesPerKind caps the redacted samples kept per finding.
const maxSamplesPerKind = 3

// pattern pairs a kind with its compiled regex.
type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// builtinPatterns is the fixed detection table.
var builtinPatterns = []pattern{
	{KindSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{KindCreditCard, regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`)},
	{KindEmail, regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)},
	{KindPhone, regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
	{KindIPAddress, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d{1,2})\.){3}(?:25[0-5]|2[0-4]\d|1?\d{1,2})\b`)},
	{KindPassport, regexp.MustCompile(`\b[A-Z]{2}\d{7}\b`)},
	{KindDriverLicense, regexp.MustCompile(`\b[A-Z]\d{7,12}\b`)},
	{KindBankAccount, regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)},
	{KindDateOfBirth, regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`)},
}

// Custom is a caller-defined pattern added to the built-in table.
type Custom struct {
	Name    string
	Pattern string
}

// Finding reports all matches of one kind within the analyzed text.
type Finding struct {
	Kind    Kind     `json:"kind"`
	Count   int      `json:"count"`
	Samples []string `json:"samples"` // redacted, at most maxSamplesPerKind
}

// Analyzer scans text against the built-in table plus any custom patterns.
// Safe for concurrent use.
type Analyzer struct {
	patterns []pattern
}

// NewAnalyzer builds an Analyzer. Invalid custom patterns are a constructor
// error, never a runtime panic.
func NewAnalyzer(custom ...Custom) (*Analyzer, error) {
	patterns := make([]pattern, 0, len(builtinPatterns)+len(custom))
	patterns = append(patterns, builtinPatterns...)

	for _, c := range custom {
		if c.Name == "" {
			return nil, fmt.Errorf("custom pattern name cannot be empty")
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling custom pattern %q: %w", c.Name, err)
		}
		patterns = append(patterns, pattern{kind: Kind(c.Name), re: re})
	}

	return &Analyzer{patterns: patterns}, nil
}

// Analyze returns a finding per kind that matched, in table order.
// Kinds with no matches are omitted.
func (a *Analyzer) Analyze(text string) []Finding {
	var findings []Finding
	for _, p := range a.patterns {
		matches := p.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		f := Finding{Kind: p.kind, Count: len(matches)}
		for _, m := range matches {
			if len(f.Samples) == maxSamplesPerKind {
				break
			}
			f.Samples = append(f.Samples, redactSample(m))
		}
		findings = append(findings, f)
	}
	return findings
}

// Contains reports whether text matches any pattern. Cheaper than Analyze
// when only a yes/no answer is needed (upload gating).
func (a *Analyzer) Contains(text string) bool {
	for _, p := range a.patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces every matched span with the redaction placeholder.
func (a *Analyzer) Redact(text string) string {
	for _, p := range a.patterns {
		text = p.re.ReplaceAllString(text, RedactedPlaceholder)
	}
	return text
}

// redactSample keeps the last 4 characters of a match so operators can
// distinguish findings without re-exposing the value.
func redactSample(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
