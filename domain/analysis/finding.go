// Package analysis defines the finding model shared by the analyzer engine,
// the preview validator, and the gate.
package analysis

import (
	"sort"
)

// Severity ranks a finding. Order matters: critical sorts first and carries
// the largest health penalty.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank gives critical the highest rank for sorting
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Rank returns the numeric ordering weight of a severity
func (s Severity) Rank() int {
	return severityRank[s]
}

// Location points at the artefact a finding concerns. Line is zero when the
// finding applies to the whole file or directory.
type Location struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

// Finding is one immutable analyzer result
type Finding struct {
	Agent       string   `json:"agent"`
	Severity    Severity `json:"severity"`
	Location    Location `json:"location"`
	RuleID      string   `json:"rule_id"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
}

// key identifies duplicates: two agents reporting the same rule at the same
// place count once.
type key struct {
	path   string
	ruleID string
	line   int
}

// Dedupe removes findings with identical (path, rule_id, line) triples,
// keeping the first occurrence.
func Dedupe(findings []Finding) []Finding {
	seen := make(map[key]struct{}, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		k := key{path: f.Location.Path, ruleID: f.RuleID, line: f.Location.Line}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Sort orders findings by severity descending, then path, then line
func Sort(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		if findings[i].Location.Path != findings[j].Location.Path {
			return findings[i].Location.Path < findings[j].Location.Path
		}
		return findings[i].Location.Line < findings[j].Location.Line
	})
}

// HealthReport aggregates findings into the per-module score the gate
// evaluates.
type HealthReport struct {
	Module   string           `json:"module"`
	Score    int              `json:"score"`
	Counts   map[Severity]int `json:"counts"`
	Findings int              `json:"findings"`
}

// ComputeHealth scores a finding set: 100 minus 10 per critical, 3 per
// high, and 1 per medium, floored at zero. Low findings are free.
func ComputeHealth(module string, findings []Finding) HealthReport {
	counts := map[Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}

	score := 100 - 10*counts[SeverityCritical] - 3*counts[SeverityHigh] - counts[SeverityMedium]
	if score < 0 {
		score = 0
	}

	return HealthReport{
		Module:   module,
		Score:    score,
		Counts:   counts,
		Findings: len(findings),
	}
}

// HasCritical reports whether any finding is critical
func HasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
