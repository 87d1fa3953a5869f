package analyzer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"datalens/domain/analysis"
)

const (
	// defaultStyleWeight is the number of !important overrides a single
	// stylesheet may carry before it counts as fighting the design system.
	defaultStyleWeight = 3

	// maxZIndex is the highest layer the shell reserves for modules
	maxZIndex = 1000
)

// UXAgent inspects stylesheets for specificity wars and stacking hacks
type UXAgent struct {
	styleWeight int
	important   *regexp.Regexp
	zIndex      *regexp.Regexp
}

func NewUXAgent() *UXAgent {
	return NewUXAgentWithThreshold(defaultStyleWeight)
}

// NewUXAgentWithThreshold overrides the style-weight budget, the knob behind
// fengshui.yaml. Non-positive values select the default.
func NewUXAgentWithThreshold(styleWeight int) *UXAgent {
	if styleWeight <= 0 {
		styleWeight = defaultStyleWeight
	}
	return &UXAgent{
		styleWeight: styleWeight,
		important:   regexp.MustCompile(`!\s*important`),
		zIndex:      regexp.MustCompile(`z-index\s*:\s*(\d+)`),
	}
}

func (a *UXAgent) Name() string { return "ux_architecture" }

func (a *UXAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	return scanFiles(ctx, snap.Files, func(file *File) []analysis.Finding {
		switch file.Ext() {
		case ".css", ".scss", ".less", ".vue", ".svelte":
		default:
			return nil
		}

		var findings []analysis.Finding
		overrides := 0
		for i, line := range file.Lines {
			if a.important.MatchString(line) {
				overrides++
				if overrides == a.styleWeight+1 {
					findings = append(findings, analysis.Finding{
						Agent:       a.Name(),
						Severity:    analysis.SeverityMedium,
						Location:    analysis.Location{Path: file.Path, Line: i + 1},
						RuleID:      "rule_U1",
						Message:     "stylesheet overrides specificity more than " + strconv.Itoa(a.styleWeight) + " times",
						Remediation: "restructure selectors instead of stacking !important",
					})
				}
			}
			if m := a.zIndex.FindStringSubmatch(line); m != nil {
				if z, err := strconv.Atoi(m[1]); err == nil && z > maxZIndex {
					findings = append(findings, analysis.Finding{
						Agent:       a.Name(),
						Severity:    analysis.SeverityLow,
						Location:    analysis.Location{Path: file.Path, Line: i + 1},
						RuleID:      "rule_U2",
						Message:     "z-index " + m[1] + " exceeds the shell layer budget of " + strconv.Itoa(maxZIndex),
						Remediation: "use the shared layer tokens instead of raw stacking values",
						Evidence:    strings.TrimSpace(line),
					})
				}
			}
		}
		return findings
	}, out)
}
