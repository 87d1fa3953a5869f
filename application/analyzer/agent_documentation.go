package analyzer

import (
	"context"
	"regexp"
	"strings"

	"datalens/domain/analysis"
)

// DocumentationAgent wants every module to explain itself: a README at the
// module root and doc comments on exported Go declarations.
type DocumentationAgent struct {
	exported *regexp.Regexp
}

func NewDocumentationAgent() *DocumentationAgent {
	return &DocumentationAgent{
		exported: regexp.MustCompile(`^(func|type|var|const) ([A-Z]\w*)`),
	}
}

func (a *DocumentationAgent) Name() string { return "documentation" }

func (a *DocumentationAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	for _, id := range snap.Modules() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := snap.Get(id + "/README.md"); ok {
			continue
		}
		if err := emit(ctx, out, analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityMedium,
			Location:    analysis.Location{Path: id + "/module.json"},
			RuleID:      "rule_D1",
			Message:     "module " + id + " has no README.md",
			Remediation: "describe what the module does and which capabilities it touches",
		}); err != nil {
			return err
		}
	}

	return scanFiles(ctx, snap.Files, func(file *File) []analysis.Finding {
		if file.Ext() != ".go" || file.IsTest() {
			return nil
		}

		var findings []analysis.Finding
		for i, line := range file.Lines {
			m := a.exported.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if i > 0 && strings.HasPrefix(strings.TrimSpace(file.Lines[i-1]), "//") {
				continue
			}
			findings = append(findings, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityLow,
				Location:    analysis.Location{Path: file.Path, Line: i + 1},
				RuleID:      "rule_D2",
				Message:     "exported " + m[1] + " " + m[2] + " lacks a doc comment",
				Remediation: "start a comment with the identifier name above the declaration",
			})
		}
		return findings
	}, out)
}
