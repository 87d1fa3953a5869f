package analyzer

import (
	"context"
	"regexp"
	"strings"

	"datalens/domain/analysis"
)

// ArchitectAgent enforces the layering rules: modules receive their
// dependencies through the container and never reach for the environment or
// construct backends themselves.
type ArchitectAgent struct {
	envGo   *regexp.Regexp
	envNode *regexp.Regexp
	backend *regexp.Regexp
	locator *regexp.Regexp
}

func NewArchitectAgent() *ArchitectAgent {
	return &ArchitectAgent{
		envGo:   regexp.MustCompile(`\bos\.Getenv\(`),
		envNode: regexp.MustCompile(`\bprocess\.env\.`),
		backend: regexp.MustCompile(`\b(sql|sqlx)\.(Open|Connect|MustConnect)\(|\bpgx\.Connect\(`),
		locator: regexp.MustCompile(`\.MustResolve\(`),
	}
}

func (a *ArchitectAgent) Name() string { return "architect" }

func (a *ArchitectAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	return scanFiles(ctx, snap.Files, func(file *File) []analysis.Finding {
		if snap.ModuleOf(file.Path) == "" || file.IsTest() {
			return nil
		}
		isGo := file.Ext() == ".go"
		isNode := file.Ext() == ".ts" || file.Ext() == ".tsx" || file.Ext() == ".js" || file.Ext() == ".jsx"
		if !isGo && !isNode {
			return nil
		}

		var findings []analysis.Finding
		for i, line := range file.Lines {
			if isComment(line) {
				continue
			}
			switch {
			case isGo && a.envGo.MatchString(line), isNode && a.envNode.MatchString(line):
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityHigh,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_A1",
					Message:     "module reads configuration from the environment",
					Remediation: "declare the need in module.json and receive it through the container",
					Evidence:    strings.TrimSpace(line),
				})
			case isGo && a.backend.MatchString(line):
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityHigh,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_A2",
					Message:     "module constructs a database backend directly",
					Remediation: "require repository.primary instead of opening connections",
					Evidence:    strings.TrimSpace(line),
				})
			case isGo && a.locator.MatchString(line):
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityMedium,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_A3",
					Message:     "capability resolved at the call site",
					Remediation: "resolve capabilities once during module construction",
					Evidence:    strings.TrimSpace(line),
				})
			}
		}
		return findings
	}, out)
}

// isComment filters the usual single-line comment leads so quoted examples
// in comments are not flagged.
func isComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "/*")
}
