package analyzer

import (
	"context"
	"regexp"
	"strings"

	"datalens/domain/analysis"
)

// SecurityAgent hunts for injection vectors and committed credentials. It
// skips test files: fixtures hold throwaway values, and flagging them drowns
// the real findings.
type SecurityAgent struct {
	sprintfSQL  *regexp.Regexp
	concatSQL   *regexp.Regexp
	templateSQL *regexp.Regexp
	secret      *regexp.Regexp
	domInject   *regexp.Regexp
}

func NewSecurityAgent() *SecurityAgent {
	return &SecurityAgent{
		sprintfSQL:  regexp.MustCompile(`(?i)fmt\.Sprintf\(\s*"[^"]*\b(select|insert|update|delete)\b[^"]*%[sdv]`),
		concatSQL:   regexp.MustCompile(`(?i)"[^"]*\b(select|insert|update|delete)\b[^"]*"\s*\+\s*[A-Za-z_]`),
		templateSQL: regexp.MustCompile("(?i)`[^`]*\\b(select|insert|update|delete)\\b[^`]*\\$\\{"),
		secret:      regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|access[_-]?token)['"]?\s*[:=]+\s*['"][A-Za-z0-9+/=_\-]{8,}['"]`),
		domInject:   regexp.MustCompile(`\beval\(|\.innerHTML\s*=|dangerouslySetInnerHTML`),
	}
}

func (a *SecurityAgent) Name() string { return "security" }

func (a *SecurityAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	return scanFiles(ctx, snap.Files, func(file *File) []analysis.Finding {
		if file.IsTest() {
			return nil
		}
		ext := file.Ext()
		isGo := ext == ".go"
		isNode := ext == ".ts" || ext == ".tsx" || ext == ".js" || ext == ".jsx"
		if !isGo && !isNode {
			return nil
		}

		var findings []analysis.Finding
		for i, line := range file.Lines {
			if isComment(line) {
				continue
			}
			injected := (isGo && (a.sprintfSQL.MatchString(line) || a.concatSQL.MatchString(line))) ||
				(isNode && a.templateSQL.MatchString(line))
			if injected {
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityCritical,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_S1",
					Message:     "SQL statement assembled from runtime values",
					Remediation: "pass values as positional parameters, never format them into the statement",
					Evidence:    strings.TrimSpace(line),
				})
				continue
			}
			if a.secret.MatchString(line) {
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityCritical,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_S2",
					Message:     "credential committed to source",
					Remediation: "move the value into the environment and rotate it",
				})
				continue
			}
			if isNode && a.domInject.MatchString(line) {
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityMedium,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_S3",
					Message:     "unescaped value reaches the DOM",
					Remediation: "render through the framework instead of innerHTML or eval",
					Evidence:    strings.TrimSpace(line),
				})
			}
		}
		return findings
	}, out)
}
