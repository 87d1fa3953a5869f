package analyzer

import (
	"context"
	"regexp"
	"strings"

	"datalens/domain/analysis"
)

// repeatedIntrospectionThreshold is how many DescribeTable calls one file may
// make before the agent suggests the graph cache.
const repeatedIntrospectionThreshold = 3

// PerformanceAgent flags remote work amplified by loops, repeated schema
// introspection, and unbounded star selects.
type PerformanceAgent struct {
	loopHead  *regexp.Regexp
	queryCall *regexp.Regexp
	awaitCall *regexp.Regexp
	introspec *regexp.Regexp
	starQuery *regexp.Regexp
}

func NewPerformanceAgent() *PerformanceAgent {
	return &PerformanceAgent{
		loopHead:  regexp.MustCompile(`^\s*(for|while)\b.*\{`),
		queryCall: regexp.MustCompile(`\.(ExecuteQuery|QueryContext|QueryRowContext|Query)\(`),
		awaitCall: regexp.MustCompile(`\bawait\b`),
		introspec: regexp.MustCompile(`\.DescribeTable\(`),
		starQuery: regexp.MustCompile(`(?i)\bselect\s+\*\s+from\b`),
	}
}

func (a *PerformanceAgent) Name() string { return "performance" }

func (a *PerformanceAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	return scanFiles(ctx, snap.Files, func(file *File) []analysis.Finding {
		if file.IsTest() {
			return nil
		}
		switch file.Ext() {
		case ".go", ".ts", ".tsx", ".js", ".jsx":
			return append(a.loopFindings(file), a.fileFindings(file)...)
		case ".sql":
			return a.sqlFindings(file)
		default:
			return nil
		}
	}, out)
}

// loopFindings walks the file once tracking brace depth. A query issued while
// any enclosing loop is open turns one round trip into N.
func (a *PerformanceAgent) loopFindings(file *File) []analysis.Finding {
	isGo := file.Ext() == ".go"

	var findings []analysis.Finding
	depth := 0
	loopDepths := []int{}
	for i, line := range file.Lines {
		if isComment(line) {
			continue
		}
		isHead := a.loopHead.MatchString(line)
		if isHead {
			loopDepths = append(loopDepths, depth)
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		for len(loopDepths) > 0 && depth <= loopDepths[len(loopDepths)-1] {
			loopDepths = loopDepths[:len(loopDepths)-1]
		}
		if isHead || len(loopDepths) == 0 {
			continue
		}

		inLoopQuery := a.queryCall.MatchString(line) || (!isGo && a.awaitCall.MatchString(line))
		if inLoopQuery {
			findings = append(findings, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityHigh,
				Location:    analysis.Location{Path: file.Path, Line: i + 1},
				RuleID:      "rule_P1",
				Message:     "remote call issued inside a loop",
				Remediation: "batch the work into one query or gather inputs before the loop",
				Evidence:    strings.TrimSpace(line),
			})
		}
	}
	return findings
}

// fileFindings covers whole-file heuristics: introspection churn and star
// selects embedded in code.
func (a *PerformanceAgent) fileFindings(file *File) []analysis.Finding {
	var findings []analysis.Finding
	introspections := 0
	for i, line := range file.Lines {
		if isComment(line) {
			continue
		}
		if a.introspec.MatchString(line) {
			introspections++
			if introspections == repeatedIntrospectionThreshold+1 {
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityMedium,
					Location:    analysis.Location{Path: file.Path, Line: i + 1},
					RuleID:      "rule_P2",
					Message:     "schema introspected repeatedly in one file",
					Remediation: "read the structure from the knowledge graph cache instead",
				})
			}
		}
		if a.starQuery.MatchString(line) && !strings.Contains(strings.ToLower(line), "limit") {
			findings = append(findings, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityMedium,
				Location:    analysis.Location{Path: file.Path, Line: i + 1},
				RuleID:      "rule_P3",
				Message:     "star select without a row bound",
				Remediation: "project the needed columns and rely on the repository limit",
				Evidence:    strings.TrimSpace(line),
			})
		}
	}
	return findings
}

func (a *PerformanceAgent) sqlFindings(file *File) []analysis.Finding {
	var findings []analysis.Finding
	for i, line := range file.Lines {
		if a.starQuery.MatchString(line) && !strings.Contains(strings.ToLower(line), "limit") {
			findings = append(findings, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityMedium,
				Location:    analysis.Location{Path: file.Path, Line: i + 1},
				RuleID:      "rule_P3",
				Message:     "star select without a row bound",
				Remediation: "project the needed columns and add a limit",
				Evidence:    strings.TrimSpace(line),
			})
		}
	}
	return findings
}
