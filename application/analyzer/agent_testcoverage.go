package analyzer

import (
	"context"
	"strings"

	"datalens/domain/analysis"
	"datalens/domain/module"
)

// registryMarker is the string a contract test must mention to count as
// covering the module's registry entry.
const registryMarker = "frontend-registry"

// TestCoverageAgent checks each module's test story in escalating order:
// first that tests exist at all, then that every declared route is exercised
// by one, then that the registry contract is covered. Only the first gap in
// that order is reported per module.
type TestCoverageAgent struct{}

func NewTestCoverageAgent() *TestCoverageAgent { return &TestCoverageAgent{} }

func (a *TestCoverageAgent) Name() string { return "test_coverage" }

func (a *TestCoverageAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	for _, id := range snap.Modules() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f := a.inspect(snap, id); f != nil {
			if err := emit(ctx, out, *f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *TestCoverageAgent) inspect(snap *Snapshot, id string) *analysis.Finding {
	sources := 0
	var tests []*File
	for _, file := range snap.FilesUnder(id) {
		switch file.Ext() {
		case ".go", ".ts", ".tsx", ".js", ".jsx":
		default:
			continue
		}
		if file.IsTest() {
			tests = append(tests, file)
		} else {
			sources++
		}
	}

	descriptorPath := id + "/module.json"
	if sources > 0 && len(tests) == 0 {
		return &analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityMedium,
			Location:    analysis.Location{Path: descriptorPath},
			RuleID:      "rule_T1",
			Message:     "module " + id + " has source files but no tests",
			Remediation: "add tests next to the code they cover",
		}
	}

	routes := declaredRoutes(snap, descriptorPath)
	if len(routes) == 0 || len(tests) == 0 {
		return nil
	}

	var missing []string
	for _, route := range routes {
		if !anyFileContains(tests, route) {
			missing = append(missing, route)
		}
	}
	if len(missing) > 0 {
		return &analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityHigh,
			Location:    analysis.Location{Path: descriptorPath},
			RuleID:      "rule_T2",
			Message:     "declared routes never exercised by a test: " + strings.Join(missing, ", "),
			Remediation: "add a contract test requesting each declared route",
		}
	}

	if !anyFileContains(tests, registryMarker) {
		return &analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityMedium,
			Location:    analysis.Location{Path: descriptorPath},
			RuleID:      "rule_T3",
			Message:     "module " + id + " has no " + registryMarker + " contract test",
			Remediation: "assert the module appears in the registry payload with its routes",
		}
	}
	return nil
}

// declaredRoutes parses the descriptor just enough to list route paths.
// Schema problems are the federation agent's business, not this one's.
func declaredRoutes(snap *Snapshot, descriptorPath string) []string {
	file, ok := snap.Get(descriptorPath)
	if !ok {
		return nil
	}
	desc, err := module.ParseDescriptor([]byte(strings.Join(file.Lines, "\n")))
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(desc.Routes))
	for _, route := range desc.Routes {
		paths = append(paths, route.Path)
	}
	return paths
}

func anyFileContains(files []*File, needle string) bool {
	for _, file := range files {
		for _, line := range file.Lines {
			if strings.Contains(line, needle) {
				return true
			}
		}
	}
	return false
}
