package analyzer

import (
	"context"
	"path"
	"regexp"
	"strings"

	"datalens/domain/analysis"
)

// FileOrganizationAgent keeps the tree tidy: no empty directories, no editor
// or cache droppings, and Go tests living next to the code they cover.
type FileOrganizationAgent struct {
	artefact *regexp.Regexp
}

func NewFileOrganizationAgent() *FileOrganizationAgent {
	return &FileOrganizationAgent{
		artefact: regexp.MustCompile(`(\.tmp|\.orig|\.rej|\.swp|~)$|(^|/)(\.DS_Store|Thumbs\.db|__pycache__)(/|$)`),
	}
}

func (a *FileOrganizationAgent) Name() string { return "file_organization" }

func (a *FileOrganizationAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	for _, dir := range snap.EmptyDirs() {
		if err := emit(ctx, out, analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityLow,
			Location:    analysis.Location{Path: dir},
			RuleID:      "rule_F1",
			Message:     "empty directory",
			Remediation: "remove it or add the content it was created for",
		}); err != nil {
			return err
		}
	}

	paths := make([]string, 0, len(snap.Files)+len(snap.OtherFiles))
	for _, file := range snap.Files {
		paths = append(paths, file.Path)
	}
	paths = append(paths, snap.OtherFiles...)
	for _, p := range paths {
		if !a.artefact.MatchString(p) {
			continue
		}
		if err := emit(ctx, out, analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityMedium,
			Location:    analysis.Location{Path: p},
			RuleID:      "rule_F2",
			Message:     "editor or cache artefact committed",
			Remediation: "delete the file and add the pattern to .gitignore",
		}); err != nil {
			return err
		}
	}

	return a.strandedTests(ctx, snap, out)
}

// strandedTests flags _test.go files in directories holding no non-test Go
// source. A stranded test either covers nothing or covers code elsewhere.
func (a *FileOrganizationAgent) strandedTests(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	goSources := map[string]bool{}
	for _, file := range snap.Files {
		if file.Ext() == ".go" && !file.IsTest() {
			goSources[file.Dir()] = true
		}
	}

	for _, file := range snap.Files {
		if !strings.HasSuffix(file.Path, "_test.go") {
			continue
		}
		dir := path.Dir(file.Path)
		if goSources[dir] {
			continue
		}
		if err := emit(ctx, out, analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityMedium,
			Location:    analysis.Location{Path: file.Path},
			RuleID:      "rule_F3",
			Message:     "test file in a directory with no Go source",
			Remediation: "move the test next to the package it covers",
		}); err != nil {
			return err
		}
	}
	return nil
}
