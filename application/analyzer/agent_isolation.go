package analyzer

import (
	"context"
	"path"
	"regexp"
	"strings"

	"datalens/domain/analysis"
)

// moduleAlias is the workspace import alias for module directories
const moduleAlias = "@modules/"

// IsolationAgent finds modules reaching into each other's directories.
// Cross-module access goes through declared capabilities; a direct import
// couples release cycles and breaks independent loading, so every hit is
// critical.
type IsolationAgent struct {
	goImport   *regexp.Regexp
	nodeImport *regexp.Regexp
}

func NewIsolationAgent() *IsolationAgent {
	return &IsolationAgent{
		goImport:   regexp.MustCompile(`^\s*(?:import\s+)?(?:[\w.]+\s+)?"([^"]+)"`),
		nodeImport: regexp.MustCompile(`(?:from\s+|require\(\s*|import\(\s*)['"]([^'"]+)['"]`),
	}
}

func (a *IsolationAgent) Name() string { return "module_isolation" }

func (a *IsolationAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	return scanFiles(ctx, snap.Files, func(file *File) []analysis.Finding {
		own := snap.ModuleOf(file.Path)
		if own == "" {
			return nil
		}

		var findings []analysis.Finding
		for _, spec := range a.importsOf(file) {
			if target := a.foreignModule(snap, file, own, spec.path); target != "" {
				findings = append(findings, analysis.Finding{
					Agent:       a.Name(),
					Severity:    analysis.SeverityCritical,
					Location:    analysis.Location{Path: file.Path, Line: spec.line},
					RuleID:      "rule_I1",
					Message:     "module " + own + " imports internals of module " + target,
					Remediation: "depend on a capability the other module provides instead",
					Evidence:    strings.TrimSpace(file.Lines[spec.line-1]),
				})
			}
		}
		return findings
	}, out)
}

type importSpec struct {
	path string
	line int
}

// importsOf extracts import specifiers. Go imports are read from import
// declarations only; frontend files match from/require/dynamic-import forms
// anywhere.
func (a *IsolationAgent) importsOf(file *File) []importSpec {
	var specs []importSpec
	switch file.Ext() {
	case ".go":
		inBlock := false
		for i, line := range file.Lines {
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "import ("):
				inBlock = true
			case inBlock && trimmed == ")":
				inBlock = false
			case inBlock, strings.HasPrefix(trimmed, "import "):
				if m := a.goImport.FindStringSubmatch(line); m != nil {
					specs = append(specs, importSpec{path: m[1], line: i + 1})
				}
			}
		}
	case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".vue", ".svelte":
		for i, line := range file.Lines {
			if isComment(line) {
				continue
			}
			for _, m := range a.nodeImport.FindAllStringSubmatch(line, -1) {
				specs = append(specs, importSpec{path: m[1], line: i + 1})
			}
		}
	}
	return specs
}

// foreignModule resolves a specifier and names the module it lands in, ""
// when the import stays home or leaves the workspace.
func (a *IsolationAgent) foreignModule(snap *Snapshot, file *File, own, spec string) string {
	if strings.HasPrefix(spec, ".") {
		resolved := path.Join(file.Dir(), spec)
		first, _, _ := strings.Cut(resolved, "/")
		if snap.KnownModule(first) && first != own {
			return first
		}
		return ""
	}

	if strings.HasPrefix(spec, moduleAlias) {
		rest := strings.TrimPrefix(spec, moduleAlias)
		target, _, _ := strings.Cut(rest, "/")
		if target != own {
			return target
		}
		return ""
	}

	// Absolute specifiers such as Go import paths: any path segment naming
	// a sibling module counts.
	for _, segment := range strings.Split(spec, "/") {
		if segment != own && snap.KnownModule(segment) {
			return segment
		}
	}
	return ""
}
