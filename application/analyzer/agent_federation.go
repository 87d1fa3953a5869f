package analyzer

import (
	"context"
	"sort"
	"strings"

	"datalens/application/ports"
	"datalens/domain/analysis"
	"datalens/domain/module"
)

// FederationAgent validates module descriptors with the same rules the
// registry applies at startup, so problems surface in review instead of as
// boot failures. It also cross-checks the workspace: duplicate ids, ids that
// disagree with their directory, requirements nothing provides, and code
// directories that never declared themselves.
type FederationAgent struct{}

func NewFederationAgent() *FederationAgent { return &FederationAgent{} }

func (a *FederationAgent) Name() string { return "module_federation" }

func (a *FederationAgent) Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	provided := map[string]string{}
	for _, capName := range ports.PlatformCapabilities() {
		provided[capName] = "platform"
	}

	type parsed struct {
		dir  string
		path string
		desc *module.Descriptor
	}
	var descriptors []parsed
	seen := map[string]string{}

	for _, id := range snap.Modules() {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := id + "/module.json"
		file, ok := snap.Get(path)
		if !ok {
			continue
		}

		desc, err := module.ParseDescriptor([]byte(strings.Join(file.Lines, "\n")))
		if err != nil {
			if emitErr := emit(ctx, out, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityHigh,
				Location:    analysis.Location{Path: path},
				RuleID:      "rule_M1",
				Message:     "descriptor rejected: " + err.Error(),
				Remediation: "fix the descriptor; the registry refuses to start with it",
			}); emitErr != nil {
				return emitErr
			}
			continue
		}
		descriptors = append(descriptors, parsed{dir: id, path: path, desc: desc})

		if firstPath, dup := seen[desc.ID]; dup {
			if err := emit(ctx, out, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityCritical,
				Location:    analysis.Location{Path: path},
				RuleID:      "rule_M2",
				Message:     "module id " + desc.ID + " already declared by " + firstPath,
				Remediation: "module ids must be unique across the workspace",
			}); err != nil {
				return err
			}
		} else {
			seen[desc.ID] = path
		}

		if desc.ID != id {
			if err := emit(ctx, out, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityMedium,
				Location:    analysis.Location{Path: path},
				RuleID:      "rule_M3",
				Message:     "descriptor id " + desc.ID + " does not match directory " + id,
				Remediation: "rename the directory or the id so tooling can find the module",
			}); err != nil {
				return err
			}
		}

		for _, capName := range desc.ProvidedCapabilities() {
			if _, taken := provided[capName]; !taken {
				provided[capName] = desc.ID
			}
		}
	}

	for _, p := range descriptors {
		for _, required := range p.desc.Requires {
			if _, ok := provided[required]; ok {
				continue
			}
			if err := emit(ctx, out, analysis.Finding{
				Agent:       a.Name(),
				Severity:    analysis.SeverityMedium,
				Location:    analysis.Location{Path: p.path},
				RuleID:      "rule_M5",
				Message:     "module " + p.desc.ID + " requires " + required + " which nothing provides",
				Remediation: "bind the capability in a provider module or drop the requirement",
			}); err != nil {
				return err
			}
		}
	}

	return a.undeclaredDirs(ctx, snap, out)
}

// undeclaredDirs flags top-level directories that carry source files without
// a descriptor; the registry will never load them.
func (a *FederationAgent) undeclaredDirs(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error {
	candidates := map[string]bool{}
	for _, file := range snap.Files {
		dir, _, found := strings.Cut(file.Path, "/")
		if !found || snap.ModuleOf(file.Path) != "" {
			continue
		}
		switch file.Ext() {
		case ".go", ".ts", ".tsx", ".js", ".jsx":
			candidates[dir] = true
		}
	}

	dirs := make([]string, 0, len(candidates))
	for dir := range candidates {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		if err := emit(ctx, out, analysis.Finding{
			Agent:       a.Name(),
			Severity:    analysis.SeverityLow,
			Location:    analysis.Location{Path: dir},
			RuleID:      "rule_M4",
			Message:     "directory " + dir + " holds source files but no module.json",
			Remediation: "add a descriptor or move the code into an owning module",
		}); err != nil {
			return err
		}
	}
	return nil
}
