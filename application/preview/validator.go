// Package preview validates planned module designs before any code exists.
//
// It runs a strict subset of the analyzer agents over artefacts declared in
// design material: module descriptors and fenced source blocks inside
// markdown design docs are assembled into a synthetic workspace snapshot and
// analyzed exactly like a real tree. Promised routes, planned cross-module
// imports, and naming violations surface at review time instead of after
// scaffolding.
package preview

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"datalens/application/analyzer"
	"datalens/domain/analysis"
	apperrors "datalens/pkg/errors"
)

// plannedDir hosts source blocks that appear before any descriptor
const plannedDir = "planned_module"

// plannedDescriptor stands in for modules a design doc sketches only in code
const plannedDescriptor = `{"id":"planned_module","name":"Planned Module","version":"0.0.0","category":"feature"}`

var dirPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Validator runs the design-time agent subset: federation, isolation,
// architect, test coverage, and documentation.
type Validator struct {
	engine *analyzer.Engine
}

func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{
		engine: analyzer.NewEngineWithAgents(logger,
			analyzer.NewFederationAgent(),
			analyzer.NewIsolationAgent(),
			analyzer.NewArchitectAgent(),
			analyzer.NewTestCoverageAgent(),
			analyzer.NewDocumentationAgent(),
		),
	}
}

// ValidatePath previews a descriptor file, a markdown design doc, or a whole
// directory, chosen by the target's shape.
func (v *Validator) ValidatePath(ctx context.Context, target string) (*analyzer.Report, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("preview target %s is not readable: %v", target, err))
	}
	if info.IsDir() {
		snap, err := analyzer.LoadSnapshot(target, "")
		if err != nil {
			return nil, err
		}
		return v.engine.RunSnapshot(ctx, snap)
	}

	raw, err := os.ReadFile(target)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading preview target")
	}
	switch strings.ToLower(filepath.Ext(target)) {
	case ".json":
		return v.ValidateDescriptor(ctx, raw, filepath.Base(target))
	case ".md", ".markdown":
		return v.ValidateDesignDoc(ctx, raw, filepath.Base(target))
	default:
		return nil, apperrors.NewValidationError(
			"preview accepts a descriptor (.json), a design doc (.md), or a directory")
	}
}

// ValidateDescriptor previews a single planned descriptor document
func (v *Validator) ValidateDescriptor(ctx context.Context, raw []byte, name string) (*analyzer.Report, error) {
	dir := safeDir(gjson.GetBytes(raw, "id").String())
	snap := analyzer.NewSnapshot(name, map[string]string{
		dir + "/module.json": string(raw),
	})
	return v.engine.RunSnapshot(ctx, snap)
}

// ValidateDesignDoc assembles fenced descriptor and source blocks from a
// markdown document into a synthetic workspace and analyzes it. The document
// prose doubles as each planned module's README.
func (v *Validator) ValidateDesignDoc(ctx context.Context, doc []byte, name string) (*analyzer.Report, error) {
	started := time.Now()
	files := synthesizeWorkspace(string(doc))
	if len(files) == 0 {
		return &analyzer.Report{
			Root:   name,
			Agents: []string{"preview"},
			Findings: []analysis.Finding{{
				Agent:       "preview",
				Severity:    analysis.SeverityLow,
				Location:    analysis.Location{Path: name},
				RuleID:      "rule_V1",
				Message:     "design document declares no module descriptors or source blocks",
				Remediation: "add fenced json descriptor blocks so the plan can be validated",
			}},
			Duration: time.Since(started),
		}, nil
	}

	snap := analyzer.NewSnapshot(name, files)
	return v.engine.RunSnapshot(ctx, snap)
}

// fence is one fenced code block from a markdown document
type fence struct {
	lang string
	body []string
}

func extractFences(text string) []fence {
	var fences []fence
	var current *fence
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if current != nil {
				fences = append(fences, *current)
				current = nil
				continue
			}
			current = &fence{lang: strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))}
			continue
		}
		if current != nil {
			current.body = append(current.body, line)
		}
	}
	if current != nil {
		fences = append(fences, *current)
	}
	return fences
}

// synthesizeWorkspace lays plan fragments out the way a real workspace would
// be: descriptors become <id>/module.json, source blocks land under the most
// recently declared module's src directory.
func synthesizeWorkspace(doc string) map[string]string {
	files := map[string]string{}
	currentDir := ""
	snippet := 0

	ensureDir := func() string {
		if currentDir == "" {
			currentDir = plannedDir
			files[plannedDir+"/module.json"] = plannedDescriptor
		}
		return currentDir
	}

	for _, block := range extractFences(doc) {
		body := strings.Join(block.body, "\n")
		switch block.lang {
		case "json", "jsonc":
			id := gjson.Get(body, "id").String()
			if id == "" {
				continue
			}
			dir := safeDir(id)
			for n := 2; ; n++ {
				if _, taken := files[dir+"/module.json"]; !taken {
					break
				}
				dir = fmt.Sprintf("%s_copy%d", safeDir(id), n)
			}
			files[dir+"/module.json"] = body
			currentDir = dir

		case "go", "golang":
			snippet++
			name := fmt.Sprintf("src/planned_%d.go", snippet)
			if strings.Contains(body, "func Test") {
				name = fmt.Sprintf("src/planned_%d_test.go", snippet)
			}
			files[path.Join(ensureDir(), name)] = body

		case "ts", "typescript", "tsx", "js", "javascript", "jsx":
			snippet++
			ext := map[string]string{
				"typescript": "ts", "javascript": "js",
				"ts": "ts", "tsx": "tsx", "js": "js", "jsx": "jsx",
			}[block.lang]
			name := fmt.Sprintf("src/planned_%d.%s", snippet, ext)
			if strings.Contains(body, "test(") || strings.Contains(body, "describe(") {
				name = fmt.Sprintf("src/planned_%d.test.%s", snippet, ext)
			}
			files[path.Join(ensureDir(), name)] = body

		case "css", "scss", "sql":
			snippet++
			files[path.Join(ensureDir(), fmt.Sprintf("src/planned_%d.%s", snippet, block.lang))] = body
		}
	}

	// The document itself is the planned module's documentation
	var dirs []string
	for rel := range files {
		if strings.HasSuffix(rel, "/module.json") {
			dirs = append(dirs, strings.TrimSuffix(rel, "/module.json"))
		}
	}
	for _, dir := range dirs {
		files[dir+"/README.md"] = doc
	}
	return files
}

// safeDir keeps synthetic directories aligned with descriptor ids so the
// id-matches-directory rule stays quiet for well-formed plans.
func safeDir(id string) string {
	if dirPattern.MatchString(id) {
		return id
	}
	return plannedDir
}
