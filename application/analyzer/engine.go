// Package analyzer runs the feng shui agents over a workspace snapshot and
// aggregates their findings into per-module health reports.
//
// All agents share one read-only Snapshot and stream findings into a bounded
// merge channel; the engine dedupes, sorts, and scores the result. Agents are
// heuristics: they trade recall for precision and stay silent when unsure.
package analyzer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"datalens/domain/analysis"
	apperrors "datalens/pkg/errors"
)

const (
	// mergeBufferPerAgent sizes the shared finding channel so agents rarely
	// block on the collector.
	mergeBufferPerAgent = 64

	// scanWorkers bounds per-agent file fan-out
	scanWorkers = 8

	// platformModule attributes findings outside any module directory
	platformModule = "platform"
)

// Agent inspects a snapshot and streams findings. Implementations must not
// mutate the snapshot and must stop promptly when ctx is cancelled.
type Agent interface {
	Name() string
	Analyze(ctx context.Context, snap *Snapshot, out chan<- analysis.Finding) error
}

// Report is the outcome of one analyzer run
type Report struct {
	Root     string                  `json:"root"`
	Module   string                  `json:"module,omitempty"`
	Agents   []string                `json:"agents"`
	Findings []analysis.Finding      `json:"findings"`
	Health   []analysis.HealthReport `json:"health"`
	Duration time.Duration           `json:"duration"`
}

// OverallScore returns the lowest module score, 100 for an empty report
func (r *Report) OverallScore() int {
	lowest := 100
	for _, h := range r.Health {
		if h.Score < lowest {
			lowest = h.Score
		}
	}
	return lowest
}

// Engine owns the agent set and runs them concurrently
type Engine struct {
	agents []Agent
	logger *zap.Logger
}

// NewEngine builds an engine with the standard nine agents
func NewEngine(logger *zap.Logger) *Engine {
	return NewEngineWithAgents(logger, DefaultAgents()...)
}

// DefaultAgents returns the standard agent set in merge order. Callers that
// need to swap a single agent, like the CLI applying fengshui.yaml rule
// thresholds, start from this list.
func DefaultAgents() []Agent {
	return []Agent{
		NewArchitectAgent(),
		NewSecurityAgent(),
		NewPerformanceAgent(),
		NewTestCoverageAgent(),
		NewFederationAgent(),
		NewIsolationAgent(),
		NewDocumentationAgent(),
		NewFileOrganizationAgent(),
		NewUXAgent(),
	}
}

// NewEngineWithAgents builds an engine with an explicit agent set. The
// preview validator uses this to run a subset.
func NewEngineWithAgents(logger *zap.Logger, agents ...Agent) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{agents: agents, logger: logger}
}

// Run loads a snapshot of root and analyzes it. A non-empty module narrows
// the run to that module's directory.
func (e *Engine) Run(ctx context.Context, root, module string) (*Report, error) {
	snap, err := LoadSnapshot(root, module)
	if err != nil {
		return nil, err
	}
	report, err := e.RunSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	report.Module = module
	return report, nil
}

// RunSnapshot analyzes an already loaded snapshot. The preview validator
// uses this with synthetic snapshots assembled from design material.
func (e *Engine) RunSnapshot(ctx context.Context, snap *Snapshot) (*Report, error) {
	started := time.Now()
	e.logger.Info("analyzer run starting",
		zap.String("root", snap.Root),
		zap.Int("files", len(snap.Files)),
		zap.Int("agents", len(e.agents)))

	findings, err := e.collect(ctx, snap)
	if err != nil {
		return nil, err
	}

	findings = analysis.Dedupe(findings)
	analysis.Sort(findings)

	report := &Report{
		Root:     snap.Root,
		Agents:   e.agentNames(),
		Findings: findings,
		Health:   e.scoreModules(snap, findings),
		Duration: time.Since(started),
	}
	e.logger.Info("analyzer run finished",
		zap.Int("findings", len(report.Findings)),
		zap.Int("score", report.OverallScore()),
		zap.Duration("took", report.Duration))
	return report, nil
}

// collect fans the agents out and drains the merge channel. The channel is
// closed only after every agent returned, and the collector goroutine owns
// the result slice until then.
func (e *Engine) collect(ctx context.Context, snap *Snapshot) ([]analysis.Finding, error) {
	merge := make(chan analysis.Finding, len(e.agents)*mergeBufferPerAgent)

	collected := make(chan []analysis.Finding, 1)
	go func() {
		var all []analysis.Finding
		for f := range merge {
			all = append(all, f)
		}
		collected <- all
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, agent := range e.agents {
		agent := agent
		group.Go(func() error {
			agentStart := time.Now()
			if err := agent.Analyze(groupCtx, snap, merge); err != nil {
				return apperrors.Wrapf(err, "agent %s", agent.Name())
			}
			e.logger.Debug("agent finished",
				zap.String("agent", agent.Name()),
				zap.Duration("took", time.Since(agentStart)))
			return nil
		})
	}

	err := group.Wait()
	close(merge)
	all := <-collected
	if err != nil {
		return nil, err
	}
	return all, nil
}

// scoreModules computes a health report per module plus one for platform
// files. Modules without findings still appear, scored 100.
func (e *Engine) scoreModules(snap *Snapshot, findings []analysis.Finding) []analysis.HealthReport {
	byModule := map[string][]analysis.Finding{}
	for _, id := range snap.Modules() {
		byModule[id] = nil
	}
	platform := false
	for _, f := range findings {
		owner := snap.ModuleOf(f.Location.Path)
		if owner == "" {
			owner = platformModule
			platform = true
		}
		byModule[owner] = append(byModule[owner], f)
	}

	reports := make([]analysis.HealthReport, 0, len(byModule)+1)
	if platform {
		reports = append(reports, analysis.ComputeHealth(platformModule, byModule[platformModule]))
		delete(byModule, platformModule)
	}
	for _, id := range snap.Modules() {
		reports = append(reports, analysis.ComputeHealth(id, byModule[id]))
	}
	return reports
}

func (e *Engine) agentNames() []string {
	names := make([]string, len(e.agents))
	for i, agent := range e.agents {
		names[i] = agent.Name()
	}
	return names
}

// emit sends a finding unless the run is being cancelled
func emit(ctx context.Context, out chan<- analysis.Finding, f analysis.Finding) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scanFiles applies fn to every file on a bounded worker pool and streams
// the findings. Shared by the line-oriented agents.
func scanFiles(ctx context.Context, files []*File, fn func(*File) []analysis.Finding, out chan<- analysis.Finding) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(scanWorkers)
	for _, file := range files {
		file := file
		group.Go(func() error {
			for _, f := range fn(file) {
				if err := emit(groupCtx, out, f); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return group.Wait()
}
