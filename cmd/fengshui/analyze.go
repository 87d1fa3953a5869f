package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datalens/application/analyzer"
)

var (
	flagModule string
	flagGate   bool
	flagJSON   bool
	flagOut    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analysis agents over the workspace",
	Long: `analyze loads a snapshot of the workspace, runs every agent over it
and prints findings sorted by severity together with per-module health
scores. With --gate the exit code reports the verdict: 0 clean, 1
findings present but none blocking, 2 gate failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rules, err := resolveRules()
		if err != nil {
			return err
		}
		code, err := runAnalyze(cmd.Context(), analyzeOptions{
			root:   flagRoot,
			module: flagModule,
			gate:   flagGate,
			json:   flagJSON,
			out:    flagOut,
			rules:  rules,
			logger: cliLogger(),
		}, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		exitCode = code
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&flagModule, "module", "", "restrict analysis to one module id")
	analyzeCmd.Flags().BoolVar(&flagGate, "gate", false, "exit non-zero on findings, 2 on critical findings or low health")
	analyzeCmd.Flags().BoolVar(&flagJSON, "json", false, "emit the report as JSON on stdout")
	analyzeCmd.Flags().StringVar(&flagOut, "out", "", "also write the JSON report to a file")
}

type analyzeOptions struct {
	root   string
	module string
	gate   bool
	json   bool
	out    string
	rules  ruleConfig
	logger *zap.Logger
}

func runAnalyze(ctx context.Context, opts analyzeOptions, stdout io.Writer) (int, error) {
	snap, err := analyzer.LoadSnapshotExcluding(opts.root, opts.module, opts.rules.Exclude)
	if err != nil {
		return analyzer.ExitError, err
	}

	engine := analyzer.NewEngineWithAgents(opts.logger, agentsFor(opts.rules)...)
	report, err := engine.RunSnapshot(ctx, snap)
	if err != nil {
		return analyzer.ExitError, err
	}
	report.Module = opts.module

	gate := analyzer.EvaluateGate(report, opts.rules.MinHealth)
	var gateOut *analyzer.GateResult
	if opts.gate {
		gateOut = &gate
	}

	if opts.json {
		if err := writeReportJSON(stdout, report, gateOut); err != nil {
			return analyzer.ExitError, err
		}
	} else {
		renderReport(stdout, report)
		if opts.gate {
			renderGate(stdout, gate)
		}
	}
	if opts.out != "" {
		if err := writeReportFile(opts.out, report, gateOut); err != nil {
			return analyzer.ExitError, err
		}
	}

	if opts.gate {
		return gate.ExitCode, nil
	}
	return analyzer.ExitClean, nil
}
