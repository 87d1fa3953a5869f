package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datalens/application/analyzer"
	"datalens/application/preview"
)

var previewJSON bool

var previewCmd = &cobra.Command{
	Use:   "preview <descriptor.json|design.md|directory>",
	Short: "Validate a planned module design before any code exists",
	Long: `preview runs the design-time agent subset over a module descriptor, a
markdown design document with fenced source blocks, or a directory of
either. The exit code always reports the gate verdict so reviews can
block on critical design findings.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := runPreview(cmd.Context(), args[0], previewJSON, cliLogger(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		exitCode = code
		return nil
	},
}

func init() {
	previewCmd.Flags().BoolVar(&previewJSON, "json", false, "emit the report as JSON on stdout")
}

func runPreview(ctx context.Context, target string, jsonOut bool, logger *zap.Logger, stdout io.Writer) (int, error) {
	validator := preview.NewValidator(logger)
	report, err := validator.ValidatePath(ctx, target)
	if err != nil {
		return analyzer.ExitError, err
	}

	gate := analyzer.EvaluateGate(report, 0)
	if jsonOut {
		if err := writeReportJSON(stdout, report, &gate); err != nil {
			return analyzer.ExitError, err
		}
	} else {
		renderReport(stdout, report)
		renderGate(stdout, gate)
	}
	return gate.ExitCode, nil
}
