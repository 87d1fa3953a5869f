// fengshui analyzes module workspaces for architectural drift: boundary
// violations, federation contract breaks, missing tests and the rest of the
// agent rule set. It is the command line front end of the platform analyzer
// and shares its engine with the preview validator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datalens/application/analyzer"
	"datalens/pkg/observability"
)

var (
	flagRoot    string
	flagConfig  string
	flagVerbose bool

	// exitCode is what main exits with after a clean Execute. Commands set
	// it from gate results; errors exit through the error path instead.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "fengshui",
	Short: "Analyze module workspaces for architectural drift",
	Long: `fengshui runs a set of analysis agents over a module workspace and
reports findings with per-module health scores. Use it locally while
developing, as a CI gate, or to preview a module design before any
code exists.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "workspace root to analyze")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "rule configuration file (default <root>/fengshui.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log engine progress to stderr")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(watchCmd)
}

// cliLogger keeps stdout clean for report output; engine logs go to stderr
// and only when asked for.
func cliLogger() *zap.Logger {
	if !flagVerbose {
		return zap.NewNop()
	}
	logger, err := observability.NewLogger("development")
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// resolveRules loads fengshui.yaml. An absent default file is fine; an
// explicitly named one must exist.
func resolveRules() (ruleConfig, error) {
	path := flagConfig
	explicit := path != ""
	if !explicit {
		path = filepath.Join(flagRoot, "fengshui.yaml")
	}
	return loadRuleConfig(path, explicit)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fengshui:", err)
		os.Exit(analyzer.ExitError)
	}
	os.Exit(exitCode)
}
