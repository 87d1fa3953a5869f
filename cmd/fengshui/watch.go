package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datalens/application/analyzer"
)

var (
	watchModule   string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run analysis whenever the workspace changes",
	Long: `watch analyzes the workspace, then re-runs after every burst of file
changes. Bursts are debounced so editors that write several files at
once trigger a single run. Stop with ctrl-c.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rules, err := resolveRules()
		if err != nil {
			return err
		}
		return runWatch(cmd.Context(), watchOptions{
			root:     flagRoot,
			module:   watchModule,
			debounce: watchDebounce,
			rules:    rules,
			logger:   cliLogger(),
		}, cmd.OutOrStdout())
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchModule, "module", "", "restrict analysis to one module id")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 400*time.Millisecond, "quiet period before re-running")
}

type watchOptions struct {
	root     string
	module   string
	debounce time.Duration
	rules    ruleConfig
	logger   *zap.Logger
}

func runWatch(ctx context.Context, opts watchOptions, stdout io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, opts.root, opts.rules.Exclude); err != nil {
		return err
	}

	analyzeOnce := func() {
		if _, err := runAnalyze(ctx, analyzeOptions{
			root:   opts.root,
			module: opts.module,
			rules:  opts.rules,
			logger: opts.logger,
		}, stdout); err != nil {
			fmt.Fprintln(stdout, "fengshui:", err)
		}
	}

	analyzeOnce()
	fmt.Fprintf(stdout, "\nwatching %s (ctrl-c to stop)\n", opts.root)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || skipWatchPath(event.Name, opts.rules.Exclude) {
				continue
			}
			// New directories need their own registration; fsnotify does
			// not watch recursively.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = watchTree(watcher, event.Name, opts.rules.Exclude)
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(opts.debounce)
			pending = true

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(stdout, "fengshui: watch error:", watchErr)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			fmt.Fprintln(stdout)
			analyzeOnce()
		}
	}
}

// watchTree registers root and every directory below it, pruning the same
// directories the snapshot loader skips.
func watchTree(watcher *fsnotify.Watcher, root string, exclude []string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && prunedDir(entry.Name(), exclude) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// skipWatchPath reports whether any element of the path is a pruned
// directory, so events under generated trees never trigger a run.
func skipWatchPath(path string, exclude []string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if prunedDir(part, exclude) {
			return true
		}
	}
	return false
}

func prunedDir(name string, exclude []string) bool {
	if analyzer.SkipDir(name) {
		return true
	}
	for _, ex := range exclude {
		if name == ex {
			return true
		}
	}
	return false
}
