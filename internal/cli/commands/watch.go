package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	BuildOptions
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [module...]",
		Short: "Rebuild whenever Java sources change",
		Long: `Build once, then watch every source root and rebuild after changes
to .java files settle. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Modules = args
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Tests, "tests", false, "Also compile test source roots")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 300*time.Millisecond, "Quiet period before a rebuild")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	project, err := cc.Cfg.RequireProject()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, root := range watchRoots(project, opts.Tests) {
		if err := watchDir(watcher, root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	rebuild := func() {
		rep := output.NewReporter(cc.Renderer, cc.Cfg.Verbose)
		result, err := runBuild(ctx, cc, project, &opts.BuildOptions, rep)
		if err != nil {
			cc.Logger.Info("build failed", "error", err)
		}
		_ = cc.Renderer.BuildSummary(result)
	}

	rebuild()
	cc.Renderer.Println(cc.Renderer.Styles().Muted.Render("Watching for changes. Press Ctrl+C to stop."))
	return watchLoop(ctx, watcher, opts.Debounce, cc, rebuild)
}

// watchRoots lists the existing source roots of the project.
func watchRoots(project *core.ProjectConfig, tests bool) []string {
	var roots []string
	for _, m := range project.Modules {
		candidates := m.SourceRoots
		if tests {
			candidates = append(append([]string{}, candidates...), m.TestSourceRoots...)
		}
		for _, root := range candidates {
			if st, err := os.Stat(root); err == nil && st.IsDir() {
				roots = append(roots, root)
			}
		}
	}
	return roots
}

// watchDir recursively adds a directory to the watcher.
func watchDir(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// watchLoop rebuilds after .java changes went quiet for debounce. Builds
// run on this goroutine, so events arriving during a build are coalesced
// into the next one.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration, cc *CommandContext, rebuild func()) error {
	timer := time.NewTimer(debounce)
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
			if event.Has(fsnotify.Create) {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					if err := watchDir(watcher, event.Name); err != nil {
						cc.Logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !isSourceEvent(event) {
				continue
			}
			cc.Logger.Debug("source changed", "file", event.Name, "op", event.Op.String())
			pending = true
			timer.Reset(debounce)
		case <-timer.C:
			if pending {
				pending = false
				rebuild()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cc.Logger.Warn("watcher error", "error", err)
		}
	}
}

func isSourceEvent(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".java" {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
