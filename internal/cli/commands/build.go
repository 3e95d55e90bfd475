package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/internal/dag"
	"github.com/leapstack-labs/jbuild/internal/engine"
	"github.com/leapstack-labs/jbuild/internal/state"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// BuildOptions holds options for the build command.
type BuildOptions struct {
	Modules []string
	Tests   bool
	Rebuild bool
}

// errBuildFailed is returned after the summary of a failed build so the
// process exits non-zero without printing the failure twice.
var errBuildFailed = errors.New("build failed")

// NewBuildCommand creates the build command.
func NewBuildCommand() *cobra.Command {
	opts := &BuildOptions{}
	cmd := &cobra.Command{
		Use:   "build [module...]",
		Short: "Compile dirty Java sources",
		Long: `Compile the project's modules in dependency order.

Only sources whose content changed since the last successful build are
compiled, plus sources that depend on classes whose API changed. Modules
in a dependency cycle are compiled together as one chunk. Chunks of the
same dependency level run in parallel (see --parallel).`,
		Example: `  # Build everything
  jbuild build

  # Build one module and what it depends on
  jbuild build app

  # Include test sources and start from scratch
  jbuild build --tests --rebuild`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Modules = args
			return runBuildCommand(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Tests, "tests", false, "Also compile test source roots")
	cmd.Flags().BoolVar(&opts.Rebuild, "rebuild", false, "Forget recorded state and compile everything")
	return cmd
}

func runBuildCommand(cmd *cobra.Command, opts *BuildOptions) error {
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

	rep := output.NewReporter(cc.Renderer, cc.Cfg.Verbose)
	result, err := runBuild(ctx, cc, project, opts, rep)
	if renderErr := cc.Renderer.BuildSummary(result); renderErr != nil {
		return renderErr
	}
	if err != nil {
		if engine.IsStop(err) {
			return errBuildFailed
		}
		return err
	}
	return nil
}

// runBuild plans the chunks, builds them against the state store and
// summarizes the outcome. The summary is valid even when an error is
// returned.
func runBuild(ctx context.Context, cc *CommandContext, project *core.ProjectConfig, opts *BuildOptions, rep *output.Reporter) (output.BuildOutput, error) {
	start := time.Now()
	result := output.BuildOutput{Status: output.StatusFailed}
	finish := func(err error) (output.BuildOutput, error) {
		result.DurationMS = time.Since(start).Milliseconds()
		result.Errors = rep.Count(core.SeverityError)
		result.Warnings = rep.Count(core.SeverityWarning)
		result.Generated = rep.Generated()
		result.Diagnostics = rep.Diagnostics()
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	levels, err := dag.Plan(project, dag.PlanOptions{Only: opts.Modules, Tests: opts.Tests})
	if err != nil {
		return finish(err)
	}

	store, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return finish(err)
	}
	defer func() { _ = store.Close() }()

	if opts.Rebuild {
		if err := store.Reset(ctx); err != nil {
			return finish(err)
		}
	}

	session, err := engine.NewSession(engine.Config{
		Project:  project,
		Messages: rep,
		Graph:    store,
		Logger:   cc.Logger,
	})
	if err != nil {
		return finish(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			cc.Logger.Warn("failed to stop compile servers", "error", err)
		}
	}()
	result.Session = session.ID()

	if _, err := store.BeginSession(ctx, session.ID()); err != nil {
		return finish(err)
	}
	stopCancel := context.AfterFunc(ctx, session.Cancel)
	defer stopCancel()

	dirty := func(ctx context.Context, chunk *core.Chunk, _ int) (core.DirtyFiles, error) {
		return store.Dirty(ctx, chunk)
	}
	reports, buildErr := session.BuildAll(ctx, levels, dirty, store, cc.Cfg.Parallel)
	session.Finish()
	result.Usage = session.Usage()

	if err := store.FinishSession(context.WithoutCancel(ctx), buildErr); err != nil {
		cc.Logger.Warn("failed to record build session", "session", session.ID(), "error", err)
	}

	result.Chunks = summarizeChunks(levels, reports)
	result.Status = buildStatus(reports, buildErr)
	return finish(buildErr)
}

func summarizeChunks(levels [][]*core.Chunk, reports []engine.ChunkReport) []output.ChunkSummary {
	byName := make(map[string]engine.ChunkReport, len(reports))
	for _, rep := range reports {
		byName[rep.Chunk.Name] = rep
	}
	var out []output.ChunkSummary
	for _, level := range levels {
		for _, chunk := range level {
			rep, ok := byName[chunk.Name]
			s := output.ChunkSummary{Chunk: chunk.Name, Status: output.StatusSkipped}
			if ok {
				s.Passes = rep.Passes
				switch {
				case rep.Err != nil:
					s.Status = output.StatusFailed
					s.Error = rep.Err.Error()
				case rep.Exit == core.NothingDone:
					s.Status = output.StatusUpToDate
				default:
					s.Status = output.StatusCompiled
				}
			}
			out = append(out, s)
		}
	}
	return out
}

func buildStatus(reports []engine.ChunkReport, err error) string {
	if err != nil {
		return output.StatusFailed
	}
	for _, rep := range reports {
		if rep.Exit != core.NothingDone {
			return output.StatusCompiled
		}
	}
	return output.StatusUpToDate
}

// NewCleanCommand creates the clean command.
func NewCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete output directories and recorded state",
		Long: `Remove every module's output directories and forget all recorded
source hashes, so the next build compiles everything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			project, err := cc.Cfg.RequireProject()
			if err != nil {
				return err
			}
			for _, m := range project.Modules {
				for _, dir := range []string{m.OutputDir, m.TestOutputDir} {
					if dir == "" {
						continue
					}
					if err := os.RemoveAll(dir); err != nil {
						return fmt.Errorf("failed to remove %s: %w", dir, err)
					}
					cc.Renderer.StatusLine(dir, "success", "removed")
				}
			}
			if _, err := os.Stat(cc.Cfg.StatePath); err != nil {
				return nil
			}
			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return store.Reset(cmd.Context())
		},
	}
}

// statsOf returns the counters of the state store.
func statsOf(ctx context.Context, cc *CommandContext) (state.Stats, error) {
	store, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return state.Stats{}, err
	}
	defer func() { _ = store.Close() }()
	return store.Stats(ctx)
}
