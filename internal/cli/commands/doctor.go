package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/internal/dag"
	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/internal/state"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Check statuses, as understood by output.Renderer.StatusLine.
const (
	checkPass  = "success"
	checkWarn  = "warning"
	checkError = "error"
)

// HealthCheck is the result of one doctor check.
type HealthCheck struct {
	Group  string `json:"group"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DoctorOutput is the JSON output of the doctor command.
type DoctorOutput struct {
	Project string        `json:"project"`
	Checks  []HealthCheck `json:"checks"`
	State   *state.Stats  `json:"state,omitempty"`
	Errors  int           `json:"errors"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the project and its JDKs",
		Long: `Verify that every configured runtime has a working javac, that source
roots and libraries exist, and report module cycles and the state database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			project, err := cc.Cfg.RequireProject()
			if err != nil {
				return err
			}
			out := runDoctor(cmd.Context(), cc, project)
			if err := renderDoctor(cc.Renderer, out); err != nil {
				return err
			}
			if out.Errors > 0 {
				return fmt.Errorf("%d check(s) failed", out.Errors)
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context, cc *CommandContext, project *core.ProjectConfig) *DoctorOutput {
	out := &DoctorOutput{Project: project.Name}
	out.Checks = append(out.Checks, checkRuntimes(ctx, project, cc.Logger)...)
	out.Checks = append(out.Checks, checkModules(project)...)
	out.Checks = append(out.Checks, checkCycles(project)...)

	if _, err := os.Stat(cc.Cfg.StatePath); err == nil {
		stats, err := statsOf(ctx, cc)
		if err != nil {
			out.Checks = append(out.Checks, HealthCheck{Group: "state", Name: cc.Cfg.StatePath, Status: checkError, Detail: err.Error()})
		} else {
			out.State = &stats
			out.Checks = append(out.Checks, HealthCheck{Group: "state", Name: cc.Cfg.StatePath, Status: checkPass})
		}
	} else {
		out.Checks = append(out.Checks, HealthCheck{Group: "state", Name: cc.Cfg.StatePath, Status: checkWarn, Detail: "no build recorded yet"})
	}

	for _, c := range out.Checks {
		if c.Status == checkError {
			out.Errors++
		}
	}
	return out
}

func checkRuntimes(ctx context.Context, project *core.ProjectConfig, logger *slog.Logger) []HealthCheck {
	checks := make([]HealthCheck, 0, len(project.Runtimes))
	for _, rt := range project.Runtimes {
		check := HealthCheck{Group: "runtimes", Name: rt.Name}
		tc := &javac.Toolchain{Home: rt.Home, Logger: logger}
		v, err := tc.Version(ctx)
		switch {
		case err != nil:
			check.Status, check.Detail = checkError, err.Error()
		case rt.Version != "" && backend.ParseVersion(rt.Version) != backend.ParseVersion(v):
			check.Status = checkWarn
			check.Detail = fmt.Sprintf("configured as %s but javac reports %s", rt.Version, v)
		default:
			check.Status, check.Detail = checkPass, v
		}
		if rt.Name == project.Compiler.HostRuntime {
			check.Name += " (host)"
		}
		checks = append(checks, check)
	}
	return checks
}

func checkModules(project *core.ProjectConfig) []HealthCheck {
	var checks []HealthCheck
	for _, m := range project.Modules {
		var missing []string
		for _, root := range append(append([]string{}, m.SourceRoots...), m.TestSourceRoots...) {
			if _, err := os.Stat(root); err != nil {
				missing = append(missing, root)
			}
		}
		switch {
		case len(missing) > 0:
			checks = append(checks, HealthCheck{Group: "modules", Name: m.Name, Status: checkWarn,
				Detail: "missing source roots: " + strings.Join(missing, ", ")})
		default:
			checks = append(checks, HealthCheck{Group: "modules", Name: m.Name, Status: checkPass})
		}

		for _, lib := range m.Libraries {
			if _, err := os.Stat(lib); err != nil {
				checks = append(checks, HealthCheck{Group: "libraries", Name: m.Name, Status: checkError,
					Detail: "missing " + lib})
			}
		}
	}
	return checks
}

func checkCycles(project *core.ProjectConfig) []HealthCheck {
	summary, err := dag.Summarize(project)
	if err != nil {
		return []HealthCheck{{Group: "dependencies", Name: "module graph", Status: checkError, Detail: err.Error()}}
	}
	cycles, err := dag.Cycles(project)
	if err != nil {
		return []HealthCheck{{Group: "dependencies", Name: "module graph", Status: checkError, Detail: err.Error()}}
	}

	detail := fmt.Sprintf("modules: %d, dependencies: %d, chunks: %d", summary.Modules, summary.Dependencies, summary.Chunks)
	if len(cycles) == 0 {
		detail = "acyclic, " + detail
	}
	checks := make([]HealthCheck, 0, len(cycles)+1)
	checks = append(checks, HealthCheck{Group: "dependencies", Name: "module graph", Status: checkPass, Detail: detail})
	for _, c := range cycles {
		checks = append(checks, HealthCheck{Group: "dependencies", Name: strings.Join(c, ", "), Status: checkWarn,
			Detail: "cyclic, compiled as one chunk"})
	}
	return checks
}

func renderDoctor(r *output.Renderer, out *DoctorOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	title := cases.Title(language.English)

	r.Header(1, "Doctor: "+out.Project)
	group := ""
	for _, c := range out.Checks {
		if c.Group != group {
			if group != "" {
				r.Println("")
			}
			group = c.Group
			r.Header(2, title.String(group))
		}
		r.StatusLine(c.Name, c.Status, c.Detail)
	}

	if out.State != nil {
		r.Println("")
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Sources", "Stale", "Classes", "Outputs", "Sessions"})
		t.AppendRow(table.Row{out.State.Sources, out.State.Stale, out.State.Classes, out.State.Outputs, out.State.Sessions})
		if r.EffectiveMode() == output.ModeMarkdown {
			r.Println(t.RenderMarkdown())
		} else {
			r.Println(t.Render())
		}
	}
	return nil
}
