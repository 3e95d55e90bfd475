package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/internal/dag"
	"github.com/leapstack-labs/jbuild/internal/engine"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// LayoutOutput is the JSON output of the layout command.
type LayoutOutput struct {
	Chunk      string        `json:"chunk"`
	Descriptor string        `json:"descriptor,omitempty"`
	ModulePath []LayoutEntry `json:"module_path"`
	Classpath  []string      `json:"classpath"`
	Platform   []string      `json:"platform,omitempty"`
}

// LayoutEntry is one module path element.
type LayoutEntry struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// NewLayoutCommand creates the layout command.
func NewLayoutCommand() *cobra.Command {
	var tests bool
	cmd := &cobra.Command{
		Use:   "layout <module>",
		Short: "Show how a module's dependencies are split between module path and classpath",
		Long: `Print the module path and classpath javac would receive for the chunk
of a module. Modules with a module-info.java get their required modules on
the module path; everything else stays on the classpath.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd, args[0], tests)
		},
	}
	cmd.Flags().BoolVar(&tests, "tests", false, "Use the module's test chunk")
	return cmd
}

func runLayout(cmd *cobra.Command, module string, tests bool) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	project, err := cc.Cfg.RequireProject()
	if err != nil {
		return err
	}
	chunk, err := chunkOf(project, module, tests)
	if err != nil {
		return err
	}

	session, err := engine.NewSession(engine.Config{
		Project:  project,
		Messages: output.NewReporter(cc.Renderer, cc.Cfg.Verbose),
		Logger:   cc.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	layout, err := session.Layout(chunk)
	if err != nil {
		return err
	}

	out := LayoutOutput{
		Chunk:      chunk.Name,
		Descriptor: layout.Descriptor,
		ModulePath: make([]LayoutEntry, 0, len(layout.ModulePath.Entries)),
		Classpath:  layout.Classpath,
		Platform:   layout.Platform,
	}
	for _, e := range layout.ModulePath.Entries {
		out.ModulePath = append(out.ModulePath, LayoutEntry{Path: e.Path, Name: e.Name})
	}
	if out.Classpath == nil {
		out.Classpath = []string{}
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	renderLayout(r, out)
	return nil
}

// chunkOf returns the chunk that compiles module.
func chunkOf(project *core.ProjectConfig, module string, tests bool) (*core.Chunk, error) {
	levels, err := dag.Plan(project, dag.PlanOptions{Only: []string{module}, Tests: tests})
	if err != nil {
		return nil, err
	}
	for _, level := range levels {
		for _, chunk := range level {
			if chunk.Tests == tests && chunk.Contains(module) {
				return chunk, nil
			}
		}
	}
	return nil, fmt.Errorf("module %q has no test sources", module)
}

func renderLayout(r *output.Renderer, out LayoutOutput) {
	md := r.EffectiveMode() == output.ModeMarkdown
	styles := r.Styles()
	r.Header(1, out.Chunk)

	section := func(title string) {
		if md {
			r.Println(output.FormatHeader(2, title))
			return
		}
		r.Println(styles.Header2.Render(title + ":"))
	}
	item := func(s string) {
		if md {
			r.Printf("- %s\n", s)
			return
		}
		r.Printf("  %s\n", s)
	}

	if out.Descriptor != "" {
		if md {
			r.Println(output.FormatKeyValue("Descriptor", out.Descriptor))
		} else {
			r.Printf("%s %s\n", styles.Muted.Render("descriptor:"), styles.Path.Render(out.Descriptor))
		}
		section("Module path")
		for _, e := range out.ModulePath {
			if e.Name != "" {
				item(fmt.Sprintf("%s (%s)", e.Path, e.Name))
			} else {
				item(e.Path)
			}
		}
	}
	section("Classpath")
	for _, p := range out.Classpath {
		item(p)
	}
	if len(out.Platform) > 0 {
		section("Platform")
		for _, p := range out.Platform {
			item(p)
		}
	}
}
