package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/internal/dag"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// ChunksOptions holds options for the chunks command.
type ChunksOptions struct {
	Tests    bool
	Affected []string
}

// ChunksOutput is the JSON output of the chunks command.
type ChunksOutput struct {
	Levels   []ChunkLevel `json:"levels"`
	Cycles   [][]string   `json:"cycles"`
	Order    []string     `json:"order"`
	Affected []string     `json:"affected,omitempty"`
}

// ChunkLevel is one group of chunks that can build in parallel.
type ChunkLevel struct {
	Level  int         `json:"level"`
	Chunks []ChunkInfo `json:"chunks"`
}

// ChunkInfo describes one chunk.
type ChunkInfo struct {
	Name      string   `json:"name"`
	Modules   []string `json:"modules"`
	Tests     bool     `json:"tests"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// NewChunksCommand creates the chunks command.
func NewChunksCommand() *cobra.Command {
	opts := &ChunksOptions{}
	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "Show the build order of module chunks",
		Long: `Print the chunks the project builds in, level by level. A chunk is a
single module or a cycle of modules compiled together. Chunks of one level
only depend on chunks of earlier levels.`,
		Example: `  # Show chunk levels
  jbuild chunks

  # Which modules rebuild when core changes
  jbuild chunks --affected core`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChunks(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Tests, "tests", false, "Include test chunks")
	cmd.Flags().StringSliceVar(&opts.Affected, "affected", nil, "Also list modules affected by changes to these modules")
	return cmd
}

func runChunks(cmd *cobra.Command, opts *ChunksOptions) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	project, err := cc.Cfg.RequireProject()
	if err != nil {
		return err
	}

	out, err := describeChunks(project, opts)
	if err != nil {
		return err
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		chunksMarkdown(r, out)
	default:
		chunksText(r, out)
	}
	return nil
}

func describeChunks(project *core.ProjectConfig, opts *ChunksOptions) (ChunksOutput, error) {
	levels, err := dag.Plan(project, dag.PlanOptions{Tests: opts.Tests})
	if err != nil {
		return ChunksOutput{}, err
	}
	cycles, err := dag.Cycles(project)
	if err != nil {
		return ChunksOutput{}, err
	}
	summary, err := dag.Summarize(project)
	if err != nil {
		return ChunksOutput{}, err
	}
	out := ChunksOutput{Levels: make([]ChunkLevel, 0, len(levels)), Cycles: cycles, Order: summary.Order}
	if out.Cycles == nil {
		out.Cycles = [][]string{}
	}

	for i, level := range levels {
		cl := ChunkLevel{Level: i, Chunks: make([]ChunkInfo, 0, len(level))}
		for _, chunk := range level {
			info := ChunkInfo{Name: chunk.Name, Tests: chunk.Tests}
			deps := make(map[string]bool)
			for _, m := range chunk.Modules {
				info.Modules = append(info.Modules, m.Name)
				for _, d := range m.Dependencies {
					if !chunk.Contains(d) {
						deps[d] = true
					}
				}
			}
			for d := range deps {
				info.DependsOn = append(info.DependsOn, d)
			}
			sort.Strings(info.DependsOn)
			cl.Chunks = append(cl.Chunks, info)
		}
		out.Levels = append(out.Levels, cl)
	}

	if len(opts.Affected) > 0 {
		for _, name := range opts.Affected {
			if project.FindModule(name) == nil {
				return ChunksOutput{}, fmt.Errorf("unknown module %q", name)
			}
		}
		if out.Affected, err = dag.Affected(project, opts.Affected); err != nil {
			return ChunksOutput{}, err
		}
	}
	return out, nil
}

func chunksText(r *output.Renderer, out ChunksOutput) {
	styles := r.Styles()
	r.Header(1, "Build Order")

	total := 0
	for _, level := range out.Levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", level.Level)))
		for _, c := range level.Chunks {
			total++
			r.Printf("  %s\n", styles.Path.Render(c.Name))
			if len(c.Modules) > 1 {
				r.Printf("    %s %s\n", styles.Warning.Render("cycle:"), strings.Join(c.Modules, ", "))
			}
			if len(c.DependsOn) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(c.DependsOn, ", "))
			}
		}
		r.Println("")
	}
	r.Printf("%s %s\n", styles.Header2.Render("Sequential:"), strings.Join(out.Order, " -> "))
	if len(out.Affected) > 0 {
		r.Printf("%s %s\n", styles.Header2.Render("Affected:"), strings.Join(out.Affected, ", "))
	}
	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d chunks in %d levels, %d cycles", total, len(out.Levels), len(out.Cycles))))
}

func chunksMarkdown(r *output.Renderer, out ChunksOutput) {
	r.Println(output.FormatHeader(1, "Build Order"))
	r.Println("")

	total := 0
	for _, level := range out.Levels {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Level %d", level.Level)))
		for _, c := range level.Chunks {
			total++
			r.Printf("- %s\n", c.Name)
			if len(c.Modules) > 1 {
				r.Printf("  - cycle: %s\n", strings.Join(c.Modules, ", "))
			}
			if len(c.DependsOn) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(c.DependsOn, ", "))
			}
		}
		r.Println("")
	}

	if len(out.Affected) > 0 {
		r.Println(output.FormatHeader(2, "Affected"))
		for _, name := range out.Affected {
			r.Printf("- %s\n", name)
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Chunks", fmt.Sprint(total)))
	r.Println(output.FormatKeyValue("Levels", fmt.Sprint(len(out.Levels))))
	r.Println(output.FormatKeyValue("Cycles", fmt.Sprint(len(out.Cycles))))
	r.Println(output.FormatKeyValue("Sequential Order", strings.Join(out.Order, " -> ")))
}
