package dag

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// ModuleGraph builds the dependency graph of the project's modules. Node
// data is the *core.Module.
func ModuleGraph(project *core.ProjectConfig) (*Graph, error) {
	g := NewGraph()
	for _, m := range project.Modules {
		if _, dup := g.GetNode(m.Name); dup {
			return nil, fmt.Errorf("duplicate module %q", m.Name)
		}
		g.AddNode(m.Name, m)
	}
	for _, m := range project.Modules {
		for _, dep := range m.Dependencies {
			if dep == m.Name {
				continue
			}
			if _, ok := g.GetNode(dep); !ok {
				return nil, fmt.Errorf("module %q depends on unknown module %q", m.Name, dep)
			}
			if err := g.AddEdge(dep, m.Name); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// PlanOptions restricts a build plan.
type PlanOptions struct {
	// Only limits the plan to these modules and their dependencies.
	Only []string
	// Tests appends test chunks after all production chunks.
	Tests bool
}

// Plan groups the project's modules into chunks (one per dependency
// cycle) and orders them in levels. Chunks of one level do not depend on
// each other.
func Plan(project *core.ProjectConfig, opts PlanOptions) ([][]*core.Chunk, error) {
	g, err := ModuleGraph(project)
	if err != nil {
		return nil, err
	}
	if len(opts.Only) > 0 {
		keep := slices.Clone(opts.Only)
		for _, name := range opts.Only {
			if _, ok := g.GetNode(name); !ok {
				return nil, fmt.Errorf("unknown module %q", name)
			}
			keep = append(keep, g.GetUpstreamNodes(name)...)
		}
		g = g.Subgraph(keep)
	}

	condensed, _ := g.Condense()
	ids, err := condensed.GetExecutionLevels()
	if err != nil {
		return nil, err
	}

	levels := chunkLevels(g, condensed, ids, false)
	if opts.Tests {
		levels = append(levels, chunkLevels(g, condensed, ids, true)...)
	}
	return levels, nil
}

func chunkLevels(g, condensed *Graph, ids [][]string, tests bool) [][]*core.Chunk {
	var levels [][]*core.Chunk
	for _, level := range ids {
		var chunks []*core.Chunk
		for _, id := range level {
			node, _ := condensed.GetNode(id)
			var modules []*core.Module
			for _, name := range node.Data.([]string) {
				n, _ := g.GetNode(name)
				m := n.Data.(*core.Module)
				if tests && len(m.TestSourceRoots) == 0 {
					continue
				}
				modules = append(modules, m)
			}
			if len(modules) > 0 {
				chunks = append(chunks, core.NewChunk(tests, modules...))
			}
		}
		if len(chunks) > 0 {
			levels = append(levels, chunks)
		}
	}
	return levels
}

// Cycles returns the module cycles of the project, each sorted.
func Cycles(project *core.ProjectConfig) ([][]string, error) {
	g, err := ModuleGraph(project)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, comp := range g.StronglyConnected() {
		if len(comp) > 1 {
			out = append(out, comp)
		}
	}
	return out, nil
}

// Affected returns the modules that must be rebuilt when the given ones change.
func Affected(project *core.ProjectConfig, changed []string) ([]string, error) {
	g, err := ModuleGraph(project)
	if err != nil {
		return nil, err
	}
	return g.GetAffectedNodes(changed), nil
}

// Summary describes the shape of the module graph.
type Summary struct {
	Modules      int `json:"modules"`
	Dependencies int `json:"dependencies"`
	Chunks       int `json:"chunks"`
	// Order is one sequential build order of the production chunks.
	Order []string `json:"order"`
}

// Summarize counts modules, dependency edges and chunks, and orders the
// chunks topologically.
func Summarize(project *core.ProjectConfig) (Summary, error) {
	g, err := ModuleGraph(project)
	if err != nil {
		return Summary{}, err
	}
	condensed, _ := g.Condense()
	sorted, err := condensed.TopologicalSort()
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		Modules:      g.NodeCount(),
		Dependencies: g.EdgeCount(),
		Chunks:       condensed.NodeCount(),
		Order:        make([]string, 0, len(sorted)),
	}
	for _, n := range sorted {
		s.Order = append(s.Order, strings.Join(n.Data.([]string), ","))
	}
	return s, nil
}
