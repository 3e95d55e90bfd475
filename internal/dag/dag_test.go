package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

func graphOf(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, n := range nodes {
		g.AddNode(n, nil)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestGraph_AddEdge(t *testing.T) {
	g := graphOf(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"a", "b"}, {"b", "c"}})
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, []string{"a", "b"}, g.GetUpstreamNodes("c"))
	assert.Equal(t, []string{"b", "c"}, g.GetAffectedNodes([]string{"b"}))

	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
	assert.Error(t, g.AddEdge("a", "a"))

	g.AddNode("a", "data")
	n, ok := g.GetNode("a")
	require.True(t, ok)
	assert.Equal(t, "data", n.Data)
	assert.Equal(t, 2, g.EdgeCount(), "re-adding keeps edges")
}

func TestGraph_HasCycle(t *testing.T) {
	acyclic := graphOf(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})
	has, path := acyclic.HasCycle()
	assert.False(t, has)
	assert.Nil(t, path)

	cyclic := graphOf(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	has, path = cyclic.HasCycle()
	assert.True(t, has)
	assert.NotEmpty(t, path)

	_, err := cyclic.TopologicalSort()
	assert.Error(t, err)
	_, err = cyclic.GetExecutionLevels()
	assert.Error(t, err)
}

func TestGraph_StronglyConnected(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  [][]string
	}{
		{name: "empty", want: nil},
		{name: "chain", nodes: []string{"c", "b", "a"}, edges: [][2]string{{"a", "b"}, {"b", "c"}}, want: [][]string{{"a"}, {"b"}, {"c"}}},
		{
			name:  "two cycles",
			nodes: []string{"a", "b", "c", "d", "e"},
			edges: [][2]string{{"a", "b"}, {"b", "a"}, {"b", "c"}, {"c", "d"}, {"d", "e"}, {"e", "c"}},
			want:  [][]string{{"a", "b"}, {"c", "d", "e"}},
		},
		{
			name:  "nested loops",
			nodes: []string{"x", "y", "z"},
			edges: [][2]string{{"x", "y"}, {"y", "z"}, {"z", "x"}, {"y", "x"}},
			want:  [][]string{{"x", "y", "z"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graphOf(t, tt.nodes, tt.edges)
			assert.Equal(t, tt.want, g.StronglyConnected())
		})
	}
}

func TestGraph_Condense(t *testing.T) {
	g := graphOf(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "b"}, {"c", "d"}})

	condensed, members := g.Condense()
	assert.Equal(t, 3, condensed.NodeCount())
	assert.Equal(t, map[string]string{"a": "a", "b": "b", "c": "b", "d": "d"}, members)

	n, ok := condensed.GetNode("b")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "c"}, n.Data)

	has, _ := condensed.HasCycle()
	assert.False(t, has)
	levels, err := condensed.GetExecutionLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"d"}}, levels)
}

func TestGraph_TopologicalSort(t *testing.T) {
	g := graphOf(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})

	sorted, err := g.TopologicalSort()
	require.NoError(t, err)
	ids := make([]string, len(sorted))
	for i, n := range sorted {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)

	levels, err := g.GetExecutionLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)

	empty, err := NewGraph().GetExecutionLevels()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGraph_AffectedAndUpstream(t *testing.T) {
	g := graphOf(t, []string{"a", "b", "c", "d", "e"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "b"}, {"d", "e"}})

	assert.Equal(t, []string{"a", "b", "c"}, g.GetAffectedNodes([]string{"a", "missing"}))
	assert.Equal(t, []string{"d", "e"}, g.GetAffectedNodes([]string{"d"}))
	assert.Equal(t, []string{"a", "b"}, g.GetUpstreamNodes("c"))
	assert.Empty(t, g.GetUpstreamNodes("a"))

	sub := g.Subgraph([]string{"a", "b", "missing"})
	assert.Equal(t, 2, sub.NodeCount())
	assert.Equal(t, 1, sub.EdgeCount())
}

func module(name string, deps ...string) *core.Module {
	return &core.Module{Name: name, Dependencies: deps, SourceRoots: []string{"/src/" + name}}
}

func chunkNames(levels [][]*core.Chunk) [][]string {
	out := make([][]string, len(levels))
	for i, level := range levels {
		for _, c := range level {
			out[i] = append(out[i], c.Name)
		}
	}
	return out
}

func TestPlan(t *testing.T) {
	base := module("core")
	util := module("util", "core", "util")
	api := module("api", "util", "impl")
	impl := module("impl", "api")
	app := module("app", "impl", "core")
	app.TestSourceRoots = []string{"/test/app"}
	util.TestSourceRoots = []string{"/test/util"}
	project := &core.ProjectConfig{Modules: []*core.Module{app, api, impl, util, base}}

	tests := []struct {
		name string
		opts PlanOptions
		want [][]string
	}{
		{
			name: "all modules",
			want: [][]string{{"core"}, {"util"}, {"api,impl"}, {"app"}},
		},
		{
			name: "with tests",
			opts: PlanOptions{Tests: true},
			want: [][]string{{"core"}, {"util"}, {"api,impl"}, {"app"}, {"util (tests)"}, {"app (tests)"}},
		},
		{
			name: "only a module and its dependencies",
			opts: PlanOptions{Only: []string{"impl"}},
			want: [][]string{{"core"}, {"util"}, {"api,impl"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := Plan(project, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, chunkNames(levels))
		})
	}

	levels, err := Plan(project, PlanOptions{})
	require.NoError(t, err)
	cycle := levels[2][0]
	assert.Equal(t, []*core.Module{api, impl}, cycle.Modules)
	assert.False(t, cycle.Tests)
}

func TestPlan_Errors(t *testing.T) {
	_, err := Plan(&core.ProjectConfig{Modules: []*core.Module{module("a", "ghost")}}, PlanOptions{})
	assert.EqualError(t, err, `module "a" depends on unknown module "ghost"`)

	_, err = Plan(&core.ProjectConfig{Modules: []*core.Module{module("a"), module("a")}}, PlanOptions{})
	assert.EqualError(t, err, `duplicate module "a"`)

	_, err = Plan(&core.ProjectConfig{Modules: []*core.Module{module("a")}}, PlanOptions{Only: []string{"b"}})
	assert.EqualError(t, err, `unknown module "b"`)
}

func TestCyclesAndAffected(t *testing.T) {
	project := &core.ProjectConfig{Modules: []*core.Module{
		module("a"), module("b", "a", "c"), module("c", "b"), module("d", "c"),
	}}

	cycles, err := Cycles(project)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b", "c"}}, cycles)

	affected, err := Affected(project, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, affected)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		modules []*core.Module
		want    Summary
	}{
		{
			name:    "cycle is one chunk",
			modules: []*core.Module{module("a"), module("b", "a", "c"), module("c", "b"), module("d", "c")},
			want:    Summary{Modules: 4, Dependencies: 4, Chunks: 3, Order: []string{"a", "b,c", "d"}},
		},
		{
			name:    "independent modules",
			modules: []*core.Module{module("web", "core"), module("core"), module("cli", "core")},
			want:    Summary{Modules: 3, Dependencies: 2, Chunks: 3, Order: []string{"core", "cli", "web"}},
		},
		{
			name: "empty",
			want: Summary{Order: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Summarize(&core.ProjectConfig{Modules: tt.modules})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Summarize(&core.ProjectConfig{Modules: []*core.Module{module("a", "ghost")}})
	assert.Error(t, err)
}
