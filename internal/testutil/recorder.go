package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Messages records everything a builder reports. Safe for concurrent use.
type Messages struct {
	mu          sync.Mutex
	diagnostics []core.Diagnostic
	progress    []string
	generated   [][]core.GeneratedFile
}

// Report implements core.MessageSink.
func (m *Messages) Report(d core.Diagnostic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnostics = append(m.diagnostics, d)
}

// Progress implements core.MessageSink.
func (m *Messages) Progress(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, msg)
}

// FilesGenerated implements core.MessageSink.
func (m *Messages) FilesGenerated(files []core.GeneratedFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generated = append(m.generated, slices.Clone(files))
}

// Diagnostics returns all reported diagnostics.
func (m *Messages) Diagnostics() []core.Diagnostic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.diagnostics)
}

// BySeverity returns the diagnostics of one severity.
func (m *Messages) BySeverity(sev core.Severity) []core.Diagnostic {
	var out []core.Diagnostic
	for _, d := range m.Diagnostics() {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// ProgressLines returns all progress messages.
func (m *Messages) ProgressLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.progress)
}

// Generated returns every FilesGenerated batch.
func (m *Messages) Generated() [][]core.GeneratedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.generated)
}

// Graph is an in-memory core.DependencyGraph and core.OutputConsumer.
type Graph struct {
	// AssociateErr is returned from every Associate call when set.
	AssociateErr error
	// AdditionalPass is returned from ChunkCompiled.
	AdditionalPass bool

	mu      sync.Mutex
	classes []core.CompiledClass
	files   []core.FileData
	outputs []core.OutputFile
	results []core.ChunkResult
}

// Associate implements core.DependencyGraph.
func (g *Graph) Associate(_ context.Context, class core.CompiledClass) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AssociateErr != nil {
		return g.AssociateErr
	}
	g.classes = append(g.classes, class)
	return nil
}

// RegisterFileData implements core.DependencyGraph.
func (g *Graph) RegisterFileData(_ context.Context, data core.FileData) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = append(g.files, data)
	return nil
}

// ChunkCompiled implements core.DependencyGraph.
func (g *Graph) ChunkCompiled(_ context.Context, result core.ChunkResult) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results = append(g.results, result)
	return g.AdditionalPass, nil
}

// RegisterOutput implements core.OutputConsumer.
func (g *Graph) RegisterOutput(_ context.Context, file core.OutputFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outputs = append(g.outputs, file)
	return nil
}

// Classes returns the associated classes.
func (g *Graph) Classes() []core.CompiledClass {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.classes)
}

// FileData returns the registered file facts.
func (g *Graph) FileData() []core.FileData {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.files)
}

// Outputs returns the registered outputs.
func (g *Graph) Outputs() []core.OutputFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.outputs)
}

// Results returns the chunk results.
func (g *Graph) Results() []core.ChunkResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.results)
}
