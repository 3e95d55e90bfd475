package core

import (
	"path/filepath"
	"sort"
	"strings"
)

// =============================================================================
// Chunk
// =============================================================================

// Chunk is a set of modules compiled together because of a dependency cycle.
type Chunk struct {
	Name    string
	Modules []*Module
	Tests   bool
}

// NewChunk builds a chunk named after its sorted module names.
func NewChunk(tests bool, modules ...*Module) *Chunk {
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	name := strings.Join(names, ",")
	if tests {
		name += " (tests)"
	}
	return &Chunk{Name: name, Modules: modules, Tests: tests}
}

// OutputDir returns the output root of m for this chunk's compilation kind.
func (c *Chunk) OutputDir(m *Module) string {
	if c.Tests && m.TestOutputDir != "" {
		return m.TestOutputDir
	}
	return m.OutputDir
}

// SourceRoots returns the source roots of m for this chunk's compilation kind.
func (c *Chunk) SourceRoots(m *Module) []string {
	if c.Tests {
		return m.TestSourceRoots
	}
	return m.SourceRoots
}

// OutputDirs returns the output root of every module, in module order.
func (c *Chunk) OutputDirs() []string {
	dirs := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		if d := c.OutputDir(m); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Contains reports whether a module with the given name is part of the chunk.
func (c *Chunk) Contains(name string) bool {
	for _, m := range c.Modules {
		if m.Name == name {
			return true
		}
	}
	return false
}

// ModuleFor returns the module whose source roots contain path.
func (c *Chunk) ModuleFor(path string) *Module {
	for _, m := range c.Modules {
		for _, root := range c.SourceRoots(m) {
			if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
				return m
			}
		}
	}
	return nil
}

// GraphKey is the name the dependency graph stores outputs of this chunk under.
func (c *Chunk) GraphKey() string {
	return "$" + strings.ReplaceAll(c.Name, " ", "-")
}

// =============================================================================
// DirtyFiles
// =============================================================================

// DirtyFiles is the set of sources that need recompilation in this pass.
type DirtyFiles struct {
	Files           []string
	Removed         []string
	HasRemovedFiles bool
}

// JavaFiles returns the dirty files with a .java extension.
func (d DirtyFiles) JavaFiles() []string {
	var out []string
	for _, f := range d.Files {
		if strings.HasSuffix(f, ".java") {
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// ExitCode
// =============================================================================

// ExitCode tells the driver whether more build passes are needed.
type ExitCode int

// Exit codes returned by a chunk build.
const (
	NothingDone ExitCode = iota
	OK
	AdditionalPassRequired
)

// String returns the string representation of the exit code.
func (e ExitCode) String() string {
	switch e {
	case NothingDone:
		return "nothing_done"
	case OK:
		return "ok"
	case AdditionalPassRequired:
		return "additional_pass_required"
	default:
		return "unknown"
	}
}
