package core

import "context"

// ConstantRef is a use of an inlinable constant field.
type ConstantRef struct {
	Owner      string `json:"owner" cbor:"owner"`
	Field      string `json:"field" cbor:"field"`
	Descriptor string `json:"descriptor" cbor:"descriptor"`
}

// FileData carries import facts that cannot be recovered from class files.
type FileData struct {
	Path          string        `json:"path" cbor:"path"`
	Imports       []string      `json:"imports,omitempty" cbor:"imports,omitempty"`
	StaticImports []string      `json:"static_imports,omitempty" cbor:"static_imports,omitempty"`
	Constants     []ConstantRef `json:"constants,omitempty" cbor:"constants,omitempty"`
}

// CompiledClass is a class written to disk during a flush.
type CompiledClass struct {
	OutputRoot string
	Path       string
	ClassName  string
	Sources    []string
	Content    []byte
}

// OutputFile is any file written to disk during a flush.
type OutputFile struct {
	OutputRoot   string
	RelativePath string
	Path         string
	Sources      []string
}

// ChunkResult summarizes one chunk compilation for the dependency graph.
type ChunkResult struct {
	Chunk       string
	Compiled    []string
	Dirty       []string
	Removed     []string
	ErrorFiles  []string
	OutputFiles []OutputFile
}

// DependencyGraph is the incremental rebuild collaborator.
type DependencyGraph interface {
	// Associate records a compiled class and the sources it came from.
	Associate(ctx context.Context, class CompiledClass) error
	// RegisterFileData records import and constant usage of one source.
	RegisterFileData(ctx context.Context, data FileData) error
	// ChunkCompiled closes a chunk compilation and reports whether the
	// driver must run another pass.
	ChunkCompiled(ctx context.Context, result ChunkResult) (bool, error)
}

// OutputConsumer receives every output file the driver has to track.
type OutputConsumer interface {
	RegisterOutput(ctx context.Context, file OutputFile) error
}
