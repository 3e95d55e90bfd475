package engine

import "fmt"

// StopKind classifies why a chunk build stopped.
type StopKind int

const (
	// StopConfiguration means the chunk cannot be compiled as configured.
	StopConfiguration StopKind = iota
	// StopCompilation means the compiler reported errors.
	StopCompilation
)

func (k StopKind) String() string {
	switch k {
	case StopConfiguration:
		return "configuration"
	case StopCompilation:
		return "compilation"
	default:
		return "unknown"
	}
}

// StopBuildError aborts the build. The diagnostics explaining it have
// already been reported.
type StopBuildError struct {
	Kind     StopKind
	Chunk    string
	Message  string
	Errors   int
	Warnings int
}

func (e *StopBuildError) Error() string {
	if e.Kind == StopCompilation {
		return fmt.Sprintf("compilation failed: errors: %d; warnings: %d", e.Errors, e.Warnings)
	}
	return e.Message
}
