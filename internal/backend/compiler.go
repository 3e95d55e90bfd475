// Package backend runs javac either in this process's toolchain or in an
// out-of-process compile server, and decides which one a chunk needs.
package backend

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/jbuild/internal/javac"
)

// Request is everything one compilation needs.
type Request struct {
	Options           []string
	VMOptions         []string
	Sources           []string
	Classpath         []string
	PlatformClasspath []string
	ModulePath        []string
	UpgradeModulePath []string
	SourcePath        []string
	OutputMap         map[string][]string

	// Events receives diagnostics, outputs and source facts.
	Events javac.Events
	// Cancel is polled while an external compilation runs.
	Cancel func() bool
}

func (r *Request) javac() *javac.Request {
	return &javac.Request{
		Options:           r.Options,
		VMOptions:         r.VMOptions,
		Sources:           r.Sources,
		Classpath:         r.Classpath,
		PlatformClasspath: r.PlatformClasspath,
		ModulePath:        r.ModulePath,
		UpgradeModulePath: r.UpgradeModulePath,
		SourcePath:        r.SourcePath,
		OutputMap:         r.OutputMap,
	}
}

// Compiler runs one compilation. The boolean is the compiler's verdict;
// an error is always an *InfraError.
type Compiler interface {
	Compile(ctx context.Context, req *Request) (bool, error)
	// Version is the feature release of the compiler.
	Version() int
	// Description names the compiler in usage statistics.
	Description() string
}

// Embedded compiles with the host toolchain.
type Embedded struct {
	Toolchain *javac.Toolchain
	Release   int
}

// Compile runs javac to completion. Cancellation is not observed once the
// compiler has started.
func (e *Embedded) Compile(ctx context.Context, req *Request) (bool, error) {
	ok, err := e.Toolchain.Compile(context.WithoutCancel(ctx), req.javac(), req.Events)
	if err != nil {
		return false, &InfraError{Op: "javac", Err: err}
	}
	return ok, nil
}

// Version implements Compiler.
func (e *Embedded) Version() int { return e.Release }

// Description implements Compiler.
func (e *Embedded) Description() string {
	return fmt.Sprintf("javac %d (in-process)", e.Release)
}
