// Package core defines the shared language of the jbuild system.
//
// This package contains:
//   - Domain entities (Module, Chunk, DirtyFiles, Diagnostic)
//   - Collaborator interfaces (MessageSink, DependencyGraph, OutputConsumer)
//   - Configuration types (ProjectConfig, CompilerConfig, Runtime)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
