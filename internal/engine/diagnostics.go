package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/internal/output"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// chunkEvents receives everything a compilation emits for one chunk: it
// counts diagnostics, feeds outputs to the pipeline and forwards source
// facts to the dependency graph.
type chunkEvents struct {
	ctx      context.Context
	session  *Session
	pipeline *output.Pipeline
	logger   *slog.Logger

	mu         sync.Mutex
	errors     int
	warnings   int
	errorFiles map[string]bool
}

func newChunkEvents(ctx context.Context, s *Session, p *output.Pipeline, logger *slog.Logger) *chunkEvents {
	return &chunkEvents{ctx: ctx, session: s, pipeline: p, logger: logger, errorFiles: make(map[string]bool)}
}

func (e *chunkEvents) Diagnostic(d core.Diagnostic) {
	e.mu.Lock()
	switch d.Severity {
	case core.SeverityError:
		e.errors++
		if d.Source != "" {
			e.errorFiles[d.Source] = true
		}
	case core.SeverityWarning:
		e.warnings++
	}
	e.mu.Unlock()

	d.BuilderID = core.BuilderID
	e.session.report(d)
}

func (e *chunkEvents) Output(o javac.Output) {
	kind := output.KindClass
	if o.Resource {
		kind = output.KindResource
	}
	obj := output.NewObject(o.OutputRoot, o.RelativePath, kind, o.ClassName, o.Sources)
	if o.Content != nil {
		if err := obj.Seal(o.Content); err != nil {
			e.logger.Warn("duplicate output content", "path", obj.Path, "error", err)
		}
	}
	e.pipeline.Save(obj)
}

func (e *chunkEvents) FileData(f core.FileData) {
	if e.session.graph == nil {
		return
	}
	if err := e.session.graph.RegisterFileData(e.ctx, f); err != nil {
		e.logger.Warn("registering source facts failed", "source", f.Path, "error", err)
	}
}

func (e *chunkEvents) counts() (errors, warnings int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errors, e.warnings
}

func (e *chunkEvents) filesWithErrors() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.errorFiles))
	for f := range e.errorFiles {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
