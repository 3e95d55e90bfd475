package output

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Sink indexes processed objects and writes them to disk on Flush.
type Sink struct {
	messages core.MessageSink
	graph    core.DependencyGraph
	outputs  core.OutputConsumer
	logger   *slog.Logger

	mu          sync.Mutex
	byClass     map[string]*Object
	pending     []*Object
	problematic map[string]bool
	compiled    map[string]bool
	written     []core.OutputFile
}

// SinkConfig holds the collaborators of a Sink. Graph and Outputs may be nil.
type SinkConfig struct {
	Messages core.MessageSink
	Graph    core.DependencyGraph
	Outputs  core.OutputConsumer
	Logger   *slog.Logger
}

// NewSink creates an empty sink.
func NewSink(cfg SinkConfig) *Sink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{
		messages:    cfg.Messages,
		graph:       cfg.Graph,
		outputs:     cfg.Outputs,
		logger:      logger,
		byClass:     make(map[string]*Object),
		problematic: make(map[string]bool),
		compiled:    make(map[string]bool),
	}
}

// Save queues obj for the next flush.
func (s *Sink) Save(obj *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj.Kind == KindClass && obj.ClassName != "" {
		s.byClass[obj.ClassName] = obj
	}
	s.pending = append(s.pending, obj)
}

// Lookup returns the current bytes of a class saved in this round.
func (s *Sink) Lookup(className string) ([]byte, bool) {
	s.mu.Lock()
	obj, ok := s.byClass[className]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	content := obj.Content()
	return content, content != nil
}

// MarkProblematic keeps source out of the compiled set.
func (s *Sink) MarkProblematic(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problematic[source] = true
	delete(s.compiled, source)
}

// Report forwards d to the driver.
func (s *Sink) Report(d core.Diagnostic) {
	if s.messages != nil {
		s.messages.Report(d)
	}
}

// Abandon ends obj Problematic without writing it. Its sources are kept
// from being recorded as compiled.
func (s *Sink) Abandon(obj *Object) {
	s.mu.Lock()
	for _, src := range obj.Sources {
		s.problematic[src] = true
	}
	s.mu.Unlock()
	s.finish(obj, StateProblematic)
}

// AbandonPending abandons every saved object not flushed yet.
func (s *Sink) AbandonPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, obj := range pending {
		s.Abandon(obj)
	}
	if len(pending) > 0 {
		s.logger.Debug("abandoned outputs", "pending", len(pending))
	}
}

// Flush writes every pending object, registers the results with the driver
// and emits one FilesGenerated batch.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var generated []core.GeneratedFile
	for _, obj := range pending {
		if s.flushOne(ctx, obj) {
			generated = append(generated, core.GeneratedFile{
				OutputRoot:   obj.OutputRoot,
				RelativePath: obj.RelativePath,
			})
		}
	}

	s.logger.Debug("flushed outputs", "pending", len(pending), "written", len(generated))
	if len(generated) > 0 && s.messages != nil {
		s.messages.FilesGenerated(generated)
	}
}

func (s *Sink) flushOne(ctx context.Context, obj *Object) bool {
	content := obj.Content()
	if content == nil {
		s.reportAll(obj, core.NewDiagnostic(core.SeverityWarning, "missing content for file %s", obj.Path))
		s.finish(obj, StateProblematic)
		return false
	}

	if err := writeFile(obj.Path, content); err != nil {
		s.reportAll(obj, core.NewDiagnostic(core.SeverityError, "failed to write %s: %v", obj.Path, err))
		s.finish(obj, StateProblematic)
		return false
	}

	file := core.OutputFile{
		OutputRoot:   obj.OutputRoot,
		RelativePath: obj.RelativePath,
		Path:         obj.Path,
		Sources:      obj.Sources,
	}
	if s.outputs != nil {
		if err := s.outputs.RegisterOutput(ctx, file); err != nil {
			s.logger.Warn("output registration failed", "path", obj.Path, "error", err)
		}
	}
	if obj.Kind == KindClass && s.graph != nil {
		err := s.graph.Associate(ctx, core.CompiledClass{
			OutputRoot: obj.OutputRoot,
			Path:       obj.Path,
			ClassName:  obj.ClassName,
			Sources:    obj.Sources,
			Content:    content,
		})
		if err != nil {
			s.reportAll(obj, core.NewDiagnostic(core.SeverityWarning,
				"class dependency information may be incomplete for %s: %v", obj.Path, err))
		}
	}

	s.mu.Lock()
	s.written = append(s.written, file)
	state := StateCompiled
	for _, src := range obj.Sources {
		if s.problematic[src] {
			state = StateProblematic
			continue
		}
		s.compiled[src] = true
	}
	s.mu.Unlock()

	s.finish(obj, state)
	return true
}

func (s *Sink) finish(obj *Object, state State) {
	obj.finish(state)
	s.mu.Lock()
	if cur, ok := s.byClass[obj.ClassName]; ok && cur == obj {
		delete(s.byClass, obj.ClassName)
	}
	s.mu.Unlock()
}

func (s *Sink) reportAll(obj *Object, d core.Diagnostic) {
	if len(obj.Sources) == 0 {
		s.Report(d)
		return
	}
	for _, src := range obj.Sources {
		s.Report(d.WithSource(src))
	}
}

// CompiledSources returns the sources recorded as successfully compiled.
func (s *Sink) CompiledSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.compiled))
	for src := range s.compiled {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}

// ProblematicSources returns the sources marked problematic.
func (s *Sink) ProblematicSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.problematic))
	for src := range s.problematic {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}

// Written returns every file written so far.
func (s *Sink) Written() []core.OutputFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.written)
}

// writeFile writes data, creating parent directories on the first miss.
func writeFile(path string, data []byte) error {
	err := os.WriteFile(path, data, 0o644)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
