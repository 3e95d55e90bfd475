package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/internal/classpath"
	"github.com/leapstack-labs/jbuild/internal/instrument"
	"github.com/leapstack-labs/jbuild/internal/output"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Builder compiles chunks of a session.
type Builder struct {
	s *Session
}

// NewBuilder returns a builder bound to the session.
func NewBuilder(s *Session) *Builder {
	return &Builder{s: s}
}

// paths is the classpath layout of one compilation.
type paths struct {
	classpath  []string
	platform   []string
	modulePath []string
	upgrade    []string
}

// round is the state of one chunk build the dependency graph hears about.
type round struct {
	files   []string
	removed []string
	sink    *output.Sink
	events  *chunkEvents
}

// Build compiles the dirty Java sources of chunk. Every output is
// post-processed and written before it returns, and the dependency graph
// is told about the result even when compilation fails.
func (b *Builder) Build(ctx context.Context, chunk *core.Chunk, dirty core.DirtyFiles, consumer core.OutputConsumer) (code core.ExitCode, err error) {
	files := dirty.JavaFiles()
	if len(files) == 0 && !dirty.HasRemovedFiles {
		return core.NothingDone, nil
	}
	logger := b.s.logger.With("chunk", chunk.Name)

	if err := b.s.validateChunk(chunk); err != nil {
		return core.NothingDone, err
	}
	ci := b.s.describeChunk(chunk)
	descriptor, err := b.s.findModuleInfo(ci)
	if err != nil {
		return core.NothingDone, err
	}

	r := &round{files: files, removed: dirty.Removed}
	defer func() {
		code, err = b.finish(ctx, chunk, r, code, err)
	}()

	if len(files) == 0 {
		return core.NothingDone, nil
	}

	logger.Info("compiling java files", "files", len(files), "tests", chunk.Tests)
	b.s.messages.Progress(fmt.Sprintf("Compiling %d java files in %s", len(files), chunk.Name))
	return b.compile(ctx, ci, files, descriptor, consumer, r, logger)
}

func (b *Builder) compile(ctx context.Context, ci chunkInfo, files []string, descriptor string, consumer core.OutputConsumer, r *round, logger *slog.Logger) (core.ExitCode, error) {
	chunk := ci.chunk
	pl := b.s.chunkPaths(ci)

	sink := output.NewSink(output.SinkConfig{
		Messages: b.s.messages,
		Graph:    b.s.graph,
		Outputs:  consumer,
		Logger:   logger,
	})
	resolver := classpath.New(pl.platform, append(slices.Clone(chunk.OutputDirs()), pl.classpath...),
		classpath.WithBefore(sink.Lookup),
		classpath.WithLogger(logger),
	)
	inst := b.s.project.Instrumentation
	local := output.Chain{instrument.New(instrument.Config{
		Enabled:     inst.NotNull,
		Annotations: inst.NotNullAnnotations,
		Exception:   inst.ExceptionClass,
		Logger:      logger,
	}, resolver)}
	pipe := output.NewPipeline(sink, b.s.chain.Join(local...), output.WithLogger(logger))
	events := newChunkEvents(ctx, b.s, pipe, logger)
	r.sink, r.events = sink, events

	compiler, err := b.s.backends.Select(ctx, ci.sdk, ci.targetLanguageLevel())
	var ok bool
	switch {
	case errors.Is(err, backend.ErrUnknownJDKHome):
		events.Diagnostic(core.NewDiagnostic(core.SeverityError, "cannot start javac process for %s: unknown JDK home", chunk.Name))
		err = nil
	case err == nil:
		ok, err = b.invoke(ctx, compiler, ci, files, descriptor, pl, events, logger)
	}

	closeErr := pipe.Close(ctx)
	if derr := local.Dispose(); derr != nil {
		logger.Debug("releasing class resolver failed", "error", derr)
	}
	if err != nil {
		return core.NothingDone, err
	}
	if closeErr != nil {
		return core.NothingDone, fmt.Errorf("writing outputs of %s: %w", chunk.Name, closeErr)
	}

	errCount, warnCount := events.counts()
	if !ok && errCount == 0 {
		events.Diagnostic(core.NewDiagnostic(core.SeverityError, "Compilation failed: internal java compiler error"))
		errCount++
	}
	logger.Debug("compilation finished", "ok", ok, "errors", errCount, "warnings", warnCount)
	if errCount > 0 && !b.s.project.Compiler.ProceedOnError {
		return core.OK, &StopBuildError{Kind: StopCompilation, Chunk: chunk.Name, Errors: errCount, Warnings: warnCount}
	}
	return core.OK, nil
}

// invoke computes options and runs the compiler. With -proc:only it runs
// the processors first and then compiles the sources they generated
// together with the originals, without processing options.
func (b *Builder) invoke(ctx context.Context, compiler backend.Compiler, ci chunkInfo, files []string, descriptor string, pl paths, events *chunkEvents, logger *slog.Logger) (bool, error) {
	chunk := ci.chunk
	co := b.s.commonOptions(chunk)
	opts, err := b.s.compilationOptions(compiler.Version(), ci, ci.profile, co)
	if err != nil {
		events.Diagnostic(core.NewDiagnostic(core.SeverityError, "%v", err))
		return false, nil
	}

	req := &backend.Request{
		Options:   opts,
		VMOptions: co.vm,
		Sources:   files,
		OutputMap: outputMap(chunk),
		Events:    events,
		Cancel:    b.s.Cancelled,
	}
	if descriptor != "" {
		outs := chunk.OutputDirs()
		mp, rest := b.s.splitter.Split(descriptor, outs, append(slices.Clone(outs), pl.classpath...), collectAdditionalRequires(opts))
		req.ModulePath = mp.Paths()
		req.Classpath = rest
		req.UpgradeModulePath = pl.platform
	} else {
		req.Classpath = pl.classpath
		req.PlatformClasspath = pl.platform
	}

	b.s.recordUsage(compiler.Description(), chunk)

	if !slices.Contains(opts, optProcOnly) {
		logger.Debug("compiling chunk", "compiler", compiler.Description(), "options", strings.Join(opts, " "))
		return compiler.Compile(ctx, req)
	}

	logger.Debug("running annotation processors", "compiler", compiler.Description(), "options", strings.Join(opts, " "))
	ok, err := compiler.Compile(ctx, req)
	if err != nil || !ok {
		return ok, err
	}

	generated := generatedSources(generatedSourcesDir(chunk, ci.profile), files)
	compileOnly, err := b.s.compilationOptions(compiler.Version(), ci, nil, co)
	if err != nil {
		return false, err
	}
	second := *req
	second.Options = compileOnly
	second.Sources = append(slices.Clone(files), generated...)
	logger.Debug("compiling chunk after processing", "generated", len(generated))
	return compiler.Compile(ctx, &second)
}

// finish hands the round to the dependency graph.
func (b *Builder) finish(ctx context.Context, chunk *core.Chunk, r *round, code core.ExitCode, err error) (core.ExitCode, error) {
	if b.s.graph == nil {
		return code, err
	}
	result := core.ChunkResult{
		Chunk:   chunk.GraphKey(),
		Dirty:   r.files,
		Removed: r.removed,
	}
	if r.sink != nil {
		result.Compiled = r.sink.CompiledSources()
		result.OutputFiles = r.sink.Written()
	}
	if r.events != nil {
		result.ErrorFiles = r.events.filesWithErrors()
	}

	additional, gerr := b.s.graph.ChunkCompiled(context.WithoutCancel(ctx), result)
	if gerr != nil {
		b.s.logger.Warn("recording chunk result failed", "chunk", chunk.Name, "error", gerr)
		if err == nil {
			err = fmt.Errorf("recording result of %s: %w", chunk.Name, gerr)
		}
		return code, err
	}
	if additional && err == nil {
		return core.AdditionalPassRequired, nil
	}
	return code, err
}

// chunkPaths computes the compilation classpath: outputs of modules the
// chunk depends on, then libraries of the chunk's modules and of those
// dependencies. Test chunks also see their modules' production output.
func (s *Session) chunkPaths(ci chunkInfo) paths {
	chunk := ci.chunk
	var pl paths
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			pl.classpath = append(pl.classpath, p)
		}
	}

	var deps []*core.Module
	depSeen := make(map[string]bool)
	for _, m := range chunk.Modules {
		if chunk.Tests {
			add(m.OutputDir)
		}
		for _, name := range m.Dependencies {
			if chunk.Contains(name) || depSeen[name] {
				continue
			}
			depSeen[name] = true
			if dep := s.project.FindModule(name); dep != nil {
				deps = append(deps, dep)
			}
		}
	}
	for _, dep := range deps {
		add(dep.OutputDir)
	}
	for _, m := range chunk.Modules {
		for _, lib := range m.Libraries {
			add(lib)
		}
	}
	for _, dep := range deps {
		for _, lib := range dep.Libraries {
			add(lib)
		}
	}

	if ci.sdk != nil {
		pl.platform = slices.Clone(ci.sdk.BootClasspath)
	}
	return pl
}

// outputMap maps each output directory to the source roots compiled into it.
func outputMap(chunk *core.Chunk) map[string][]string {
	out := make(map[string][]string)
	for _, m := range chunk.Modules {
		dir := chunk.OutputDir(m)
		if dir == "" {
			continue
		}
		out[dir] = append(out[dir], chunk.SourceRoots(m)...)
	}
	return out
}

// generatedSources lists the .java files processors wrote to dir that are
// not already being compiled.
func generatedSources(dir string, known []string) []string {
	if dir == "" {
		return nil
	}
	skip := make(map[string]bool, len(known))
	for _, f := range known {
		skip[filepath.Clean(f)] = true
	}
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(p, ".java") && !skip[filepath.Clean(p)] {
			out = append(out, p)
		}
		return nil
	})
	sort.Strings(out)
	return out
}
