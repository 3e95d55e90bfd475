// Package engine compiles module chunks: it validates the chunk, computes
// javac options, splits the classpath, dispatches to a backend, and drains
// the output pipeline before reporting back to the dependency graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/internal/modpath"
	"github.com/leapstack-labs/jbuild/internal/output"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Backends picks the compiler for a chunk. languageLevel is the level
// the chunk targets, 0 when unknown.
type Backends interface {
	Select(ctx context.Context, sdk *core.Runtime, languageLevel int) (backend.Compiler, error)
}

// Config holds the collaborators of a Session.
type Config struct {
	Project  *core.ProjectConfig
	Messages core.MessageSink
	Graph    core.DependencyGraph

	// Backends overrides compiler selection. Nil builds a backend.Selector
	// with a ServerManager owned by the session.
	Backends Backends
	// Introspector reads module descriptors. Nil uses modpath.FileInspector.
	Introspector modpath.Introspector
	// Processors run on every output before the chunk-local ones.
	Processors output.Chain
	Logger     *slog.Logger
}

// Session is the context of one build: it owns the compile servers, the
// module info cache and the per-build notification and usage records.
type Session struct {
	id       string
	project  *core.ProjectConfig
	messages core.MessageSink
	graph    core.DependencyGraph
	backends Backends
	manager  *backend.ServerManager
	splitter *modpath.Splitter
	chain    output.Chain
	logger   *slog.Logger

	cancelled atomic.Bool

	mu       sync.Mutex
	notified map[string]bool
	usage    map[string]map[string]bool
	common   map[string]*commonOptions
}

// NewSession starts a build session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Project == nil {
		return nil, errors.New("engine: project configuration is required")
	}
	if cfg.Messages == nil {
		return nil, errors.New("engine: message sink is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		id:       uuid.NewString(),
		project:  cfg.Project,
		messages: cfg.Messages,
		graph:    cfg.Graph,
		backends: cfg.Backends,
		chain:    cfg.Processors,
		logger:   logger,
		notified: make(map[string]bool),
		usage:    make(map[string]map[string]bool),
		common:   make(map[string]*commonOptions),
	}

	introspector := cfg.Introspector
	if introspector == nil {
		introspector = &modpath.FileInspector{ExplodedName: s.explodedModuleName}
	}
	s.splitter = modpath.NewSplitter(modpath.NewCache(introspector, logger), logger)

	if s.backends == nil {
		cc := cfg.Project.Compiler
		s.manager = backend.NewServerManager(backend.ManagerConfig{
			Executable:     cc.ServerExecutable,
			HeapSizeMB:     cc.HeapSizeMB,
			ConnectTimeout: cc.ConnectTimeout,
			Logger:         logger,
		})
		s.backends = backend.NewSelector(backend.SelectorConfig{
			Compiler: cc,
			Runtimes: cfg.Project.Runtimes,
			Manager:  s.manager,
			Logger:   logger,
		})
	}

	logger.Debug("build session started", "session", s.id, "modules", len(cfg.Project.Modules))
	return s, nil
}

// ID identifies the session in logs and the state store.
func (s *Session) ID() string {
	return s.id
}

// Cancel asks running compilations to stop.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// explodedModuleName names an output directory after the module that owns it.
func (s *Session) explodedModuleName(dir string) string {
	canonical := modpath.Canonical(dir)
	for _, m := range s.project.Modules {
		for _, out := range []string{m.OutputDir, m.TestOutputDir} {
			if out != "" && modpath.Canonical(out) == canonical {
				return m.Name
			}
		}
	}
	return ""
}

// report sends a diagnostic to the driver.
func (s *Session) report(d core.Diagnostic) {
	s.messages.Report(d)
}

// notify reports an INFO message. With once set, the same key is only
// reported the first time in the session.
func (s *Session) notify(key string, once bool, format string, args ...any) {
	if once {
		s.mu.Lock()
		seen := s.notified[key]
		s.notified[key] = true
		s.mu.Unlock()
		if seen {
			return
		}
	}
	s.report(core.NewDiagnostic(core.SeverityInfo, format, args...))
}

func (s *Session) recordUsage(compiler string, chunk *core.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, ok := s.usage[compiler]
	if !ok {
		names = make(map[string]bool)
		s.usage[compiler] = names
	}
	for _, m := range chunk.Modules {
		names[m.Name] = true
	}
}

// Usage returns compiler -> sorted module names compiled with it.
func (s *Session) Usage() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.usage))
	for compiler, names := range s.usage {
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		out[compiler] = list
	}
	return out
}

// Finish reports which compilers were used in the session.
func (s *Session) Finish() {
	usage := s.Usage()
	compilers := make([]string, 0, len(usage))
	for c := range usage {
		compilers = append(compilers, c)
	}
	sort.Strings(compilers)

	for _, c := range compilers {
		modules := usage[c]
		var d core.Diagnostic
		switch {
		case len(usage) == 1:
			d = core.NewDiagnostic(core.SeverityInfo, "%s was used to compile java sources", c)
		case len(modules) == 1:
			d = core.NewDiagnostic(core.SeverityInfo, "%s was used to compile %s", c, modules[0])
		default:
			d = core.NewDiagnostic(core.SeverityInfo, "%s was used to compile %d modules", c, len(modules))
		}
		d.BuilderID = ""
		s.report(d)
		s.logger.Info("compiler usage", "compiler", c, "modules", modules)
	}
}

// Close shuts down the compile servers of the session.
func (s *Session) Close() error {
	if s.manager == nil {
		return nil
	}
	if err := s.manager.Close(); err != nil {
		return fmt.Errorf("closing compile servers: %w", err)
	}
	return nil
}
