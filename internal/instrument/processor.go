// Package instrument rewrites compiled classes before they reach disk.
//
// The only instrumentation is the @NotNull parameter check: every method
// whose reference parameters carry a recognized marker annotation gets a
// prologue that throws when such an argument is null.
package instrument

import (
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/jbuild/internal/classpath"
	"github.com/leapstack-labs/jbuild/internal/output"
)

// Config selects what the processor checks.
type Config struct {
	Enabled     bool
	Annotations []string
	Exception   string
	Logger      *slog.Logger
}

// Processor is an output.Processor applying the NotNull rewrite. It owns
// the resolver it is given and closes it on Dispose.
type Processor struct {
	enabled  bool
	rewriter *Rewriter
	resolver *classpath.Resolver
	logger   *slog.Logger
}

// New returns a processor. resolver answers hierarchy questions and may be
// nil, in which case enum constructors are detected from the class itself.
func New(cfg Config, resolver *classpath.Resolver) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		enabled:  cfg.Enabled,
		rewriter: NewRewriter(cfg.Annotations, cfg.Exception),
		resolver: resolver,
		logger:   logger,
	}
}

// Process implements output.Processor.
func (p *Processor) Process(round output.Round, obj *output.Object) error {
	if !p.enabled || obj.Kind != output.KindClass {
		return nil
	}
	content := obj.Content()
	if content == nil {
		return nil
	}

	out, modified, err := p.rewriter.Rewrite(content, p.isEnum)
	if err != nil {
		for _, src := range obj.Sources {
			round.MarkProblematic(src)
		}
		return fmt.Errorf("cannot instrument %s: %w", obj.RelativePath, err)
	}
	if !modified {
		return nil
	}
	p.logger.Debug("instrumented class", "class", obj.ClassName, "size", len(out))
	return obj.Replace(out)
}

func (p *Processor) isEnum(className string) bool {
	if className == "java/lang/Enum" {
		return true
	}
	if p.resolver == nil {
		return false
	}
	ok, err := p.resolver.IsSubclassOf(className, "java/lang/Enum")
	if err != nil {
		p.logger.Debug("enum check failed", "class", className, "error", err)
		return false
	}
	return ok
}

// Dispose closes the resolver.
func (p *Processor) Dispose() error {
	if p.resolver == nil {
		return nil
	}
	return p.resolver.Close()
}
