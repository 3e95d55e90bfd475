package output

import (
	"fmt"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Round is what a processor sees of the compilation in progress.
type Round interface {
	// Lookup returns the bytes of a class compiled in this round.
	Lookup(className string) ([]byte, bool)
	// MarkProblematic keeps source from being recorded as compiled.
	MarkProblematic(source string)
	// Report forwards a diagnostic to the driver.
	Report(d core.Diagnostic)
}

// Processor transforms an object before it is flushed.
type Processor interface {
	Process(round Round, obj *Object) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(round Round, obj *Object) error

// Process calls f.
func (f ProcessorFunc) Process(round Round, obj *Object) error {
	return f(round, obj)
}

// Disposer is implemented by processors holding per-chunk resources.
type Disposer interface {
	Dispose() error
}

// Chain runs processors in order.
type Chain []Processor

// Join returns a chain running c followed by local.
func (c Chain) Join(local ...Processor) Chain {
	out := make(Chain, 0, len(c)+len(local))
	out = append(out, c...)
	return append(out, local...)
}

// Run applies every processor to obj. A failing processor is reported
// against the object's sources and the remaining processors still run.
func (c Chain) Run(round Round, obj *Object) {
	for _, p := range c {
		if err := runOne(p, round, obj); err != nil {
			reportOnSources(round, obj, core.NewDiagnostic(core.SeverityError, "%v", err))
		}
	}
}

// Dispose releases every processor implementing Disposer.
func (c Chain) Dispose() error {
	var first error
	for _, p := range c {
		if d, ok := p.(Disposer); ok {
			if err := d.Dispose(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func runOne(p Processor, round Round, obj *Object) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("post-processor panic on %s: %v", obj.RelativePath, r)
		}
	}()
	return p.Process(round, obj)
}

func reportOnSources(round Round, obj *Object, d core.Diagnostic) {
	if len(obj.Sources) == 0 {
		round.Report(d)
		return
	}
	for _, src := range obj.Sources {
		round.Report(d.WithSource(src))
	}
}
