package output

import (
	"fmt"
	"slices"
	"sync"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

var _ core.MessageSink = (*Reporter)(nil)

// Reporter is the builder's message sink for CLI builds. Text and
// markdown modes print diagnostics as they arrive; JSON mode only
// collects them. Safe for concurrent use.
type Reporter struct {
	r       *Renderer
	verbose bool

	mu          sync.Mutex
	diagnostics []core.Diagnostic
	counts      map[core.Severity]int
	generated   int
}

// NewReporter returns a reporter writing through r. Progress lines are
// printed only when verbose is set.
func NewReporter(r *Renderer, verbose bool) *Reporter {
	return &Reporter{r: r, verbose: verbose, counts: make(map[core.Severity]int)}
}

// Report implements core.MessageSink.
func (rep *Reporter) Report(d core.Diagnostic) {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	rep.diagnostics = append(rep.diagnostics, d)
	rep.counts[d.Severity]++

	switch rep.r.EffectiveMode() {
	case ModeJSON:
	case ModeMarkdown:
		_, _ = fmt.Fprintln(rep.r.ErrWriter(), FormatDiagnostic(d))
	default:
		style := rep.r.Styles().Severity(d.Severity)
		line := style.Render(d.Severity.String()+":") + " " + d.Message
		if loc := location(d); loc != "" {
			line = rep.r.Styles().Path.Render(loc) + ": " + line
		}
		_, _ = fmt.Fprintln(rep.r.ErrWriter(), line)
	}
}

// Progress implements core.MessageSink.
func (rep *Reporter) Progress(msg string) {
	if !rep.verbose || rep.r.EffectiveMode() == ModeJSON {
		return
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	_, _ = fmt.Fprintln(rep.r.ErrWriter(), rep.r.Styles().Muted.Render(msg))
}

// FilesGenerated implements core.MessageSink.
func (rep *Reporter) FilesGenerated(files []core.GeneratedFile) {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	rep.generated += len(files)
}

// Diagnostics returns everything reported so far.
func (rep *Reporter) Diagnostics() []core.Diagnostic {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return slices.Clone(rep.diagnostics)
}

// Count returns the number of diagnostics of one severity.
func (rep *Reporter) Count(sev core.Severity) int {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return rep.counts[sev]
}

// Generated returns the number of files written.
func (rep *Reporter) Generated() int {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	return rep.generated
}

func location(d core.Diagnostic) string {
	if d.Source == "" {
		return ""
	}
	switch {
	case d.Line > 0 && d.Column > 0:
		return fmt.Sprintf("%s:%d:%d", d.Source, d.Line, d.Column)
	case d.Line > 0:
		return fmt.Sprintf("%s:%d", d.Source, d.Line)
	}
	return d.Source
}

// FormatDiagnostic formats a diagnostic as a markdown list entry.
func FormatDiagnostic(d core.Diagnostic) string {
	if loc := location(d); loc != "" {
		return fmt.Sprintf("- **%s** `%s`: %s", d.Severity, loc, d.Message)
	}
	return fmt.Sprintf("- **%s**: %s", d.Severity, d.Message)
}
