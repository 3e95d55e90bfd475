package core

import (
	"fmt"
	"strings"
)

// BuilderID tags every message produced by the Java builder.
const BuilderID = "java"

// NoPosition marks an unknown offset, line or column.
const NoPosition = -1

// Diagnostic is a single message reported while building a chunk.
type Diagnostic struct {
	BuilderID   string   `json:"builder_id" cbor:"builder"`
	Severity    Severity `json:"severity" cbor:"severity"`
	Message     string   `json:"message" cbor:"message"`
	Source      string   `json:"source,omitempty" cbor:"source,omitempty"`
	Line        int      `json:"line" cbor:"line"`
	Column      int      `json:"column" cbor:"column"`
	StartOffset int      `json:"start_offset" cbor:"start"`
	EndOffset   int      `json:"end_offset" cbor:"end"`
	Offset      int      `json:"offset" cbor:"offset"`
}

// NewDiagnostic returns a diagnostic with no location.
func NewDiagnostic(sev Severity, format string, args ...any) Diagnostic {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Diagnostic{
		BuilderID:   BuilderID,
		Severity:    sev,
		Message:     msg,
		Line:        NoPosition,
		Column:      NoPosition,
		StartOffset: NoPosition,
		EndOffset:   NoPosition,
		Offset:      NoPosition,
	}
}

// WithSource returns a copy of d tied to the given source file.
func (d Diagnostic) WithSource(path string) Diagnostic {
	d.Source = path
	return d
}

// String formats the diagnostic the way compilers print them:
// path:line:column: severity: message.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Source != "" {
		b.WriteString(d.Source)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
			if d.Column > 0 {
				fmt.Fprintf(&b, ":%d", d.Column)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// GeneratedFile is one (output root, relative path) pair written by a flush.
type GeneratedFile struct {
	OutputRoot   string `json:"output_root"`
	RelativePath string `json:"relative_path"`
}

// MessageSink receives everything the builder tells the driver.
type MessageSink interface {
	// Report delivers a diagnostic.
	Report(d Diagnostic)
	// Progress delivers a human-readable progress line.
	Progress(msg string)
	// FilesGenerated delivers one batch per output flush.
	FilesGenerated(files []GeneratedFile)
}
