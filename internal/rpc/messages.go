// Package rpc is the compile-server protocol: CBOR envelopes over one TCP
// connection, with any number of compile requests multiplexed by ID.
package rpc

import (
	"fmt"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Kind names an envelope type.
type Kind string

// Envelope kinds. compile, cancel and shutdown travel to the server; the
// rest travel back.
const (
	KindCompile    Kind = "compile"
	KindCancel     Kind = "cancel"
	KindShutdown   Kind = "shutdown"
	KindDiagnostic Kind = "diagnostic"
	KindOutput     Kind = "output"
	KindFileData   Kind = "file_data"
	KindDone       Kind = "done"
)

// Envelope frames every message on the connection. ID ties responses to
// the compile request that caused them.
type Envelope struct {
	Kind Kind       `cbor:"kind"`
	ID   uint64     `cbor:"id"`
	Body RawMessage `cbor:"body,omitempty"`
}

// CompileRequest is the body of a compile envelope.
type CompileRequest struct {
	Options           []string            `cbor:"options"`
	VMOptions         []string            `cbor:"vm_options,omitempty"`
	Sources           []string            `cbor:"sources"`
	Classpath         []string            `cbor:"classpath,omitempty"`
	PlatformClasspath []string            `cbor:"platform_classpath,omitempty"`
	ModulePath        []string            `cbor:"module_path,omitempty"`
	UpgradeModulePath []string            `cbor:"upgrade_module_path,omitempty"`
	SourcePath        []string            `cbor:"source_path,omitempty"`
	OutputMap         map[string][]string `cbor:"output_map"`
}

// Output is one produced file.
type Output struct {
	OutputRoot   string   `cbor:"root"`
	RelativePath string   `cbor:"path"`
	ClassName    string   `cbor:"class,omitempty"`
	Sources      []string `cbor:"sources,omitempty"`
	Content      []byte   `cbor:"content"`
	Resource     bool     `cbor:"resource,omitempty"`
}

// Done is the body of the final envelope of a request.
type Done struct {
	OK        bool   `cbor:"ok"`
	Cancelled bool   `cbor:"cancelled,omitempty"`
	Error     string `cbor:"error,omitempty"`
}

// Events receives what a compilation produces.
type Events interface {
	Diagnostic(d core.Diagnostic)
	Output(o Output)
	FileData(f core.FileData)
}

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("compile server: %s", e.Message)
}

func envelope(kind Kind, id uint64, body any) (Envelope, error) {
	env := Envelope{Kind: kind, ID: id}
	if body == nil {
		return env, nil
	}
	raw, err := Marshal(body)
	if err != nil {
		return env, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	env.Body = raw
	return env, nil
}
