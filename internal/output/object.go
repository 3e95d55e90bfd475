package output

import (
	"errors"
	"path/filepath"
	"sync"
)

// Kind distinguishes class files from other produced files.
type Kind int

// Output kinds.
const (
	KindClass Kind = iota
	KindResource
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k == KindClass {
		return "class"
	}
	return "resource"
}

// State is the lifecycle position of an Object.
type State int

// Object states. Compiled and Problematic are terminal.
const (
	StatePending State = iota
	StateCompiled
	StateProblematic
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCompiled:
		return "compiled"
	case StateProblematic:
		return "problematic"
	default:
		return "pending"
	}
}

var (
	errSealed    = errors.New("output: content already written")
	errNotSealed = errors.New("output: content not written yet")
	errFinished  = errors.New("output: object already flushed")
)

// Object is one produced file travelling through the pipeline.
type Object struct {
	OutputRoot   string
	RelativePath string
	Path         string
	Kind         Kind
	ClassName    string
	Sources      []string

	mu      sync.Mutex
	content []byte
	sealed  bool
	state   State
}

// NewObject creates an object destined for root/rel. An empty root means
// rel is already an absolute destination.
func NewObject(root, rel string, kind Kind, className string, sources []string) *Object {
	p := rel
	if root != "" {
		p = filepath.Join(root, filepath.FromSlash(rel))
	}
	return &Object{
		OutputRoot:   root,
		RelativePath: filepath.ToSlash(rel),
		Path:         p,
		Kind:         kind,
		ClassName:    className,
		Sources:      sources,
	}
}

// Seal stores the bytes produced by the compiler. It succeeds once.
func (o *Object) Seal(content []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sealed {
		return errSealed
	}
	o.content = content
	o.sealed = true
	return nil
}

// Content returns the current bytes.
func (o *Object) Content() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.content
}

// Replace swaps the content for rewritten bytes. Only post-processors call it.
func (o *Object) Replace(content []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case !o.sealed:
		return errNotSealed
	case o.state != StatePending:
		return errFinished
	}
	o.content = content
	return nil
}

// State returns the lifecycle state.
func (o *Object) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// finish moves the object to a terminal state and drops its content.
func (o *Object) finish(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePending {
		return
	}
	o.state = s
	o.content = nil
}
