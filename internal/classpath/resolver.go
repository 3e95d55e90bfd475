// Package classpath answers type hierarchy questions from class files on a
// search path without loading them.
package classpath

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/leapstack-labs/jbuild/internal/classfile"
)

// ErrClosed is returned by a resolver or reader used after Close.
var ErrClosed = errors.New("classpath: resolver closed")

// TypeNotFoundError reports a type absent from every search path and hook.
type TypeNotFoundError struct {
	Name string
}

func (e *TypeNotFoundError) Error() string {
	return fmt.Sprintf("type not found: %s", e.Name)
}

// IsTypeNotFound reports whether err wraps a *TypeNotFoundError.
func IsTypeNotFound(err error) bool {
	var nf *TypeNotFoundError
	return errors.As(err, &nf)
}

// TypeDescriptor is the hierarchy metadata of one type.
type TypeDescriptor struct {
	Name        string
	Super       string
	Interfaces  []string
	IsInterface bool
}

// Hook supplies class bytes from outside the search paths.
type Hook func(name string) (data []byte, found bool)

// Option configures a Resolver.
type Option func(*Resolver)

// WithBefore sets the hook consulted after the platform path and before the regular path.
func WithBefore(h Hook) Option {
	return func(r *Resolver) { r.before = h }
}

// WithAfter sets the hook consulted after the regular path.
func WithAfter(h Hook) Option {
	return func(r *Resolver) { r.after = h }
}

// WithReaderFactory replaces NewReader.
func WithReaderFactory(f func(path string) (Reader, error)) Option {
	return func(r *Resolver) { r.newReader = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver resolves types lazily. It is safe for concurrent use but is
// meant to live for one chunk compilation.
type Resolver struct {
	platform  []string
	regular   []string
	before    Hook
	after     Hook
	newReader func(path string) (Reader, error)
	logger    *slog.Logger

	mu      sync.Mutex
	readers map[string]Reader
	types   map[string]*TypeDescriptor
	closed  bool
}

// New creates a resolver over a platform path and a regular path.
func New(platform, regular []string, opts ...Option) *Resolver {
	r := &Resolver{
		platform:  platform,
		regular:   regular,
		newReader: NewReader,
		readers:   make(map[string]Reader),
		types:     make(map[string]*TypeDescriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// internalName converts a binary name to its internal form.
func internalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// Resolve returns the descriptor of name, reading it on first use.
func (r *Resolver) Resolve(name string) (*TypeDescriptor, error) {
	name = internalName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if td, ok := r.types[name]; ok {
		return td, nil
	}

	data, err := r.find(name)
	if err != nil {
		return nil, err
	}
	h, err := classfile.ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	td := &TypeDescriptor{
		Name:        h.Name,
		Super:       h.Super,
		Interfaces:  h.Interfaces,
		IsInterface: h.IsInterface(),
	}
	r.types[name] = td
	return td, nil
}

func (r *Resolver) find(name string) ([]byte, error) {
	if data, ok, err := r.searchPath(r.platform, name); ok || err != nil {
		return data, err
	}
	if r.before != nil {
		if data, ok := r.before(name); ok {
			return data, nil
		}
	}
	if data, ok, err := r.searchPath(r.regular, name); ok || err != nil {
		return data, err
	}
	if r.after != nil {
		if data, ok := r.after(name); ok {
			return data, nil
		}
	}
	return nil, &TypeNotFoundError{Name: name}
}

func (r *Resolver) searchPath(entries []string, name string) ([]byte, bool, error) {
	for _, entry := range entries {
		rd := r.reader(entry)
		if rd == nil {
			continue
		}
		data, ok, err := rd.Read(name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read %s from %s: %w", name, entry, err)
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// reader returns the cached reader of entry, creating it on first access.
// Entries that cannot be opened are remembered as nil and skipped.
func (r *Resolver) reader(entry string) Reader {
	if rd, ok := r.readers[entry]; ok {
		return rd
	}
	rd, err := r.newReader(entry)
	if err != nil {
		r.logger.Debug("skipping classpath entry", "entry", entry, "error", err)
		rd = nil
	}
	r.readers[entry] = rd
	return rd
}

// Close releases every reader. Later calls return nil.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for entry, rd := range r.readers {
		if rd == nil {
			continue
		}
		if err := rd.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", entry, err))
		}
	}
	r.readers = nil
	r.types = nil
	return errors.Join(errs...)
}

// IsSubclassOf reports whether super is a proper superclass of name.
func (r *Resolver) IsSubclassOf(name, super string) (bool, error) {
	name, super = internalName(name), internalName(super)
	seen := map[string]bool{}
	for current := name; !seen[current]; {
		seen[current] = true
		td, err := r.Resolve(current)
		if err != nil {
			return false, err
		}
		if td.Super == "" {
			return false, nil
		}
		if td.Super == super {
			return true, nil
		}
		current = td.Super
	}
	// A cyclic hierarchy never reaches super.
	return false, nil
}

// ImplementsInterface reports whether name or any of its supertypes
// declares iface among its interfaces, directly or through superinterfaces.
func (r *Resolver) ImplementsInterface(name, iface string) (bool, error) {
	name, iface = internalName(name), internalName(iface)
	seen := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true

		td, err := r.Resolve(current)
		if err != nil {
			return false, err
		}
		for _, i := range td.Interfaces {
			if i == iface {
				return true, nil
			}
			queue = append(queue, i)
		}
		if td.Super != "" {
			queue = append(queue, td.Super)
		}
	}
	return false, nil
}

// IsAssignableFrom reports whether a value of type source can be stored in target.
func (r *Resolver) IsAssignableFrom(target, source string) (bool, error) {
	target, source = internalName(target), internalName(source)
	if target == source || target == "java/lang/Object" {
		return true, nil
	}
	td, err := r.Resolve(target)
	if err != nil {
		return false, err
	}
	if td.IsInterface {
		return r.ImplementsInterface(source, target)
	}
	return r.IsSubclassOf(source, target)
}
