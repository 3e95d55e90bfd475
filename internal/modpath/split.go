// Package modpath partitions a compilation classpath into module path and
// class path entries.
package modpath

import (
	"log/slog"
	"strings"
)

// Entry is one module path element. Name is set only for automatic
// modules that the compiler cannot name by itself.
type Entry struct {
	Path string
	Name string
}

// ModulePath is the module path half of a split.
type ModulePath struct {
	Entries []Entry
}

// Paths returns the entry paths in order.
func (mp ModulePath) Paths() []string {
	out := make([]string, 0, len(mp.Entries))
	for _, e := range mp.Entries {
		out = append(out, e.Path)
	}
	return out
}

// Names returns path -> module name for named entries.
func (mp ModulePath) Names() map[string]string {
	out := make(map[string]string)
	for _, e := range mp.Entries {
		if e.Name != "" {
			out[e.Path] = e.Name
		}
	}
	return out
}

// IsEmpty reports whether the module path has no entries.
func (mp ModulePath) IsEmpty() bool {
	return len(mp.Entries) == 0
}

// Splitter partitions classpaths. It is safe for concurrent use.
type Splitter struct {
	cache  *Cache
	logger *slog.Logger
}

// NewSplitter creates a splitter over a shared cache. A nil cache means the
// host cannot introspect modules and every entry lands on the module path.
func NewSplitter(cache *Cache, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Splitter{cache: cache, logger: logger}
}

// Split partitions classpath. descriptor is the chunk's module-info.java or
// module-info.class, or "" when the chunk has none. Entries listed in
// chunkOutputs always go to the module path, unnamed. Every other entry goes
// to the module path when its module is required, else to the class path.
func (s *Splitter) Split(descriptor string, chunkOutputs, classpath, extraRequires []string) (ModulePath, []string) {
	if s.cache == nil {
		mp := ModulePath{Entries: make([]Entry, 0, len(classpath))}
		for _, p := range classpath {
			mp.Entries = append(mp.Entries, Entry{Path: p})
		}
		return mp, nil
	}

	outputs := make(map[string]bool, len(chunkOutputs))
	for _, o := range chunkOutputs {
		outputs[Canonical(o)] = true
	}

	required := make(map[string]bool)
	for _, r := range extraRequires {
		required[r] = true
	}
	if descriptor != "" {
		if info := s.readDescriptor(descriptor); info != nil {
			for _, r := range info.Requires {
				required[r] = true
			}
		}
	}

	infos := make([]*Info, len(classpath))
	for i, p := range classpath {
		if outputs[Canonical(p)] {
			continue
		}
		infos[i] = s.cache.Get(p)
		for _, r := range infos[i].Requires {
			required[r] = true
		}
	}

	var mp ModulePath
	var cp []string
	for i, p := range classpath {
		info := infos[i]
		switch {
		case info == nil:
			mp.Entries = append(mp.Entries, Entry{Path: p})
		case required[info.Name]:
			e := Entry{Path: p}
			if info.Automatic {
				e.Name = info.Name
			}
			mp.Entries = append(mp.Entries, e)
		default:
			cp = append(cp, p)
		}
	}

	s.logger.Debug("classpath split",
		"module_path", len(mp.Entries),
		"classpath", len(cp),
		"required", len(required),
	)
	return mp, cp
}

func (s *Splitter) readDescriptor(p string) *Info {
	if strings.HasSuffix(p, ".class") {
		info := s.cache.Get(p)
		if info.Automatic {
			s.logger.Warn("module descriptor is not a module-info class", "path", p)
			return nil
		}
		return info
	}
	info, err := ReadSourceDescriptor(p)
	if err != nil {
		s.logger.Warn("cannot read module descriptor", "path", p, "error", err)
		return nil
	}
	return info
}
