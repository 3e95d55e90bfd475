package modpath

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/leapstack-labs/jbuild/internal/classfile"
)

// Info is the module identity of one classpath entry.
type Info struct {
	Name      string
	Requires  []string
	Automatic bool
}

// Introspector resolves module information of classpath entries.
type Introspector interface {
	Inspect(path string) (*Info, error)
}

// FileInspector reads module descriptors and manifests from directories and archives.
type FileInspector struct {
	// NameFromFile derives automatic names of archives. Nil uses DefaultName.
	NameFromFile NameFunc
	// ExplodedName derives automatic names of directories. Nil or "" falls back to the directory name.
	ExplodedName NameFunc
}

// Inspect implements Introspector.
func (fi *FileInspector) Inspect(p string) (*Info, error) {
	st, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return fi.inspectDir(p)
	}
	if strings.HasSuffix(p, ".class") {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		md, err := classfile.ParseModule(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		return &Info{Name: md.Name, Requires: md.Requires}, nil
	}
	return fi.inspectArchive(p)
}

func (fi *FileInspector) inspectDir(dir string) (*Info, error) {
	fsys := os.DirFS(dir)
	if info, err := descriptorFrom(fsys); info != nil || err != nil {
		return info, err
	}

	if manifest, err := fs.ReadFile(fsys, manifestPath); err == nil {
		if name := manifestAttribute(manifest, manifestKey); name != "" {
			return &Info{Name: name, Automatic: true}, nil
		}
	}

	var name string
	if fi.ExplodedName != nil {
		name = fi.ExplodedName(dir)
	}
	if name == "" {
		name = NormalizeName(filepath.Base(dir))
	}
	return &Info{Name: name, Automatic: true}, nil
}

func (fi *FileInspector) inspectArchive(p string) (*Info, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", p, err)
	}
	defer zr.Close()

	if info, err := descriptorFrom(zr); info != nil || err != nil {
		return info, err
	}

	if manifest, err := fs.ReadFile(zr, manifestPath); err == nil {
		if name := manifestAttribute(manifest, manifestKey); name != "" {
			return &Info{Name: name, Automatic: true}, nil
		}
	}

	nameFn := fi.NameFromFile
	if nameFn == nil {
		nameFn = DefaultName
	}
	return &Info{Name: nameFn(p), Automatic: true}, nil
}

// descriptorFrom looks for module-info.class at the root, then in the
// highest META-INF/versions/N directory.
func descriptorFrom(fsys fs.FS) (*Info, error) {
	candidates := []string{descriptorName}
	if entries, err := fs.ReadDir(fsys, "META-INF/versions"); err == nil {
		var versions []int
		for _, e := range entries {
			if v, err := strconv.Atoi(e.Name()); err == nil && e.IsDir() {
				versions = append(versions, v)
			}
		}
		sort.Sort(sort.Reverse(sort.IntSlice(versions)))
		for _, v := range versions {
			candidates = append(candidates, path.Join("META-INF/versions", strconv.Itoa(v), descriptorName))
		}
	}

	for _, c := range candidates {
		f, err := fsys.Open(c)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		md, err := classfile.ParseModule(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		return &Info{Name: md.Name, Requires: md.Requires}, nil
	}
	return nil, nil
}

// Cache memoizes module information by canonical path for the life of the process.
// It is safe for concurrent use.
type Cache struct {
	introspector Introspector
	logger       *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Info
}

// NewCache wraps an introspector. A nil logger discards messages.
func NewCache(introspector Introspector, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		introspector: introspector,
		logger:       logger,
		entries:      make(map[string]*Info),
	}
}

// Canonical returns the absolute, symlink-free, cleaned form of p.
func Canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return filepath.Clean(abs)
}

// Get returns the module information of p. Entries that cannot be
// inspected are reported as automatic modules named after the file.
func (c *Cache) Get(p string) *Info {
	key := Canonical(p)

	c.mu.RLock()
	info, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return info
	}

	info, err := c.introspector.Inspect(key)
	if err != nil {
		c.logger.Debug("module introspection failed", "path", key, "error", err)
		info = &Info{Name: fallbackName(key), Automatic: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	c.entries[key] = info
	return info
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func fallbackName(p string) string {
	if strings.HasSuffix(p, ".jar") {
		return DefaultName(p)
	}
	return NormalizeName(filepath.Base(p))
}
