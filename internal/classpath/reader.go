package classpath

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zip"
)

// Reader fetches class bytes from one classpath entry.
type Reader interface {
	// Read returns the bytes of name (an internal name such as java/lang/String)
	// or found == false when the entry does not contain it.
	Read(name string) (data []byte, found bool, err error)
	// Close releases any handle held by the reader.
	Close() error
}

// NewReader picks the reader variant for an entry path.
func NewReader(path string) (Reader, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return &DirectoryReader{root: path}, nil
	}
	return &ArchiveReader{path: path}, nil
}

// DirectoryReader reads classes from an exploded output directory.
type DirectoryReader struct {
	root string
}

// Read implements Reader.
func (d *DirectoryReader) Read(name string) ([]byte, bool, error) {
	b, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(name)+".class"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Close implements Reader.
func (d *DirectoryReader) Close() error {
	return nil
}

// ArchiveReader reads classes from a jar. The archive is opened on first
// read and held until Close.
type ArchiveReader struct {
	path string

	mu     sync.Mutex
	zr     *zip.ReadCloser
	index  map[string]*zip.File
	closed bool
}

func (a *ArchiveReader) open() error {
	if a.zr != nil {
		return nil
	}
	zr, err := zip.OpenReader(a.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	a.zr = zr
	a.index = make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		a.index[f.Name] = f
	}
	return nil
}

// Read implements Reader.
func (a *ArchiveReader) Read(name string) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, false, ErrClosed
	}
	if err := a.open(); err != nil {
		return nil, false, err
	}
	f, ok := a.index[name+".class"]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Close implements Reader. Closing twice is a no-op.
func (a *ArchiveReader) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.zr == nil {
		return nil
	}
	err := a.zr.Close()
	a.zr = nil
	a.index = nil
	return err
}

// IsOpen reports whether the archive handle is currently held.
func (a *ArchiveReader) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zr != nil
}
