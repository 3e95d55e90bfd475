package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

type sourceRecord struct {
	chunk string
	hash  string
	stale bool
}

// Dirty computes the Java sources of chunk to compile: new files, files
// whose content hash changed, files marked stale by a dependency and files
// that failed last time. Recorded sources of the chunk that no longer
// exist are reported as removed.
func (s *SQLiteStore) Dirty(ctx context.Context, chunk *core.Chunk) (core.DirtyFiles, error) {
	if s.db == nil {
		return core.DirtyFiles{}, errNotOpen
	}
	key := chunk.GraphKey()

	rows, err := s.db.QueryContext(ctx, `SELECT path, chunk, hash, stale FROM sources`)
	if err != nil {
		return core.DirtyFiles{}, fmt.Errorf("failed to load sources: %w", err)
	}
	known := make(map[string]sourceRecord)
	for rows.Next() {
		var (
			path string
			rec  sourceRecord
		)
		if err := rows.Scan(&path, &rec.chunk, &rec.hash, &rec.stale); err != nil {
			rows.Close()
			return core.DirtyFiles{}, fmt.Errorf("failed to scan source: %w", err)
		}
		known[path] = rec
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.DirtyFiles{}, err
	}

	var dirty core.DirtyFiles
	seen := make(map[string]bool)
	for _, m := range chunk.Modules {
		for _, root := range chunk.SourceRoots(m) {
			files, err := javaSources(root)
			if err != nil {
				return core.DirtyFiles{}, err
			}
			for _, f := range files {
				if seen[f] {
					continue
				}
				seen[f] = true
				rec, ok := known[f]
				if ok && !rec.stale && rec.hash != "" {
					hash, err := HashFile(f)
					if err != nil {
						return core.DirtyFiles{}, err
					}
					if hash == rec.hash {
						continue
					}
				}
				dirty.Files = append(dirty.Files, f)
			}
		}
	}

	for path, rec := range known {
		if rec.chunk == key && !seen[path] {
			dirty.Removed = append(dirty.Removed, path)
		}
	}
	sort.Strings(dirty.Files)
	sort.Strings(dirty.Removed)
	dirty.HasRemovedFiles = len(dirty.Removed) > 0

	s.logger.Debug("dirty sources", "chunk", chunk.Name, "dirty", len(dirty.Files), "removed", len(dirty.Removed))
	return dirty, nil
}

// javaSources lists the .java files under root. A missing root is empty.
func javaSources(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".java") {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return out, nil
}

// Reset forgets every recorded source hash so the next build compiles
// everything. Recorded outputs are kept so removed sources still clean up.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if s.db == nil {
		return errNotOpen
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sources`); err != nil {
		return fmt.Errorf("failed to reset sources: %w", err)
	}
	s.mu.Lock()
	clear(s.changed)
	s.mu.Unlock()
	return nil
}

// Stats counts the recorded rows.
type Stats struct {
	Sources  int
	Stale    int
	Classes  int
	Outputs  int
	Sessions int
}

// Stats returns row counts of the store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	if s.db == nil {
		return Stats{}, errNotOpen
	}
	var st Stats
	for _, q := range []struct {
		dst   *int
		query string
	}{
		{&st.Sources, `SELECT COUNT(*) FROM sources`},
		{&st.Stale, `SELECT COUNT(*) FROM sources WHERE stale = 1 OR hash = ''`},
		{&st.Classes, `SELECT COUNT(*) FROM classes`},
		{&st.Outputs, `SELECT COUNT(*) FROM outputs`},
		{&st.Sessions, `SELECT COUNT(*) FROM sessions`},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count: %w", err)
		}
	}
	return st, nil
}
