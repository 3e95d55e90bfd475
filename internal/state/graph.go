package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Associate records a written class, its sources and its API hash. A
// changed API hash marks the class for dependency propagation when its
// chunk completes.
func (s *SQLiteStore) Associate(ctx context.Context, class core.CompiledClass) error {
	apiHash := APIHash(class.Content)
	var prev string

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT api_hash FROM classes WHERE path = ?`, class.Path).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read class %s: %w", class.ClassName, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO classes (path, output_root, class_name, api_hash, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET output_root = excluded.output_root, class_name = excluded.class_name,
			 api_hash = excluded.api_hash, updated_at = excluded.updated_at`,
			class.Path, class.OutputRoot, class.ClassName, apiHash, s.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to record class %s: %w", class.ClassName, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM class_sources WHERE class_path = ?`, class.Path); err != nil {
			return fmt.Errorf("failed to reset class sources: %w", err)
		}
		for _, src := range class.Sources {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO class_sources (class_path, source) VALUES (?, ?)`, class.Path, src); err != nil {
				return fmt.Errorf("failed to record class source: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if prev != "" && prev != apiHash {
		s.mu.Lock()
		s.changed[class.Path] = class.ClassName
		s.mu.Unlock()
	}
	return nil
}

// RegisterFileData records the imports and constant uses of a source.
func (s *SQLiteStore) RegisterFileData(ctx context.Context, data core.FileData) error {
	blob, err := cbor.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode file data: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_data (source, data) VALUES (?, ?) ON CONFLICT(source) DO UPDATE SET data = excluded.data`,
			data.Path, blob); err != nil {
			return fmt.Errorf("failed to record file data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE source = ?`, data.Path); err != nil {
			return fmt.Errorf("failed to reset imports: %w", err)
		}
		for _, name := range importedNames(data) {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO imports (source, name) VALUES (?, ?)`, data.Path, name); err != nil {
				return fmt.Errorf("failed to record import: %w", err)
			}
		}
		return nil
	})
}

// FileData returns the recorded facts of a source.
func (s *SQLiteStore) FileData(ctx context.Context, source string) (*core.FileData, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM file_data WHERE source = ?`, source).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	var data core.FileData
	if err := cbor.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("failed to decode file data of %s: %w", source, err)
	}
	return &data, nil
}

// importedNames returns the dotted type names a source depends on.
// Static imports and constants contribute their owner type.
func importedNames(data core.FileData) []string {
	var out []string
	add := func(n string) {
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	for _, imp := range data.Imports {
		add(imp)
	}
	for _, imp := range data.StaticImports {
		if i := strings.LastIndexByte(imp, '.'); i > 0 {
			add(imp[:i])
		}
	}
	for _, c := range data.Constants {
		add(dotted(c.Owner))
	}
	return out
}

// RegisterOutput records a written file and the sources it came from.
func (s *SQLiteStore) RegisterOutput(ctx context.Context, file core.OutputFile) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outputs (path, output_root, relative_path, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET output_root = excluded.output_root,
			 relative_path = excluded.relative_path, updated_at = excluded.updated_at`,
			file.Path, file.OutputRoot, file.RelativePath, s.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to record output: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM output_sources WHERE output_path = ?`, file.Path); err != nil {
			return fmt.Errorf("failed to reset output sources: %w", err)
		}
		for _, src := range file.Sources {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO output_sources (output_path, source) VALUES (?, ?)`, file.Path, src); err != nil {
				return fmt.Errorf("failed to record output source: %w", err)
			}
		}
		return nil
	})
}

// ChunkCompiled records source hashes of the round, forgets removed
// sources together with their outputs and marks the dependents of classes
// whose API changed as stale. It asks for another pass when a stale
// dependent belongs to the same chunk.
func (s *SQLiteStore) ChunkCompiled(ctx context.Context, result core.ChunkResult) (bool, error) {
	s.mu.Lock()
	session := s.session
	changed := make(map[string]string)
	for _, f := range result.OutputFiles {
		if name, ok := s.changed[f.Path]; ok {
			changed[f.Path] = name
			delete(s.changed, f.Path)
		}
	}
	s.mu.Unlock()

	var (
		additional bool
		obsolete   []string
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		removedClasses, files, err := s.forgetSources(ctx, tx, result.Removed)
		if err != nil {
			return err
		}
		obsolete = files

		recorded, err := s.recordSources(ctx, tx, result)
		if err != nil {
			return err
		}

		if len(result.ErrorFiles) == 0 {
			classes, files, err := s.dropStaleOutputs(ctx, tx, result)
			if err != nil {
				return err
			}
			removedClasses = append(removedClasses, classes...)
			obsolete = append(obsolete, files...)
		}

		names := removedClasses
		for _, n := range changed {
			names = append(names, n)
		}
		additional, err = s.markDependents(ctx, tx, result.Chunk, names, recorded)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunk_results (session_id, chunk, compiled, errors, outputs, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			session, result.Chunk, len(result.Compiled), len(result.ErrorFiles), len(result.OutputFiles), s.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to record chunk result: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, p := range obsolete {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cannot delete obsolete output", "path", p, "error", err)
		}
	}
	if len(obsolete) > 0 {
		s.logger.Debug("deleted obsolete outputs", "chunk", result.Chunk, "files", len(obsolete))
	}
	return additional, nil
}

// recordSources stores content hashes. Without errors every dirty source
// is up to date; otherwise only those that produced output are. Files with
// errors keep an empty hash so they stay dirty.
func (s *SQLiteStore) recordSources(ctx context.Context, tx *sql.Tx, result core.ChunkResult) (map[string]bool, error) {
	failed := make(map[string]bool, len(result.ErrorFiles))
	for _, f := range result.ErrorFiles {
		failed[f] = true
	}
	done := make(map[string]bool)
	for _, src := range result.Compiled {
		done[src] = true
	}
	if len(result.ErrorFiles) == 0 {
		for _, src := range result.Dirty {
			done[src] = true
		}
	}

	upsert := func(path, hash string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sources (path, chunk, hash, stale, updated_at) VALUES (?, ?, ?, 0, ?)
			 ON CONFLICT(path) DO UPDATE SET chunk = excluded.chunk, hash = excluded.hash, stale = 0, updated_at = excluded.updated_at`,
			path, result.Chunk, hash, s.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to record source %s: %w", path, err)
		}
		return nil
	}

	recorded := make(map[string]bool)
	for src := range done {
		if failed[src] {
			continue
		}
		hash, err := HashFile(src)
		if err != nil {
			s.logger.Debug("source vanished before hashing", "source", src, "error", err)
			continue
		}
		if err := upsert(src, hash); err != nil {
			return nil, err
		}
		recorded[src] = true
	}
	for src := range failed {
		if err := upsert(src, ""); err != nil {
			return nil, err
		}
	}
	return recorded, nil
}

// forgetSources deletes everything recorded for removed sources. Outputs
// no other source contributes to are returned for deletion from disk.
func (s *SQLiteStore) forgetSources(ctx context.Context, tx *sql.Tx, removed []string) (classes, files []string, err error) {
	for _, src := range removed {
		outs, err := queryStrings(ctx, tx, `SELECT output_path FROM output_sources WHERE source = ?`, src)
		if err != nil {
			return nil, nil, err
		}
		for _, q := range []string{
			`DELETE FROM output_sources WHERE source = ?`,
			`DELETE FROM class_sources WHERE source = ?`,
			`DELETE FROM sources WHERE path = ?`,
			`DELETE FROM file_data WHERE source = ?`,
			`DELETE FROM imports WHERE source = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, src); err != nil {
				return nil, nil, fmt.Errorf("failed to forget source %s: %w", src, err)
			}
		}
		for _, out := range outs {
			class, dropped, err := dropOrphan(ctx, tx, out)
			if err != nil {
				return nil, nil, err
			}
			if dropped {
				files = append(files, out)
				if class != "" {
					classes = append(classes, class)
				}
			}
		}
	}
	return classes, files, nil
}

// dropStaleOutputs forgets outputs that compiled sources produced before
// but did not produce in this round.
func (s *SQLiteStore) dropStaleOutputs(ctx context.Context, tx *sql.Tx, result core.ChunkResult) (classes, files []string, err error) {
	written := make(map[string]bool, len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		written[f.Path] = true
	}
	for _, src := range result.Compiled {
		outs, err := queryStrings(ctx, tx, `SELECT output_path FROM output_sources WHERE source = ?`, src)
		if err != nil {
			return nil, nil, err
		}
		for _, out := range outs {
			if written[out] {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM output_sources WHERE output_path = ? AND source = ?`, out, src); err != nil {
				return nil, nil, fmt.Errorf("failed to unlink output %s: %w", out, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM class_sources WHERE class_path = ? AND source = ?`, out, src); err != nil {
				return nil, nil, fmt.Errorf("failed to unlink class %s: %w", out, err)
			}
			class, dropped, err := dropOrphan(ctx, tx, out)
			if err != nil {
				return nil, nil, err
			}
			if dropped {
				files = append(files, out)
				if class != "" {
					classes = append(classes, class)
				}
			}
		}
	}
	return classes, files, nil
}

// dropOrphan deletes an output with no remaining sources. It returns the
// class name when the output was a class.
func dropOrphan(ctx context.Context, tx *sql.Tx, path string) (string, bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM output_sources WHERE output_path = ?`, path).Scan(&n); err != nil {
		return "", false, fmt.Errorf("failed to count output sources: %w", err)
	}
	if n > 0 {
		return "", false, nil
	}

	var class string
	err := tx.QueryRowContext(ctx, `SELECT class_name FROM classes WHERE path = ?`, path).Scan(&class)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("failed to read class: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE path = ?`, path); err != nil {
		return "", false, fmt.Errorf("failed to delete class: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outputs WHERE path = ?`, path); err != nil {
		return "", false, fmt.Errorf("failed to delete output: %w", err)
	}
	return class, true, nil
}

// markDependents flags sources that import one of the classes, or share
// their package, as stale. Sources recorded in this round are skipped.
func (s *SQLiteStore) markDependents(ctx context.Context, tx *sql.Tx, chunk string, classes []string, skip map[string]bool) (bool, error) {
	if len(classes) == 0 {
		return false, nil
	}

	deps := make(map[string]bool)
	for _, class := range classes {
		for _, name := range referenceNames(class) {
			srcs, err := queryStrings(ctx, tx, `SELECT source FROM imports WHERE name = ?`, name)
			if err != nil {
				return false, err
			}
			for _, src := range srcs {
				deps[src] = true
			}
		}

		pkg := packageOf(class)
		rows, err := tx.QueryContext(ctx,
			`SELECT cs.source, c.class_name FROM class_sources cs JOIN classes c ON c.path = cs.class_path
			 WHERE c.class_name LIKE ? ESCAPE '\'`, likePrefix(pkg))
		if err != nil {
			return false, fmt.Errorf("failed to find package dependents: %w", err)
		}
		for rows.Next() {
			var src, name string
			if err := rows.Scan(&src, &name); err != nil {
				rows.Close()
				return false, fmt.Errorf("failed to scan dependent: %w", err)
			}
			if packageOf(name) == pkg {
				deps[src] = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}
	}

	additional := false
	for src := range deps {
		if skip[src] {
			continue
		}
		res, err := tx.ExecContext(ctx, `UPDATE sources SET stale = 1 WHERE path = ?`, src)
		if err != nil {
			return false, fmt.Errorf("failed to mark %s stale: %w", src, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		var owner string
		if err := tx.QueryRowContext(ctx, `SELECT chunk FROM sources WHERE path = ?`, src).Scan(&owner); err != nil {
			return false, fmt.Errorf("failed to read chunk of %s: %w", src, err)
		}
		if owner == chunk {
			additional = true
		}
	}
	s.logger.Debug("marked dependents stale", "chunk", chunk, "classes", len(classes), "dependents", len(deps), "additional_pass", additional)
	return additional, nil
}

func queryStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// dotted converts an internal class name to source form.
func dotted(internal string) string {
	return strings.NewReplacer("/", ".", "$", ".").Replace(internal)
}

// referenceNames lists the import forms that can refer to a class: the
// class itself, its top-level class and its package wildcard.
func referenceNames(internal string) []string {
	names := []string{dotted(internal)}
	if top, _, nested := strings.Cut(internal, "$"); nested {
		names = append(names, dotted(top))
	}
	if pkg := packageOf(internal); pkg != "" {
		names = append(names, dotted(pkg)+".*")
	}
	return names
}

func packageOf(internal string) string {
	if i := strings.LastIndexByte(internal, '/'); i >= 0 {
		return internal[:i]
	}
	return ""
}

func likePrefix(pkg string) string {
	esc := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(pkg)
	if esc == "" {
		return "%"
	}
	return esc + "/%"
}
