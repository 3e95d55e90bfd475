package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/internal/classfile"
	"github.com/leapstack-labs/jbuild/internal/testutil"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type project struct {
	root  string
	out   string
	chunk *core.Chunk
}

func newProject(t *testing.T, files map[string]string) *project {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	contents := make(map[string][]byte, len(files))
	for k, v := range files {
		contents[k] = []byte(v)
	}
	testutil.WriteFiles(t, src, contents)
	m := &core.Module{Name: "app", SourceRoots: []string{src}, OutputDir: filepath.Join(dir, "out")}
	return &project{root: src, out: m.OutputDir, chunk: core.NewChunk(false, m)}
}

func (p *project) src(rel string) string { return filepath.Join(p.root, filepath.FromSlash(rel)) }

func classContent(t *testing.T, name string, methods ...string) []byte {
	t.Helper()
	spec := testutil.ClassSpec{Name: name, Access: classfile.AccPublic}
	for _, m := range methods {
		spec.Methods = append(spec.Methods, testutil.MethodSpec{
			Name: m, Descriptor: "()V", Access: classfile.AccPublic, Code: []byte{0xb1}, MaxLocals: 1,
		})
	}
	return testutil.BuildClass(t, spec)
}

func TestSQLiteStore_Migrations(t *testing.T) {
	store := setupTestStore(t)
	v, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	reopened := NewSQLiteStore()
	require.NoError(t, reopened.Open(store.Path()), "migrations are idempotent")
	require.NoError(t, reopened.Close())
}

func TestSQLiteStore_NotOpen(t *testing.T) {
	store := NewSQLiteStore()
	ctx := context.Background()

	_, err := store.Dirty(ctx, core.NewChunk(false, &core.Module{Name: "a"}))
	assert.ErrorIs(t, err, errNotOpen)
	assert.ErrorIs(t, store.Associate(ctx, core.CompiledClass{}), errNotOpen)
	_, err = store.ChunkCompiled(ctx, core.ChunkResult{})
	assert.ErrorIs(t, err, errNotOpen)
	assert.ErrorIs(t, store.Migrate(), errNotOpen)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_DirtyTracking(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := newProject(t, map[string]string{
		"com/acme/A.java": "class A {}",
		"com/acme/B.java": "class B {}",
		"notes.txt":       "ignored",
	})
	a, b := p.src("com/acme/A.java"), p.src("com/acme/B.java")

	dirty, err := store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, dirty.Files)
	assert.False(t, dirty.HasRemovedFiles)

	_, err = store.ChunkCompiled(ctx, core.ChunkResult{Chunk: p.chunk.GraphKey(), Dirty: dirty.Files, Compiled: []string{a}})
	require.NoError(t, err)

	dirty, err = store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Empty(t, dirty.Files, "every dirty file is up to date after an error-free round")

	require.NoError(t, os.WriteFile(a, []byte("class A { int x; }"), 0o600))
	dirty, err = store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, dirty.Files)

	_, err = store.ChunkCompiled(ctx, core.ChunkResult{Chunk: p.chunk.GraphKey(), Dirty: []string{a}, ErrorFiles: []string{a}})
	require.NoError(t, err)
	dirty, err = store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, dirty.Files, "files with errors stay dirty")

	require.NoError(t, store.Reset(ctx))
	dirty, err = store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, dirty.Files)
}

func TestSQLiteStore_RemovedSourcesDeleteOutputs(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := newProject(t, map[string]string{"com/acme/A.java": "class A {}", "com/acme/B.java": "class B {}"})
	a, b := p.src("com/acme/A.java"), p.src("com/acme/B.java")

	outs := map[string]string{}
	for _, name := range []string{"A", "B"} {
		rel := "com/acme/" + name + ".class"
		path := filepath.Join(p.out, filepath.FromSlash(rel))
		testutil.WriteFiles(t, p.out, map[string][]byte{rel: classContent(t, "com/acme/"+name)})
		outs[name] = path
		src := p.src("com/acme/" + name + ".java")
		require.NoError(t, store.RegisterOutput(ctx, core.OutputFile{OutputRoot: p.out, RelativePath: rel, Path: path, Sources: []string{src}}))
		require.NoError(t, store.Associate(ctx, core.CompiledClass{OutputRoot: p.out, Path: path, ClassName: "com/acme/" + name, Sources: []string{src}, Content: classContent(t, "com/acme/"+name)}))
	}
	_, err := store.ChunkCompiled(ctx, core.ChunkResult{Chunk: p.chunk.GraphKey(), Dirty: []string{a, b}, Compiled: []string{a, b},
		OutputFiles: []core.OutputFile{{Path: outs["A"]}, {Path: outs["B"]}}})
	require.NoError(t, err)

	require.NoError(t, os.Remove(b))
	dirty, err := store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Empty(t, dirty.Files)
	assert.Equal(t, []string{b}, dirty.Removed)
	assert.True(t, dirty.HasRemovedFiles)

	additional, err := store.ChunkCompiled(ctx, core.ChunkResult{Chunk: p.chunk.GraphKey(), Removed: dirty.Removed})
	require.NoError(t, err)
	assert.NoFileExists(t, outs["B"])
	assert.FileExists(t, outs["A"])
	assert.True(t, additional, "same-package sources may have used the removed class")

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Sources: 1, Stale: 1, Classes: 1, Outputs: 1}, st)

	dirty, err = store.Dirty(ctx, p.chunk)
	require.NoError(t, err)
	assert.Empty(t, dirty.Removed)
	assert.Equal(t, []string{a}, dirty.Files)
}

func TestSQLiteStore_ApiChangeRequestsAdditionalPass(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := newProject(t, map[string]string{
		"com/acme/A.java":  "public class A {}",
		"com/acme/B.java":  "class B { A a; }",
		"org/other/C.java": "import com.acme.A; class C {}",
		"org/other/D.java": "class D {}",
	})
	a, b, c, d := p.src("com/acme/A.java"), p.src("com/acme/B.java"), p.src("org/other/C.java"), p.src("org/other/D.java")
	key := p.chunk.GraphKey()
	classA := filepath.Join(p.out, "com", "acme", "A.class")

	associate := func(path, name, src string, content []byte) {
		require.NoError(t, store.RegisterOutput(ctx, core.OutputFile{OutputRoot: p.out, Path: path, Sources: []string{src}}))
		require.NoError(t, store.Associate(ctx, core.CompiledClass{OutputRoot: p.out, Path: path, ClassName: name, Sources: []string{src}, Content: content}))
	}
	associate(classA, "com/acme/A", a, classContent(t, "com/acme/A", "run"))
	associate(filepath.Join(p.out, "com", "acme", "B.class"), "com/acme/B", b, classContent(t, "com/acme/B"))
	associate(filepath.Join(p.out, "org", "other", "C.class"), "org/other/C", c, classContent(t, "org/other/C"))
	associate(filepath.Join(p.out, "org", "other", "D.class"), "org/other/D", d, classContent(t, "org/other/D"))
	require.NoError(t, store.RegisterFileData(ctx, core.FileData{Path: c, Imports: []string{"com.acme.A"}}))

	all := []string{a, b, c, d}
	var written []core.OutputFile
	for _, rel := range []string{"com/acme/A.class", "com/acme/B.class", "org/other/C.class", "org/other/D.class"} {
		written = append(written, core.OutputFile{Path: filepath.Join(p.out, filepath.FromSlash(rel))})
	}
	additional, err := store.ChunkCompiled(ctx, core.ChunkResult{Chunk: key, Dirty: all, Compiled: all, OutputFiles: written})
	require.NoError(t, err)
	assert.False(t, additional, "first compilation has nothing to compare with")

	tests := []struct {
		name       string
		content    []byte
		additional bool
		dirty      []string
	}{
		{name: "same API", content: classContent(t, "com/acme/A", "run"), dirty: nil},
		{name: "new method", content: classContent(t, "com/acme/A", "run", "stop"), additional: true, dirty: []string{b, c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			associate(classA, "com/acme/A", a, tt.content)
			additional, err := store.ChunkCompiled(ctx, core.ChunkResult{
				Chunk: key, Dirty: []string{a}, Compiled: []string{a},
				OutputFiles: []core.OutputFile{{Path: classA}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.additional, additional)

			dirty, err := store.Dirty(ctx, p.chunk)
			require.NoError(t, err)
			assert.Equal(t, tt.dirty, dirty.Files)
		})
	}

	data, err := store.FileData(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, []string{"com.acme.A"}, data.Imports)
	missing, err := store.FileData(ctx, "/nope.java")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_ConstantOwnerChangeDirtiesUser(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := newProject(t, map[string]string{
		"org/lib/Limits.java":      "public class Limits { public static final String MAX = \"10\"; }",
		"com/acme/User.java":       "class User { String s = org.lib.Limits.MAX; }",
		"com/other/Bystander.java": "class Bystander {}",
	})
	limits, user, bystander := p.src("org/lib/Limits.java"), p.src("com/acme/User.java"), p.src("com/other/Bystander.java")
	key := p.chunk.GraphKey()
	classLimits := filepath.Join(p.out, "org", "lib", "Limits.class")

	limitsClass := func(value string) []byte {
		return testutil.BuildClass(t, testutil.ClassSpec{
			Name: "org/lib/Limits",
			Fields: []testutil.FieldSpec{{
				Name: "MAX", Descriptor: "Ljava/lang/String;",
				Access: classfile.AccPublic | classfile.AccStatic | classfile.AccFinal, Constant: value,
			}},
		})
	}
	associate := func(path, name, src string, content []byte) {
		require.NoError(t, store.RegisterOutput(ctx, core.OutputFile{OutputRoot: p.out, Path: path, Sources: []string{src}}))
		require.NoError(t, store.Associate(ctx, core.CompiledClass{OutputRoot: p.out, Path: path, ClassName: name, Sources: []string{src}, Content: content}))
	}
	associate(classLimits, "org/lib/Limits", limits, limitsClass("10"))
	classUser := filepath.Join(p.out, "com", "acme", "User.class")
	classBystander := filepath.Join(p.out, "com", "other", "Bystander.class")
	associate(classUser, "com/acme/User", user, classContent(t, "com/acme/User"))
	associate(classBystander, "com/other/Bystander", bystander, classContent(t, "com/other/Bystander"))
	require.NoError(t, store.RegisterFileData(ctx, core.FileData{
		Path:      user,
		Constants: []core.ConstantRef{{Owner: "org/lib/Limits", Field: "MAX", Descriptor: "Ljava/lang/String;"}},
	}))

	all := []string{limits, user, bystander}
	_, err := store.ChunkCompiled(ctx, core.ChunkResult{
		Chunk: key, Dirty: all, Compiled: all,
		OutputFiles: []core.OutputFile{{Path: classLimits}, {Path: classUser}, {Path: classBystander}},
	})
	require.NoError(t, err)

	tests := []struct {
		name       string
		value      string
		additional bool
		dirty      []string
	}{
		{name: "same value", value: "10"},
		{name: "new value", value: "20", additional: true, dirty: []string{user}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			associate(classLimits, "org/lib/Limits", limits, limitsClass(tt.value))
			additional, err := store.ChunkCompiled(ctx, core.ChunkResult{
				Chunk: key, Dirty: []string{limits}, Compiled: []string{limits},
				OutputFiles: []core.OutputFile{{Path: classLimits}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.additional, additional)

			dirty, err := store.Dirty(ctx, p.chunk)
			require.NoError(t, err)
			assert.Equal(t, tt.dirty, dirty.Files)
		})
	}
}

func TestSQLiteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	assert.Error(t, store.FinishSession(ctx, nil), "no session yet")

	id, err := store.BeginSession(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, store.FinishSession(ctx, errors.New("compilation failed")))

	second, err := store.BeginSession(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", second)
	require.NoError(t, store.FinishSession(ctx, nil))

	sessions, err := store.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	byID := map[string]Session{}
	for _, s := range sessions {
		byID[s.ID] = s
	}
	assert.Equal(t, SessionFailed, byID[id].Status)
	assert.Equal(t, "compilation failed", byID[id].Error)
	assert.Equal(t, SessionSucceeded, byID["fixed-id"].Status)
	assert.NotNil(t, byID["fixed-id"].FinishedAt)
}

func TestAPIHash(t *testing.T) {
	base := classContent(t, "com/acme/A", "run")
	private := testutil.BuildClass(t, testutil.ClassSpec{Name: "com/acme/A", Access: classfile.AccPublic, Methods: []testutil.MethodSpec{
		{Name: "run", Descriptor: "()V", Access: classfile.AccPublic, Code: []byte{0xb1}, MaxLocals: 1},
		{Name: "helper", Descriptor: "()V", Access: classfile.AccPrivate, Code: []byte{0xb1}, MaxLocals: 1},
	}})
	body := testutil.BuildClass(t, testutil.ClassSpec{Name: "com/acme/A", Access: classfile.AccPublic, Methods: []testutil.MethodSpec{
		{Name: "run", Descriptor: "()V", Access: classfile.AccPublic, Code: []byte{0x00, 0xb1}, MaxLocals: 1},
	}})

	tests := []struct {
		name  string
		other []byte
		same  bool
	}{
		{name: "identical", other: classContent(t, "com/acme/A", "run"), same: true},
		{name: "private member", other: private, same: true},
		{name: "method body", other: body, same: true},
		{name: "public method", other: classContent(t, "com/acme/A", "run", "stop"), same: false},
		{name: "super class", other: testutil.BuildClass(t, testutil.ClassSpec{Name: "com/acme/A", Super: "com/acme/Base", Access: classfile.AccPublic,
			Methods: []testutil.MethodSpec{{Name: "run", Descriptor: "()V", Access: classfile.AccPublic, Code: []byte{0xb1}, MaxLocals: 1}}}), same: false},
		{name: "not a class", other: []byte("garbage"), same: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, APIHash(base) == APIHash(tt.other))
		})
	}
	assert.Equal(t, APIHash([]byte("garbage")), APIHash([]byte("garbage")))
}

func TestReferenceNames(t *testing.T) {
	assert.Equal(t, []string{"com.acme.A.Inner", "com.acme.A", "com.acme.*"}, referenceNames("com/acme/A$Inner"))
	assert.Equal(t, []string{"Top"}, referenceNames("Top"))
	assert.Equal(t, []string{"a.b.C", "a.d.E"}, importedNames(core.FileData{
		Imports:       []string{"a.b.C"},
		StaticImports: []string{"a.b.C.VALUE"},
		Constants:     []core.ConstantRef{{Owner: "a/d/E", Field: "X"}},
	}))
	assert.Equal(t, `a\_b/%`, likePrefix("a_b"))
	assert.Equal(t, "%", likePrefix(""))
}

func TestHashFile(t *testing.T) {
	dir := testutil.WriteFiles(t, t.TempDir(), map[string][]byte{"a.txt": []byte("x"), "b.txt": []byte("x"), "c.txt": []byte("y")})
	ha, err := HashFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	hb, _ := HashFile(filepath.Join(dir, "b.txt"))
	hc, _ := HashFile(filepath.Join(dir, "c.txt"))
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
	assert.Len(t, ha, 64)

	_, err = HashFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewSQLiteStore()
	store.OpenDB(db)
	t.Cleanup(func() { _ = db.Close() })
	return store, mock
}

func TestSQLiteStore_Failures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		run     func(s *SQLiteStore) error
		wantErr string
	}{
		{
			name: "associate read fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT api_hash FROM classes").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			run: func(s *SQLiteStore) error {
				return s.Associate(ctx, core.CompiledClass{Path: "/out/A.class", ClassName: "A"})
			},
			wantErr: "failed to read class A",
		},
		{
			name: "begin fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				return s.RegisterOutput(ctx, core.OutputFile{Path: "/out/A.class"})
			},
			wantErr: "failed to begin transaction",
		},
		{
			name: "file data insert fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO file_data").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			run: func(s *SQLiteStore) error {
				return s.RegisterFileData(ctx, core.FileData{Path: "/src/A.java"})
			},
			wantErr: "failed to record file data",
		},
		{
			name: "chunk result insert fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO chunk_results").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ChunkCompiled(ctx, core.ChunkResult{Chunk: "$app"})
				return err
			},
			wantErr: "failed to record chunk result",
		},
		{
			name: "commit fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO chunk_results").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ChunkCompiled(ctx, core.ChunkResult{Chunk: "$app"})
				return err
			},
			wantErr: "failed to commit",
		},
		{
			name: "dirty query fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT path, chunk, hash, stale FROM sources").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.Dirty(ctx, core.NewChunk(false, &core.Module{Name: "app"}))
				return err
			},
			wantErr: "failed to load sources",
		},
		{
			name: "finish session fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("UPDATE sessions").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				if _, err := s.BeginSession(ctx, "id"); err != nil {
					return err
				}
				return s.FinishSession(ctx, nil)
			},
			wantErr: "failed to finish session",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setup(mock)

			err := tt.run(store)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
