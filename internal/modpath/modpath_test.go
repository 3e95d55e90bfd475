package modpath

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/internal/testutil"
)

func newTestSplitter(t *testing.T) *Splitter {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	return NewSplitter(NewCache(&FileInspector{}, logger), logger)
}

func writeDescriptor(t *testing.T, dir, src string) string {
	t.Helper()
	p := filepath.Join(dir, "module-info.java")
	require.NoError(t, os.WriteFile(p, []byte(src), 0o600))
	return p
}

func TestSplit_PlainArchivesStayOnClasspath(t *testing.T) {
	dir := t.TempDir()
	var cp []string
	for _, name := range []string{"a-1.0.jar", "b.jar", "c-2.3.1.jar"} {
		cp = append(cp, testutil.WriteJar(t, filepath.Join(dir, name), map[string][]byte{
			"p/X.class": {0xCA, 0xFE},
		}))
	}

	mp, rest := newTestSplitter(t).Split("", nil, cp, nil)
	assert.True(t, mp.IsEmpty())
	assert.ElementsMatch(t, cp, rest)
}

func TestSplit_RequiredAutomaticModuleIsNamed(t *testing.T) {
	dir := t.TempDir()
	f := testutil.WriteJar(t, filepath.Join(dir, "F.jar"), map[string][]byte{
		"META-INF/MANIFEST.MF": testutil.Manifest(map[string]string{"Automatic-Module-Name": "foo"}),
	})
	g := testutil.WriteJar(t, filepath.Join(dir, "G.jar"), map[string][]byte{"g/G.class": {0}})
	desc := writeDescriptor(t, dir, "module app { requires foo; }")

	mp, rest := newTestSplitter(t).Split(desc, nil, []string{f, g}, nil)
	assert.Equal(t, []Entry{{Path: f, Name: "foo"}}, mp.Entries)
	assert.Equal(t, []string{g}, rest)
	assert.Equal(t, map[string]string{f: "foo"}, mp.Names())
}

func TestSplit_ExplicitModulesAndTransitiveRequires(t *testing.T) {
	dir := t.TempDir()
	lib := testutil.WriteJar(t, filepath.Join(dir, "lib.jar"), map[string][]byte{
		"module-info.class": testutil.ModuleInfoClass(t, "com.acme.lib", "java.base", "com.acme.util"),
	})
	util := testutil.WriteJar(t, filepath.Join(dir, "util-3.2.jar"), map[string][]byte{
		"META-INF/versions/11/module-info.class": testutil.ModuleInfoClass(t, "com.acme.util"),
		"META-INF/versions/9/module-info.class":  testutil.ModuleInfoClass(t, "com.acme.util.old"),
	})
	extra := testutil.WriteJar(t, filepath.Join(dir, "extra_tools-1.jar"), nil)
	unrelated := testutil.WriteJar(t, filepath.Join(dir, "unrelated.jar"), nil)

	output := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(output, 0o750))

	desc := writeDescriptor(t, dir, `
		/* requires commented.out; */
		@Deprecated
		open module com.acme.app {
			requires transitive com.acme.lib; // pulls com.acme.util through lib's descriptor
			requires static java.sql;
		}`)

	cp := []string{output, lib, util, extra, unrelated}
	mp, rest := newTestSplitter(t).Split(desc, []string{output}, cp, []string{"extra.tools"})

	assert.Equal(t, []Entry{
		{Path: output},
		{Path: lib},
		{Path: util},
		{Path: extra, Name: "extra.tools"},
	}, mp.Entries)
	assert.Equal(t, []string{unrelated}, rest)
}

func TestSplit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteJar(t, filepath.Join(dir, "a.jar"), map[string][]byte{
		"META-INF/MANIFEST.MF": testutil.Manifest(map[string]string{"Automatic-Module-Name": "a"}),
	})
	b := testutil.WriteJar(t, filepath.Join(dir, "b.jar"), nil)
	desc := writeDescriptor(t, dir, "module m { requires a; }")
	s := newTestSplitter(t)

	mp1, cp1 := s.Split(desc, nil, []string{a, b}, nil)
	mp2, cp2 := s.Split(desc, nil, []string{a, b}, nil)
	assert.Equal(t, mp1, mp2)
	assert.Equal(t, cp1, cp2)
	assert.Equal(t, 2, s.cache.Len())
}

func TestSplit_PartitionIsExact(t *testing.T) {
	dir := t.TempDir()
	var cp []string
	for i, name := range []string{"x.jar", "y.jar", "z.jar"} {
		files := map[string][]byte{}
		if i == 1 {
			files["META-INF/MANIFEST.MF"] = testutil.Manifest(map[string]string{"Automatic-Module-Name": "y"})
		}
		cp = append(cp, testutil.WriteJar(t, filepath.Join(dir, name), files))
	}
	missing := filepath.Join(dir, "missing.jar")
	cp = append(cp, missing)

	mp, rest := newTestSplitter(t).Split("", nil, cp, []string{"y"})
	all := append(mp.Paths(), rest...)
	assert.ElementsMatch(t, cp, all)
	assert.Len(t, all, len(cp))
}

func TestSplit_NoIntrospection(t *testing.T) {
	cp := []string{"/a.jar", "/b"}
	mp, rest := NewSplitter(nil, nil).Split("", nil, cp, []string{"a"})
	assert.Equal(t, cp, mp.Paths())
	assert.Empty(t, rest)
	assert.Empty(t, mp.Names())
}

func TestFileInspector_Directory(t *testing.T) {
	root := t.TempDir()

	explicit := testutil.WriteFiles(t, filepath.Join(root, "explicit"), map[string][]byte{
		"module-info.class": testutil.ModuleInfoClass(t, "dir.mod", "java.base"),
	})
	manifest := testutil.WriteFiles(t, filepath.Join(root, "manifest"), map[string][]byte{
		"META-INF/MANIFEST.MF": testutil.Manifest(map[string]string{"Automatic-Module-Name": "from.manifest"}),
	})
	plain := testutil.WriteFiles(t, filepath.Join(root, "my-classes"), map[string][]byte{"A.class": {0}})

	fi := &FileInspector{}
	info, err := fi.Inspect(explicit)
	require.NoError(t, err)
	assert.Equal(t, &Info{Name: "dir.mod", Requires: []string{"java.base"}}, info)

	info, err = fi.Inspect(manifest)
	require.NoError(t, err)
	assert.Equal(t, &Info{Name: "from.manifest", Automatic: true}, info)

	info, err = fi.Inspect(plain)
	require.NoError(t, err)
	assert.Equal(t, &Info{Name: "my.classes", Automatic: true}, info)

	custom := &FileInspector{ExplodedName: func(string) string { return "exploded.name" }}
	info, err = custom.Inspect(plain)
	require.NoError(t, err)
	assert.Equal(t, "exploded.name", info.Name)
}

func TestFileInspector_CustomNameFunc(t *testing.T) {
	jar := testutil.WriteJar(t, filepath.Join(t.TempDir(), "whatever.jar"), nil)
	fi := &FileInspector{NameFromFile: func(string) string { return "custom" }}
	info, err := fi.Inspect(jar)
	require.NoError(t, err)
	assert.Equal(t, &Info{Name: "custom", Automatic: true}, info)
}

func TestCache_CorruptArchiveFallsBackToFileName(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken-lib-1.2.jar")
	require.NoError(t, os.WriteFile(p, []byte("not a zip"), 0o600))

	info := NewCache(&FileInspector{}, nil).Get(p)
	assert.Equal(t, &Info{Name: "broken.lib", Automatic: true}, info)
}

func TestCache_ConcurrentGet(t *testing.T) {
	jar := testutil.WriteJar(t, filepath.Join(t.TempDir(), "c.jar"), nil)
	cache := NewCache(&FileInspector{}, nil)

	var wg sync.WaitGroup
	results := make([]*Info, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Get(jar)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, cache.Len())
}

func TestDefaultName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/libs/foo-bar-1.2.3.jar", "foo.bar"},
		{"guava-33.0.0-jre.jar", "guava"},
		{"commons_lang3.jar", "commons.lang3"},
		{"..weird--name..jar", "weird.name"},
		{"slf4j-api-2.jar", "slf4j.api"},
		{"x-1a.jar", "x.1a"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultName(tt.path))
		})
	}
}

func TestNormalizeName_Properties(t *testing.T) {
	inputs := []string{"", ".", "..a..", "a-b_c d", "-1-", "___x___", "a....b", "ünïcode-lib"}
	for _, in := range inputs {
		out := NormalizeName(in)
		assert.NotContains(t, out, "..", in)
		assert.False(t, strings.HasPrefix(out, "."), in)
		assert.False(t, strings.HasSuffix(out, "."), in)
	}
}

func TestManifestAttribute(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		key      string
		want     string
	}{
		{
			name:     "wrapped value",
			manifest: "Manifest-Version: 1.0\r\nAutomatic-Module-Name: com.example.very.lo\r\n ng.name\r\nCreated-By: test\r\n",
			key:      "Automatic-Module-Name",
			want:     "com.example.very.long.name",
		},
		{
			name:     "value after wrapped attribute",
			manifest: "Manifest-Version: 1.0\r\nAutomatic-Module-Name: com.example.very.lo\r\n ng.name\r\nCreated-By: test\r\n",
			key:      "Created-By",
			want:     "test",
		},
		{
			name:     "several continuation lines",
			manifest: "Automatic-Module-Name: org.exa\n mple.util\n ities\nBuilt-By: ci\n",
			key:      "Automatic-Module-Name",
			want:     "org.example.utilities",
		},
		{
			name:     "key is case insensitive",
			manifest: "automatic-module-name: org.lower\n",
			key:      "Automatic-Module-Name",
			want:     "org.lower",
		},
		{
			name:     "per-entry sections are ignored",
			manifest: "Manifest-Version: 1.0\r\n\r\nName: section\r\nAutomatic-Module-Name: ignored\r\n",
			key:      "Automatic-Module-Name",
		},
		{
			name:     "line without separator",
			manifest: "garbage\nAutomatic-Module-Name: org.after\n",
			key:      "Automatic-Module-Name",
			want:     "org.after",
		},
		{
			name:     "missing",
			manifest: "Manifest-Version: 1.0\n",
			key:      "Automatic-Module-Name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, manifestAttribute([]byte(tt.manifest), tt.key))
		})
	}
}

func TestParseSourceDescriptor(t *testing.T) {
	info, err := ParseSourceDescriptor([]byte(`module a.b { requires c; requires transitive static d.e; exports a.b; }`))
	require.NoError(t, err)
	assert.Equal(t, "a.b", info.Name)
	assert.Equal(t, []string{"c", "d.e"}, info.Requires)

	_, err = ParseSourceDescriptor([]byte("package x;"))
	require.Error(t, err)
}
