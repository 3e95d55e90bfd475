package javac_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/internal/classfile"
	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/internal/testutil"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

const (
	stringDesc = "Ljava/lang/String;"
	constant   = classfile.AccPublic | classfile.AccStatic | classfile.AccFinal
)

func libraryClasses(t *testing.T) map[string][]byte {
	t.Helper()
	return map[string][]byte{
		"org/lib/Limits": testutil.BuildClass(t, testutil.ClassSpec{
			Name: "org/lib/Limits",
			Fields: []testutil.FieldSpec{
				{Name: "MAX", Descriptor: stringDesc, Access: constant, Constant: "10"},
				{Name: "MIN", Descriptor: stringDesc, Access: constant, Constant: "0"},
				{Name: "NAME", Descriptor: stringDesc, Access: classfile.AccPublic | classfile.AccStatic},
			},
			Methods: []testutil.MethodSpec{
				{Name: "compute", Descriptor: "()V", Access: classfile.AccPublic | classfile.AccStatic, Code: []byte{0xb1}},
			},
		}),
		"org/lib/Outer$Inner": testutil.BuildClass(t, testutil.ClassSpec{
			Name:   "org/lib/Outer$Inner",
			Fields: []testutil.FieldSpec{{Name: "KEY", Descriptor: stringDesc, Access: constant, Constant: "k"}},
		}),
	}
}

func TestScanConstants(t *testing.T) {
	classes := libraryClasses(t)
	lookup := func(name string) ([]byte, bool) {
		data, ok := classes[name]
		return data, ok
	}
	maxRef := core.ConstantRef{Owner: "org/lib/Limits", Field: "MAX", Descriptor: stringDesc}

	tests := []struct {
		name string
		src  string
		want []core.ConstantRef
	}{
		{
			name: "fully qualified",
			src:  "package com.acme;\nclass A { String s = org.lib.Limits.MAX; }",
			want: []core.ConstantRef{maxRef},
		},
		{
			name: "single type import",
			src:  "import org.lib.Limits;\nclass A { String s = Limits.MAX + Limits.NAME; }",
			want: []core.ConstantRef{maxRef},
		},
		{
			name: "same package",
			src:  "package org.lib;\nclass B { String s = Limits.MAX; }",
			want: []core.ConstantRef{maxRef},
		},
		{
			name: "nested owner",
			src:  "import org.lib.Outer;\nclass A { String s = Outer.Inner.KEY; }",
			want: []core.ConstantRef{{Owner: "org/lib/Outer$Inner", Field: "KEY", Descriptor: stringDesc}},
		},
		{
			name: "static import",
			src:  "import static org.lib.Limits.MAX;\nclass A { String s = MAX; }",
			want: []core.ConstantRef{maxRef},
		},
		{
			name: "static wildcard keeps used names",
			src:  "import static org.lib.Limits.*;\nclass A { String s = MAX; }",
			want: []core.ConstantRef{maxRef},
		},
		{
			name: "comments and literals",
			src:  "class A {\n  // org.lib.Limits.MAX\n  String s = \"org.lib.Limits.MIN\";\n}",
		},
		{
			name: "method call",
			src:  "class A { void f() { org.lib.Limits.compute(); } }",
		},
		{
			name: "unknown owner",
			src:  "class A { String s = org.lib.Missing.MAX; }",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := javac.ScanConstants([]byte(tt.src), lookup)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_ReportsConstantUses(t *testing.T) {
	tc, srcRoot, _ := fakeToolchain(t, "0")
	source := filepath.Join(srcRoot, "com", "acme", "A.java")
	require.NoError(t, os.WriteFile(source, []byte(`package com.acme;
import static org.lib.Limits.MIN;
class A { String x = org.lib.Limits.MAX; String y = MIN; String z = A.SELF; }
`), 0o644))

	files := map[string][]byte{}
	for name, data := range libraryClasses(t) {
		files[name+".class"] = data
	}
	jar := testutil.WriteJar(t, filepath.Join(t.TempDir(), "lib.jar"), files)

	ev := &events{}
	_, err := tc.Compile(context.Background(), &javac.Request{
		Sources:   []string{source},
		Classpath: []string{jar, filepath.Join(t.TempDir(), "missing.jar")},
		OutputMap: map[string][]string{filepath.Join(t.TempDir(), "out"): {srcRoot}},
	}, ev)
	require.NoError(t, err)

	require.Len(t, ev.files, 1)
	assert.Equal(t, []string{"org.lib.Limits.MIN"}, ev.files[0].StaticImports)
	assert.Equal(t, []core.ConstantRef{
		{Owner: "org/lib/Limits", Field: "MAX", Descriptor: stringDesc},
		{Owner: "org/lib/Limits", Field: "MIN", Descriptor: stringDesc},
	}, ev.files[0].Constants)
}
