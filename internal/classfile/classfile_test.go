package classfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/internal/classfile"
	"github.com/leapstack-labs/jbuild/internal/testutil"
)

func TestParseHeader(t *testing.T) {
	b := testutil.BuildClass(t, testutil.ClassSpec{
		Name:       "com/acme/Widget",
		Super:      "com/acme/Base",
		Interfaces: []string{"java/lang/Runnable", "java/io/Serializable"},
	})

	h, err := classfile.ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, "com/acme/Widget", h.Name)
	assert.Equal(t, "com/acme/Base", h.Super)
	assert.Equal(t, []string{"java/lang/Runnable", "java/io/Serializable"}, h.Interfaces)
	assert.Equal(t, uint16(classfile.Java8), h.Major)
	assert.False(t, h.IsInterface())
}

func TestParseHeader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty", nil, classfile.ErrTruncated},
		{"bad magic", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52}, classfile.ErrNotClassFile},
		{"truncated pool", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52, 0, 5, 1}, classfile.ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classfile.ParseHeader(tt.input)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	b := testutil.BuildClass(t, testutil.ClassSpec{
		Name:       "p/A",
		SourceFile: "A.java",
		Methods: []testutil.MethodSpec{{
			Name: "run", Descriptor: "(Ljava/lang/String;J)V", Access: classfile.AccPublic,
			Code: []byte{0xb1}, MaxStack: 0, MaxLocals: 4,
			ParamAnnotations: [][]string{{"Lorg/jetbrains/annotations/NotNull;"}, {}},
			ParamNames:       []string{"name", "count"},
		}},
	})

	c, err := classfile.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, b, c.Bytes())
	assert.Equal(t, "A.java", c.SourceFile())

	name, err := c.Name()
	require.NoError(t, err)
	assert.Equal(t, "p/A", name)

	require.Len(t, c.Methods, 1)
	m := c.Methods[0]
	mname, desc, err := c.MemberName(m)
	require.NoError(t, err)
	assert.Equal(t, "run", mname)
	assert.Equal(t, "(Ljava/lang/String;J)V", desc)

	ann := c.FindAttribute(m.Attributes, "RuntimeVisibleParameterAnnotations")
	require.NotNil(t, ann)
	params, err := c.ParameterAnnotations(ann.Info)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Lorg/jetbrains/annotations/NotNull;"}, nil}, params)

	mp := c.FindAttribute(m.Attributes, "MethodParameters")
	require.NotNil(t, mp)
	names, err := c.MethodParameterNames(mp.Info)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "count"}, names)

	codeAttr := c.FindAttribute(m.Attributes, "Code")
	require.NotNil(t, codeAttr)
	code, err := classfile.ParseCode(codeAttr.Info)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb1}, code.Bytecode)
	assert.Equal(t, codeAttr.Info, code.Encode())
}

func TestParseModule(t *testing.T) {
	b := testutil.ModuleInfoClass(t, "com.acme.app", "java.base", "com.acme.lib")

	md, err := classfile.ParseModule(b)
	require.NoError(t, err)
	assert.Equal(t, "com.acme.app", md.Name)
	assert.Equal(t, []string{"java.base", "com.acme.lib"}, md.Requires)

	_, err = classfile.ParseModule(testutil.BuildClass(t, testutil.ClassSpec{Name: "p/A"}))
	require.Error(t, err)
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc    string
		params  []string
		ret     string
		wantErr bool
	}{
		{"()V", nil, "V", false},
		{"(IJLjava/lang/String;[[D)Ljava/lang/Object;", []string{"I", "J", "Ljava/lang/String;", "[[D"}, "Ljava/lang/Object;", false},
		{"(Ljava/lang/String)V", nil, "", true},
		{"I", nil, "", true},
		{"(I", nil, "", true},
		{"(Q)V", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			mt, err := classfile.ParseMethodDescriptor(tt.desc)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.params, mt.Params)
			assert.Equal(t, tt.ret, mt.Return)
		})
	}
}

func TestSlotSizeAndReference(t *testing.T) {
	assert.Equal(t, 2, classfile.SlotSize("J"))
	assert.Equal(t, 2, classfile.SlotSize("D"))
	assert.Equal(t, 1, classfile.SlotSize("Ljava/lang/String;"))
	assert.True(t, classfile.IsReference("[I"))
	assert.True(t, classfile.IsReference("Ljava/lang/String;"))
	assert.False(t, classfile.IsReference("I"))
}

func TestStackMap_RoundTripAndWidening(t *testing.T) {
	frames := []classfile.Frame{
		{Type: 10, Delta: 10},
		{Type: 70, Delta: 6, Stack: []classfile.VerificationType{{Tag: classfile.VObject, Value: 3}}},
		{Type: 249, Delta: 300},
		{Type: 253, Delta: 4, Locals: []classfile.VerificationType{{Tag: classfile.VInteger}, {Tag: classfile.VLong}}},
		{Type: 255, Delta: 1, Locals: []classfile.VerificationType{{Tag: classfile.VUninitialized, Value: 12}}, Stack: []classfile.VerificationType{{Tag: classfile.VNull}}},
	}
	encoded := classfile.EncodeStackMap(frames)
	decoded, err := classfile.ParseStackMap(encoded)
	require.NoError(t, err)
	assert.Equal(t, frames, decoded)

	// A same frame whose delta outgrows 63 becomes same_frame_extended.
	widened, err := classfile.ParseStackMap(classfile.EncodeStackMap([]classfile.Frame{{Type: 5, Delta: 100}}))
	require.NoError(t, err)
	assert.Equal(t, uint8(classfile.FrameSameExtended), widened[0].Type)
	assert.Equal(t, uint16(100), widened[0].Delta)
}

func TestPool_AddDeduplicates(t *testing.T) {
	b := testutil.BuildClass(t, testutil.ClassSpec{Name: "p/A"})
	c, err := classfile.Parse(b)
	require.NoError(t, err)

	before := c.Pool.Len()
	i1, err := c.Pool.AddClass("java/lang/Object")
	require.NoError(t, err)
	assert.Equal(t, before, c.Pool.Len(), "existing class constant is reused")

	name, err := c.Pool.ClassName(i1)
	require.NoError(t, err)
	assert.Equal(t, "java/lang/Object", name)

	m1, err := c.Pool.AddMethodref("java/lang/IllegalArgumentException", "<init>", "(Ljava/lang/String;)V")
	require.NoError(t, err)
	m2, err := c.Pool.AddMethodref("java/lang/IllegalArgumentException", "<init>", "(Ljava/lang/String;)V")
	require.NoError(t, err)
	assert.Equal(t, m1, m2)

	s, err := c.Pool.AddString("héllo \U0001F600")
	require.NoError(t, err)
	entry, err := c.Pool.Entry(s)
	require.NoError(t, err)
	assert.Equal(t, uint8(classfile.TagString), entry.Tag)

	reparsed, err := classfile.Parse(c.Bytes())
	require.NoError(t, err)
	utf, err := reparsed.Pool.UTF8(uint16(entry.Data[0])<<8 | uint16(entry.Data[1]))
	require.NoError(t, err)
	assert.Equal(t, "héllo \U0001F600", utf)
}
