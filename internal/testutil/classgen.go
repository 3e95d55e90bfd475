package testutil

import (
	"testing"

	"github.com/leapstack-labs/jbuild/internal/classfile"
)

// ClassSpec describes a class file to synthesize in tests.
type ClassSpec struct {
	Name       string
	Super      string
	Interfaces []string
	Access     uint16
	Major      uint16
	SourceFile string
	Fields     []FieldSpec
	Methods    []MethodSpec
	Module     *ModuleSpec
}

// FieldSpec describes one field. A non-empty Constant is stored as a
// String ConstantValue.
type FieldSpec struct {
	Name       string
	Descriptor string
	Access     uint16
	Constant   string
}

// ModuleSpec describes the Module attribute of a module-info class.
type ModuleSpec struct {
	Name     string
	Requires []string
}

// LocalVarSpec is one LocalVariableTable row.
type LocalVarSpec struct {
	Name       string
	Descriptor string
	Slot       uint16
	StartPC    uint16
	Length     uint16
}

// MethodSpec describes one method. Code nil means abstract.
type MethodSpec struct {
	Name       string
	Descriptor string
	Access     uint16
	Code       []byte
	MaxStack   uint16
	MaxLocals  uint16

	// ParamAnnotations lists annotation descriptors per annotated parameter.
	ParamAnnotations [][]string
	// Invisible stores ParamAnnotations as RuntimeInvisibleParameterAnnotations.
	Invisible bool

	ParamNames []string
	LocalVars  []LocalVarSpec
	Lines      []classfile.LineNumber
	Frames     []classfile.Frame
	Exceptions []classfile.ExceptionEntry
}

// BuildClass assembles a class file from spec.
func BuildClass(t testing.TB, spec ClassSpec) []byte {
	t.Helper()
	b, err := buildClass(spec)
	if err != nil {
		t.Fatalf("build class %s: %v", spec.Name, err)
	}
	return b
}

func buildClass(spec ClassSpec) ([]byte, error) {
	pool := &classfile.Pool{}
	c := &classfile.Class{Major: spec.Major, Pool: pool, Access: spec.Access}
	if c.Major == 0 {
		c.Major = classfile.Java8
	}
	if c.Access == 0 {
		c.Access = classfile.AccPublic | classfile.AccSuper
	}

	var err error
	if c.ThisClass, err = pool.AddClass(spec.Name); err != nil {
		return nil, err
	}
	if spec.Module == nil {
		super := spec.Super
		if super == "" && spec.Name != "java/lang/Object" {
			super = "java/lang/Object"
		}
		if super != "" {
			if c.SuperClass, err = pool.AddClass(super); err != nil {
				return nil, err
			}
		}
	}
	for _, iface := range spec.Interfaces {
		idx, err := pool.AddClass(iface)
		if err != nil {
			return nil, err
		}
		c.Interfaces = append(c.Interfaces, idx)
	}

	for _, f := range spec.Fields {
		member, err := buildField(pool, f)
		if err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, member)
	}

	for _, m := range spec.Methods {
		member, err := buildMethod(pool, m)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, member)
	}

	if spec.SourceFile != "" {
		attr, err := newAttr(pool, "SourceFile", nil)
		if err != nil {
			return nil, err
		}
		idx, err := pool.AddUTF8(spec.SourceFile)
		if err != nil {
			return nil, err
		}
		attr.Info = u2(nil, idx)
		c.Attributes = append(c.Attributes, attr)
	}

	if spec.Module != nil {
		attr, err := buildModuleAttr(pool, spec.Module)
		if err != nil {
			return nil, err
		}
		c.Attributes = append(c.Attributes, attr)
	}

	return c.Bytes(), nil
}

func buildField(pool *classfile.Pool, f FieldSpec) (*classfile.Member, error) {
	name, err := pool.AddUTF8(f.Name)
	if err != nil {
		return nil, err
	}
	desc, err := pool.AddUTF8(f.Descriptor)
	if err != nil {
		return nil, err
	}
	member := &classfile.Member{Access: f.Access, NameIndex: name, DescriptorIndex: desc}
	if f.Constant != "" {
		value, err := pool.AddString(f.Constant)
		if err != nil {
			return nil, err
		}
		attr, err := newAttr(pool, "ConstantValue", u2(nil, value))
		if err != nil {
			return nil, err
		}
		member.Attributes = append(member.Attributes, attr)
	}
	return member, nil
}

func buildMethod(pool *classfile.Pool, m MethodSpec) (*classfile.Member, error) {
	name, err := pool.AddUTF8(m.Name)
	if err != nil {
		return nil, err
	}
	desc, err := pool.AddUTF8(m.Descriptor)
	if err != nil {
		return nil, err
	}
	member := &classfile.Member{Access: m.Access, NameIndex: name, DescriptorIndex: desc}

	if m.Code != nil {
		code := &classfile.Code{MaxStack: m.MaxStack, MaxLocals: m.MaxLocals, Bytecode: m.Code, Exceptions: m.Exceptions}
		if len(m.Lines) > 0 {
			attr, err := newAttr(pool, "LineNumberTable", classfile.EncodeLineNumbers(m.Lines))
			if err != nil {
				return nil, err
			}
			code.Attributes = append(code.Attributes, attr)
		}
		if len(m.LocalVars) > 0 {
			vars := make([]classfile.LocalVariable, 0, len(m.LocalVars))
			for _, lv := range m.LocalVars {
				n, err := pool.AddUTF8(lv.Name)
				if err != nil {
					return nil, err
				}
				d, err := pool.AddUTF8(lv.Descriptor)
				if err != nil {
					return nil, err
				}
				vars = append(vars, classfile.LocalVariable{StartPC: lv.StartPC, Length: lv.Length, NameIndex: n, DescIndex: d, Index: lv.Slot})
			}
			attr, err := newAttr(pool, "LocalVariableTable", classfile.EncodeLocalVariables(vars))
			if err != nil {
				return nil, err
			}
			code.Attributes = append(code.Attributes, attr)
		}
		if len(m.Frames) > 0 {
			attr, err := newAttr(pool, "StackMapTable", classfile.EncodeStackMap(m.Frames))
			if err != nil {
				return nil, err
			}
			code.Attributes = append(code.Attributes, attr)
		}
		attr, err := newAttr(pool, "Code", code.Encode())
		if err != nil {
			return nil, err
		}
		member.Attributes = append(member.Attributes, attr)
	}

	if len(m.ParamAnnotations) > 0 {
		info := []byte{byte(len(m.ParamAnnotations))}
		for _, anns := range m.ParamAnnotations {
			info = u2(info, uint16(len(anns)))
			for _, a := range anns {
				idx, err := pool.AddUTF8(a)
				if err != nil {
					return nil, err
				}
				info = u2(info, idx)
				info = u2(info, 0) // no element pairs
			}
		}
		attrName := "RuntimeVisibleParameterAnnotations"
		if m.Invisible {
			attrName = "RuntimeInvisibleParameterAnnotations"
		}
		attr, err := newAttr(pool, attrName, info)
		if err != nil {
			return nil, err
		}
		member.Attributes = append(member.Attributes, attr)
	}

	if len(m.ParamNames) > 0 {
		info := []byte{byte(len(m.ParamNames))}
		for _, n := range m.ParamNames {
			idx, err := pool.AddUTF8(n)
			if err != nil {
				return nil, err
			}
			info = u2(u2(info, idx), 0)
		}
		attr, err := newAttr(pool, "MethodParameters", info)
		if err != nil {
			return nil, err
		}
		member.Attributes = append(member.Attributes, attr)
	}

	return member, nil
}

func buildModuleAttr(pool *classfile.Pool, spec *ModuleSpec) (*classfile.Attribute, error) {
	self, err := pool.AddModule(spec.Name)
	if err != nil {
		return nil, err
	}
	info := u2(nil, self)
	info = u2(info, 0) // flags
	info = u2(info, 0) // version
	info = u2(info, uint16(len(spec.Requires)))
	for _, r := range spec.Requires {
		idx, err := pool.AddModule(r)
		if err != nil {
			return nil, err
		}
		info = u2(u2(u2(info, idx), 0), 0)
	}
	info = u2(info, 0) // exports
	info = u2(info, 0) // opens
	info = u2(info, 0) // uses
	info = u2(info, 0) // provides
	return newAttr(pool, "Module", info)
}

func newAttr(pool *classfile.Pool, name string, info []byte) (*classfile.Attribute, error) {
	idx, err := pool.AddUTF8(name)
	if err != nil {
		return nil, err
	}
	return &classfile.Attribute{NameIndex: idx, Info: info}, nil
}

func u2(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// ModuleInfoClass returns module-info.class bytes for a module.
func ModuleInfoClass(t testing.TB, name string, requires ...string) []byte {
	t.Helper()
	return BuildClass(t, ClassSpec{
		Name:   "module-info",
		Access: classfile.AccModule,
		Major:  classfile.Java9,
		Module: &ModuleSpec{Name: name, Requires: requires},
	})
}
