package classfile

import (
	"encoding/binary"
	"fmt"
)

// Access flags.
const (
	AccPublic     = 0x0001
	AccPrivate    = 0x0002
	AccStatic     = 0x0008
	AccFinal      = 0x0010
	AccSuper      = 0x0020
	AccBridge     = 0x0040
	AccVarargs    = 0x0080
	AccNative     = 0x0100
	AccInterface  = 0x0200
	AccAbstract   = 0x0400
	AccSynthetic  = 0x1000
	AccAnnotation = 0x2000
	AccEnum       = 0x4000
	AccModule     = 0x8000
)

// Class file major versions.
const (
	Java5 = 49
	Java6 = 50
	Java8 = 52
	Java9 = 53
)

// Attribute is a raw attribute. Info excludes the name index and length.
type Attribute struct {
	NameIndex uint16
	Info      []byte
}

// Member is a field or method.
type Member struct {
	Access          uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []*Attribute
}

// Class is a fully parsed class file.
type Class struct {
	Minor      uint16
	Major      uint16
	Pool       *Pool
	Access     uint16
	ThisClass  uint16
	SuperClass uint16
	Interfaces []uint16
	Fields     []*Member
	Methods    []*Member
	Attributes []*Attribute
}

func readHead(r *reader) (minor, major uint16, pool *Pool, err error) {
	if r.u4() != magic {
		if r.err != nil {
			return 0, 0, nil, r.err
		}
		return 0, 0, nil, ErrNotClassFile
	}
	minor = r.u2()
	major = r.u2()
	pool, err = parsePool(r)
	return minor, major, pool, err
}

func readAttributes(r *reader) []*Attribute {
	n := int(r.u2())
	attrs := make([]*Attribute, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		name := r.u2()
		length := int(r.u4())
		attrs = append(attrs, &Attribute{NameIndex: name, Info: r.bytes(length)})
	}
	return attrs
}

func readMembers(r *reader) []*Member {
	n := int(r.u2())
	members := make([]*Member, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m := &Member{Access: r.u2(), NameIndex: r.u2(), DescriptorIndex: r.u2()}
		m.Attributes = readAttributes(r)
		members = append(members, m)
	}
	return members
}

// Parse decodes a complete class file.
func Parse(b []byte) (*Class, error) {
	r := newReader(b)
	minor, major, pool, err := readHead(r)
	if err != nil {
		return nil, err
	}
	c := &Class{Minor: minor, Major: major, Pool: pool}
	c.Access = r.u2()
	c.ThisClass = r.u2()
	c.SuperClass = r.u2()
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		c.Interfaces = append(c.Interfaces, r.u2())
	}
	c.Fields = readMembers(r)
	c.Methods = readMembers(r)
	c.Attributes = readAttributes(r)
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func appendAttributes(b []byte, attrs []*Attribute) []byte {
	b = appendU2(b, uint16(len(attrs)))
	for _, a := range attrs {
		b = appendU2(b, a.NameIndex)
		b = appendU4(b, uint32(len(a.Info)))
		b = append(b, a.Info...)
	}
	return b
}

func appendMembers(b []byte, members []*Member) []byte {
	b = appendU2(b, uint16(len(members)))
	for _, m := range members {
		b = appendU2(b, m.Access)
		b = appendU2(b, m.NameIndex)
		b = appendU2(b, m.DescriptorIndex)
		b = appendAttributes(b, m.Attributes)
	}
	return b
}

// Bytes encodes the class file.
func (c *Class) Bytes() []byte {
	b := make([]byte, 0, 1024)
	b = appendU4(b, magic)
	b = appendU2(b, c.Minor)
	b = appendU2(b, c.Major)
	b = c.Pool.appendTo(b)
	b = appendU2(b, c.Access)
	b = appendU2(b, c.ThisClass)
	b = appendU2(b, c.SuperClass)
	b = appendU2(b, uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		b = appendU2(b, i)
	}
	b = appendMembers(b, c.Fields)
	b = appendMembers(b, c.Methods)
	return appendAttributes(b, c.Attributes)
}

// Name returns the internal name of the class.
func (c *Class) Name() (string, error) {
	return c.Pool.ClassName(c.ThisClass)
}

// SuperName returns the internal name of the superclass, or "" for java/lang/Object and modules.
func (c *Class) SuperName() (string, error) {
	if c.SuperClass == 0 {
		return "", nil
	}
	return c.Pool.ClassName(c.SuperClass)
}

// FindAttribute returns the first attribute with the given name.
func (c *Class) FindAttribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if n, err := c.Pool.UTF8(a.NameIndex); err == nil && n == name {
			return a
		}
	}
	return nil
}

// SourceFile returns the value of the SourceFile attribute, if present.
func (c *Class) SourceFile() string {
	a := c.FindAttribute(c.Attributes, "SourceFile")
	if a == nil || len(a.Info) < 2 {
		return ""
	}
	s, err := c.Pool.UTF8(binary.BigEndian.Uint16(a.Info))
	if err != nil {
		return ""
	}
	return s
}

// MemberName returns the name and descriptor of a field or method.
func (c *Class) MemberName(m *Member) (name, descriptor string, err error) {
	if name, err = c.Pool.UTF8(m.NameIndex); err != nil {
		return "", "", err
	}
	if descriptor, err = c.Pool.UTF8(m.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// Header is the part of a class file needed for hierarchy questions.
type Header struct {
	Major      uint16
	Minor      uint16
	Access     uint16
	Name       string
	Super      string
	Interfaces []string
}

// IsInterface reports whether the class is an interface.
func (h *Header) IsInterface() bool {
	return h.Access&AccInterface != 0
}

// ParseHeader decodes the class header and stops before the member tables.
func ParseHeader(b []byte) (*Header, error) {
	r := newReader(b)
	minor, major, pool, err := readHead(r)
	if err != nil {
		return nil, err
	}
	h := &Header{Minor: minor, Major: major, Access: r.u2()}
	this, super := r.u2(), r.u2()
	n := int(r.u2())
	ifaces := make([]uint16, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		ifaces = append(ifaces, r.u2())
	}
	if r.err != nil {
		return nil, r.err
	}

	if h.Name, err = pool.ClassName(this); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if super != 0 {
		if h.Super, err = pool.ClassName(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	for _, i := range ifaces {
		name, err := pool.ClassName(i)
		if err != nil {
			return nil, fmt.Errorf("interfaces: %w", err)
		}
		h.Interfaces = append(h.Interfaces, name)
	}
	return h, nil
}
