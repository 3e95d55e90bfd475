package classfile

import "fmt"

// ExceptionEntry is one row of a Code attribute's exception table.
type ExceptionEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Exceptions []ExceptionEntry
	Attributes []*Attribute
}

// ParseCode decodes the info of a Code attribute.
func ParseCode(info []byte) (*Code, error) {
	r := newReader(info)
	c := &Code{MaxStack: r.u2(), MaxLocals: r.u2()}
	c.Bytecode = r.bytes(int(r.u4()))
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		c.Exceptions = append(c.Exceptions, ExceptionEntry{
			StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchType: r.u2(),
		})
	}
	c.Attributes = readAttributes(r)
	if r.err != nil {
		return nil, fmt.Errorf("code attribute: %w", r.err)
	}
	return c, nil
}

// Encode returns the info bytes of the Code attribute.
func (c *Code) Encode() []byte {
	b := make([]byte, 0, len(c.Bytecode)+64)
	b = appendU2(b, c.MaxStack)
	b = appendU2(b, c.MaxLocals)
	b = appendU4(b, uint32(len(c.Bytecode)))
	b = append(b, c.Bytecode...)
	b = appendU2(b, uint16(len(c.Exceptions)))
	for _, e := range c.Exceptions {
		b = appendU2(b, e.StartPC)
		b = appendU2(b, e.EndPC)
		b = appendU2(b, e.HandlerPC)
		b = appendU2(b, e.CatchType)
	}
	return appendAttributes(b, c.Attributes)
}

// LocalVariable is one row of a LocalVariableTable or LocalVariableTypeTable.
type LocalVariable struct {
	StartPC   uint16
	Length    uint16
	NameIndex uint16
	DescIndex uint16
	Index     uint16
}

// ParseLocalVariables decodes a LocalVariableTable or LocalVariableTypeTable.
func ParseLocalVariables(info []byte) ([]LocalVariable, error) {
	r := newReader(info)
	n := int(r.u2())
	vars := make([]LocalVariable, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		vars = append(vars, LocalVariable{
			StartPC: r.u2(), Length: r.u2(), NameIndex: r.u2(), DescIndex: r.u2(), Index: r.u2(),
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("local variable table: %w", r.err)
	}
	return vars, nil
}

// EncodeLocalVariables encodes a LocalVariableTable or LocalVariableTypeTable.
func EncodeLocalVariables(vars []LocalVariable) []byte {
	b := appendU2(nil, uint16(len(vars)))
	for _, v := range vars {
		b = appendU2(b, v.StartPC)
		b = appendU2(b, v.Length)
		b = appendU2(b, v.NameIndex)
		b = appendU2(b, v.DescIndex)
		b = appendU2(b, v.Index)
	}
	return b
}

// LineNumber is one row of a LineNumberTable.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// ParseLineNumbers decodes a LineNumberTable.
func ParseLineNumbers(info []byte) ([]LineNumber, error) {
	r := newReader(info)
	n := int(r.u2())
	lines := make([]LineNumber, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		lines = append(lines, LineNumber{StartPC: r.u2(), Line: r.u2()})
	}
	if r.err != nil {
		return nil, fmt.Errorf("line number table: %w", r.err)
	}
	return lines, nil
}

// EncodeLineNumbers encodes a LineNumberTable.
func EncodeLineNumbers(lines []LineNumber) []byte {
	b := appendU2(nil, uint16(len(lines)))
	for _, l := range lines {
		b = appendU2(b, l.StartPC)
		b = appendU2(b, l.Line)
	}
	return b
}
