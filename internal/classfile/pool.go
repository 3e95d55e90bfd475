package classfile

import (
	"encoding/binary"
	"fmt"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// Constant is one raw constant pool entry. Data holds the bytes after the tag.
// The slot following a Long or Double has Tag 0.
type Constant struct {
	Tag  uint8
	Data []byte
}

// Pool is a constant pool. Index 0 is unused.
type Pool struct {
	entries []Constant
	utf8    map[string]uint16
}

func parsePool(r *reader) (*Pool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	p := &Pool{entries: make([]Constant, count)}
	for i := 1; i < count; i++ {
		tag := r.u1()
		var size int
		switch tag {
		case TagUtf8:
			size = int(r.u2())
			p.entries[i] = Constant{Tag: tag, Data: r.bytes(size)}
			if r.err != nil {
				return nil, r.err
			}
			continue
		case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref,
			TagNameAndType, TagDynamic, TagInvokeDynamic:
			size = 4
		case TagLong, TagDouble:
			size = 8
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			size = 2
		case TagMethodHandle:
			size = 3
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("classfile: unknown constant tag %d at index %d", tag, i)
		}
		p.entries[i] = Constant{Tag: tag, Data: r.bytes(size)}
		if tag == TagLong || tag == TagDouble {
			i++
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	return p, nil
}

// Len returns the constant_pool_count value (the number of slots including slot 0).
func (p *Pool) Len() int {
	return len(p.entries)
}

// Entry returns the raw entry at index i.
func (p *Pool) Entry(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return Constant{}, fmt.Errorf("classfile: invalid constant index %d", i)
	}
	return p.entries[i], nil
}

func (p *Pool) expect(i uint16, tag uint8) (Constant, error) {
	c, err := p.Entry(i)
	if err != nil {
		return c, err
	}
	if c.Tag != tag {
		return c, fmt.Errorf("classfile: constant %d has tag %d, want %d", i, c.Tag, tag)
	}
	return c, nil
}

// UTF8 returns the string stored in a CONSTANT_Utf8 entry.
func (p *Pool) UTF8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return decodeMUTF8(c.Data), nil
}

func (p *Pool) indirect(i uint16, tag uint8) (string, error) {
	c, err := p.expect(i, tag)
	if err != nil {
		return "", err
	}
	return p.UTF8(binary.BigEndian.Uint16(c.Data))
}

// ClassName returns the internal name referenced by a CONSTANT_Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	return p.indirect(i, TagClass)
}

// ModuleName returns the name referenced by a CONSTANT_Module entry.
func (p *Pool) ModuleName(i uint16) (string, error) {
	return p.indirect(i, TagModule)
}

func (p *Pool) add(c Constant) (uint16, error) {
	if len(p.entries) >= 0xFFFF {
		return 0, fmt.Errorf("classfile: constant pool overflow")
	}
	if len(p.entries) == 0 {
		p.entries = append(p.entries, Constant{})
	}
	p.entries = append(p.entries, c)
	return uint16(len(p.entries) - 1), nil
}

func (p *Pool) find(tag uint8, data []byte) uint16 {
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		if e.Tag == tag && string(e.Data) == string(data) {
			return uint16(i)
		}
	}
	return 0
}

func (p *Pool) addUnique(tag uint8, data []byte) (uint16, error) {
	if i := p.find(tag, data); i != 0 {
		return i, nil
	}
	return p.add(Constant{Tag: tag, Data: data})
}

// AddUTF8 returns the index of a CONSTANT_Utf8 entry for s, adding one if needed.
func (p *Pool) AddUTF8(s string) (uint16, error) {
	if p.utf8 == nil {
		p.utf8 = make(map[string]uint16)
		for i := 1; i < len(p.entries); i++ {
			if p.entries[i].Tag == TagUtf8 {
				if _, seen := p.utf8[decodeMUTF8(p.entries[i].Data)]; !seen {
					p.utf8[decodeMUTF8(p.entries[i].Data)] = uint16(i)
				}
			}
		}
	}
	if i, ok := p.utf8[s]; ok {
		return i, nil
	}
	i, err := p.add(Constant{Tag: TagUtf8, Data: encodeMUTF8(s)})
	if err != nil {
		return 0, err
	}
	p.utf8[s] = i
	return i, nil
}

func (p *Pool) addRef(tag uint8, s string) (uint16, error) {
	n, err := p.AddUTF8(s)
	if err != nil {
		return 0, err
	}
	return p.addUnique(tag, appendU2(nil, n))
}

// AddClass returns the index of a CONSTANT_Class entry for the internal name.
func (p *Pool) AddClass(name string) (uint16, error) {
	return p.addRef(TagClass, name)
}

// AddModule returns the index of a CONSTANT_Module entry for the module name.
func (p *Pool) AddModule(name string) (uint16, error) {
	return p.addRef(TagModule, name)
}

// AddString returns the index of a CONSTANT_String entry for s.
func (p *Pool) AddString(s string) (uint16, error) {
	return p.addRef(TagString, s)
}

// AddMethodref returns the index of a CONSTANT_Methodref entry.
func (p *Pool) AddMethodref(owner, name, descriptor string) (uint16, error) {
	cls, err := p.AddClass(owner)
	if err != nil {
		return 0, err
	}
	n, err := p.AddUTF8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUTF8(descriptor)
	if err != nil {
		return 0, err
	}
	nat, err := p.addUnique(TagNameAndType, appendU2(appendU2(nil, n), d))
	if err != nil {
		return 0, err
	}
	return p.addUnique(TagMethodref, appendU2(appendU2(nil, cls), nat))
}

func (p *Pool) appendTo(b []byte) []byte {
	count := len(p.entries)
	if count == 0 {
		count = 1
	}
	b = appendU2(b, uint16(count))
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		if e.Tag == 0 {
			continue
		}
		b = append(b, e.Tag)
		if e.Tag == TagUtf8 {
			b = appendU2(b, uint16(len(e.Data)))
		}
		b = append(b, e.Data...)
	}
	return b
}
