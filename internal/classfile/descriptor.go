package classfile

import "fmt"

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits a descriptor such as (ILjava/lang/String;[J)V.
func ParseMethodDescriptor(desc string) (*MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, fmt.Errorf("classfile: bad method descriptor %q", desc)
	}
	mt := &MethodType{}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := fieldTypeEnd(desc, i)
		if err != nil {
			return nil, err
		}
		mt.Params = append(mt.Params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, fmt.Errorf("classfile: unterminated method descriptor %q", desc)
	}
	mt.Return = desc[i+1:]
	if mt.Return == "" {
		return nil, fmt.Errorf("classfile: missing return type in %q", desc)
	}
	return mt, nil
}

func fieldTypeEnd(desc string, i int) (int, error) {
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return 0, fmt.Errorf("classfile: truncated descriptor %q", desc)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		for j := i; j < len(desc); j++ {
			if desc[j] == ';' {
				return j + 1, nil
			}
		}
		return 0, fmt.Errorf("classfile: unterminated class type in %q", desc)
	default:
		return 0, fmt.Errorf("classfile: bad type %q in %q", desc[i], desc)
	}
}

// SlotSize returns the number of local variable slots a value of type t occupies.
func SlotSize(t string) int {
	if t == "J" || t == "D" {
		return 2
	}
	return 1
}

// IsReference reports whether t is an object or array type.
func IsReference(t string) bool {
	return t != "" && (t[0] == 'L' || t[0] == '[')
}
