package classfile

import "fmt"

// ParameterAnnotations decodes a Runtime(In)VisibleParameterAnnotations
// attribute into the annotation type descriptors of each listed parameter.
func (c *Class) ParameterAnnotations(info []byte) ([][]string, error) {
	r := newReader(info)
	n := int(r.u1())
	params := make([][]string, n)
	for i := 0; i < n && r.err == nil; i++ {
		count := int(r.u2())
		for j := 0; j < count && r.err == nil; j++ {
			typeIndex := r.u2()
			skipAnnotationBody(r)
			if r.err != nil {
				break
			}
			desc, err := c.Pool.UTF8(typeIndex)
			if err != nil {
				return nil, err
			}
			params[i] = append(params[i], desc)
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("parameter annotations: %w", r.err)
	}
	return params, nil
}

func skipAnnotationBody(r *reader) {
	pairs := int(r.u2())
	for i := 0; i < pairs && r.err == nil; i++ {
		r.skip(2)
		skipElementValue(r)
	}
}

func skipElementValue(r *reader) {
	switch tag := r.u1(); tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		r.skip(2)
	case 'e':
		r.skip(4)
	case '@':
		r.skip(2)
		skipAnnotationBody(r)
	case '[':
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			skipElementValue(r)
		}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("classfile: bad element value tag %q", tag)
		}
	}
}

// MethodParameterNames decodes a MethodParameters attribute. Unnamed entries are "".
func (c *Class) MethodParameterNames(info []byte) ([]string, error) {
	r := newReader(info)
	n := int(r.u1())
	names := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		idx := r.u2()
		r.skip(2)
		if idx == 0 {
			names = append(names, "")
			continue
		}
		name, err := c.Pool.UTF8(idx)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if r.err != nil {
		return nil, fmt.Errorf("method parameters: %w", r.err)
	}
	return names, nil
}
