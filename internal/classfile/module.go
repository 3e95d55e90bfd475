package classfile

import "fmt"

// ModuleDescriptor is the content of a Module attribute.
type ModuleDescriptor struct {
	Name     string
	Requires []string
}

// Module returns the Module attribute of a module-info class.
// It returns nil without error when the class carries no Module attribute.
func (c *Class) Module() (*ModuleDescriptor, error) {
	a := c.FindAttribute(c.Attributes, "Module")
	if a == nil {
		return nil, nil
	}
	r := newReader(a.Info)
	nameIndex := r.u2()
	r.skip(4) // flags, version
	count := int(r.u2())
	requires := make([]uint16, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		requires = append(requires, r.u2())
		r.skip(4)
	}
	if r.err != nil {
		return nil, fmt.Errorf("module attribute: %w", r.err)
	}

	name, err := c.Pool.ModuleName(nameIndex)
	if err != nil {
		return nil, fmt.Errorf("module name: %w", err)
	}
	md := &ModuleDescriptor{Name: name}
	for _, i := range requires {
		req, err := c.Pool.ModuleName(i)
		if err != nil {
			return nil, fmt.Errorf("module requires: %w", err)
		}
		md.Requires = append(md.Requires, req)
	}
	return md, nil
}

// ParseModule decodes the Module attribute of module-info.class bytes.
func ParseModule(b []byte) (*ModuleDescriptor, error) {
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if c.Access&AccModule == 0 {
		return nil, fmt.Errorf("classfile: not a module-info class")
	}
	md, err := c.Module()
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, fmt.Errorf("classfile: module-info without Module attribute")
	}
	return md, nil
}
