package state

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/leapstack-labs/jbuild/internal/classfile"
)

// HashFile returns the hex BLAKE3 digest of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// APIHash digests what other classes can see of a class: its header, its
// non-private members and the values of its constant fields. Bodies of
// methods do not contribute. Content that does not parse is hashed whole.
func APIHash(content []byte) string {
	c, err := classfile.Parse(content)
	if err != nil {
		sum := blake3.Sum256(content)
		return hex.EncodeToString(sum[:])
	}

	h := blake3.New()
	name, _ := c.Name()
	super, _ := c.SuperName()
	fmt.Fprintf(h, "class %s %04x extends %s\n", name, c.Access, super)

	ifaces := make([]string, 0, len(c.Interfaces))
	for _, i := range c.Interfaces {
		if n, err := c.Pool.ClassName(i); err == nil {
			ifaces = append(ifaces, n)
		}
	}
	sort.Strings(ifaces)
	for _, i := range ifaces {
		fmt.Fprintf(h, "implements %s\n", i)
	}

	var members []string
	for _, f := range c.Fields {
		if line, ok := memberLine(c, "field", f); ok {
			if attr := c.FindAttribute(f.Attributes, "ConstantValue"); attr != nil && len(attr.Info) == 2 {
				if k, err := c.Pool.Entry(binary.BigEndian.Uint16(attr.Info)); err == nil {
					line += fmt.Sprintf(" = %d:%x", k.Tag, constantData(c, k))
				}
			}
			members = append(members, line)
		}
	}
	for _, m := range c.Methods {
		if line, ok := memberLine(c, "method", m); ok {
			members = append(members, line)
		}
	}
	sort.Strings(members)
	for _, m := range members {
		fmt.Fprintln(h, m)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func memberLine(c *classfile.Class, kind string, m *classfile.Member) (string, bool) {
	if m.Access&classfile.AccPrivate != 0 {
		return "", false
	}
	name, desc, err := c.MemberName(m)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s %04x %s %s", kind, m.Access, name, desc), true
}

// constantData resolves string constants to their UTF-8 bytes.
func constantData(c *classfile.Class, k classfile.Constant) []byte {
	if k.Tag == classfile.TagString && len(k.Data) == 2 {
		if s, err := c.Pool.UTF8(binary.BigEndian.Uint16(k.Data)); err == nil {
			return []byte(s)
		}
	}
	return k.Data
}
