package javac

import (
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/jbuild/internal/classfile"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

var (
	literalRe   = regexp.MustCompile(`"(?:\\.|[^"\\\n])*"|'(?:\\.|[^'\\\n])*'`)
	packageRe   = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)
	qualifiedRe = regexp.MustCompile(`[A-Za-z_$][\w$]*(?:\s*\.\s*[A-Za-z_$][\w$]*)+`)
	identRe     = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// ClassLookup returns the bytes of a class by internal name.
type ClassLookup func(internal string) (data []byte, found bool)

// constantIndex caches the inlinable constant fields of looked up classes.
type constantIndex struct {
	lookup ClassLookup
	fields map[string]map[string]string
}

func newConstantIndex(lookup ClassLookup) *constantIndex {
	return &constantIndex{lookup: lookup, fields: make(map[string]map[string]string)}
}

// constants returns field name to descriptor for the static final fields
// of internal carrying a ConstantValue. Nil means the class is unknown.
func (x *constantIndex) constants(internal string) map[string]string {
	if f, ok := x.fields[internal]; ok {
		return f
	}
	var fields map[string]string
	if data, ok := x.lookup(internal); ok {
		if c, err := classfile.Parse(data); err == nil {
			fields = map[string]string{}
			for _, f := range c.Fields {
				if f.Access&(classfile.AccStatic|classfile.AccFinal) != classfile.AccStatic|classfile.AccFinal {
					continue
				}
				if c.FindAttribute(f.Attributes, "ConstantValue") == nil {
					continue
				}
				if name, desc, err := c.MemberName(f); err == nil {
					fields[name] = desc
				}
			}
		}
	}
	x.fields[internal] = fields
	return fields
}

// resolve finds the class among the dotted candidates that declares field
// as a constant. Trailing segments are tried as nested classes.
func (x *constantIndex) resolve(candidates []string, field string) (core.ConstantRef, bool) {
	for _, dotted := range candidates {
		for _, internal := range internalForms(dotted) {
			if desc, ok := x.constants(internal)[field]; ok {
				return core.ConstantRef{Owner: internal, Field: field, Descriptor: desc}, true
			}
		}
	}
	return core.ConstantRef{}, false
}

// internalForms lists a.b.C.D as a/b/C/D, a/b/C$D, a/b$C$D and a$b$C$D.
func internalForms(dotted string) []string {
	parts := strings.Split(dotted, ".")
	forms := make([]string, 0, len(parts))
	for nested := 0; nested < len(parts); nested++ {
		split := len(parts) - nested
		form := strings.Join(parts[:split], "/")
		if nested > 0 {
			form += "$" + strings.Join(parts[split:], "$")
		}
		forms = append(forms, form)
	}
	return forms
}

// ScanConstants returns the uses of inlinable constants in a Java source:
// qualified references such as org.lib.Limits.MAX or Limits.MAX, and
// names brought in by static imports. Owners are resolved through lookup;
// references to anything that is not a known constant are dropped.
func ScanConstants(src []byte, lookup ClassLookup) []core.ConstantRef {
	src = blockCommentRe.ReplaceAll(src, nil)
	src = lineCommentRe.ReplaceAll(src, nil)
	src = literalRe.ReplaceAll(src, []byte(`""`))

	pkg := ""
	if m := packageRe.FindSubmatch(src); m != nil {
		pkg = string(m[1])
	}
	var single, onDemand, static []string
	for _, m := range importRe.FindAllSubmatch(src, -1) {
		name := string(m[2])
		switch {
		case len(m[1]) > 0:
			static = append(static, name)
		case strings.HasSuffix(name, ".*"):
			onDemand = append(onDemand, strings.TrimSuffix(name, ".*"))
		default:
			single = append(single, name)
		}
	}
	body := importRe.ReplaceAll(packageRe.ReplaceAll(src, nil), nil)

	x := newConstantIndex(lookup)
	seen := make(map[core.ConstantRef]bool)
	var refs []core.ConstantRef
	add := func(ref core.ConstantRef) {
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	for _, chain := range qualifiedRe.FindAll(body, -1) {
		parts := strings.Split(string(spaceRe.ReplaceAll(chain, nil)), ".")
		for i := len(parts) - 1; i >= 1; i-- {
			owner := ownerCandidates(parts[:i], pkg, single, onDemand)
			if ref, ok := x.resolve(owner, parts[i]); ok {
				add(ref)
				break
			}
		}
	}

	var idents map[string]bool
	for _, imp := range static {
		if owner, ok := strings.CutSuffix(imp, ".*"); ok {
			if idents == nil {
				idents = make(map[string]bool)
				for _, id := range identRe.FindAll(body, -1) {
					idents[string(id)] = true
				}
			}
			for _, internal := range internalForms(owner) {
				fields := x.constants(internal)
				for name, desc := range fields {
					if idents[name] {
						add(core.ConstantRef{Owner: internal, Field: name, Descriptor: desc})
					}
				}
				if fields != nil {
					break
				}
			}
			continue
		}
		i := strings.LastIndexByte(imp, '.')
		if i <= 0 {
			continue
		}
		if ref, ok := x.resolve([]string{imp[:i]}, imp[i+1:]); ok {
			add(ref)
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Owner != refs[j].Owner {
			return refs[i].Owner < refs[j].Owner
		}
		return refs[i].Field < refs[j].Field
	})
	return refs
}

// ownerCandidates lists the dotted names a source-level type reference
// can denote, most specific first.
func ownerCandidates(parts []string, pkg string, single, onDemand []string) []string {
	name := strings.Join(parts, ".")
	var out []string
	for _, imp := range single {
		if imp == parts[0] || strings.HasSuffix(imp, "."+parts[0]) {
			out = append(out, strings.Join(append([]string{imp}, parts[1:]...), "."))
		}
	}
	if pkg != "" {
		out = append(out, pkg+"."+name)
	} else {
		out = append(out, name)
	}
	for _, p := range onDemand {
		out = append(out, p+"."+name)
	}
	out = append(out, "java.lang."+name)
	if len(parts) > 1 && pkg != "" {
		out = append(out, name)
	}
	return out
}
