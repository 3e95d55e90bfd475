package instrument

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/jbuild/internal/classfile"
)

// DefaultAnnotation is the marker recognized when none is configured.
const DefaultAnnotation = "org.jetbrains.annotations.NotNull"

// DefaultException is thrown by inserted checks when none is configured.
const DefaultException = "java/lang/IllegalArgumentException"

const maxCodeLength = 65535

// Opcodes used by the inserted checks.
const (
	opNop           = 0x00
	opLdc           = 0x12
	opLdcW          = 0x13
	opAload         = 0x19
	opAload0        = 0x2a
	opDup           = 0x59
	opNew           = 0xbb
	opAthrow        = 0xbf
	opInvokespecial = 0xb7
	opWide          = 0xc4
	opIfnonnull     = 0xc7
)

var errCodeTooLarge = errors.New("method code too large after instrumentation")

// Rewriter inserts null checks for annotated parameters.
type Rewriter struct {
	annotations map[string]bool
	exception   string
}

// NewRewriter returns a rewriter recognizing the given annotation class
// names (dotted, slashed or descriptor form). Empty values fall back to the
// defaults.
func NewRewriter(annotations []string, exception string) *Rewriter {
	if len(annotations) == 0 {
		annotations = []string{DefaultAnnotation}
	}
	set := make(map[string]bool, len(annotations))
	for _, a := range annotations {
		set[annotationDescriptor(a)] = true
	}
	if exception == "" {
		exception = DefaultException
	}
	return &Rewriter{annotations: set, exception: strings.ReplaceAll(exception, ".", "/")}
}

func annotationDescriptor(name string) string {
	if strings.HasPrefix(name, "L") && strings.HasSuffix(name, ";") {
		return name
	}
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}

// EnumCheck reports whether the named class is java/lang/Enum or extends it.
type EnumCheck func(className string) bool

// Rewrite returns the instrumented class and whether anything changed.
// Classes older than Java 5 are returned untouched.
func (rw *Rewriter) Rewrite(b []byte, isEnum EnumCheck) ([]byte, bool, error) {
	c, err := classfile.Parse(b)
	if err != nil {
		return nil, false, err
	}
	if c.Major < classfile.Java5 {
		return b, false, nil
	}
	className, err := c.Name()
	if err != nil {
		return nil, false, err
	}

	m := &methodRewriter{rw: rw, class: c, className: className}
	enumKnown := false
	modified := false
	for _, method := range c.Methods {
		if method.Access&(classfile.AccAbstract|classfile.AccNative|classfile.AccSynthetic|classfile.AccBridge) != 0 {
			continue
		}
		name, _, err := c.MemberName(method)
		if err != nil {
			return nil, false, err
		}
		if name == "<init>" && !enumKnown {
			m.enum, err = isEnumClass(c, isEnum)
			if err != nil {
				return nil, false, err
			}
			enumKnown = true
		}
		changed, err := m.rewrite(method)
		if err != nil {
			return nil, false, fmt.Errorf("%s.%s: %w", className, name, err)
		}
		modified = modified || changed
	}
	if !modified {
		return b, false, nil
	}
	return c.Bytes(), true, nil
}

// isEnumClass checks the superclass because the class being rewritten is
// not visible to the resolver yet.
func isEnumClass(c *classfile.Class, isEnum EnumCheck) (bool, error) {
	if c.Access&classfile.AccEnum != 0 {
		return true, nil
	}
	super, err := c.SuperName()
	if err != nil || super == "" {
		return false, err
	}
	if super == "java/lang/Enum" {
		return true, nil
	}
	return isEnum != nil && isEnum(super), nil
}

type methodRewriter struct {
	rw        *Rewriter
	class     *classfile.Class
	className string
	enum      bool
}

type check struct {
	param int
	slot  int
	name  string
}

func (m *methodRewriter) rewrite(method *classfile.Member) (bool, error) {
	c := m.class
	codeAttr := c.FindAttribute(method.Attributes, "Code")
	if codeAttr == nil {
		return false, nil
	}
	name, desc, err := c.MemberName(method)
	if err != nil {
		return false, err
	}
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return false, err
	}

	annotated, err := m.annotatedParams(method, mt, name == "<init>" && m.enum)
	if err != nil || len(annotated) == 0 {
		return false, err
	}

	code, err := classfile.ParseCode(codeAttr.Info)
	if err != nil {
		return false, err
	}
	if c.FindAttribute(code.Attributes, "RuntimeVisibleTypeAnnotations") != nil ||
		c.FindAttribute(code.Attributes, "RuntimeInvisibleTypeAnnotations") != nil {
		return false, nil
	}

	checks, err := m.checks(method, mt, code, annotated)
	if err != nil || len(checks) == 0 {
		return false, err
	}

	prefix, targets, err := m.prefix(name, checks)
	if err != nil {
		return false, err
	}
	if len(code.Bytecode)+len(prefix) > maxCodeLength {
		return false, errCodeTooLarge
	}
	if err := m.relocate(code, len(prefix), targets); err != nil {
		return false, err
	}

	code.Bytecode = append(prefix, code.Bytecode...)
	code.MaxStack = max(code.MaxStack, 3)
	codeAttr.Info = code.Encode()
	return true, nil
}

// annotatedParams returns the descriptor indexes of parameters carrying a
// recognized marker. Annotation lists shorter than the descriptor are
// aligned to its last parameters.
func (m *methodRewriter) annotatedParams(method *classfile.Member, mt *classfile.MethodType, enumCtor bool) (map[int]bool, error) {
	out := make(map[int]bool)
	first := 0
	if enumCtor {
		first = 2
	}
	for _, attrName := range []string{"RuntimeVisibleParameterAnnotations", "RuntimeInvisibleParameterAnnotations"} {
		attr := m.class.FindAttribute(method.Attributes, attrName)
		if attr == nil {
			continue
		}
		params, err := m.class.ParameterAnnotations(attr.Info)
		if err != nil {
			return nil, err
		}
		shift := 0
		if len(params) < len(mt.Params) {
			shift = len(mt.Params) - len(params)
		}
		for i, anns := range params {
			idx := i + shift
			if idx < first || idx >= len(mt.Params) {
				continue
			}
			for _, a := range anns {
				if m.rw.annotations[a] {
					out[idx] = true
				}
			}
		}
	}
	return out, nil
}

func (m *methodRewriter) checks(method *classfile.Member, mt *classfile.MethodType, code *classfile.Code, annotated map[int]bool) ([]check, error) {
	names, err := m.paramNames(method, code, len(mt.Params))
	if err != nil {
		return nil, err
	}
	slot := 1
	if method.Access&classfile.AccStatic != 0 {
		slot = 0
	}
	var out []check
	for i, p := range mt.Params {
		if annotated[i] && classfile.IsReference(p) {
			out = append(out, check{param: i, slot: slot, name: names(i, slot)})
		}
		slot += classfile.SlotSize(p)
	}
	return out, nil
}

// paramNames resolves names from MethodParameters, then the local variable
// table, then positional fallbacks.
func (m *methodRewriter) paramNames(method *classfile.Member, code *classfile.Code, n int) (func(i, slot int) string, error) {
	var declared []string
	if attr := m.class.FindAttribute(method.Attributes, "MethodParameters"); attr != nil {
		names, err := m.class.MethodParameterNames(attr.Info)
		if err != nil {
			return nil, err
		}
		if len(names) == n {
			declared = names
		}
	}

	bySlot := make(map[int]string)
	if attr := m.class.FindAttribute(code.Attributes, "LocalVariableTable"); attr != nil {
		vars, err := classfile.ParseLocalVariables(attr.Info)
		if err != nil {
			return nil, err
		}
		for _, v := range vars {
			if v.StartPC != 0 {
				continue
			}
			if name, err := m.class.Pool.UTF8(v.NameIndex); err == nil {
				bySlot[int(v.Index)] = name
			}
		}
	}

	return func(i, slot int) string {
		if declared != nil && declared[i] != "" {
			return declared[i]
		}
		if name, ok := bySlot[slot]; ok {
			return name
		}
		return fmt.Sprintf("arg %d", i)
	}, nil
}

// prefix builds the check block and returns the offsets each check jumps
// to when the argument is present.
func (m *methodRewriter) prefix(method string, checks []check) ([]byte, []int, error) {
	pool := m.class.Pool
	exc, err := pool.AddClass(m.rw.exception)
	if err != nil {
		return nil, nil, err
	}
	ctor, err := pool.AddMethodref(m.rw.exception, "<init>", "(Ljava/lang/String;)V")
	if err != nil {
		return nil, nil, err
	}

	var b []byte
	targets := make([]int, 0, len(checks))
	for _, ch := range checks {
		msg := fmt.Sprintf("Argument for @NotNull parameter '%s' of %s.%s must not be null", ch.name, m.className, method)
		str, err := pool.AddString(msg)
		if err != nil {
			return nil, nil, err
		}

		b = appendAload(b, ch.slot)
		branch := len(b)
		b = append(b, opIfnonnull, 0, 0)
		b = append(b, opNew, byte(exc>>8), byte(exc), opDup)
		if str <= 0xff {
			b = append(b, opLdc, byte(str))
		} else {
			b = append(b, opLdcW, byte(str>>8), byte(str))
		}
		b = append(b, opInvokespecial, byte(ctor>>8), byte(ctor), opAthrow)

		rel := len(b) - branch
		b[branch+1] = byte(rel >> 8)
		b[branch+2] = byte(rel)
		targets = append(targets, len(b))
	}
	for len(b)%4 != 0 {
		b = append(b, opNop)
	}
	return b, targets, nil
}

func appendAload(b []byte, slot int) []byte {
	switch {
	case slot <= 3:
		return append(b, byte(opAload0+slot))
	case slot <= 0xff:
		return append(b, opAload, byte(slot))
	default:
		return append(b, opWide, opAload, byte(slot>>8), byte(slot))
	}
}

// relocate shifts every code offset by p and records frames at the check
// targets.
func (m *methodRewriter) relocate(code *classfile.Code, p int, targets []int) error {
	shift := uint16(p)
	for i := range code.Exceptions {
		code.Exceptions[i].StartPC += shift
		code.Exceptions[i].EndPC += shift
		code.Exceptions[i].HandlerPC += shift
	}

	var stackMap *classfile.Attribute
	for _, attr := range code.Attributes {
		name, err := m.class.Pool.UTF8(attr.NameIndex)
		if err != nil {
			return err
		}
		switch name {
		case "LineNumberTable":
			lines, err := classfile.ParseLineNumbers(attr.Info)
			if err != nil {
				return err
			}
			for i := range lines {
				lines[i].StartPC += shift
			}
			attr.Info = classfile.EncodeLineNumbers(lines)
		case "LocalVariableTable", "LocalVariableTypeTable":
			vars, err := classfile.ParseLocalVariables(attr.Info)
			if err != nil {
				return err
			}
			for i := range vars {
				if vars[i].StartPC == 0 {
					vars[i].Length += shift
				} else {
					vars[i].StartPC += shift
				}
			}
			attr.Info = classfile.EncodeLocalVariables(vars)
		case "StackMapTable":
			stackMap = attr
		}
	}

	if m.class.Major < classfile.Java6 {
		return nil
	}

	var old []classfile.Frame
	if stackMap != nil {
		frames, err := classfile.ParseStackMap(stackMap.Info)
		if err != nil {
			return err
		}
		old = frames
	} else {
		idx, err := m.class.Pool.AddUTF8("StackMapTable")
		if err != nil {
			return err
		}
		stackMap = &classfile.Attribute{NameIndex: idx}
		code.Attributes = append(code.Attributes, stackMap)
	}

	for i := range old {
		shiftUninitialized(old[i].Locals, shift)
		shiftUninitialized(old[i].Stack, shift)
	}

	firstOld := -1
	if len(old) > 0 {
		firstOld = int(old[0].Delta) + p
	}

	frames := make([]classfile.Frame, 0, len(targets)+len(old))
	last := -1
	for _, t := range targets {
		if t == firstOld {
			continue
		}
		frames = append(frames, classfile.Frame{Type: 0, Delta: uint16(t - last - 1)})
		last = t
	}
	if len(old) > 0 {
		old[0].Delta = uint16(firstOld - last - 1)
		frames = append(frames, old...)
	}
	stackMap.Info = classfile.EncodeStackMap(frames)
	return nil
}

func shiftUninitialized(types []classfile.VerificationType, shift uint16) {
	for i := range types {
		if types[i].Tag == classfile.VUninitialized {
			types[i].Value += shift
		}
	}
}
