package classfile

import "fmt"

// Verification type tags.
const (
	VTop               = 0
	VInteger           = 1
	VFloat             = 2
	VDouble            = 3
	VLong              = 4
	VNull              = 5
	VUninitializedThis = 6
	VObject            = 7
	VUninitialized     = 8
)

// VerificationType is one verification_type_info. Value is the class index
// for VObject and the offset of the new instruction for VUninitialized.
type VerificationType struct {
	Tag   uint8
	Value uint16
}

// Frame is one decoded stack_map_frame. Delta is the offset_delta
// regardless of how the frame type encodes it.
type Frame struct {
	Type   uint8
	Delta  uint16
	Locals []VerificationType
	Stack  []VerificationType
}

// Frame types.
const (
	FrameSameMax             = 63
	FrameSameLocals1Max      = 127
	FrameSameLocals1Extended = 247
	FrameChopMin             = 248
	FrameChopMax             = 250
	FrameSameExtended        = 251
	FrameAppendMin           = 252
	FrameAppendMax           = 254
	FrameFull                = 255
)

func readVerificationType(r *reader) VerificationType {
	v := VerificationType{Tag: r.u1()}
	if v.Tag == VObject || v.Tag == VUninitialized {
		v.Value = r.u2()
	}
	return v
}

func readVerificationTypes(r *reader, n int) []VerificationType {
	out := make([]VerificationType, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, readVerificationType(r))
	}
	return out
}

// ParseStackMap decodes a StackMapTable attribute.
func ParseStackMap(info []byte) ([]Frame, error) {
	r := newReader(info)
	n := int(r.u2())
	frames := make([]Frame, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		f := Frame{Type: r.u1()}
		switch t := f.Type; {
		case t <= FrameSameMax:
			f.Delta = uint16(t)
		case t <= FrameSameLocals1Max:
			f.Delta = uint16(t - 64)
			f.Stack = readVerificationTypes(r, 1)
		case t < FrameSameLocals1Extended:
			return nil, fmt.Errorf("classfile: reserved frame type %d", t)
		case t == FrameSameLocals1Extended:
			f.Delta = r.u2()
			f.Stack = readVerificationTypes(r, 1)
		case t <= FrameSameExtended:
			f.Delta = r.u2()
		case t <= FrameAppendMax:
			f.Delta = r.u2()
			f.Locals = readVerificationTypes(r, int(t-FrameSameExtended))
		default:
			f.Delta = r.u2()
			f.Locals = readVerificationTypes(r, int(r.u2()))
			f.Stack = readVerificationTypes(r, int(r.u2()))
		}
		frames = append(frames, f)
	}
	if r.err != nil {
		return nil, fmt.Errorf("stack map table: %w", r.err)
	}
	return frames, nil
}

func appendVerificationTypes(b []byte, types []VerificationType) []byte {
	for _, v := range types {
		b = append(b, v.Tag)
		if v.Tag == VObject || v.Tag == VUninitialized {
			b = appendU2(b, v.Value)
		}
	}
	return b
}

// EncodeStackMap encodes frames, widening compact frame types when Delta no longer fits.
func EncodeStackMap(frames []Frame) []byte {
	b := appendU2(nil, uint16(len(frames)))
	for _, f := range frames {
		switch t := f.Type; {
		case t <= FrameSameMax || t == FrameSameExtended:
			if f.Delta <= FrameSameMax {
				b = append(b, uint8(f.Delta))
			} else {
				b = append(b, FrameSameExtended)
				b = appendU2(b, f.Delta)
			}
		case t <= FrameSameLocals1Max || t == FrameSameLocals1Extended:
			if f.Delta <= FrameSameMax {
				b = append(b, uint8(64+f.Delta))
			} else {
				b = append(b, FrameSameLocals1Extended)
				b = appendU2(b, f.Delta)
			}
			b = appendVerificationTypes(b, f.Stack)
		case t < FrameSameExtended:
			b = append(b, t)
			b = appendU2(b, f.Delta)
		case t <= FrameAppendMax:
			b = append(b, t)
			b = appendU2(b, f.Delta)
			b = appendVerificationTypes(b, f.Locals)
		default:
			b = append(b, FrameFull)
			b = appendU2(b, f.Delta)
			b = appendU2(b, uint16(len(f.Locals)))
			b = appendVerificationTypes(b, f.Locals)
			b = appendU2(b, uint16(len(f.Stack)))
			b = appendVerificationTypes(b, f.Stack)
		}
	}
	return b
}
