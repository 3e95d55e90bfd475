package classfile

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// decodeMUTF8 decodes the modified UTF-8 used by CONSTANT_Utf8 entries.
func decodeMUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, utf8.RuneError)
			i++
		}
	}
	return string(utf16.Decode(units))
}

// encodeMUTF8 encodes s as modified UTF-8.
func encodeMUTF8(s string) []byte {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r != 0 && r < 0x80:
			b.WriteByte(byte(r))
		case r < 0x800:
			b.WriteByte(byte(0xC0 | (r>>6)&0x1F))
			b.WriteByte(byte(0x80 | r&0x3F))
		case r <= 0xFFFF:
			writeMUTF8Unit(&b, uint16(r))
		default:
			hi, lo := utf16.EncodeRune(r)
			writeMUTF8Unit(&b, uint16(hi))
			writeMUTF8Unit(&b, uint16(lo))
		}
	}
	return []byte(b.String())
}

func writeMUTF8Unit(b *strings.Builder, u uint16) {
	b.WriteByte(byte(0xE0 | (u>>12)&0x0F))
	b.WriteByte(byte(0x80 | (u>>6)&0x3F))
	b.WriteByte(byte(0x80 | u&0x3F))
}
