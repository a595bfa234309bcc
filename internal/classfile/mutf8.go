package classfile

import (
	"errors"
	"unicode/utf16"
	"unicode/utf8"
)

var errBadMUTF8 = errors.New("modified utf-8: malformed sequence")

// DecodeChars decodes modified UTF-8 into UTF-16 code units.
func DecodeChars(b []byte) ([]uint16, error) {
	out := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return nil, errBadMUTF8
		case c < 0x80:
			out = append(out, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return nil, errBadMUTF8
			}
			out = append(out, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return nil, errBadMUTF8
			}
			out = append(out, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return nil, errBadMUTF8
		}
	}
	return out, nil
}

// EncodeChars encodes UTF-16 code units as modified UTF-8: NUL takes two
// bytes and every code unit, surrogates included, is encoded on its own.
func EncodeChars(cs []uint16) []byte {
	out := make([]byte, 0, len(cs))
	for _, c := range cs {
		switch {
		case c != 0 && c < 0x80:
			out = append(out, byte(c))
		case c < 0x800:
			out = append(out, 0xc0|byte(c>>6), 0x80|byte(c&0x3f))
		default:
			out = append(out, 0xe0|byte(c>>12), 0x80|byte(c>>6&0x3f), 0x80|byte(c&0x3f))
		}
	}
	return out
}

// DecodeString decodes modified UTF-8 into a Go string. Unpaired surrogates
// become U+FFFD.
func DecodeString(b []byte) (string, error) {
	if isASCII(b) {
		return string(b), nil
	}
	cs, err := DecodeChars(b)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(cs)), nil
}

// EncodeString encodes a Go string as modified UTF-8.
func EncodeString(s string) []byte {
	if isASCIINoNul(s) {
		return []byte(s)
	}
	if !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	return EncodeChars(utf16.Encode([]rune(s)))
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			return false
		}
	}
	return true
}

func isASCIINoNul(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			return false
		}
	}
	return true
}
