// Package pathescape implements the object-path escaping rule shared by the
// controller and the agent: every byte that is not ASCII alphanumeric (or a
// leading digit) is replaced by "_" followed by two lower-case hex digits.
// The empty input maps to "_". The transform is injective over the 7-bit and
// UTF-8 input domains.
package pathescape

import "strings"

// Escape returns the escaped form of s, suitable for embedding in an object
// path segment (e.g. "<base>/node/<Escape(name)>").
func Escape(s string) string {
	if s == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) && !(i == 0 && isDigit(c)) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteByte(hexDigit(c >> 4))
		b.WriteByte(hexDigit(c & 0x0f))
	}

	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c)
}

func hexDigit(n byte) byte {
	const digits = "0123456789abcdef"
	return digits[n]
}
