package logging

import (
	"strings"
	"unicode/utf8"
)

// Sanitize replaces control characters and invalid UTF-8 with '?'. File
// names come from untrusted sources and may carry newlines or terminal
// escapes meant to forge log lines.
func Sanitize(s string) string {
	clean := true
	for _, r := range s {
		if unsafeRune(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if unsafeRune(r) {
			b.WriteByte('?')
		} else {
			b.WriteRune(r)
		}
		s = s[size:]
	}
	return b.String()
}

func unsafeRune(r rune) bool {
	switch {
	case r == utf8.RuneError:
		return true
	case r < 32 && r != '\t':
		// C0 controls, tab excepted
		return true
	case r == 127:
		return true
	case r >= 0x80 && r <= 0x9F:
		// C1 controls
		return true
	}
	return false
}
