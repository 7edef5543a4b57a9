package tools

import (
	"strings"
	"unicode"
)

// Printable drops the non printable runes of v, CR and LF included,
// so control connection traffic is logged on one line.
func Printable[T ~string | ~[]byte](v T) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, string(v))
}
