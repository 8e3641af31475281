// Generic data manipulation utilities.

package main

import (
	"strings"

	"github.com/rivo/uniseg"
)

// preview returns a log-safe form of raw input: control bytes stripped,
// truncated to at most max grapheme clusters so multi-byte characters are
// never cut in half.
func preview(raw []byte, max int) string {
	var sb strings.Builder
	for _, b := range raw {
		if b >= 0x20 && b != 0x7f {
			sb.WriteByte(b)
		}
	}

	text := sb.String()
	rest := text
	state := -1
	for i := 0; i < max && len(rest) > 0; i++ {
		_, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
	}
	if len(rest) > 0 {
		return text[:len(text)-len(rest)] + "<...>"
	}
	return text
}
