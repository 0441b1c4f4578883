package engineerr

import (
	"strconv"
	"strings"
)

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// Pointer builds an RFC 6901 JSON pointer from raw segments.
func Pointer(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(s))
	}
	return b.String()
}

// Index renders a list index as a pointer segment.
func Index(i int) string { return strconv.Itoa(i) }

// Join appends raw segments to an existing pointer.
func Join(base string, segments ...string) string {
	return base + Pointer(segments...)
}
