// Package symbols renders the status glyphs used in CLI and debug output.
package symbols

import (
	"html"
	"strconv"
)

var names = map[string]int{
	"checkmark": 10004,
	"crossmark": 10008,
}

func FromUnicode(dec int) string {
	return html.UnescapeString("&#" + strconv.Itoa(dec) + ";")
}

func Get(name string) string {
	if val, ok := names[name]; ok {
		return FromUnicode(val)
	}
	return ""
}

// Status maps an exit-code-style status to a glyph. Zero is a checkmark,
// anything else a crossmark.
func Status(code int) string {
	if code == 0 {
		return Get("checkmark")
	}
	return Get("crossmark")
}
