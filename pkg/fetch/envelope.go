package fetch

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup reads path from a loc.gov document. The API returns fields selected
// with "at=" under their dotted name as a single key ("options.is_partial"),
// so the literal key is tried before the nested path.
func Lookup(doc gjson.Result, path string) gjson.Result {
	if strings.Contains(path, ".") {
		if r := doc.Get(strings.ReplaceAll(path, ".", `\.`)); r.Exists() {
			return r
		}
	}
	return doc.Get(path)
}

// EmbeddedStatus returns the "status" code of a loc.gov envelope, 0 if absent.
func EmbeddedStatus(doc gjson.Result) int {
	s := doc.Get("status")
	if !s.Exists() {
		return 0
	}
	return int(s.Int())
}

// IsPartial reports whether the upstream index timed out and returned a
// partial result.
func IsPartial(doc gjson.Result) bool {
	r := Lookup(doc, "options.is_partial")
	return r.Type == gjson.True
}
