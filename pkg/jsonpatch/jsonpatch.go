// Package jsonpatch defines the RFC 6902-shaped fragments that flow
// between the op translator and the lens stack: a narrow slice of the full
// JSON Patch vocabulary (add/replace/remove), since that is all the
// op-translation pipeline ever produces or consumes.
package jsonpatch

import "strings"

// Op names the JSON Patch operation kind.
type Op string

const (
	Add     Op = "add"
	Remove  Op = "remove"
	Replace Op = "replace"
)

// Operation is a single JSON Patch fragment.
type Operation struct {
	Op    Op          `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Patch is an ordered list of patch fragments, applied left to right.
type Patch []Operation

// Segments splits a JSON Pointer path ("" for root) into its unescaped
// tokens, per RFC 6901 (~1 -> /, ~0 -> ~).
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, len(raw))
	for i, s := range raw {
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		out[i] = s
	}
	return out
}

// JoinPath builds a JSON Pointer path from unescaped segments.
func JoinPath(segments ...string) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1"))
	}
	return b.String()
}

// IsEmptyObject reports whether v decodes to an empty JSON object.
func IsEmptyObject(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	return ok && len(m) == 0
}

// IsEmptyArray reports whether v decodes to an empty JSON array.
func IsEmptyArray(v interface{}) bool {
	s, ok := v.([]interface{})
	return ok && len(s) == 0
}

// IsScalarOrNil reports whether v is a value the translator can assign
// directly with a set op: a string, number, bool, or nil. Non-empty
// arrays/objects and any other shape are not representable by a single
// `set` and must be rejected by the caller.
func IsScalarOrNil(v interface{}) bool {
	if v == nil {
		return true
	}
	switch v.(type) {
	case string, bool, float64, int, int64:
		return true
	default:
		return false
	}
}
