// Package manifest defines the manifest data model: the dynamic JSON tree
// shape (Doc) that the validator/normalizer pipeline mutates directly, the
// typed views used by the rest of the runtime, and the condition AST shared
// by permissions, filters, triggers, and automation conditions.
//
// Grounded on spec.md §3 (Data model) and §9 ("dynamic typing in the
// source ... must be modeled as tagged-variant trees").
package manifest

import "fmt"

// Doc is the raw, dynamically-typed manifest tree. The validator/normalizer
// pipeline operates directly on Doc because manifests arrive as arbitrary
// (possibly malformed) JSON and must be defaulted/sanitized before any
// typed decode is attempted.
type Doc = map[string]any

// Section fetches doc[key] as a Doc, returning an empty Doc (not nil) if
// absent or of the wrong type. The empty Doc is not stored back into doc;
// EnsureSection does that.
func Section(doc Doc, key string) Doc {
	if v, ok := doc[key]; ok {
		if m, ok := v.(Doc); ok {
			return m
		}
	}
	return Doc{}
}

// EnsureSection fetches or creates doc[key] as a Doc, storing it back into
// doc so subsequent mutation is visible to the caller.
func EnsureSection(doc Doc, key string) Doc {
	if v, ok := doc[key]; ok {
		if m, ok := v.(Doc); ok {
			return m
		}
	}
	m := Doc{}
	doc[key] = m
	return m
}

// List fetches doc[key] as a []any, returning nil (not an error) if absent
// or of the wrong type.
func List(doc Doc, key string) []any {
	if v, ok := doc[key]; ok {
		if l, ok := v.([]any); ok {
			return l
		}
	}
	return nil
}

// EnsureList fetches or creates doc[key] as a []any.
func EnsureList(doc Doc, key string) []any {
	if v, ok := doc[key]; ok {
		if l, ok := v.([]any); ok {
			return l
		}
	}
	l := []any{}
	doc[key] = l
	return l
}

// Str fetches doc[key] as a string, returning "" if absent or wrong type.
func Str(doc Doc, key string) string {
	if v, ok := doc[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool fetches doc[key] as a bool, returning def if absent or wrong type.
func Bool(doc Doc, key string, def bool) bool {
	if v, ok := doc[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int fetches doc[key] as an int, returning def if absent or unconvertible.
func Int(doc Doc, key string, def int) int {
	switch v := doc[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// AsDocSlice converts a []any of map[string]any-like elements into
// []Doc, skipping non-object elements.
func AsDocSlice(items []any) []Doc {
	out := make([]Doc, 0, len(items))
	for _, item := range items {
		if d, ok := item.(Doc); ok {
			out = append(out, d)
		}
	}
	return out
}

// FindByID returns the first element of items whose "id" field equals id,
// and its index, or (nil, -1) if not found.
func FindByID(items []any, id string) (Doc, int) {
	for i, item := range items {
		if d, ok := item.(Doc); ok {
			if Str(d, "id") == id {
				return d, i
			}
		}
	}
	return nil, -1
}

// CloneDoc performs a deep copy of a Doc-shaped value (map/slice/scalar
// tree), so normalization steps can mutate working copies without
// corrupting a stored snapshot.
func CloneDoc(v any) any {
	switch val := v.(type) {
	case Doc:
		out := make(Doc, len(val))
		for k, vv := range val {
			out[k] = CloneDoc(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = CloneDoc(vv)
		}
		return out
	default:
		return val
	}
}

// EntitySlug returns the slug of an entity id ("entity.job" -> "job"). It
// returns an error if id does not start with "entity.".
func EntitySlug(entityID string) (string, error) {
	const prefix = "entity."
	if len(entityID) <= len(prefix) || entityID[:len(prefix)] != prefix {
		return "", fmt.Errorf("entity id %q must start with %q", entityID, prefix)
	}
	return entityID[len(prefix):], nil
}
