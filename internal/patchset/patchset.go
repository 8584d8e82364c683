// Package patchset implements the RFC6901-pointer-addressed patch
// operations spec.md §6/§9 name for the studio2 draft surface: add, set,
// remove, rename_id. Ops are applied to a working copy of a manifest and
// the result is fed back through internal/validate the same way
// internal/draft's CreateDraftVersion records ops_applied + validation
// errors against a version. Grounded on internal/selector's json-pointer
// encode/decode helpers (the same RFC6901 escaping rules) and on the
// teacher's flat, typed-error style (RegistryError/RuntimeError structs).
package patchset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lowcraft/runtime/internal/manifest"
)

// Kind enumerates the patch operation kinds spec.md §9 names.
type Kind string

const (
	KindAdd      Kind = "add"
	KindSet      Kind = "set"
	KindRemove   Kind = "remove"
	KindRenameID Kind = "rename_id"
)

// Op is a single patch operation. Path is an RFC6901 JSON pointer
// ("/entities/2/fields/0/required"). RenameID ops ignore Value and instead
// use OldID/NewID.
type Op struct {
	Kind  Kind
	Path  string
	Value any
	OldID string
	NewID string
}

// Error is a structured PATCHSET_* error, per spec.md §7's taxonomy.
type Error struct {
	Code    string
	Message string
	Path    string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Path) }

func errf(code, path, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}

func splitPointer(path string) ([]string, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("json pointer must start with '/': %q", path)
	}
	raw := strings.Split(path[1:], "/")
	out := make([]string, len(raw))
	for i, seg := range raw {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		out[i] = seg
	}
	return out, nil
}

// navigate walks doc following segs[:len(segs)-1], returning the parent
// container and the final segment, so callers can get/set/delete on it.
func navigate(doc manifest.Doc, segs []string) (any, string, error) {
	if len(segs) == 0 {
		return nil, "", fmt.Errorf("pointer resolves to the document root")
	}
	var cur any = doc
	for _, seg := range segs[:len(segs)-1] {
		switch v := cur.(type) {
		case manifest.Doc:
			next, ok := v[seg]
			if !ok {
				return nil, "", fmt.Errorf("missing key %q", seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, "", fmt.Errorf("invalid array index %q", seg)
			}
			cur = v[idx]
		default:
			return nil, "", fmt.Errorf("cannot descend into non-container at %q", seg)
		}
	}
	return cur, segs[len(segs)-1], nil
}

func exists(container any, key string) bool {
	switch v := container.(type) {
	case manifest.Doc:
		_, ok := v[key]
		return ok
	case []any:
		idx, err := strconv.Atoi(key)
		return err == nil && idx >= 0 && idx < len(v)
	}
	return false
}

func setAt(container any, key string, value any) error {
	switch v := container.(type) {
	case manifest.Doc:
		v[key] = value
		return nil
	case []any:
		if key == "-" {
			return fmt.Errorf("append via '-' is not addressable in place; use the parent array op")
		}
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v) {
			return fmt.Errorf("invalid array index %q", key)
		}
		v[idx] = value
		return nil
	}
	return fmt.Errorf("cannot set a key on a non-container")
}

func removeAt(container any, key string) error {
	switch v := container.(type) {
	case manifest.Doc:
		delete(v, key)
		return nil
	case []any:
		return fmt.Errorf("array element removal requires rebuilding the parent array; not supported in place")
	}
	return fmt.Errorf("cannot remove a key from a non-container")
}

// Apply applies ops in order to a deep copy of base and returns the result.
// An op that fails aborts immediately: Apply never returns a partially
// patched document (spec.md §7's "no partial side effects" extends to
// patch application).
func Apply(base manifest.Doc, ops []Op) (manifest.Doc, error) {
	working := manifest.CloneDoc(base).(manifest.Doc)
	for i, op := range ops {
		if err := applyOne(working, op); err != nil {
			return nil, fmt.Errorf("patchset: op %d (%s %s): %w", i, op.Kind, op.Path, err)
		}
	}
	return working, nil
}

func applyOne(doc manifest.Doc, op Op) error {
	switch op.Kind {
	case KindAdd:
		segs, err := splitPointer(op.Path)
		if err != nil {
			return err
		}
		parent, key, err := navigate(doc, segs)
		if err != nil {
			return err
		}
		return setAt(parent, key, manifest.CloneDoc(op.Value))
	case KindSet:
		// "set" auto-selects between add and replace based on existence
		// (spec.md §4.4/§9); since both write via the same setAt path on
		// this tree representation, the distinction is purely semantic.
		segs, err := splitPointer(op.Path)
		if err != nil {
			return err
		}
		parent, key, err := navigate(doc, segs)
		if err != nil {
			return err
		}
		return setAt(parent, key, manifest.CloneDoc(op.Value))
	case KindRemove:
		segs, err := splitPointer(op.Path)
		if err != nil {
			return err
		}
		parent, key, err := navigate(doc, segs)
		if err != nil {
			return err
		}
		if !exists(parent, key) {
			return fmt.Errorf("nothing to remove at %q", op.Path)
		}
		return removeAt(parent, key)
	case KindRenameID:
		return renameID(doc, op.OldID, op.NewID)
	default:
		return fmt.Errorf("unknown patch op kind %q", op.Kind)
	}
}

// renameID makes one walk over the whole manifest, replacing every "id"
// equal to oldID and every cross-reference to oldID held in an
// entity|entity_id|entityId key. It fails when nothing matched.
func renameID(doc manifest.Doc, oldID, newID string) error {
	if oldID == "" || newID == "" {
		return fmt.Errorf("rename_id requires both old_id and new_id")
	}
	replaced := false
	walkReplaceID(doc, oldID, newID, &replaced)
	if !replaced {
		return fmt.Errorf("id %q was not found anywhere in the manifest", oldID)
	}
	return nil
}

var crossRefKeys = map[string]bool{"entity": true, "entity_id": true, "entityId": true}

func walkReplaceID(v any, oldID, newID string, replaced *bool) {
	switch t := v.(type) {
	case manifest.Doc:
		if id, ok := t["id"].(string); ok && id == oldID {
			t["id"] = newID
			*replaced = true
		}
		for k, vv := range t {
			if crossRefKeys[k] {
				if s, ok := vv.(string); ok && s == oldID {
					t[k] = newID
					*replaced = true
					continue
				}
			}
			walkReplaceID(vv, oldID, newID, replaced)
		}
	case []any:
		for _, item := range t {
			walkReplaceID(item, oldID, newID, replaced)
		}
	}
}
