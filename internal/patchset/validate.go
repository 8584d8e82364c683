package patchset

import (
	"github.com/lowcraft/runtime/internal/canonical"
	"github.com/lowcraft/runtime/internal/draft"
	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/manifeststore"
	"github.com/lowcraft/runtime/internal/runtimeerr"
	"github.com/lowcraft/runtime/internal/validate"
)

// Result is the outcome of Preview/Apply: the patched-and-normalized
// manifest plus the three validator passes spec.md §6's "validate" command
// reports (errors, warnings, strict is folded into errors, completeness
// into warnings, design_warnings kept separate).
type Result struct {
	Patched   manifest.Doc
	Validated validate.Result
}

// Preview applies ops to base and runs the normalize/validate pipeline
// against the result without touching the draft or manifest store —
// spec.md §6's "patchset preview".
func Preview(base manifest.Doc, moduleID string, ops []Op) (Result, error) {
	patched, err := Apply(base, ops)
	if err != nil {
		return Result{}, err
	}
	return Result{Patched: patched, Validated: validate.Validate(patched, moduleID)}, nil
}

// Validate is Preview without the caller needing the patched doc back
// separately; both return the same Result shape.
func Validate(base manifest.Doc, moduleID string, ops []Op) (Result, error) {
	return Preview(base, moduleID, ops)
}

// OpsToDocs renders ops as manifest.Doc records, the shape
// draft.Version.OpsApplied stores (spec.md §3's Draft version shape).
func OpsToDocs(ops []Op) []manifest.Doc {
	out := make([]manifest.Doc, len(ops))
	for i, op := range ops {
		d := manifest.Doc{"kind": string(op.Kind), "path": op.Path}
		if op.Kind == KindRenameID {
			d["old_id"] = op.OldID
			d["new_id"] = op.NewID
		} else {
			d["value"] = op.Value
		}
		out[i] = d
	}
	return out
}

// ResolveRollbackTarget resolves a rollback target into a concrete snapshot
// hash. It accepts a snapshot hash, a draft version id or a transaction
// group id, tried in that order; a version number is not resolved.
//
// Direct hash: target is already a known snapshot of the module.
// Draft version id: target names a draft.Version; its manifest is hashed
// and must match a snapshot the module already has (a draft version is
// only a valid rollback target once it has actually been installed).
// Transaction group id: target is searched in the module's audit history
// for the ToHash of the entry stamped with that group.
func ResolveRollbackTarget(manifests *manifeststore.Store, drafts *draft.Store, workspaceID, moduleID, target string) (string, error) {
	for _, h := range manifests.ListSnapshots(workspaceID, moduleID) {
		if h == target {
			return h, nil
		}
	}

	if drafts != nil {
		if v, ok := drafts.GetDraftVersion(workspaceID, moduleID, target); ok {
			hash, err := canonical.Hash(v.Manifest)
			if err != nil {
				return "", err
			}
			for _, h := range manifests.ListSnapshots(workspaceID, moduleID) {
				if h == hash {
					return h, nil
				}
			}
			return "", runtimeerr.At("MODULE_ROLLBACK_TARGET_NOT_INSTALLED", "draft version "+target+" was never installed as a snapshot", "rollback.target")
		}
	}

	for _, entry := range manifests.ListHistory(workspaceID, moduleID) {
		if entry.TransactionGroupID != "" && entry.TransactionGroupID == target {
			return entry.ToHash, nil
		}
	}

	return "", runtimeerr.At("MODULE_ROLLBACK_TARGET_NOT_FOUND", "no snapshot, draft version, or transaction group matches "+target, "rollback.target")
}
