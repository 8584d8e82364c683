package actionexec

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/runtimeerr"
)

// LookupResolver is satisfied by internal/records.Store: it lets the
// record-schema validator confirm a lookup value resolves to an existing
// record and, when the field declares a domain, that the candidate record
// satisfies it against the current record context (spec.md §3 Record
// invariants, scenario 2).
type LookupResolver interface {
	Get(workspaceID, entityID, recordID string) (manifest.Doc, error)
}

// validateFields checks every declared field of entity against data,
// per spec.md §3's Record invariants: required fields present, enum
// values in declared options, well-formed uuid/date/datetime, and lookup
// targets/domains. Absent or blank required fields are errors on both
// create and update (on update `data` is already the merged
// {...existing, ...patch} view); uuid-typed fields are not checked.
func validateFields(workspaceID string, entity manifest.Entity, data manifest.Doc, lookups LookupResolver, current manifest.Doc) []runtimeerr.Issue {
	var issues []runtimeerr.Issue
	for _, f := range entity.Fields {
		v, present := data[f.ID]
		if f.Type == manifest.FieldUUID {
			continue // id fields are readonly/non-required by construction
		}
		if !present || isBlank(v) {
			if f.Required {
				issues = append(issues, runtimeerr.Issue{Code: "VALIDATION_REQUIRED", Message: fmt.Sprintf("%s is required", f.ID), Path: f.ID})
			}
			continue
		}
		switch f.Type {
		case manifest.FieldEnum:
			if !enumContains(f.EnumOptions, v) {
				issues = append(issues, runtimeerr.Issue{Code: "VALIDATION_ENUM_INVALID", Message: fmt.Sprintf("%s: %v is not a declared enum option", f.ID, v), Path: f.ID})
			}
		case manifest.FieldDate:
			if !isWellFormedDate(v) {
				issues = append(issues, runtimeerr.Issue{Code: "VALIDATION_DATE_INVALID", Message: fmt.Sprintf("%s: %v is not a well-formed ISO date", f.ID, v), Path: f.ID})
			}
		case manifest.FieldDatetime:
			if !isWellFormedDatetime(v) {
				issues = append(issues, runtimeerr.Issue{Code: "VALIDATION_DATETIME_INVALID", Message: fmt.Sprintf("%s: %v is not a well-formed ISO datetime", f.ID, v), Path: f.ID})
			}
		case manifest.FieldLookup:
			issues = append(issues, validateLookup(workspaceID, f, v, data, lookups, current)...)
		}
	}
	return issues
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func enumContains(options []any, v any) bool {
	for _, opt := range options {
		if d, ok := opt.(manifest.Doc); ok {
			if fmt.Sprintf("%v", d["value"]) == fmt.Sprintf("%v", v) {
				return true
			}
			continue
		}
		if fmt.Sprintf("%v", opt) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}

func isWellFormedDate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func isWellFormedDatetime(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func isWellFormedUUID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func validateLookup(workspaceID string, f manifest.Field, v any, data manifest.Doc, lookups LookupResolver, current manifest.Doc) []runtimeerr.Issue {
	id, ok := v.(string)
	if !ok || id == "" {
		return []runtimeerr.Issue{{Code: "VALIDATION_LOOKUP_INVALID", Message: fmt.Sprintf("%s must be a record id string", f.ID), Path: f.ID}}
	}
	if !isWellFormedUUID(v) {
		return []runtimeerr.Issue{{Code: "VALIDATION_LOOKUP_INVALID", Message: fmt.Sprintf("%s: %q is not a well-formed uuid", f.ID, id), Path: f.ID}}
	}
	target := f.LookupTarget
	candidate, err := lookups.Get(workspaceID, target, id)
	if err != nil {
		return []runtimeerr.Issue{{Code: "LOOKUP_TARGET_NOT_FOUND", Message: fmt.Sprintf("%s: %s/%s not found", f.ID, target, id), Path: f.ID}}
	}

	domain := f.Raw["domain"]
	if domain == nil {
		return nil
	}
	ctx := map[string]any{
		"candidate": map[string]any(candidate),
		"record":    map[string]any(data),
	}
	ok2, err := manifest.EvaluateDomain(domain, ctx)
	if err != nil {
		return []runtimeerr.Issue{{Code: "CONDITION_INVALID", Message: err.Error(), Path: f.ID}}
	}
	if !ok2 {
		return []runtimeerr.Issue{{Code: "LOOKUP_DOMAIN_VIOLATION", Message: fmt.Sprintf("%s: candidate %s does not satisfy the field's domain", f.ID, id), Path: f.ID}}
	}
	return nil
}

// workflowStateRequiredFields returns the required_fields list declared on
// the workflow state whose id equals statusValue, if the workflow's raw
// state doc carries one. Not named as a typed field in spec.md §3 (states
// are documented as {id,label}); this implementation treats
// `required_fields` as an optional extra key on a state object, the
// natural extension for spec.md §4.7's "validate workflow-state's
// required_fields".
func workflowStateRequiredFields(wf manifest.Workflow, statusValue string) []string {
	for _, s := range wf.States {
		if manifest.Str(s, "id") == statusValue {
			var out []string
			for _, v := range manifest.List(s, "required_fields") {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}

func validateStateRequiredFields(wf manifest.Workflow, data manifest.Doc) []runtimeerr.Issue {
	statusValue := fmt.Sprintf("%v", data[wf.StatusField])
	var issues []runtimeerr.Issue
	for _, fid := range workflowStateRequiredFields(wf, statusValue) {
		if v, ok := data[fid]; !ok || isBlank(v) {
			issues = append(issues, runtimeerr.Issue{
				Code:    "VALIDATION_REQUIRED",
				Message: fmt.Sprintf("%s is required when %s=%q", fid, wf.StatusField, statusValue),
				Path:    fid,
			})
		}
	}
	return issues
}
