// Package actionexec implements the transactional action executor: the
// critical path for every record mutation (spec.md §4.7). Given a
// (module_id, action_id, context), it resolves the action, gates it on
// enabled_when/visible_when, validates the write against the entity schema
// and any workflow state-required-fields, performs the write atomically,
// appends a chatter entry, emits triggers post-commit, and updates the
// per-record activity feed. Grounded on original_source/action_exec.py's
// resolve-validate-write-emit pipeline and on storage.RunInTransaction's
// idiom (registry.go/records.go already ground that pattern in this
// codebase).
package actionexec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lowcraft/runtime/internal/activity"
	"github.com/lowcraft/runtime/internal/eventbus"
	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/manifeststore"
	"github.com/lowcraft/runtime/internal/records"
	"github.com/lowcraft/runtime/internal/registry"
	"github.com/lowcraft/runtime/internal/runtimeerr"
)

// Error is the structured core-boundary error the executor returns for any
// resolution or validation failure, per spec.md §7.
type Error = runtimeerr.Error

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Context is the caller-supplied context for an action invocation
// (spec.md §4.7): the record a form/list row is bound to, a draft of
// unsaved edits, or a set of selected ids for a bulk action.
type Context struct {
	RecordID    string
	RecordDraft manifest.Doc
	SelectedIDs []string
}

// Result is what Execute returns. Navigation actions populate Kind/Target;
// write actions populate Record (single write) or Records (bulk write).
type Result struct {
	Kind         string // navigate | open_form | refresh | create_record | update_record | bulk_update
	Target       string
	EntityID     string
	Record       manifest.Doc
	Records      []manifest.Doc
	EventsEmitted []string
}

// Executor wires the registry, manifest store, records store, activity
// feed, and event bus together to run declarative actions.
type Executor struct {
	Registry     *registry.Registry
	Manifests    *manifeststore.Store
	Records      *records.Store
	Activity     *activity.Store
	Bus          *eventbus.Bus
}

// New returns an Executor over the given collaborators.
func New(reg *registry.Registry, ms *manifeststore.Store, rs *records.Store, act *activity.Store, bus *eventbus.Bus) *Executor {
	return &Executor{Registry: reg, Manifests: ms, Records: rs, Activity: act, Bus: bus}
}

// resolveManifest loads moduleID's current manifest, requiring it be
// installed and enabled (spec.md §4.7 step 1).
func (ex *Executor) resolveManifest(workspaceID, moduleID string) (manifest.Doc, error) {
	mod, err := ex.Registry.Get(workspaceID, moduleID)
	if err != nil {
		return nil, errf("MODULE_NOT_INSTALLED", "module %s is not installed", moduleID)
	}
	if !mod.Enabled {
		return nil, errf("MODULE_DISABLED", "module %s is disabled", moduleID)
	}
	m, err := ex.Manifests.GetSnapshot(workspaceID, moduleID, mod.CurrentHash)
	if err != nil {
		return nil, fmt.Errorf("actionexec: load manifest for %s: %w", moduleID, err)
	}
	return m, nil
}

// enabledManifests returns the manifests of every enabled, non-archived
// module in the workspace, for cross-module entity/workflow lookup
// (spec.md §4.7 step 5: "locate the entity (search all enabled manifests)").
func (ex *Executor) enabledManifests(workspaceID string) []manifest.Doc {
	var out []manifest.Doc
	for _, mod := range ex.Registry.List(workspaceID) {
		if !mod.Enabled || mod.Archived {
			continue
		}
		m, err := ex.Manifests.GetSnapshot(workspaceID, mod.ModuleID, mod.CurrentHash)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func findEntity(manifests []manifest.Doc, entityID string) (manifest.Entity, bool) {
	for _, m := range manifests {
		for _, ed := range manifest.AsDocSlice(manifest.List(m, "entities")) {
			if manifest.Str(ed, "id") == entityID {
				return manifest.EntityFromDoc(ed), true
			}
		}
	}
	return manifest.Entity{}, false
}

func findWorkflow(manifests []manifest.Doc, entityID string) (manifest.Workflow, bool) {
	for _, m := range manifests {
		for _, wd := range manifest.AsDocSlice(manifest.List(m, "workflows")) {
			if manifest.Str(wd, "entity") == entityID {
				return manifest.WorkflowFromDoc(wd), true
			}
		}
	}
	return manifest.Workflow{}, false
}

func findAction(m manifest.Doc, actionID string) (manifest.Doc, bool) {
	d, idx := manifest.FindByID(manifest.List(m, "actions"), actionID)
	return d, idx >= 0
}

// Execute runs the named action against moduleID in workspace wsID, per
// the full pipeline of spec.md §4.7.
func (ex *Executor) Execute(wsID, moduleID, actionID string, actx Context, actorID string, actorRoles []string) (*Result, error) {
	m, err := ex.resolveManifest(wsID, moduleID)
	if err != nil {
		return nil, err
	}
	actionDoc, ok := findAction(m, actionID)
	if !ok {
		return nil, errf("ACTION_NOT_FOUND", "action %s not found in module %s", actionID, moduleID)
	}
	kind := manifest.Str(actionDoc, "kind")
	if !manifest.AllowedActionKinds[manifest.ActionKind(kind)] {
		return nil, errf("ACTION_INVALID_KIND", "action %s has unsupported kind %q", actionID, kind)
	}

	recordCtx := map[string]any{}
	if actx.RecordDraft != nil {
		recordCtx["record"] = map[string]any(actx.RecordDraft)
	}
	if enabledWhen, ok := actionDoc["enabled_when"]; ok {
		enabled, err := manifest.Evaluate(enabledWhen, recordCtx)
		if err != nil {
			return nil, errf("CONDITION_INVALID", "%s", err.Error())
		}
		if !enabled {
			return nil, errf("ACTION_DISABLED", "action %s is disabled for this context", actionID)
		}
	}
	if visibleWhen, ok := actionDoc["visible_when"]; ok {
		visible, err := manifest.Evaluate(visibleWhen, recordCtx)
		if err != nil {
			return nil, errf("CONDITION_INVALID", "%s", err.Error())
		}
		if !visible {
			return nil, errf("ACTION_DISABLED", "action %s is not visible for this context", actionID)
		}
	}

	moduleSlug := moduleSlugOf(moduleID)
	if manifest.NavigationActionKinds[manifest.ActionKind(kind)] {
		target := manifest.Str(actionDoc, "target")
		ex.emitActionClicked(wsID, moduleID, moduleSlug, actionID, m)
		return &Result{Kind: kind, Target: target, EventsEmitted: []string{"action.clicked"}}, nil
	}

	entityID := manifest.Str(actionDoc, "entity_id")
	manifests := ex.enabledManifests(wsID)
	entity, ok := findEntity(manifests, entityID)
	if !ok {
		return nil, errf("ENTITY_NOT_FOUND", "entity %s not found", entityID)
	}
	wf, hasWF := findWorkflow(manifests, entityID)

	switch kind {
	case string(manifest.ActionCreateRecord):
		return ex.executeCreate(wsID, moduleID, moduleSlug, actionDoc, entity, wf, hasWF, m, actorID, actorRoles)
	case string(manifest.ActionUpdateRecord):
		if actx.RecordID == "" {
			return nil, errf("ACTION_RECORD_ID_REQUIRED", "update_record requires a record_id")
		}
		return ex.executeUpdate(wsID, moduleID, moduleSlug, actionDoc, entity, wf, hasWF, m, actx.RecordID, actorID, actorRoles)
	case string(manifest.ActionBulkUpdate):
		return ex.executeBulkUpdate(wsID, moduleID, moduleSlug, actionDoc, entity, wf, hasWF, m, actx.SelectedIDs, actorID, actorRoles)
	default:
		return nil, errf("ACTION_INVALID_KIND", "action %s has unsupported kind %q", actionID, kind)
	}
}

func moduleSlugOf(moduleID string) string {
	if i := strings.LastIndexByte(moduleID, '.'); i >= 0 {
		return moduleID[i+1:]
	}
	return moduleID
}

func (ex *Executor) emitActionClicked(wsID, moduleID, moduleSlug, actionID string, m manifest.Doc) {
	manifestHash := ex.manifestHashFor(wsID, moduleID)
	payload := manifest.Doc{"action_id": actionID}
	ev, err := eventbus.MakeEvent(string(manifest.EventActionClicked), payload, eventbus.Meta{WorkspaceID: wsID, ModuleID: moduleID, ManifestHash: manifestHash})
	if err == nil {
		ex.Bus.Publish(ev)
	}
	nsName := fmt.Sprintf("%s.action.%s.clicked", moduleSlug, actionID)
	ev2, err := eventbus.MakeEvent(nsName, payload, eventbus.Meta{WorkspaceID: wsID, ModuleID: moduleID, ManifestHash: manifestHash})
	if err == nil {
		ex.Bus.Publish(ev2)
	}
}

func (ex *Executor) manifestHashFor(wsID, moduleID string) string {
	if mod, err := ex.Registry.Get(wsID, moduleID); err == nil {
		return mod.CurrentHash
	}
	return "sha256:0000000000000000000000000000000000000000000000000000000000000"
}

func resolveMap(src manifest.Doc, ctx map[string]any) manifest.Doc {
	out := manifest.Doc{}
	for k, v := range src {
		rv, err := manifest.ResolveValueNode(v, ctx)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = rv
	}
	return out
}

func (ex *Executor) executeCreate(wsID, moduleID, moduleSlug string, actionDoc manifest.Doc, entity manifest.Entity, wf manifest.Workflow, hasWF bool, m manifest.Doc, actorID string, actorRoles []string) (*Result, error) {
	defaults, _ := actionDoc["defaults"].(manifest.Doc)
	ctx := map[string]any{}
	data := resolveMap(defaults, ctx)

	var issues []runtimeerr.Issue
	issues = append(issues, validateFields(wsID, entity, data, ex.Records, nil)...)
	if hasWF {
		issues = append(issues, validateStateRequiredFields(wf, data)...)
	}
	if len(issues) > 0 {
		return nil, &Error{Code: "RECORD_WRITE_FAILED", Message: "create validation failed", Detail: issuesToDetail(issues)}
	}

	recordID, rec := ex.Records.Create(wsID, entity.ID, data)
	ex.Activity.AddEvent(wsID, entity.ID, recordID, activity.EventSystem, manifest.Doc{"message": "Record created"}, activity.AuthorFromActor(actorID, "", ""))

	events := ex.emitRecordEvents(wsID, moduleID, moduleSlug, entity.ID, recordID, "record.created", nil, rec, actorID, actorRoles, hasWF, wf, "", "")
	return &Result{Kind: "create_record", EntityID: entity.ID, Record: rec, EventsEmitted: events}, nil
}

func (ex *Executor) executeUpdate(wsID, moduleID, moduleSlug string, actionDoc manifest.Doc, entity manifest.Entity, wf manifest.Workflow, hasWF bool, m manifest.Doc, recordID string, actorID string, actorRoles []string) (*Result, error) {
	existing, err := ex.Records.Get(wsID, entity.ID, recordID)
	if err != nil {
		return nil, errf("RECORD_NOT_FOUND", "%s/%s not found", entity.ID, recordID)
	}
	patch, _ := actionDoc["patch"].(manifest.Doc)
	ctx := map[string]any{"record": map[string]any(existing)}
	resolvedPatch := resolveMap(patch, ctx)

	updated := manifest.CloneDoc(existing).(manifest.Doc)
	for k, v := range resolvedPatch {
		updated[k] = v
	}

	var issues []runtimeerr.Issue
	issues = append(issues, validateFields(wsID, entity, updated, ex.Records, existing)...)
	oldStatus := ""
	newStatus := ""
	if hasWF {
		oldStatus = fmt.Sprintf("%v", existing[wf.StatusField])
		newStatus = fmt.Sprintf("%v", updated[wf.StatusField])
		issues = append(issues, validateStateRequiredFields(wf, updated)...)
	}
	if len(issues) > 0 {
		return nil, &Error{Code: "RECORD_WRITE_FAILED", Message: "update validation failed", Detail: issuesToDetail(issues)}
	}

	rec, err := ex.Records.Update(wsID, entity.ID, recordID, updated)
	if err != nil {
		return nil, errf("RECORD_NOT_FOUND", "%s/%s not found", entity.ID, recordID)
	}
	ex.Activity.AddEvent(wsID, entity.ID, recordID, activity.EventSystem, manifest.Doc{"message": "Record updated"}, activity.AuthorFromActor(actorID, "", ""))
	ex.Activity.AddChange(wsID, entity.ID, recordID, fieldChanges(existing, rec), activity.AuthorFromActor(actorID, "", ""))

	events := ex.emitRecordEvents(wsID, moduleID, moduleSlug, entity.ID, recordID, "record.updated", existing, rec, actorID, actorRoles, hasWF, wf, oldStatus, newStatus)
	return &Result{Kind: "update_record", EntityID: entity.ID, Record: rec, EventsEmitted: events}, nil
}

func (ex *Executor) executeBulkUpdate(wsID, moduleID, moduleSlug string, actionDoc manifest.Doc, entity manifest.Entity, wf manifest.Workflow, hasWF bool, m manifest.Doc, selectedIDs []string, actorID string, actorRoles []string) (*Result, error) {
	if len(selectedIDs) == 0 {
		return nil, errf("ACTION_SELECTION_REQUIRED", "bulk_update requires selected_ids")
	}
	patch, _ := actionDoc["patch"].(manifest.Doc)

	type pendingWrite struct {
		recordID             string
		existing, updated    manifest.Doc
		oldStatus, newStatus string
	}
	var pending []pendingWrite
	for _, recordID := range selectedIDs {
		existing, err := ex.Records.Get(wsID, entity.ID, recordID)
		if err != nil {
			return nil, errf("RECORD_NOT_FOUND", "%s/%s not found", entity.ID, recordID)
		}
		ctx := map[string]any{"record": map[string]any(existing)}
		resolvedPatch := resolveMap(patch, ctx)
		updated := manifest.CloneDoc(existing).(manifest.Doc)
		for k, v := range resolvedPatch {
			updated[k] = v
		}

		var issues []runtimeerr.Issue
		issues = append(issues, validateFields(wsID, entity, updated, ex.Records, existing)...)
		oldStatus, newStatus := "", ""
		if hasWF {
			oldStatus = fmt.Sprintf("%v", existing[wf.StatusField])
			newStatus = fmt.Sprintf("%v", updated[wf.StatusField])
			issues = append(issues, validateStateRequiredFields(wf, updated)...)
		}
		if len(issues) > 0 {
			return nil, &Error{Code: "RECORD_WRITE_FAILED", Message: fmt.Sprintf("bulk update validation failed for %s", recordID), Detail: issuesToDetail(issues)}
		}
		pending = append(pending, pendingWrite{recordID, existing, updated, oldStatus, newStatus})
	}

	var results []manifest.Doc
	var allEvents []string
	for _, p := range pending {
		rec, err := ex.Records.Update(wsID, entity.ID, p.recordID, p.updated)
		if err != nil {
			return nil, errf("RECORD_NOT_FOUND", "%s/%s not found", entity.ID, p.recordID)
		}
		ex.Activity.AddEvent(wsID, entity.ID, p.recordID, activity.EventSystem, manifest.Doc{"message": "Record updated"}, activity.AuthorFromActor(actorID, "", ""))
		events := ex.emitRecordEvents(wsID, moduleID, moduleSlug, entity.ID, p.recordID, "record.updated", p.existing, rec, actorID, actorRoles, hasWF, wf, p.oldStatus, p.newStatus)
		allEvents = append(allEvents, events...)
		results = append(results, rec)
	}
	return &Result{Kind: "bulk_update", EntityID: entity.ID, Records: results, EventsEmitted: allEvents}, nil
}

func fieldChanges(before, after manifest.Doc) []activity.FieldChange {
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	var out []activity.FieldChange
	for _, k := range sorted {
		if k == "id" {
			continue
		}
		if fmt.Sprintf("%v", before[k]) != fmt.Sprintf("%v", after[k]) {
			out = append(out, activity.FieldChange{Field: k, From: before[k], To: after[k]})
		}
	}
	return out
}

// emitRecordEvents publishes the generic event plus its module-namespaced
// variant, and a workflow.status_changed event when the status field
// differs, per spec.md §4.7 step 7.
func (ex *Executor) emitRecordEvents(wsID, moduleID, moduleSlug, entityID, recordID, eventName string, before, after manifest.Doc, actorID string, actorRoles []string, hasWF bool, wf manifest.Workflow, oldStatus, newStatus string) []string {
	manifestHash := ex.manifestHashFor(wsID, moduleID)
	meta := eventbus.Meta{WorkspaceID: wsID, ModuleID: moduleID, ManifestHash: manifestHash, Actor: &eventbus.Actor{ID: actorID, Roles: actorRoles}}

	payload := manifest.Doc{"entity_id": entityID, "record_id": recordID, "record": after}
	var emitted []string

	if ev, err := eventbus.MakeEvent(eventName, payload, meta); err == nil {
		ex.Bus.Publish(ev)
		emitted = append(emitted, eventName)
	}
	if ev, err := eventbus.MakeEvent(moduleSlug+"."+eventName, payload, meta); err == nil {
		ex.Bus.Publish(ev)
	}

	if hasWF && before != nil && oldStatus != newStatus {
		wfPayload := manifest.Doc{"entity_id": entityID, "record_id": recordID, "from": oldStatus, "to": newStatus}
		if ev, err := eventbus.MakeEvent("workflow.status_changed", wfPayload, meta); err == nil {
			ex.Bus.Publish(ev)
			emitted = append(emitted, "workflow.status_changed")
		}
		if ev, err := eventbus.MakeEvent(moduleSlug+".workflow.status_changed", wfPayload, meta); err == nil {
			ex.Bus.Publish(ev)
		}
	}
	return emitted
}

func issuesToDetail(issues []runtimeerr.Issue) map[string]any {
	list := make([]any, 0, len(issues))
	for _, i := range issues {
		list = append(list, map[string]any{"code": i.Code, "message": i.Message, "path": i.Path})
	}
	return map[string]any{"issues": list}
}
