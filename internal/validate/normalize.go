// Package validate implements the manifest normalization, raw/strict/
// completeness validation, and design-lint pipeline (spec.md §4.4). The
// normalizer is a sequence of small, idempotent transform steps run in a
// fixed order over a working Doc; each step may append warnings. Grounded
// on spec.md §4.4's eleven numbered steps and on validation.Chain's
// composition idiom (internal/validation/issue.go), adapted from a
// chain-of-predicates shape into a chain-of-mutations shape
// since normalization rewrites the manifest rather than merely rejecting
// it.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/runtimeerr"
)

// Step is one normalization transform. It mutates doc in place and may
// append warnings describing what it changed or dropped.
type Step func(doc manifest.Doc, warnings *[]runtimeerr.Issue)

// Steps is the fixed, ordered pipeline spec.md §4.4 names.
var Steps = []Step{
	stepSanitize,
	stepEnsureModuleIDAndHome,
	stepNormalizeLookupFields,
	stepNormalizeRelations,
	stepSystemIDFields,
	stepBaselineScaffolds,
	stepWorkflows,
	stepEnumOptions,
	stepViewHeaders,
	stepStatusActions,
	stepArchitectureEnforcement,
}

func warn(warnings *[]runtimeerr.Issue, code, path, format string, args ...any) {
	*warnings = append(*warnings, runtimeerr.Issue{Code: code, Message: fmt.Sprintf(format, args...), Path: path})
}

// Normalize runs the full pipeline once and returns the accumulated
// warnings. Every step is written to be a no-op on a manifest that has
// already passed through the pipeline, so Normalize is a fixed point:
// Normalize(Normalize(m)) == Normalize(m).
func Normalize(doc manifest.Doc, targetModuleID string) []runtimeerr.Issue {
	var warnings []runtimeerr.Issue
	doc["__target_module_id"] = targetModuleID
	for _, step := range Steps {
		step(doc, &warnings)
	}
	delete(doc, "__target_module_id")
	return warnings
}

// --- step 1: sanitize ---

var topLevelSections = []string{"module", "app"}

func stepSanitize(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	for _, key := range dottedTopLevelKeys(doc) {
		section, field, ok := splitDottedTop(key)
		if !ok {
			continue
		}
		val := doc[key]
		delete(doc, key)
		sec := manifest.EnsureSection(doc, section)
		sec[field] = val
	}
	for _, p := range manifest.AsDocSlice(manifest.List(doc, "pages")) {
		renameTypeToKind(manifest.List(p, "content"))
	}
}

func dottedTopLevelKeys(doc manifest.Doc) []string {
	keys := make([]string, 0)
	for k := range doc {
		if strings.Contains(k, ".") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func splitDottedTop(key string) (section, field string, ok bool) {
	for _, s := range topLevelSections {
		prefix := s + "."
		if strings.HasPrefix(key, prefix) {
			return s, strings.TrimPrefix(key, prefix), true
		}
	}
	return "", "", false
}

// renameTypeToKind walks page content blocks and renames the "type" key
// synonym to "kind" recursively.
func renameTypeToKind(v any) {
	switch t := v.(type) {
	case manifest.Doc:
		if val, ok := t["type"]; ok {
			if _, hasKind := t["kind"]; !hasKind {
				t["kind"] = val
			}
			delete(t, "type")
		}
		for _, vv := range t {
			renameTypeToKind(vv)
		}
	case []any:
		for _, item := range t {
			renameTypeToKind(item)
		}
	}
}

// --- step 2: ensure module id & home ---

func stepEnsureModuleIDAndHome(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	target := manifest.Str(doc, "__target_module_id")
	mod := manifest.EnsureSection(doc, "module")
	if target != "" && manifest.Str(mod, "id") != target {
		if manifest.Str(mod, "id") != "" {
			warn(warnings, "MANIFEST_MODULE_ID_REWRITTEN", "/module/id", "module.id %q forced to %q", manifest.Str(mod, "id"), target)
		}
		mod["id"] = target
	}

	app := manifest.EnsureSection(doc, "app")
	home := manifest.Str(app, "home")
	if home == "" || !isValidHomeTarget(home, doc) {
		pages := manifest.AsDocSlice(manifest.List(doc, "pages"))
		if len(pages) > 0 {
			app["home"] = "page:" + manifest.Str(pages[0], "id")
			warn(warnings, "MANIFEST_HOME_DEFAULTED", "/app/home", "app.home defaulted to first page")
		}
	}
}

func isValidHomeTarget(home string, doc manifest.Doc) bool {
	if !strings.HasPrefix(home, "page:") {
		return false
	}
	pageID := strings.TrimPrefix(home, "page:")
	_, idx := manifest.FindByID(manifest.List(doc, "pages"), pageID)
	return idx >= 0
}

// --- step 3: normalize lookup fields ---

func stepNormalizeLookupFields(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	known := map[string]bool{}
	for _, e := range entities {
		known[manifest.Str(e, "id")] = true
	}
	for _, e := range entities {
		slug, err := manifest.EntitySlug(manifest.Str(e, "id"))
		if err != nil {
			continue
		}
		for _, fieldAny := range manifest.List(e, "fields") {
			f, ok := fieldAny.(manifest.Doc)
			if !ok || manifest.Str(f, "type") != string(manifest.FieldLookup) {
				continue
			}
			raw := ""
			for _, key := range []string{"target", "entity", "entity_id"} {
				if v := manifest.Str(f, key); v != "" {
					raw = v
					delete(f, key)
					break
				}
			}
			if raw == "" {
				continue
			}
			canonical := raw
			if !strings.HasPrefix(canonical, "entity.") {
				canonical = "entity." + canonical
			}
			f["target"] = canonical
			if manifest.Str(f, "display_field") == "" {
				if targetSlug, err := manifest.EntitySlug(canonical); err == nil {
					f["display_field"] = targetSlug + ".name"
				}
			}
		}
		_ = slug
	}
	for _, e := range entities {
		ensureIDAndNameFields(e)
	}
}

func ensureIDAndNameFields(e manifest.Doc) {
	slug, err := manifest.EntitySlug(manifest.Str(e, "id"))
	if err != nil {
		return
	}
	fields := manifest.EnsureList(e, "fields")
	hasID, hasName := false, false
	for _, fa := range fields {
		f, ok := fa.(manifest.Doc)
		if !ok {
			continue
		}
		switch manifest.Str(f, "id") {
		case slug + ".id":
			hasID = true
		case slug + ".name":
			hasName = true
		}
	}
	if !hasID {
		fields = append(fields, manifest.Doc{"id": slug + ".id", "type": string(manifest.FieldUUID), "readonly": true, "required": false})
	}
	if !hasName {
		fields = append(fields, manifest.Doc{"id": slug + ".name", "type": string(manifest.FieldString), "required": true})
	}
	e["fields"] = fields
}

// --- step 4: normalize relations ---

func stepNormalizeRelations(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	relations := manifest.List(doc, "relations")
	if relations == nil {
		return
	}
	out := make([]any, 0, len(relations))
	for i, ra := range relations {
		r, ok := ra.(manifest.Doc)
		if !ok {
			warn(warnings, "MANIFEST_RELATION_MALFORMED", fmt.Sprintf("/relations/%d", i), "relation is not an object")
			continue
		}
		from := manifest.Str(r, "from")
		to := manifest.Str(r, "to")
		if from == "" {
			from = manifest.Str(r, "from_field")
		}
		if to == "" {
			to = manifest.Str(r, "to_field")
		}
		if from == "" || to == "" {
			warn(warnings, "MANIFEST_RELATION_MALFORMED", fmt.Sprintf("/relations/%d", i), "relation missing from/to")
			continue
		}
		r["from"] = from
		r["to"] = to
		delete(r, "from_field")
		delete(r, "to_field")
		out = append(out, r)
	}
	doc["relations"] = out
}

// --- step 5: system id fields ---

func stepSystemIDFields(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	for _, e := range manifest.AsDocSlice(manifest.List(doc, "entities")) {
		for _, fa := range manifest.List(e, "fields") {
			f, ok := fa.(manifest.Doc)
			if !ok {
				continue
			}
			if strings.HasSuffix(manifest.Str(f, "id"), ".id") && manifest.Str(f, "type") == string(manifest.FieldUUID) {
				f["readonly"] = true
				f["required"] = false
			}
		}
	}
}

// --- step 6: baseline scaffolds ---

func stepBaselineScaffolds(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	for _, e := range entities {
		ent := manifest.EntityFromDoc(e)
		slug := ent.Slug()
		if slug == "" {
			continue
		}
		ensureListView(doc, ent, slug, warnings)
		ensureFormView(doc, ent, slug, warnings)
		ensurePage(doc, slug+".list_page", slug+" List", "view:"+slug+".list", warnings)
		ensureFormPage(doc, ent, slug, warnings)
	}
	// The scaffold pages only exist from here on, so the app.home check of
	// step 2 runs again to default home to the first page.
	stepEnsureModuleIDAndHome(doc, warnings)
}

func ensureListView(doc manifest.Doc, ent manifest.Entity, slug string, warnings *[]runtimeerr.Issue) {
	views := manifest.EnsureList(doc, "views")
	viewID := slug + ".list"
	_, idx := manifest.FindByID(views, viewID)
	if idx >= 0 {
		return
	}
	cols := seedListColumns(ent)
	views = append(views, manifest.Doc{
		"id": viewID, "kind": "list", "entity": ent.ID, "columns": cols,
	})
	doc["views"] = views
}

func seedListColumns(ent manifest.Entity) []any {
	type candidate struct {
		id       string
		priority int
	}
	var cands []candidate
	seen := map[string]bool{ent.DisplayField: true}
	for _, f := range ent.Fields {
		if f.ID == ent.DisplayField || f.Type == manifest.FieldUUID || strings.HasSuffix(f.ID, "_id") {
			continue
		}
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		cands = append(cands, candidate{f.ID, manifest.TypePriority(f.Type)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].priority < cands[j].priority })
	if len(cands) > 3 {
		cands = cands[:3]
	}
	cols := []any{}
	if ent.DisplayField != "" {
		cols = append(cols, ent.DisplayField)
	}
	for _, c := range cands {
		cols = append(cols, c.id)
	}
	return cols
}

func ensureFormView(doc manifest.Doc, ent manifest.Entity, slug string, warnings *[]runtimeerr.Issue) {
	views := manifest.EnsureList(doc, "views")
	viewID := slug + ".form"
	_, idx := manifest.FindByID(views, viewID)
	if idx >= 0 {
		return
	}
	sectionFields := []any{}
	if ent.DisplayField != "" {
		sectionFields = append(sectionFields, ent.DisplayField)
	}
	for _, f := range ent.Fields {
		if f.Required && !f.Readonly && f.ID != ent.DisplayField {
			sectionFields = append(sectionFields, f.ID)
		}
	}
	section := manifest.Doc{"id": "details", "title": "Details", "fields": sectionFields}
	if len(sectionFields) > 4 {
		section["layout"] = "columns"
		section["columns"] = 2
	}
	views = append(views, manifest.Doc{
		"id": viewID, "kind": "form", "entity": ent.ID,
		"header":   manifest.Doc{},
		"sections": []any{section},
	})
	doc["views"] = views
}

func ensurePage(doc manifest.Doc, pageID, title, viewTarget string, warnings *[]runtimeerr.Issue) {
	pages := manifest.EnsureList(doc, "pages")
	_, idx := manifest.FindByID(pages, pageID)
	if idx >= 0 {
		return
	}
	pages = append(pages, manifest.Doc{
		"id": pageID, "title": title, "layout": "single",
		"content": []any{manifest.Doc{"kind": "view", "target": viewTarget}},
	})
	doc["pages"] = pages
}

func ensureFormPage(doc manifest.Doc, ent manifest.Entity, slug string, warnings *[]runtimeerr.Issue) {
	pages := manifest.EnsureList(doc, "pages")
	pageID := slug + ".form_page"
	_, idx := manifest.FindByID(pages, pageID)
	if idx >= 0 {
		return
	}
	pages = append(pages, manifest.Doc{
		"id": pageID, "title": ent.Slug() + " Form", "layout": "single",
		"content": []any{
			manifest.Doc{
				"kind": "record", "entity_id": ent.ID, "record_param": "record_id",
				"content": []any{manifest.Doc{"kind": "view", "target": "view:" + slug + ".form"}},
			},
		},
	})
	doc["pages"] = pages
}

// --- step 7: workflows ---

func stepWorkflows(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	workflows := manifest.AsDocSlice(manifest.List(doc, "workflows"))
	byEntity := map[string][]manifest.Doc{}
	var entityOrder []string
	for _, w := range workflows {
		ent := manifest.Str(w, "entity")
		if _, seen := byEntity[ent]; !seen {
			entityOrder = append(entityOrder, ent)
		}
		byEntity[ent] = append(byEntity[ent], w)
	}
	kept := make([]any, 0, len(workflows))
	seenIDs := map[string]int{}
	for _, ent := range entityOrder {
		ws := byEntity[ent]
		chosen := chooseWorkflow(ws)
		for _, w := range ws {
			if w["id"] != chosen["id"] {
				warn(warnings, "MANIFEST_WORKFLOW_DROPPED", "/workflows", "dropped extra workflow %q for entity %q (only one workflow per entity survives normalization)", manifest.Str(w, "id"), manifest.Str(w, "entity"))
				continue
			}
			normalizeWorkflowStates(chosen)
			id := manifest.Str(chosen, "id")
			seenIDs[id]++
			if seenIDs[id] > 1 {
				id = fmt.Sprintf("%s_%d", id, seenIDs[id])
				chosen["id"] = id
			}
			kept = append(kept, chosen)
		}
	}
	doc["workflows"] = kept
}

func chooseWorkflow(ws []manifest.Doc) manifest.Doc {
	for _, w := range ws {
		if manifest.IsLifecycleLike(manifest.Str(w, "status_field")) {
			return w
		}
	}
	return ws[0]
}

func normalizeWorkflowStates(w manifest.Doc) {
	states := manifest.List(w, "states")
	out := make([]any, 0, len(states))
	for _, sa := range states {
		switch s := sa.(type) {
		case string:
			out = append(out, manifest.Doc{"id": s, "label": strings.Title(s)})
		case manifest.Doc:
			if manifest.Str(s, "label") == "" {
				s["label"] = strings.Title(manifest.Str(s, "id"))
			}
			out = append(out, s)
		}
	}
	w["states"] = out
}

// --- step 8: enum options ---

func stepEnumOptions(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	for _, w := range manifest.AsDocSlice(manifest.List(doc, "workflows")) {
		statusField := manifest.Str(w, "status_field")
		entityID := manifest.Str(w, "entity")
		e, _ := manifest.FindByID(manifest.List(doc, "entities"), entityID)
		if e == nil {
			continue
		}
		for _, fa := range manifest.List(e, "fields") {
			f, ok := fa.(manifest.Doc)
			if !ok || manifest.Str(f, "id") != statusField || manifest.Str(f, "type") != string(manifest.FieldEnum) {
				continue
			}
			if needsMaterializedOptions(f["options"]) {
				opts := []any{}
				for _, s := range manifest.AsDocSlice(manifest.List(w, "states")) {
					opts = append(opts, manifest.Doc{"value": manifest.Str(s, "id"), "label": manifest.Str(s, "label")})
				}
				f["options"] = opts
			}
		}
	}
}

func needsMaterializedOptions(v any) bool {
	switch opts := v.(type) {
	case nil:
		return true
	case []any:
		if len(opts) == 0 {
			return true
		}
		_, isString := opts[0].(string)
		return isString
	default:
		return false
	}
}

// --- step 9: view headers ---

func stepViewHeaders(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	views := manifest.AsDocSlice(manifest.List(doc, "views"))
	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	workflows := manifest.AsDocSlice(manifest.List(doc, "workflows"))

	for _, v := range views {
		switch manifest.Str(v, "kind") {
		case "list":
			normalizeListHeader(doc, v, entities)
		case "form":
			normalizeFormHeader(v, entities, workflows)
		}
	}
}

func normalizeListHeader(doc manifest.Doc, v manifest.Doc, entities []manifest.Doc) {
	if manifest.Str(v, "create_behavior") == "" {
		v["create_behavior"] = "open_form"
	}
	search := manifest.EnsureSection(v, "search")
	if _, ok := search["enabled"]; !ok {
		search["enabled"] = true
	}
	if manifest.Str(search, "placeholder") == "" {
		search["placeholder"] = "Search..."
	}
	if manifest.List(search, "fields") == nil {
		search["fields"] = manifest.List(v, "columns")
	}

	entityID := manifest.Str(v, "entity")
	e, _ := manifest.FindByID(toAnySlice(entities), entityID)
	ent := manifest.EntityFromDoc(e)
	slug := ent.Slug()
	if slug == "" {
		return
	}
	actionID := "action." + slug + "_new"
	actions := manifest.EnsureList(doc, "actions")
	_, idx := manifest.FindByID(actions, actionID)
	requiredWithoutDefault := entityHasRequiredFieldsWithoutDefault(ent, manifest.Doc{})
	if idx < 0 {
		kind := string(manifest.ActionCreateRecord)
		if requiredWithoutDefault {
			kind = string(manifest.ActionOpenForm)
		}
		actions = append(actions, manifest.Doc{
			"id": actionID, "kind": kind, "entity_id": ent.ID, "target": "view:" + slug + ".form",
		})
		doc["actions"] = actions
	} else if a := manifest.AsDocSlice(actions)[idx]; manifest.Str(a, "kind") == string(manifest.ActionCreateRecord) && requiredWithoutDefault {
		a["kind"] = string(manifest.ActionOpenForm)
		a["target"] = "view:" + slug + ".form"
	}
	if manifest.Str(v, "primary_action") == "" {
		v["primary_action"] = actionID
	}
}

func toAnySlice(docs []manifest.Doc) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}

func entityHasRequiredFieldsWithoutDefault(ent manifest.Entity, defaults manifest.Doc) bool {
	for _, f := range ent.Fields {
		if f.Required && !f.Readonly {
			if _, hasDefault := defaults[f.ID]; !hasDefault {
				return true
			}
		}
	}
	return false
}

func normalizeFormHeader(v manifest.Doc, entities, workflows []manifest.Doc) {
	entityID := manifest.Str(v, "entity")
	e, _ := manifest.FindByID(toAnySlice(entities), entityID)
	ent := manifest.EntityFromDoc(e)
	header := manifest.EnsureSection(v, "header")
	if manifest.Str(header, "title_field") == "" {
		header["title_field"] = ent.DisplayField
	}
	if _, ok := header["auto_save"]; !ok {
		header["auto_save"] = true
		header["auto_save_debounce_ms"] = 750
		header["save_mode"] = "top"
	}

	var ownWorkflow manifest.Doc
	count := 0
	for _, w := range workflows {
		if manifest.Str(w, "entity") == entityID {
			count++
			ownWorkflow = w
		}
	}
	if count == 1 {
		statusField := manifest.Str(ownWorkflow, "status_field")
		if f, ok := ent.FieldByID(statusField); ok && f.Type == manifest.FieldEnum {
			if _, has := header["statusbar"]; !has {
				header["statusbar"] = manifest.Doc{"field_id": statusField}
			}
		}
	}

	sections := manifest.List(v, "sections")
	if len(sections) >= 2 {
		if _, has := v["tabs"]; !has {
			tabs := []any{}
			for _, sa := range sections {
				s, ok := sa.(manifest.Doc)
				if !ok {
					continue
				}
				tabs = append(tabs, manifest.Doc{"id": manifest.Str(s, "id"), "title": manifest.Str(s, "title")})
			}
			v["tabs"] = tabs
		}
	}
}

// --- step 10: status actions ---

func stepStatusActions(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	workflows := manifest.AsDocSlice(manifest.List(doc, "workflows"))
	views := manifest.AsDocSlice(manifest.List(doc, "views"))
	actions := manifest.EnsureList(doc, "actions")

	byEntity := map[string][]manifest.Doc{}
	for _, w := range workflows {
		byEntity[manifest.Str(w, "entity")] = append(byEntity[manifest.Str(w, "entity")], w)
	}

	for _, e := range entities {
		ws := byEntity[manifest.Str(e, "id")]
		if len(ws) != 1 {
			continue
		}
		w := ws[0]
		slug, err := manifest.EntitySlug(manifest.Str(e, "id"))
		if err != nil {
			continue
		}
		statusField := manifest.Str(w, "status_field")
		for _, s := range manifest.AsDocSlice(manifest.List(w, "states")) {
			stateID := manifest.Str(s, "id")
			setActionID := fmt.Sprintf("action.%s_set_%s", slug, stateID)
			bulkActionID := fmt.Sprintf("action.%s_bulk_set_%s", slug, stateID)

			if _, idx := manifest.FindByID(actions, setActionID); idx < 0 {
				actions = append(actions, manifest.Doc{
					"id": setActionID, "kind": string(manifest.ActionUpdateRecord), "entity_id": manifest.Str(e, "id"),
					"patch": manifest.Doc{statusField: stateID}, "label": "Set " + manifest.Str(s, "label"),
				})
			}
			if _, idx := manifest.FindByID(actions, bulkActionID); idx < 0 {
				actions = append(actions, manifest.Doc{
					"id": bulkActionID, "kind": string(manifest.ActionBulkUpdate), "entity_id": manifest.Str(e, "id"),
					"patch": manifest.Doc{statusField: stateID}, "label": "Set " + manifest.Str(s, "label"),
				})
			}
			wireStatusActionIntoViews(views, manifest.Str(e, "id"), slug, setActionID, bulkActionID)
		}
	}
	doc["actions"] = actions
}

func wireStatusActionIntoViews(views []manifest.Doc, entityID, slug, setActionID, bulkActionID string) {
	formID, listID := slug+".form", slug+".list"
	for _, v := range views {
		if manifest.Str(v, "entity") != entityID {
			continue
		}
		switch manifest.Str(v, "id") {
		case formID:
			sa := manifest.EnsureList(v, "secondary_actions")
			if !containsString(sa, setActionID) {
				v["secondary_actions"] = append(sa, setActionID)
			}
		case listID:
			ba := manifest.EnsureList(v, "bulk_actions")
			if !containsString(ba, bulkActionID) {
				v["bulk_actions"] = append(ba, bulkActionID)
			}
		}
	}
}

func containsString(items []any, s string) bool {
	for _, item := range items {
		if str, ok := item.(string); ok && str == s {
			return true
		}
	}
	return false
}

// --- step 11: architecture enforcement ---

func stepArchitectureEnforcement(doc manifest.Doc, warnings *[]runtimeerr.Issue) {
	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	app := manifest.EnsureSection(doc, "app")

	links := []any{}
	for _, e := range entities {
		slug, err := manifest.EntitySlug(manifest.Str(e, "id"))
		if err != nil {
			continue
		}
		links = append(links, manifest.Doc{"label": strings.Title(slug), "target": "page:" + slug + ".list_page"})
	}
	app["nav"] = []any{manifest.Doc{"group": "Main", "links": links}}

	defaults := manifest.EnsureSection(app, "defaults")
	entityDefaults := manifest.EnsureSection(defaults, "entities")
	for _, e := range entities {
		slug, err := manifest.EntitySlug(manifest.Str(e, "id"))
		if err != nil {
			continue
		}
		entityDefaults[manifest.Str(e, "id")] = manifest.Doc{
			"entity_form_page": slug + ".form_page",
			"entity_home_page": slug + ".list_page",
		}
	}
}
