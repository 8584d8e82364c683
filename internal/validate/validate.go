package validate

import (
	"fmt"
	"strings"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/runtimeerr"
	"github.com/lowcraft/runtime/internal/selector"
)

// Result bundles the three validation passes spec.md §4.4 describes, plus
// the normalized manifest they ran against.
type Result struct {
	Normalized      manifest.Doc
	Errors          []runtimeerr.Issue
	Warnings        []runtimeerr.Issue
	DesignWarnings  []runtimeerr.Issue
}

func issue(code, path, format string, args ...any) runtimeerr.Issue {
	return runtimeerr.Issue{Code: code, Message: fmt.Sprintf(format, args...), Path: path, JSONPointer: selector.PathToPointer(path)}
}

// ValidateRaw runs the normalizer then the raw shape/type/reference
// validator, returning (normalized, errors, warnings).
func ValidateRaw(doc manifest.Doc, targetModuleID string) (manifest.Doc, []runtimeerr.Issue, []runtimeerr.Issue) {
	working := manifest.CloneDoc(doc).(manifest.Doc)
	warnings := Normalize(working, targetModuleID)
	errors := rawValidate(working)
	return working, errors, warnings
}

func rawValidate(doc manifest.Doc) []runtimeerr.Issue {
	var errs []runtimeerr.Issue

	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	entityIDs := map[string]manifest.Doc{}
	for i, e := range entities {
		path := fmt.Sprintf("entities[%d]", i)
		id := manifest.Str(e, "id")
		if !strings.HasPrefix(id, "entity.") {
			errs = append(errs, issue("MANIFEST_ENTITY_ID_INVALID", path+".id", "entity id %q must start with 'entity.'", id))
			continue
		}
		slug := id[len("entity."):]
		entityIDs[id] = e
		fieldIDs := map[string]bool{}
		for j, fa := range manifest.List(e, "fields") {
			f, ok := fa.(manifest.Doc)
			fpath := fmt.Sprintf("%s.fields[%d]", path, j)
			if !ok {
				errs = append(errs, issue("MANIFEST_FIELD_INVALID", fpath, "field must be an object"))
				continue
			}
			fid := manifest.Str(f, "id")
			if !strings.HasPrefix(fid, slug+".") {
				errs = append(errs, issue("MANIFEST_FIELD_ID_INVALID", fpath+".id", "field id %q must be namespaced %q", fid, slug+".<field>"))
			}
			fieldIDs[fid] = true
		}
		display := manifest.Str(e, "display_field")
		if display != "" && !fieldIDs[display] {
			errs = append(errs, issue("MANIFEST_DISPLAY_FIELD_MISSING", path+".display_field", "display_field %q does not reference an existing field", display))
		}
	}

	for i, v := range manifest.AsDocSlice(manifest.List(doc, "views")) {
		path := fmt.Sprintf("views[%d]", i)
		kind := manifest.Str(v, "kind")
		if kind != "list" && kind != "form" {
			errs = append(errs, issue("MANIFEST_VIEW_KIND_INVALID", path+".kind", "view kind must be 'list' or 'form', got %q", kind))
		}
		entityID := manifest.Str(v, "entity")
		if _, ok := entityIDs[entityID]; !ok {
			errs = append(errs, issue("MANIFEST_VIEW_ENTITY_MISSING", path+".entity", "view references unknown entity %q", entityID))
		}
	}

	for i, p := range manifest.AsDocSlice(manifest.List(doc, "pages")) {
		path := fmt.Sprintf("pages[%d]", i)
		if manifest.Str(p, "layout") == "" {
			errs = append(errs, issue("MANIFEST_PAGE_LAYOUT_MISSING", path+".layout", "page %q missing layout", manifest.Str(p, "id")))
		}
		if manifest.List(p, "content") == nil {
			errs = append(errs, issue("MANIFEST_PAGE_CONTENT_INVALID", path+".content", "page %q content must be a list", manifest.Str(p, "id")))
		}
	}

	for i, a := range manifest.AsDocSlice(manifest.List(doc, "actions")) {
		path := fmt.Sprintf("actions[%d]", i)
		kind := manifest.ActionKind(manifest.Str(a, "kind"))
		if !manifest.AllowedActionKinds[kind] {
			errs = append(errs, issue("MANIFEST_ACTION_KIND_INVALID", path+".kind", "unknown action kind %q", kind))
		}
	}

	for i, w := range manifest.AsDocSlice(manifest.List(doc, "workflows")) {
		path := fmt.Sprintf("workflows[%d]", i)
		sf := manifest.Str(w, "status_field")
		if !manifest.IsLifecycleLike(sf) {
			errs = append(errs, issue("MANIFEST_WORKFLOW_STATUS_FIELD_INVALID", path+".status_field", "status_field %q must end in .status, .state, or .stage", sf))
		}
	}

	return errs
}

// ValidateStrict enforces the stricter shape rules spec.md §4.4 names,
// appending to whatever errors ValidateRaw already produced.
func ValidateStrict(doc manifest.Doc) []runtimeerr.Issue {
	var errs []runtimeerr.Issue

	for key := range doc {
		if strings.Contains(key, ".") && key != "__target_module_id" {
			errs = append(errs, issue("MANIFEST_TOP_LEVEL_KEY_DOTTED", key, "top-level key %q must not contain dots after sanitization", key))
		}
	}

	app := manifest.Section(doc, "app")
	home := manifest.Str(app, "home")
	if !isValidHomeTarget(home, doc) {
		errs = append(errs, issue("MANIFEST_HOME_INVALID", "app.home", "app.home %q does not resolve to an existing page", home))
	}

	pages := manifest.AsDocSlice(manifest.List(doc, "pages"))
	pageIDs := map[string]bool{}
	for _, p := range pages {
		pageIDs[manifest.Str(p, "id")] = true
	}
	views := manifest.AsDocSlice(manifest.List(doc, "views"))
	viewIDs := map[string]bool{}
	for _, v := range views {
		viewIDs[manifest.Str(v, "id")] = true
	}

	for i, p := range pages {
		path := fmt.Sprintf("pages[%d]", i)
		walkBlocks(manifest.List(p, "content"), path+".content", &errs, viewIDs)
	}

	for _, entry := range navLinks(app) {
		target := manifest.Str(entry, "target")
		if strings.HasPrefix(target, "page:") && !pageIDs[strings.TrimPrefix(target, "page:")] {
			errs = append(errs, issue("MANIFEST_NAV_TARGET_MISSING", "app.nav", "nav link targets missing page %q", target))
		}
	}

	return errs
}

func navLinks(app manifest.Doc) []manifest.Doc {
	var out []manifest.Doc
	for _, groupAny := range manifest.List(app, "nav") {
		group, ok := groupAny.(manifest.Doc)
		if !ok {
			continue
		}
		out = append(out, manifest.AsDocSlice(manifest.List(group, "links"))...)
	}
	return out
}

func walkBlocks(blocks []any, path string, errs *[]runtimeerr.Issue, viewIDs map[string]bool) {
	for i, ba := range blocks {
		b, ok := ba.(manifest.Doc)
		if !ok {
			continue
		}
		bpath := fmt.Sprintf("%s[%d]", path, i)
		if manifest.Str(b, "kind") == "view" {
			target := manifest.Str(b, "target")
			if !strings.HasPrefix(target, "view:") {
				*errs = append(*errs, issue("MANIFEST_VIEW_TARGET_PREFIX", bpath+".target", "view block target %q must start with 'view:'", target))
			} else if !viewIDs[strings.TrimPrefix(target, "view:")] {
				*errs = append(*errs, issue("MANIFEST_VIEW_TARGET_MISSING", bpath+".target", "view block targets missing view %q", target))
			}
		}
		if nested := manifest.List(b, "content"); nested != nil {
			walkBlocks(nested, bpath+".content", errs, viewIDs)
		}
	}
}

// ValidateCompleteness runs only when no errors have been found yet; it
// warns (never errors) about orphan views, unreachable pages, and missing
// scaffold pages.
func ValidateCompleteness(doc manifest.Doc) []runtimeerr.Issue {
	var warnings []runtimeerr.Issue

	entities := manifest.AsDocSlice(manifest.List(doc, "entities"))
	pages := manifest.AsDocSlice(manifest.List(doc, "pages"))
	pageByID := map[string]manifest.Doc{}
	for _, p := range pages {
		pageByID[manifest.Str(p, "id")] = p
	}
	views := manifest.AsDocSlice(manifest.List(doc, "views"))
	viewByID := map[string]manifest.Doc{}
	for _, v := range views {
		viewByID[manifest.Str(v, "id")] = v
	}
	referencedViews := map[string]bool{}

	for _, e := range entities {
		slug, err := manifest.EntitySlug(manifest.Str(e, "id"))
		if err != nil {
			continue
		}
		listPageID, formPageID := slug+".list_page", slug+".form_page"
		listPage, hasList := pageByID[listPageID]
		formPage, hasForm := pageByID[formPageID]
		if !hasList {
			warnings = append(warnings, issue("MANIFEST_SCAFFOLD_PAGE_MISSING", "pages", "entity %q missing %q", e["id"], listPageID))
		} else if !pageHasViewTarget(listPage, "view:"+slug+".list") {
			warnings = append(warnings, issue("MANIFEST_SCAFFOLD_VIEW_MISSING", "pages."+listPageID, "%q does not include view %q", listPageID, slug+".list"))
		} else {
			referencedViews[slug+".list"] = true
		}
		if !hasForm {
			warnings = append(warnings, issue("MANIFEST_SCAFFOLD_PAGE_MISSING", "pages", "entity %q missing %q", e["id"], formPageID))
		} else if !formPageHasRecordBlock(formPage, manifest.Str(e, "id")) {
			warnings = append(warnings, issue("MANIFEST_SCAFFOLD_RECORD_BLOCK_MISSING", "pages."+formPageID, "%q missing a record block bound to %q", formPageID, e["id"]))
		} else {
			referencedViews[slug+".form"] = true
		}
	}

	reachable := reachablePages(doc, pages)
	for _, p := range pages {
		id := manifest.Str(p, "id")
		if !reachable[id] {
			warnings = append(warnings, issue("MANIFEST_PAGE_UNREACHABLE", "pages."+id, "page %q is not reachable via nav, home, list open_record, or app.defaults", id))
		}
	}

	for id := range viewByID {
		if !referencedViews[id] && !viewReferencedByAnyPage(doc, id) {
			warnings = append(warnings, issue("MANIFEST_VIEW_ORPHAN", "views."+id, "view %q is not referenced by any page", id))
		}
	}

	return warnings
}

func pageHasViewTarget(page manifest.Doc, target string) bool {
	return blocksContainTarget(manifest.List(page, "content"), target)
}

func blocksContainTarget(blocks []any, target string) bool {
	for _, ba := range blocks {
		b, ok := ba.(manifest.Doc)
		if !ok {
			continue
		}
		if manifest.Str(b, "kind") == "view" && manifest.Str(b, "target") == target {
			return true
		}
		if blocksContainTarget(manifest.List(b, "content"), target) {
			return true
		}
	}
	return false
}

func formPageHasRecordBlock(page manifest.Doc, entityID string) bool {
	return blocksContainRecordBlock(manifest.List(page, "content"), entityID)
}

func blocksContainRecordBlock(blocks []any, entityID string) bool {
	for _, ba := range blocks {
		b, ok := ba.(manifest.Doc)
		if !ok {
			continue
		}
		if manifest.Str(b, "kind") == "record" && manifest.Str(b, "entity_id") == entityID {
			return true
		}
		if blocksContainRecordBlock(manifest.List(b, "content"), entityID) {
			return true
		}
	}
	return false
}

func viewReferencedByAnyPage(doc manifest.Doc, viewID string) bool {
	target := "view:" + viewID
	for _, p := range manifest.AsDocSlice(manifest.List(doc, "pages")) {
		if blocksContainTarget(manifest.List(p, "content"), target) {
			return true
		}
	}
	return false
}

func reachablePages(doc manifest.Doc, pages []manifest.Doc) map[string]bool {
	reachable := map[string]bool{}
	app := manifest.Section(doc, "app")
	if home := manifest.Str(app, "home"); strings.HasPrefix(home, "page:") {
		reachable[strings.TrimPrefix(home, "page:")] = true
	}
	for _, entry := range navLinks(app) {
		if target := manifest.Str(entry, "target"); strings.HasPrefix(target, "page:") {
			reachable[strings.TrimPrefix(target, "page:")] = true
		}
	}
	defaults := manifest.Section(manifest.Section(app, "defaults"), "entities")
	for _, vAny := range defaults {
		v, ok := vAny.(manifest.Doc)
		if !ok {
			continue
		}
		reachable[manifest.Str(v, "entity_form_page")] = true
		reachable[manifest.Str(v, "entity_home_page")] = true
	}
	for _, v := range manifest.AsDocSlice(manifest.List(doc, "views")) {
		if manifest.Str(v, "kind") != "list" {
			continue
		}
		if target := manifest.Str(v, "open_record"); strings.HasPrefix(target, "page:") {
			reachable[strings.TrimPrefix(target, "page:")] = true
		}
	}
	return reachable
}

// ValidateDesign produces advisory, non-blocking lint warnings.
func ValidateDesign(doc manifest.Doc) []runtimeerr.Issue {
	var warnings []runtimeerr.Issue

	workflowsByEntity := map[string]bool{}
	for _, w := range manifest.AsDocSlice(manifest.List(doc, "workflows")) {
		workflowsByEntity[manifest.Str(w, "entity")] = true
	}
	actionSlugs := map[string]bool{}
	for _, a := range manifest.AsDocSlice(manifest.List(doc, "actions")) {
		actionSlugs[manifest.Str(a, "id")] = true
	}

	for _, v := range manifest.AsDocSlice(manifest.List(doc, "views")) {
		id := manifest.Str(v, "id")
		switch manifest.Str(v, "kind") {
		case "form":
			sections := manifest.AsDocSlice(manifest.List(v, "sections"))
			if len(sections) == 0 {
				warnings = append(warnings, issue("DESIGN_EMPTY_FORM", "views."+id, "form %q has no sections", id))
				continue
			}
			totalFields := 0
			for _, s := range sections {
				totalFields += len(manifest.List(s, "fields"))
			}
			if totalFields == 0 {
				warnings = append(warnings, issue("DESIGN_FORM_MISSING_REQUIRED_FIELDS", "views."+id, "form %q has sections but no fields", id))
			}
			if manifest.Str(v, "entity") != "" && workflowsByEntity[manifest.Str(v, "entity")] {
				if !hasAnyStatusAction(manifest.List(v, "secondary_actions"), actionSlugs) {
					warnings = append(warnings, issue("DESIGN_WORKFLOW_MISSING_STATUS_ACTIONS", "views."+id, "form %q is on a workflow entity but has no status actions wired", id))
				}
			}
		case "list":
			if len(manifest.List(v, "columns")) < 2 {
				warnings = append(warnings, issue("DESIGN_LIST_FEW_COLUMNS", "views."+id, "list %q has fewer than 2 columns", id))
			}
		}
	}

	for _, p := range manifest.AsDocSlice(manifest.List(doc, "pages")) {
		findRedundantContainers(manifest.List(p, "content"), "pages."+manifest.Str(p, "id")+".content", &warnings)
	}

	return warnings
}

func hasAnyStatusAction(actions []any, known map[string]bool) bool {
	for _, a := range actions {
		if s, ok := a.(string); ok && known[s] {
			return true
		}
	}
	return false
}

func findRedundantContainers(blocks []any, path string, warnings *[]runtimeerr.Issue) {
	for i, ba := range blocks {
		b, ok := ba.(manifest.Doc)
		if !ok {
			continue
		}
		bpath := fmt.Sprintf("%s[%d]", path, i)
		if manifest.Str(b, "kind") == "container" {
			children := manifest.List(b, "content")
			if len(children) == 1 {
				if child, ok := children[0].(manifest.Doc); ok && manifest.Str(child, "kind") == "view" {
					*warnings = append(*warnings, issue("DESIGN_REDUNDANT_CONTAINER", bpath, "container wraps a single view block redundantly"))
				}
			}
		}
		findRedundantContainers(manifest.List(b, "content"), bpath+".content", warnings)
	}
}

// Validate runs the full pipeline: normalize, raw, strict (always, even
// after raw errors, so all shape errors surface together), completeness
// (only if no errors at all) and the design lint.
func Validate(doc manifest.Doc, targetModuleID string) Result {
	normalized, rawErrs, warnings := ValidateRaw(doc, targetModuleID)
	strictErrs := ValidateStrict(normalized)
	errs := append(rawErrs, strictErrs...)

	var completeness []runtimeerr.Issue
	if len(errs) == 0 {
		completeness = ValidateCompleteness(normalized)
	}
	design := ValidateDesign(normalized)

	return Result{
		Normalized:     normalized,
		Errors:         errs,
		Warnings:       append(warnings, completeness...),
		DesignWarnings: design,
	}
}
