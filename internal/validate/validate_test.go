package validate

import (
	"testing"

	"github.com/lowcraft/runtime/internal/canonical"
	"github.com/lowcraft/runtime/internal/manifest"
)

func minimalManifest() manifest.Doc {
	return manifest.Doc{
		"manifest_version": 1,
		"module":           manifest.Doc{"id": "crm", "name": "CRM", "version": "1.0.0"},
		"entities": []any{
			manifest.Doc{
				"id":            "entity.job",
				"display_field": "job.title",
				"fields": []any{
					manifest.Doc{"id": "job.id", "type": "uuid"},
					manifest.Doc{"id": "job.title", "type": "string", "required": true},
					manifest.Doc{"id": "job.status", "type": "enum"},
				},
			},
		},
		"workflows": []any{
			manifest.Doc{
				"id": "workflow.job", "entity": "entity.job", "status_field": "job.status",
				"states": []any{manifest.Doc{"id": "open"}, manifest.Doc{"id": "done"}},
			},
		},
	}
}

func TestNormalizeScaffoldsViewsAndPages(t *testing.T) {
	doc := minimalManifest()
	Normalize(doc, "crm")

	views := manifest.AsDocSlice(manifest.List(doc, "views"))
	if _, idx := manifest.FindByID(toAny(views), "job.list"); idx < 0 {
		t.Fatal("expected job.list view to be scaffolded")
	}
	if _, idx := manifest.FindByID(toAny(views), "job.form"); idx < 0 {
		t.Fatal("expected job.form view to be scaffolded")
	}
	pages := manifest.AsDocSlice(manifest.List(doc, "pages"))
	if _, idx := manifest.FindByID(toAny(pages), "job.list_page"); idx < 0 {
		t.Fatal("expected job.list_page to be scaffolded")
	}
	if _, idx := manifest.FindByID(toAny(pages), "job.form_page"); idx < 0 {
		t.Fatal("expected job.form_page to be scaffolded")
	}

	app := manifest.Section(doc, "app")
	if manifest.Str(app, "home") == "" {
		t.Fatal("expected app.home to be defaulted")
	}
}

func toAny(docs []manifest.Doc) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}

func TestNormalizeIsIdempotent(t *testing.T) {
	doc := minimalManifest()
	Normalize(doc, "crm")
	snapshot1, _ := marshalStable(doc)

	Normalize(doc, "crm")
	snapshot2, _ := marshalStable(doc)

	if snapshot1 != snapshot2 {
		t.Fatalf("normalize is not idempotent:\n--- first ---\n%s\n--- second ---\n%s", snapshot1, snapshot2)
	}
}

func marshalStable(doc manifest.Doc) (string, error) {
	// Use the canonical encoder so key order never causes a false mismatch.
	return canonical.Dumps(doc)
}

func TestStatusActionsWiredIntoViews(t *testing.T) {
	doc := minimalManifest()
	Normalize(doc, "crm")

	actions := manifest.AsDocSlice(manifest.List(doc, "actions"))
	if _, idx := manifest.FindByID(toAny(actions), "action.job_set_open"); idx < 0 {
		t.Fatal("expected action.job_set_open to be created")
	}
	if _, idx := manifest.FindByID(toAny(actions), "action.job_bulk_set_done"); idx < 0 {
		t.Fatal("expected action.job_bulk_set_done to be created")
	}

	views := manifest.AsDocSlice(manifest.List(doc, "views"))
	formView, _ := manifest.FindByID(toAny(views), "job.form")
	if !containsString(manifest.List(formView, "secondary_actions"), "action.job_set_open") {
		t.Fatal("expected status action wired into form view secondary_actions")
	}
}

func TestValidateRawCatchesBadEntityID(t *testing.T) {
	doc := manifest.Doc{
		"module":   manifest.Doc{"id": "crm"},
		"entities": []any{manifest.Doc{"id": "job", "fields": []any{}}},
	}
	_, errs, _ := ValidateRaw(doc, "crm")
	found := false
	for _, e := range errs {
		if e.Code == "MANIFEST_ENTITY_ID_INVALID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MANIFEST_ENTITY_ID_INVALID, got %+v", errs)
	}
}

func TestValidateCompletenessWarnsOnOrphanView(t *testing.T) {
	doc := minimalManifest()
	result := Validate(doc, "crm")
	views := manifest.EnsureList(result.Normalized, "views")
	views = append(views, manifest.Doc{"id": "job.orphan", "kind": "list", "entity": "entity.job", "columns": []any{"job.title"}})
	result.Normalized["views"] = views

	warnings := ValidateCompleteness(result.Normalized)
	found := false
	for _, w := range warnings {
		if w.Code == "MANIFEST_VIEW_ORPHAN" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MANIFEST_VIEW_ORPHAN warning, got %+v", warnings)
	}
}

func TestValidateFullPipelineNoErrorsOnScaffolded(t *testing.T) {
	doc := minimalManifest()
	result := Validate(doc, "crm")
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors on a fully scaffolded manifest, got %+v", result.Errors)
	}
}

func TestDesignLintRunsOnScaffoldedManifest(t *testing.T) {
	doc := minimalManifest()
	result := Validate(doc, "crm")
	found := false
	for _, w := range result.DesignWarnings {
		if w.Code == "DESIGN_LIST_FEW_COLUMNS" {
			found = true
		}
	}
	_ = found // seeded columns include display_field + up to 3, so this may or may not fire; just ensure lint runs without panic
	if result.DesignWarnings == nil && len(result.DesignWarnings) != 0 {
		t.Fatal("unreachable")
	}
}
