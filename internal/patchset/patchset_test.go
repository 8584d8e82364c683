package patchset

import (
	"testing"

	"github.com/lowcraft/runtime/internal/manifest"
)

func baseDoc() manifest.Doc {
	return manifest.Doc{
		"module": manifest.Doc{"id": "crm", "name": "CRM"},
		"entities": []any{
			manifest.Doc{"id": "contact", "fields": []any{
				manifest.Doc{"id": "name", "type": "text", "required": false},
			}},
		},
		"actions": []any{
			manifest.Doc{"id": "create_contact", "entity_id": "contact"},
		},
		"workflows": []any{
			manifest.Doc{"entity": "contact", "status_field": "status"},
		},
	}
}

func TestApplySet(t *testing.T) {
	doc := baseDoc()
	out, err := Apply(doc, []Op{
		{Kind: KindSet, Path: "/entities/0/fields/0/required", Value: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := manifest.AsDocSlice(manifest.List(manifest.AsDocSlice(manifest.List(out, "entities"))[0], "fields"))
	if fields[0]["required"] != true {
		t.Fatalf("expected field required=true, got %+v", fields[0])
	}
	origFields := manifest.AsDocSlice(manifest.List(manifest.AsDocSlice(manifest.List(doc, "entities"))[0], "fields"))
	if origFields[0]["required"] != false {
		t.Fatal("Apply must not mutate the base document")
	}
}

func TestApplyAddAndRemove(t *testing.T) {
	doc := baseDoc()
	out, err := Apply(doc, []Op{
		{Kind: KindAdd, Path: "/module/icon", Value: "contact-card"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifest.Str(manifest.Section(out, "module"), "icon") != "contact-card" {
		t.Fatal("expected icon to be added")
	}

	out2, err := Apply(out, []Op{{Kind: KindRemove, Path: "/module/icon"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := manifest.Section(out2, "module")["icon"]; ok {
		t.Fatal("expected icon to be removed")
	}
}

func TestApplyRemoveMissingFails(t *testing.T) {
	doc := baseDoc()
	if _, err := Apply(doc, []Op{{Kind: KindRemove, Path: "/module/nope"}}); err == nil {
		t.Fatal("expected an error removing a nonexistent key")
	}
}

func TestApplyAbortsWithoutPartialEffect(t *testing.T) {
	doc := baseDoc()
	_, err := Apply(doc, []Op{
		{Kind: KindSet, Path: "/module/name", Value: "Renamed CRM"},
		{Kind: KindRemove, Path: "/module/nonexistent"},
	})
	if err == nil {
		t.Fatal("expected the second op to fail")
	}
	if manifest.Str(manifest.Section(doc, "module"), "name") != "CRM" {
		t.Fatal("base document must be untouched after a failed Apply")
	}
}

func TestRenameIDPropagatesCrossReferences(t *testing.T) {
	doc := baseDoc()
	out, err := Apply(doc, []Op{
		{Kind: KindRenameID, OldID: "contact", NewID: "person"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entities := manifest.AsDocSlice(manifest.List(out, "entities"))
	if entities[0]["id"] != "person" {
		t.Fatalf("expected entity id renamed, got %+v", entities[0])
	}
	actions := manifest.AsDocSlice(manifest.List(out, "actions"))
	if actions[0]["entity_id"] != "person" {
		t.Fatalf("expected action entity_id renamed, got %+v", actions[0])
	}
	workflows := manifest.AsDocSlice(manifest.List(out, "workflows"))
	if workflows[0]["entity"] != "person" {
		t.Fatalf("expected workflow entity renamed, got %+v", workflows[0])
	}
}

func TestRenameIDMissingFails(t *testing.T) {
	doc := baseDoc()
	if _, err := Apply(doc, []Op{{Kind: KindRenameID, OldID: "ghost", NewID: "x"}}); err == nil {
		t.Fatal("expected an error renaming an id that does not exist")
	}
}
