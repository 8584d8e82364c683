package manifest

import "testing"

func TestEntityFromDocFieldByID(t *testing.T) {
	d := Doc{
		"id":            "entity.job",
		"display_field": "job.title",
		"fields": []any{
			Doc{"id": "job.id", "type": "uuid", "readonly": true},
			Doc{"id": "job.title", "type": "string", "required": true},
			Doc{"id": "job.status", "type": "enum", "options": []any{"open", "done"}},
		},
	}
	e := EntityFromDoc(d)
	if e.Slug() != "job" {
		t.Fatalf("got slug %q want job", e.Slug())
	}
	f, ok := e.FieldByID("job.status")
	if !ok {
		t.Fatal("expected job.status field")
	}
	if f.Type != FieldEnum || len(f.EnumOptions) != 2 {
		t.Fatalf("unexpected field: %+v", f)
	}
	if _, ok := e.FieldByID("job.missing"); ok {
		t.Fatal("expected missing field to be absent")
	}
}

func TestTypePriorityOrdering(t *testing.T) {
	if !(TypePriority(FieldString) < TypePriority(FieldText)) {
		t.Fatal("string must sort before text")
	}
	if !(TypePriority(FieldNumber) < TypePriority(FieldBoolean)) {
		t.Fatal("number must sort before boolean")
	}
	if TypePriority(FieldUUID) <= TypePriority(FieldBoolean) {
		t.Fatal("uuid has no declared priority and must sort last")
	}
}

func TestIsLifecycleLike(t *testing.T) {
	cases := map[string]bool{
		"job.status": true,
		"job.state":  true,
		"job.stage":  true,
		"job.title":  false,
		".status":    false,
	}
	for field, want := range cases {
		if got := IsLifecycleLike(field); got != want {
			t.Errorf("IsLifecycleLike(%q) = %v, want %v", field, got, want)
		}
	}
}

func TestWorkflowFromDocStateIDs(t *testing.T) {
	d := Doc{
		"id":           "workflow.job",
		"entity":       "entity.job",
		"status_field": "job.status",
		"states": []any{
			Doc{"id": "open"},
			Doc{"id": "done"},
		},
	}
	w := WorkflowFromDoc(d)
	ids := w.StateIDs()
	if len(ids) != 2 || ids[0] != "open" || ids[1] != "done" {
		t.Fatalf("unexpected state ids: %v", ids)
	}
}
