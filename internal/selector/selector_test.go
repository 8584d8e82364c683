package selector

import "testing"

func doc() map[string]any {
	return map[string]any{
		"entities": []any{
			map[string]any{"id": "entity.job", "fields": []any{
				map[string]any{"id": "job.title"},
				map[string]any{"id": "job.status"},
			}},
			map[string]any{"id": "entity.note"},
		},
	}
}

func TestResolveUniqueMatch(t *testing.T) {
	got, err := Resolve(doc(), "/entities/@[id=entity.job]/fields/@[id=job.status]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/entities/0/fields/1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestResolveNotFound(t *testing.T) {
	_, err := Resolve(doc(), "/entities/@[id=entity.missing]")
	if err == nil {
		t.Fatal("expected error")
	}
	if se, ok := err.(*Error); !ok || se.Kind != KindSelectorNotFound {
		t.Fatalf("expected SelectorNotFound, got %v", err)
	}
}

func TestResolveNotUnique(t *testing.T) {
	d := map[string]any{
		"entities": []any{
			map[string]any{"id": "dup"},
			map[string]any{"id": "dup"},
		},
	}
	_, err := Resolve(d, "/entities/@[id=dup]")
	if err == nil {
		t.Fatal("expected error")
	}
	if se, ok := err.(*Error); !ok || se.Kind != KindSelectorNotUnique {
		t.Fatalf("expected SelectorNotUnique, got %v", err)
	}
}

func TestResolveSelectorOnNonList(t *testing.T) {
	d := map[string]any{"entities": map[string]any{"id": "x"}}
	_, err := Resolve(d, "/entities/@[id=x]")
	if err == nil {
		t.Fatal("expected error")
	}
	if se, ok := err.(*Error); !ok || se.Kind != KindSelectorType {
		t.Fatalf("expected SelectorTypeError, got %v", err)
	}
}

func TestResolveEmptyPath(t *testing.T) {
	got, err := Resolve(doc(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q want empty", got)
	}
}

func TestPathToPointer(t *testing.T) {
	cases := map[string]string{
		"":                            "",
		"$":                           "",
		"entities[2].fields[0].id":    "/entities/2/fields/0/id",
		"app.home":                    "/app/home",
		"module.id":                   "/module/id",
	}
	for in, want := range cases {
		got := PathToPointer(in)
		if got != want {
			t.Errorf("PathToPointer(%q) = %q, want %q", in, got, want)
		}
	}
}
