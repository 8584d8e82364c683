package canonical

import (
	"math"
	"strings"
	"testing"
)

func TestDumpsSortsKeys(t *testing.T) {
	got, err := Dumps(map[string]any{"b": int64(1), "a": int64(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"a":2,"b":1}`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDumpsIntVsFloatDistinct(t *testing.T) {
	intForm, err := Dumps(map[string]any{"n": int64(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	floatForm, err := Dumps(map[string]any{"n": float64(1.0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intForm == floatForm {
		t.Fatalf("expected %q != %q", intForm, floatForm)
	}
	if !strings.Contains(floatForm, "1.0") {
		t.Fatalf("expected float form to retain decimal point, got %q", floatForm)
	}
}

func TestDumpsRejectsNaN(t *testing.T) {
	_, err := Dumps(map[string]any{"n": math.NaN()})
	if err == nil {
		t.Fatal("expected error for NaN")
	}
	var nfErr *NonFiniteError
	if !asNonFinite(err, &nfErr) {
		t.Fatalf("expected NonFiniteError, got %T: %v", err, err)
	}
}

func TestDumpsRejectsInf(t *testing.T) {
	_, err := Dumps(math.Inf(1))
	if err == nil {
		t.Fatal("expected error for +Inf")
	}
}

func TestDumpsRejectsUnsupportedType(t *testing.T) {
	type custom struct{ X int }
	_, err := Dumps(custom{X: 1})
	if err == nil {
		t.Fatal("expected error for unsupported struct type")
	}
	var typeErr *TypeError
	if !asTypeError(err, &typeErr) {
		t.Fatalf("expected TypeError, got %T: %v", err, err)
	}
}

func TestDumpsPreservesArrayOrder(t *testing.T) {
	got, err := Dumps([]any{int64(3), int64(1), int64(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "[3,1,2]" {
		t.Fatalf("got %q", got)
	}
}

func TestDumpsPreservesNonASCII(t *testing.T) {
	got, err := Dumps("café")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "café") {
		t.Fatalf("expected non-ASCII preserved, got %q", got)
	}
}

func TestHashDeterministic(t *testing.T) {
	m1 := map[string]any{"b": int64(1), "a": int64(2)}
	m2 := map[string]any{"a": int64(2), "b": int64(1)}
	h1, err := Hash(m1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := Hash(m2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %q vs %q", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %q", h1)
	}
}

func TestHashRejectsNaN(t *testing.T) {
	_, err := Hash(map[string]any{"n": math.NaN()})
	if err == nil {
		t.Fatal("expected error")
	}
}

func asNonFinite(err error, target **NonFiniteError) bool {
	if e, ok := err.(*NonFiniteError); ok {
		*target = e
		return true
	}
	return false
}

func asTypeError(err error, target **TypeError) bool {
	if e, ok := err.(*TypeError); ok {
		*target = e
		return true
	}
	return false
}
