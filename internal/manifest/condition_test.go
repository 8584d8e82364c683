package manifest

import "testing"

func TestEvaluateEq(t *testing.T) {
	node := Doc{"eq": Doc{"left": Doc{"var": "record.status"}, "right": Doc{"literal": "done"}}}
	ctx := map[string]any{"record": Doc{"status": "done"}}
	ok, err := Evaluate(node, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateAndOrNot(t *testing.T) {
	ctx := map[string]any{"record": Doc{"status": "done", "flag": true}}
	node := Doc{"and": []any{
		Doc{"eq": Doc{"left": Doc{"var": "record.status"}, "right": Doc{"literal": "done"}}},
		Doc{"not": Doc{"eq": Doc{"left": Doc{"var": "record.flag"}, "right": Doc{"literal": false}}}},
	}}
	ok, err := Evaluate(node, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvaluateExists(t *testing.T) {
	ctx := map[string]any{"record": Doc{"status": "done"}}
	ok, err := Evaluate(Doc{"exists": Doc{"var": "record.status"}}, ctx)
	if err != nil || !ok {
		t.Fatalf("expected exists=true, got %v err=%v", ok, err)
	}
	ok, err = Evaluate(Doc{"not_exists": Doc{"var": "record.missing"}}, ctx)
	if err != nil || !ok {
		t.Fatalf("expected not_exists=true, got %v err=%v", ok, err)
	}
}

func TestEvaluateNilIsTrue(t *testing.T) {
	ok, err := Evaluate(nil, map[string]any{})
	if err != nil || !ok {
		t.Fatalf("expected nil condition to evaluate true, got %v err=%v", ok, err)
	}
}

func TestEvaluateDepthCap(t *testing.T) {
	var node any = Doc{"literal_leaf": true}
	// Build a chain of 'not' deeper than MaxConditionDepth.
	inner := Doc{"eq": Doc{"left": Doc{"literal": 1}, "right": Doc{"literal": 1}}}
	node = inner
	for i := 0; i < MaxConditionDepth+3; i++ {
		node = Doc{"not": node}
	}
	_, err := Evaluate(node, map[string]any{})
	if err == nil {
		t.Fatal("expected depth-exceeded error")
	}
}

func TestEvaluateLookupDomainRef(t *testing.T) {
	ctx := map[string]any{
		"candidate": Doc{"a": Doc{"region": "S"}},
		"record":    Doc{"b": Doc{"region": "N"}},
	}
	node := Doc{"eq": Doc{"left": Doc{"ref": "$candidate.a.region"}, "right": Doc{"ref": "$record.b.region"}}}
	ok, err := Evaluate(node, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false: N != S")
	}
}

func TestEvaluateInvalidOperator(t *testing.T) {
	_, err := Evaluate(Doc{"xor": []any{}}, map[string]any{})
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}
