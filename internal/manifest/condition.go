package manifest

import (
	"fmt"
)

// MaxConditionDepth is the hard recursion cap spec.md §3/§9 mandates for
// the condition AST evaluator. Evaluation recurses natively (evalDepth,
// resolveValueNode), passing a depth counter down, and fails with
// CONDITION_TOO_DEEP once a node is nested deeper than this; it is not an
// iterative evaluator.
const MaxConditionDepth = 10

// ConditionError wraps an evaluation failure (malformed node, unresolved
// variable, depth exceeded) with the operator/path context for debugging.
type ConditionError struct {
	Code    string
	Message string
}

func (e *ConditionError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func condErr(code, format string, args ...any) *ConditionError {
	return &ConditionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Evaluate evaluates a condition AST node against ctx. Node shape:
//
//	{"and": [node, ...]} | {"or": [node, ...]} | {"not": node}
//	{"eq": {"left": valueNode, "right": valueNode}}
//	{"neq": {"left": valueNode, "right": valueNode}}
//	{"exists": valueNode} | {"not_exists": valueNode}
//
// A nil node evaluates to true (no condition = always enabled/matched),
// matching the common "enabled_when omitted" case.
func Evaluate(node any, ctx map[string]any) (bool, error) {
	return evalDepth(node, ctx, 0)
}

func evalDepth(node any, ctx map[string]any, depth int) (bool, error) {
	if node == nil {
		return true, nil
	}
	if depth > MaxConditionDepth {
		return false, condErr("CONDITION_TOO_DEEP", "condition nesting exceeds max depth %d", MaxConditionDepth)
	}
	doc, ok := node.(Doc)
	if !ok {
		if m, ok := node.(map[string]any); ok {
			doc = m
		} else {
			return false, condErr("CONDITION_INVALID", "condition node must be an object")
		}
	}
	if len(doc) != 1 {
		return false, condErr("CONDITION_INVALID", "condition node must have exactly one operator key, got %d", len(doc))
	}
	for op, arg := range doc {
		switch op {
		case "and":
			items, ok := arg.([]any)
			if !ok {
				return false, condErr("CONDITION_INVALID", "'and' requires an array")
			}
			for _, item := range items {
				v, err := evalDepth(item, ctx, depth+1)
				if err != nil {
					return false, err
				}
				if !v {
					return false, nil
				}
			}
			return true, nil
		case "or":
			items, ok := arg.([]any)
			if !ok {
				return false, condErr("CONDITION_INVALID", "'or' requires an array")
			}
			for _, item := range items {
				v, err := evalDepth(item, ctx, depth+1)
				if err != nil {
					return false, err
				}
				if v {
					return true, nil
				}
			}
			return false, nil
		case "not":
			v, err := evalDepth(arg, ctx, depth+1)
			if err != nil {
				return false, err
			}
			return !v, nil
		case "eq", "neq":
			pair, ok := arg.(map[string]any)
			if !ok {
				pair, ok = arg.(Doc)
			}
			if !ok {
				return false, condErr("CONDITION_INVALID", "'%s' requires {left,right}", op)
			}
			left, err := resolveValueNode(pair["left"], ctx, depth+1)
			if err != nil {
				return false, err
			}
			right, err := resolveValueNode(pair["right"], ctx, depth+1)
			if err != nil {
				return false, err
			}
			eq := valuesEqual(left, right)
			if op == "eq" {
				return eq, nil
			}
			return !eq, nil
		case "exists", "not_exists":
			_, err := resolveValueNode(arg, ctx, depth+1)
			exists := err == nil
			if op == "exists" {
				return exists, nil
			}
			return !exists, nil
		default:
			return false, condErr("CONDITION_INVALID", "unknown operator %q", op)
		}
	}
	return false, condErr("CONDITION_INVALID", "unreachable")
}

// ResolveValueNode resolves a standalone value node — {var}|{literal}|{array}|{ref}
// — against ctx. Used by the action executor to resolve `defaults`/`patch`
// map entries that are value nodes rather than raw literals (spec.md §4.7,
// SPEC_FULL.md §4.7 addendum). A plain non-object value is returned as-is,
// since most default/patch entries are raw literals, not value nodes.
func ResolveValueNode(node any, ctx map[string]any) (any, error) {
	if _, ok := node.(map[string]any); !ok {
		return node, nil
	}
	return resolveValueNode(node, ctx, 0)
}

// resolveValueNode resolves a leaf value node: {var}|{literal}|{array}|{ref}.
func resolveValueNode(node any, ctx map[string]any, depth int) (any, error) {
	if depth > MaxConditionDepth {
		return nil, condErr("CONDITION_TOO_DEEP", "value node nesting exceeds max depth %d", MaxConditionDepth)
	}
	m, ok := node.(map[string]any)
	if !ok {
		if d, ok := node.(Doc); ok {
			m = d
		} else {
			return nil, condErr("CONDITION_INVALID", "value node must be an object")
		}
	}
	if v, ok := m["literal"]; ok && len(m) == 1 {
		return v, nil
	}
	if v, ok := m["var"]; ok && len(m) == 1 {
		name, ok := v.(string)
		if !ok {
			return nil, condErr("CONDITION_INVALID", "var must be a string")
		}
		return resolveDotted(ctx, name)
	}
	if v, ok := m["ref"]; ok && len(m) == 1 {
		name, ok := v.(string)
		if !ok {
			return nil, condErr("CONDITION_INVALID", "ref must be a string")
		}
		return resolveRef(ctx, name)
	}
	if v, ok := m["array"]; ok && len(m) == 1 {
		arr, ok := v.([]any)
		if !ok {
			return nil, condErr("CONDITION_INVALID", "array must be a list")
		}
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			rv, err := resolveValueNode(item, ctx, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, rv)
		}
		return out, nil
	}
	return nil, condErr("CONDITION_INVALID", "invalid value node")
}

// resolveDotted resolves a dotted path ("record.status") against ctx.
func resolveDotted(ctx map[string]any, name string) (any, error) {
	var current any = ctx
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			part := name[start:i]
			m, ok := current.(map[string]any)
			if !ok {
				if d, ok := current.(Doc); ok {
					m = d
				} else {
					return nil, fmt.Errorf("unresolved var: %s", name)
				}
			}
			v, ok := m[part]
			if !ok {
				return nil, fmt.Errorf("unresolved var: %s", name)
			}
			current = v
			start = i + 1
		}
	}
	return current, nil
}

// resolveRef resolves a "$scope.path" style reference, e.g.
// "$candidate.a.region" or "$record.b.region", used by lookup domains
// (spec.md scenario 2). The leading "$" is stripped and the remainder is
// dotted-resolved the same as var.
func resolveRef(ctx map[string]any, name string) (any, error) {
	if len(name) > 0 && name[0] == '$' {
		name = name[1:]
	}
	return resolveDotted(ctx, name)
}

// DomainError wraps a malformed lookup-field domain node.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func domainErr(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// EvaluateDomain evaluates a lookup field's domain constraint (spec.md §3
// Record invariants, scenario 2), a shape distinct from the Condition AST
// Evaluate handles: a single `{op, left, right}` comparison rather than a
// single-operator-key boolean tree. §3 lists the Condition AST's consumers
// as permissions/filters/triggers/automation-conditions; domains are
// compared here instead. left/right are either an `{ref: "$scope.path"}`
// node (resolved against ctx, e.g. "$candidate.a.region"/"$record.b.region")
// or a literal value used as-is.
func EvaluateDomain(node any, ctx map[string]any) (bool, error) {
	doc, ok := node.(Doc)
	if !ok {
		if m, ok2 := node.(map[string]any); ok2 {
			doc = m
		} else {
			return false, domainErr("CONDITION_INVALID", "domain node must be an object")
		}
	}
	op, _ := doc["op"].(string)
	if op == "" {
		return false, domainErr("CONDITION_INVALID", "domain node requires an 'op' string")
	}
	left, err := resolveDomainOperand(doc["left"], ctx)
	if err != nil {
		return false, err
	}
	right, err := resolveDomainOperand(doc["right"], ctx)
	if err != nil {
		return false, err
	}
	switch op {
	case "eq":
		return valuesEqual(left, right), nil
	case "neq":
		return !valuesEqual(left, right), nil
	case "gt", "gte", "lt", "lte":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false, domainErr("CONDITION_INVALID", "'%s' requires numeric operands", op)
		}
		switch op {
		case "gt":
			return lf > rf, nil
		case "gte":
			return lf >= rf, nil
		case "lt":
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	default:
		return false, domainErr("CONDITION_INVALID", "unknown domain operator %q", op)
	}
}

// resolveDomainOperand resolves a domain {op,left,right} operand: an
// {ref: "$scope.path"} reference node, or a literal value used as-is.
func resolveDomainOperand(node any, ctx map[string]any) (any, error) {
	m, ok := node.(map[string]any)
	if !ok {
		if d, ok2 := node.(Doc); ok2 {
			m = d
		} else {
			return node, nil
		}
	}
	if v, ok := m["ref"]; ok && len(m) == 1 {
		name, ok := v.(string)
		if !ok {
			return nil, domainErr("CONDITION_INVALID", "ref must be a string")
		}
		return resolveRef(ctx, name)
	}
	return node, nil
}

func valuesEqual(a, b any) bool {
	an, aIsNum := toFloat(a)
	bn, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return an == bn
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case nil:
		return b == nil
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
