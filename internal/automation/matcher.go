// Package automation implements the automation matcher and run/step
// runtime: matching published automations against emitted events,
// materializing runs, and advancing their step program one worker cycle at
// a time (spec.md §4.9). Grounded on original_source/app/automations.py's
// match_event/advance_run pair and on internal/jobs' dispatch idiom for the
// queue-backed delay/retry mechanics.
package automation

import (
	"strings"

	"github.com/lowcraft/runtime/internal/manifest"
)

// Trigger is an automation's `{kind:"event", event_types[], filters[]}`
// block, per spec.md §3.
type Trigger struct {
	Kind       string
	EventTypes []string
	Filters    []Filter
}

// Filter is a `{path, op, value}` predicate evaluated dot-wise against an
// event payload.
type Filter struct {
	Path  string
	Op    string
	Value any
}

// MatchEvent returns true iff eventType is one of trigger's event_types and
// every filter evaluates true against payload, per spec.md §4.9.
func MatchEvent(trigger Trigger, eventType string, payload manifest.Doc) bool {
	found := false
	for _, et := range trigger.EventTypes {
		if et == eventType {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, f := range trigger.Filters {
		if !evalFilter(f, payload) {
			return false
		}
	}
	return true
}

func evalFilter(f Filter, payload manifest.Doc) bool {
	actual, ok := resolveDotted(payload, f.Path)
	switch f.Op {
	case "eq":
		return ok && valuesEqual(actual, f.Value)
	case "neq":
		return !ok || !valuesEqual(actual, f.Value)
	case "exists":
		return ok
	case "not_exists":
		return !ok
	default:
		return false
	}
}

func resolveDotted(doc manifest.Doc, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(manifest.Doc)
		if !ok {
			if mm, ok2 := current.(map[string]any); ok2 {
				m = mm
			} else {
				return nil, false
			}
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return toStr(a) == toStr(b)
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

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return manifest.Str(manifest.Doc{"v": v}, "v")
}

// TriggerFromDoc decodes a manifest trigger/automation-trigger block.
func TriggerFromDoc(d manifest.Doc) Trigger {
	t := Trigger{Kind: manifest.Str(d, "kind")}
	for _, et := range manifest.List(d, "event_types") {
		if s, ok := et.(string); ok {
			t.EventTypes = append(t.EventTypes, s)
		}
	}
	for _, fd := range manifest.AsDocSlice(manifest.List(d, "filters")) {
		t.Filters = append(t.Filters, Filter{
			Path:  manifest.Str(fd, "path"),
			Op:    manifest.Str(fd, "op"),
			Value: fd["value"],
		})
	}
	return t
}
