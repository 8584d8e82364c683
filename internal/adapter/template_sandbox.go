package adapter

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"
)

// SandboxTemplate is a locked-down text/template.Template renderer:
// autoescape is never enabled (text/template, not html/template, matching
// spec.md §4.11's explicit "autoescape off"), the FuncMap is an allow-list
// of exactly the filters/tests spec.md names, and the only values ever
// exposed to an executed template are map[string]any nodes — never Go
// structs — which makes "attribute/callable access denied" a structural
// guarantee of the type system rather than a runtime check (SPEC_FULL.md
// §4.11).
type SandboxTemplate struct{}

// NewSandboxTemplate returns a ready-to-use sandbox.
func NewSandboxTemplate() *SandboxTemplate { return &SandboxTemplate{} }

var allowedFuncs = template.FuncMap{
	"default": func(def any, v any) any {
		if v == nil || v == "" {
			return def
		}
		return v
	},
	"lower": func(s string) string { return strings.ToLower(s) },
	"upper": func(s string) string { return strings.ToUpper(s) },
	"title": func(s string) string { return strings.Title(strings.ToLower(s)) }, //nolint:staticcheck
	"trim":  func(s string) string { return strings.TrimSpace(s) },
	"replace": func(old, new, s string) string { return strings.ReplaceAll(s, old, new) },
	"round": func(v any) int {
		f, _ := toFloat(v)
		if f < 0 {
			return int(f - 0.5)
		}
		return int(f + 0.5)
	},
	"int": func(v any) int {
		switch n := v.(type) {
		case string:
			i, _ := strconv.Atoi(strings.TrimSpace(n))
			return i
		default:
			f, _ := toFloat(v)
			return int(f)
		}
	},
	"float": func(v any) float64 {
		switch n := v.(type) {
		case string:
			f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
			return f
		default:
			f, _ := toFloat(v)
			return f
		}
	},
	"length": func(v any) int {
		switch n := v.(type) {
		case string:
			return len(n)
		case []any:
			return len(n)
		case map[string]any:
			return len(n)
		default:
			return 0
		}
	},
	"defined":   func(v any) bool { return v != nil },
	"undefined": func(v any) bool { return v == nil },
	"none":      func(v any) bool { return v == nil },
	"equalto": func(a, b any) bool {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	},
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

// Render executes text to a string against ctx. ctx is always a
// map[string]any — never a struct — so field access inside the template
// can only reach declared map keys, never methods or unexported state.
// strict, when true, fails on any key referenced but absent from ctx
// (text/template's "missingkey=error" option).
func (s *SandboxTemplate) Render(text string, ctx map[string]any, strict bool) (string, error) {
	tmpl := template.New("sandbox").Funcs(allowedFuncs)
	opt := "missingkey=default"
	if strict {
		opt = "missingkey=error"
	}
	tmpl = tmpl.Option(opt)
	parsed, err := tmpl.Parse(text)
	if err != nil {
		return "", fmt.Errorf("TEMPLATE_RENDER_FAILED: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("TEMPLATE_RENDER_FAILED: execute: %w", err)
	}
	return buf.String(), nil
}

// ValidateTemplates parses every (label, text) pair, returning parse
// errors, the set of variables referenced across all templates, and those
// referenced but missing from ctx — spec.md §4.11's
// "validate_templates([(label,text)], ctx?) -> (errors, declared_vars,
// undefined_vars)".
func (s *SandboxTemplate) ValidateTemplates(items []LabeledTemplate, ctx map[string]any) (errors, declaredVars, undefinedVars []string) {
	declared := map[string]bool{}
	for _, item := range items {
		tmpl := template.New(item.Label).Funcs(allowedFuncs)
		parsed, err := tmpl.Parse(item.Text)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", item.Label, err))
			continue
		}
		for _, node := range parsed.Root.Nodes {
			collectFieldRefs(node, declared)
		}
	}
	declaredVars = sortedKeys(declared)
	for v := range declared {
		if ctx == nil {
			undefinedVars = append(undefinedVars, v)
			continue
		}
		if _, ok := ctx[v]; !ok {
			undefinedVars = append(undefinedVars, v)
		}
	}
	sort.Strings(undefinedVars)
	return
}

func collectFieldRefs(node parse.Node, out map[string]bool) {
	switch n := node.(type) {
	case *parse.ActionNode:
		collectFieldRefs(n.Pipe, out)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			for _, arg := range cmd.Args {
				collectFieldRefs(arg, out)
			}
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			out[n.Ident[0]] = true
		}
	case *parse.IfNode:
		collectFieldRefs(n.Pipe, out)
		for _, nn := range n.List.Nodes {
			collectFieldRefs(nn, out)
		}
		if n.ElseList != nil {
			for _, nn := range n.ElseList.Nodes {
				collectFieldRefs(nn, out)
			}
		}
	case *parse.RangeNode:
		collectFieldRefs(n.Pipe, out)
		for _, nn := range n.List.Nodes {
			collectFieldRefs(nn, out)
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
