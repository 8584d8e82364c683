package adapter

import "testing"

func TestSandboxTemplateRenderAppliesFilters(t *testing.T) {
	s := NewSandboxTemplate()
	out, err := s.Render("Hello {{.name | upper}}, total {{.amount | round}}", map[string]any{
		"name": "ada", "amount": 12.6,
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello ADA, total 13" {
		t.Fatalf("got %q", out)
	}
}

func TestSandboxTemplateStrictModeErrorsOnMissingKey(t *testing.T) {
	s := NewSandboxTemplate()
	_, err := s.Render("{{.missing}}", map[string]any{}, true)
	if err == nil {
		t.Fatal("expected an error for a missing key in strict mode")
	}
}

func TestSandboxTemplateNeverExposesStructMethods(t *testing.T) {
	s := NewSandboxTemplate()
	// Only map[string]any is ever passed as ctx, so there is no method or
	// unexported field for a template to reach; referencing an absent key
	// under non-strict mode renders the zero value instead of failing.
	out, err := s.Render("{{.anything}}", map[string]any{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "<no value>" {
		t.Fatalf("got %q", out)
	}
}

func TestValidateTemplatesReportsUndefinedVars(t *testing.T) {
	s := NewSandboxTemplate()
	errs, declared, undefined := s.ValidateTemplates([]LabeledTemplate{
		{Label: "subject", Text: "Hi {{.first_name}}"},
	}, map[string]any{"other": "x"})
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(declared) != 1 || declared[0] != "first_name" {
		t.Fatalf("expected declared vars [first_name], got %v", declared)
	}
	if len(undefined) != 1 || undefined[0] != "first_name" {
		t.Fatalf("expected undefined vars [first_name], got %v", undefined)
	}
}

func TestValidateTemplatesReportsParseErrors(t *testing.T) {
	s := NewSandboxTemplate()
	errs, _, _ := s.ValidateTemplates([]LabeledTemplate{{Label: "body", Text: "{{.broken"}}, nil)
	if len(errs) == 0 {
		t.Fatal("expected a parse error for unclosed action")
	}
}
