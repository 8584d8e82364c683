package adapter

import (
	"context"
	"strings"
	"testing"
)

func TestStubPDFRendererIsDeterministicForSameHTML(t *testing.T) {
	r := NewStubPDFRenderer()
	ctx := context.Background()
	margins := Margins{Top: 1, Right: 1, Bottom: 1, Left: 1, Unit: "cm"}
	a, err := r.RenderPDF(ctx, "<p>hi</p>", "letter", margins, "hdr", "ftr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := r.RenderPDF(ctx, "<p>hi</p>", "letter", margins, "hdr", "ftr")
	if string(a) != string(b) {
		t.Fatal("expected identical HTML to render identical stub bytes")
	}
	if !strings.HasPrefix(string(a), "%PDF-1.4") {
		t.Fatalf("expected a PDF-looking header, got %q", a[:20])
	}
}

func TestStubPDFRendererDiffersForDifferentHTML(t *testing.T) {
	r := NewStubPDFRenderer()
	ctx := context.Background()
	margins := Margins{Unit: "cm"}
	a, _ := r.RenderPDF(ctx, "<p>one</p>", "letter", margins, "", "")
	b, _ := r.RenderPDF(ctx, "<p>two</p>", "letter", margins, "", "")
	if string(a) == string(b) {
		t.Fatal("expected different HTML to produce different stub bytes")
	}
}
