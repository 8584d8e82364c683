package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StubPDFRenderer is a test-double PDFRenderer: it never shells out to a
// real browser, emitting a small deterministic byte stream derived from the
// rendered HTML instead. A real headless-Chromium renderer is explicitly
// out of scope (spec.md §1).
type StubPDFRenderer struct{}

// NewStubPDFRenderer returns a StubPDFRenderer.
func NewStubPDFRenderer() *StubPDFRenderer { return &StubPDFRenderer{} }

func (r *StubPDFRenderer) RenderPDF(_ context.Context, html string, paper string, margins Margins, header, footer string) ([]byte, error) {
	margins = NormalizeMargins(margins)
	sum := sha256.Sum256([]byte(html))
	body := fmt.Sprintf(
		"%%PDF-1.4\n%% stub renderer\n%% paper=%s margins=%.1f,%.1f,%.1f,%.1f%s\n%% header=%q footer=%q\n%% content-sha256=%s\n",
		paper, margins.Top, margins.Right, margins.Bottom, margins.Left, margins.Unit,
		header, footer, hex.EncodeToString(sum[:]),
	)
	return []byte(body), nil
}
