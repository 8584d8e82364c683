// Package adapter holds the external-boundary collaborator contracts
// spec.md §4.11 names — storage, SQL, template sandbox, email provider,
// PDF renderer, secret store — plus local/test-grade default
// implementations for each. None of these are the "real" production
// integration (a specific object store SDK, a production SMTP relay, a
// headless-Chromium PDF renderer); per spec.md §1 those are deliberately
// out of scope and appear here only as the interface the core depends on.
package adapter

import (
	"context"
	"time"
)

// Storage is the content-addressed blob boundary spec.md §4.11 defines.
type Storage interface {
	StoreBytes(ctx context.Context, workspaceID, filename string, data []byte, mime, bucket string) (StoredObject, error)
	ReadBytes(ctx context.Context, storageKey string) ([]byte, error)
	Delete(ctx context.Context, storageKey string) error
}

// StoredObject is what StoreBytes returns.
type StoredObject struct {
	StorageKey string
	SHA256     string
	Size       int64
	Bucket     string
	Path       string
}

// SQL is the generic execute/fetch boundary spec.md §4.11 defines, bound
// to one workspace at a time. Every mutation must be reversible within a
// transaction (RunInTx).
type SQL interface {
	Execute(ctx context.Context, workspaceID, query string, args ...any) error
	FetchOne(ctx context.Context, workspaceID, query string, args ...any) (map[string]any, error)
	FetchAll(ctx context.Context, workspaceID, query string, args ...any) ([]map[string]any, error)
	RunInTx(ctx context.Context, workspaceID string, fn func(tx SQL) error) error
}

// TemplateSandbox is the locked-down template renderer spec.md §4.11
// requires: autoescape off, filters/tests allow-listed, attribute and
// callable access denied.
type TemplateSandbox interface {
	Render(text string, ctx map[string]any, strict bool) (string, error)
	ValidateTemplates(items []LabeledTemplate, ctx map[string]any) ([]string, []string, []string)
}

// LabeledTemplate pairs a human label with template source text, for
// batch validation (doc/email template editors).
type LabeledTemplate struct {
	Label string
	Text  string
}

// EmailMessage is what an EmailProvider sends.
type EmailMessage struct {
	To, CC, BCC        []string
	From, ReplyTo      string
	Subject            string
	BodyHTML, BodyText string
}

// EmailConnection is the {id, type, is_default, secret_ref, config} shape
// spec.md's supplemented data model (SPEC_FULL.md §3.1) names.
type EmailConnection struct {
	ID        string
	Type      string // smtp | api
	IsDefault bool
	SecretRef string
	Config    map[string]any
}

// EmailSendResult is what a provider call returns on success.
type EmailSendResult struct {
	ProviderMessageID string
}

// EmailProvider is the send boundary spec.md §4.11 defines, bounded by a
// 30s wall-clock timeout per spec.md §5.
type EmailProvider interface {
	Send(ctx context.Context, msg EmailMessage, conn EmailConnection, secret string, workspaceID string) (EmailSendResult, error)
}

// EmailSendTimeout is the wall-clock bound spec.md §5 names for the email
// provider call.
const EmailSendTimeout = 30 * time.Second

// StorageTimeout is the wall-clock bound spec.md §5 names for storage
// provider calls.
const StorageTimeout = 30 * time.Second

// Margins describes PDF page margins, normalized to one unit; spec.md
// §4.11: "clamped <= 100mm".
type Margins struct {
	Top, Right, Bottom, Left float64
	Unit                     string // mm | cm | in | px
}

// NormalizeMargins clamps each margin to <=100mm-equivalent, converting
// other units to their mm value for the comparison, then returns the
// margins unchanged in their original unit if within bounds.
func NormalizeMargins(m Margins) Margins {
	toMM := func(v float64, unit string) float64 {
		switch unit {
		case "cm":
			return v * 10
		case "in":
			return v * 25.4
		case "px":
			return v * 25.4 / 96
		default:
			return v
		}
	}
	fromMM := func(mm float64, unit string) float64 {
		switch unit {
		case "cm":
			return mm / 10
		case "in":
			return mm / 25.4
		case "px":
			return mm * 96 / 25.4
		default:
			return mm
		}
	}
	const maxMM = 100.0
	clamp := func(v float64) float64 {
		mm := toMM(v, m.Unit)
		if mm > maxMM {
			mm = maxMM
		}
		if mm < 0 {
			mm = 0
		}
		return fromMM(mm, m.Unit)
	}
	return Margins{Top: clamp(m.Top), Right: clamp(m.Right), Bottom: clamp(m.Bottom), Left: clamp(m.Left), Unit: m.Unit}
}

// PDFRenderer is the headless rendering boundary spec.md §4.11 defines.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string, paper string, margins Margins, header, footer string) ([]byte, error)
}

// SecretStoreError is fatal and non-retriable, per spec.md §4.10/§7: a job
// handler that hits it marks the job failed, never re-queued.
type SecretStoreError struct {
	Ref string
	Err error
}

func (e *SecretStoreError) Error() string { return "secret store: " + e.Ref + ": " + e.Err.Error() }
func (e *SecretStoreError) Unwrap() error { return e.Err }

// SecretStore resolves a secret reference to its plaintext value.
type SecretStore interface {
	Resolve(ctx context.Context, ref string) (string, error)
}
