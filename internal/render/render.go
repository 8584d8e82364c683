// Package render implements the email and document services spec.md §3.1
// (supplemented types) and §4.10 name: the email outbox, email connections,
// doc templates, and attachments stores, plus the sandboxed-template →
// PDF → storage pipeline the `doc.generate` job handler drives. Grounded
// on original_source/app/email.py, app/doc_render.py, and
// app/attachments.py.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/adapter"
)

// OutboxStatus enumerates an email outbox row's lifecycle.
type OutboxStatus string

const (
	OutboxQueued OutboxStatus = "queued"
	OutboxSent   OutboxStatus = "sent"
	OutboxFailed OutboxStatus = "failed"
)

// OutboxRow is the email outbox row spec.md §3.1 defines.
type OutboxRow struct {
	ID                string
	WorkspaceID        string
	To, CC, BCC        []string
	FromEmail, ReplyTo string
	Subject            string
	BodyHTML, BodyText string
	ConnectionID       string
	Status             OutboxStatus
	ProviderMessageID  string
	SentAt             time.Time
	CreatedAt          time.Time
}

// DocTemplate is `{id, entity_id, name, body, paper, margins, header?, footer?}`.
type DocTemplate struct {
	ID       string
	EntityID string
	Name     string
	Body     string
	Paper    string
	Margins  adapter.Margins
	Header   string
	Footer   string
}

// Attachment is `{id, entity_id?, record_id?, filename, storage_key,
// sha256, size, mime, source, purpose?, created_at}`.
type Attachment struct {
	ID         string
	EntityID   string
	RecordID   string
	Filename   string
	StorageKey string
	SHA256     string
	Size       int64
	MIME       string
	Source     string
	Purpose    string
	CreatedAt  time.Time
}

type wsKey struct{ workspaceID, id string }

// Store holds tenant-scoped email connections, outbox rows, doc templates,
// and attachments.
type Store struct {
	mu          sync.Mutex
	connections map[wsKey]*adapter.EmailConnection
	connOrder   map[string][]string
	outbox      map[wsKey]*OutboxRow
	outboxOrder map[string][]string
	templates   map[wsKey]*DocTemplate
	tmplOrder   map[string][]string
	attachments map[string][]*Attachment // workspaceID -> attachments, creation order
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		connections: make(map[wsKey]*adapter.EmailConnection),
		connOrder:   make(map[string][]string),
		outbox:      make(map[wsKey]*OutboxRow),
		outboxOrder: make(map[string][]string),
		templates:   make(map[wsKey]*DocTemplate),
		tmplOrder:   make(map[string][]string),
		attachments: make(map[string][]*Attachment),
	}
}

// ListConnections returns every email connection registered for workspaceID,
// in registration order.
func (s *Store) ListConnections(workspaceID string) []*adapter.EmailConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*adapter.EmailConnection, 0, len(s.connOrder[workspaceID]))
	for _, id := range s.connOrder[workspaceID] {
		if c := s.connections[wsKey{workspaceID, id}]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ListOutboxRows returns workspaceID's outbox rows, newest first — the
// email template "history" listing spec.md §6 names.
func (s *Store) ListOutboxRows(workspaceID string) []*OutboxRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.outboxOrder[workspaceID]
	out := make([]*OutboxRow, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if r := s.outbox[wsKey{workspaceID, ids[i]}]; r != nil {
			out = append(out, r)
		}
	}
	return out
}

// ListDocTemplates returns workspaceID's doc templates, in registration order.
func (s *Store) ListDocTemplates(workspaceID string) []*DocTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*DocTemplate, 0, len(s.tmplOrder[workspaceID]))
	for _, id := range s.tmplOrder[workspaceID] {
		if t := s.templates[wsKey{workspaceID, id}]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

// UpsertConnection registers or replaces an email connection.
func (s *Store) UpsertConnection(workspaceID string, c adapter.EmailConnection) *adapter.EmailConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = "econn_" + uuid.NewString()
	}
	key := wsKey{workspaceID, c.ID}
	if _, exists := s.connections[key]; !exists {
		s.connOrder[workspaceID] = append(s.connOrder[workspaceID], c.ID)
	}
	cp := c
	s.connections[key] = &cp
	return &cp
}

// GetConnection returns a connection by id.
func (s *Store) GetConnection(workspaceID, id string) (*adapter.EmailConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[wsKey{workspaceID, id}]
	return c, ok
}

// DefaultConnection returns the workspace's default connection, if any.
func (s *Store) DefaultConnection(workspaceID string) (*adapter.EmailConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.connOrder[workspaceID] {
		if c := s.connections[wsKey{workspaceID, id}]; c != nil && c.IsDefault {
			return c, true
		}
	}
	return nil, false
}

// CreateOutboxRow appends a new queued outbox row.
func (s *Store) CreateOutboxRow(workspaceID string, row OutboxRow) *OutboxRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = "email_" + uuid.NewString()
	row.WorkspaceID = workspaceID
	row.Status = OutboxQueued
	row.CreatedAt = time.Now().UTC()
	key := wsKey{workspaceID, row.ID}
	s.outbox[key] = &row
	s.outboxOrder[workspaceID] = append(s.outboxOrder[workspaceID], row.ID)
	return &row
}

// GetOutboxRow returns an outbox row by id.
func (s *Store) GetOutboxRow(workspaceID, id string) (*OutboxRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.outbox[wsKey{workspaceID, id}]
	return r, ok
}

// MarkSent records a successful provider send.
func (s *Store) MarkSent(workspaceID, id, providerMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.outbox[wsKey{workspaceID, id}]; ok {
		r.Status = OutboxSent
		r.ProviderMessageID = providerMessageID
		r.SentAt = time.Now().UTC()
	}
}

// MarkFailed records a failed provider send.
func (s *Store) MarkFailed(workspaceID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.outbox[wsKey{workspaceID, id}]; ok {
		r.Status = OutboxFailed
	}
}

// UpsertDocTemplate registers or replaces a doc template.
func (s *Store) UpsertDocTemplate(workspaceID string, t DocTemplate) *DocTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wsKey{workspaceID, t.ID}
	if t.ID == "" {
		t.ID = "doctpl_" + uuid.NewString()
		key = wsKey{workspaceID, t.ID}
	}
	if _, exists := s.templates[key]; !exists {
		s.tmplOrder[workspaceID] = append(s.tmplOrder[workspaceID], t.ID)
	}
	cp := t
	s.templates[key] = &cp
	return &cp
}

// GetDocTemplate returns a doc template by id.
func (s *Store) GetDocTemplate(workspaceID, id string) (*DocTemplate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[wsKey{workspaceID, id}]
	return t, ok
}

// CreateAttachment appends a new attachment row.
func (s *Store) CreateAttachment(workspaceID string, a Attachment) *Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = "attach_" + uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	s.attachments[workspaceID] = append(s.attachments[workspaceID], &a)
	return &a
}

// LinkAttachment (re)points an existing attachment at entityID/recordID —
// the Records "attachments/link" operation spec.md §6 names, for binding a
// blob uploaded ahead of its owning record (e.g. during a create form).
func (s *Store) LinkAttachment(workspaceID, attachmentID, entityID, recordID string) (*Attachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attachments[workspaceID] {
		if a.ID == attachmentID {
			a.EntityID = entityID
			a.RecordID = recordID
			return a, true
		}
	}
	return nil, false
}

// ListAttachments returns every attachment for a workspace, optionally
// filtered to one record.
func (s *Store) ListAttachments(workspaceID, recordID string) []*Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Attachment
	for _, a := range s.attachments[workspaceID] {
		if recordID == "" || a.RecordID == recordID {
			out = append(out, a)
		}
	}
	return out
}

// CleanupAttachments deletes attachments whose source matches and whose
// created_at predates the cutoff, per spec.md §4.10's
// "attachments.cleanup" job. Returns the count removed.
func (s *Store) CleanupAttachments(workspaceID, source string, olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attachments[workspaceID][:0]
	removed := 0
	for _, a := range s.attachments[workspaceID] {
		if a.Source == source && a.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.attachments[workspaceID] = kept
	return removed
}

// Service wires the render stores to the template sandbox, PDF renderer,
// and storage adapters to carry out the doc.generate pipeline.
type Service struct {
	Store     *Store
	Templates adapter.TemplateSandbox
	PDF       adapter.PDFRenderer
	Storage   adapter.Storage
}

// NewService returns a Service over the given collaborators.
func NewService(store *Store, tmpl adapter.TemplateSandbox, pdf adapter.PDFRenderer, storage adapter.Storage) *Service {
	return &Service{Store: store, Templates: tmpl, PDF: pdf, Storage: storage}
}

// RenderAndStoreDocument renders templateID's body against ctx, produces a
// PDF via the sandboxed template + PDF renderer boundary, stores the
// resulting bytes, and records an attachment linked to recordID, per
// spec.md §4.10's doc.generate handler.
func (svc *Service) RenderAndStoreDocument(ctx context.Context, workspaceID string, tpl *DocTemplate, recordCtx map[string]any, recordID, purpose string) (*Attachment, error) {
	html, err := svc.Templates.Render(tpl.Body, recordCtx, false)
	if err != nil {
		return nil, fmt.Errorf("render: doc template %s: %w", tpl.ID, err)
	}
	pdfBytes, err := svc.PDF.RenderPDF(ctx, html, tpl.Paper, tpl.Margins, tpl.Header, tpl.Footer)
	if err != nil {
		return nil, fmt.Errorf("render: pdf generation for %s: %w", tpl.ID, err)
	}
	filename := tpl.Name + ".pdf"
	stored, err := svc.Storage.StoreBytes(ctx, workspaceID, filename, pdfBytes, "application/pdf", "documents")
	if err != nil {
		return nil, fmt.Errorf("render: store pdf for %s: %w", tpl.ID, err)
	}
	return svc.Store.CreateAttachment(workspaceID, Attachment{
		EntityID: tpl.EntityID, RecordID: recordID, Filename: filename,
		StorageKey: stored.StorageKey, SHA256: stored.SHA256, Size: stored.Size,
		MIME: "application/pdf", Source: "doc_template", Purpose: purpose,
	}), nil
}

// RenderEmailBody renders an outbox row's subject/body templates against
// ctx, used both by automation's system.send_email step (preview) and by
// the email.send job handler if re-rendering is needed.
func (svc *Service) RenderEmailBody(subjectTmpl, bodyTmpl string, ctx map[string]any) (subject, body string, err error) {
	subject, err = svc.Templates.Render(subjectTmpl, ctx, false)
	if err != nil {
		return "", "", fmt.Errorf("render: email subject: %w", err)
	}
	body, err = svc.Templates.Render(bodyTmpl, ctx, false)
	if err != nil {
		return "", "", fmt.Errorf("render: email body: %w", err)
	}
	return subject, body, nil
}
