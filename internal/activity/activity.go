// Package activity implements the per-record activity feed ("chatter"):
// comments, field-change entries, attachment events, and system entries,
// newest first. Grounded on original_source/app/stores.py's
// MemoryActivityStore/MemoryChatterStore. When constructed with
// NewWithSQL, every entry additionally mirrors to the adapter.SQL boundary
// (spec.md §6 USE_DB=1), so a SQLite-backed deployment keeps the feed
// durable across process restarts; reads are always served from the
// in-memory index, since the generic SQL boundary has no ORDER BY.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/adapter"
	"github.com/lowcraft/runtime/internal/manifest"
)

// EventType enumerates the activity entry kinds spec.md §3 names.
type EventType string

const (
	EventComment    EventType = "comment"
	EventChange     EventType = "change"
	EventAttachment EventType = "attachment"
	EventSystem     EventType = "system"
)

// Author is the {id,name,email} shape carried on each entry.
type Author struct {
	ID    string
	Name  string
	Email string
}

// Entry is the activity entry spec.md §3 defines.
type Entry struct {
	ID        string
	EntityID  string
	RecordID  string
	EventType EventType
	Author    *Author
	Payload   manifest.Doc
	CreatedAt time.Time
}

type key struct{ workspaceID, entityID, recordID string }

const activityTable = "activity_entries"

var activitySchema = "CREATE TABLE IF NOT EXISTS " + activityTable +
	" (id TEXT PRIMARY KEY, entity_id TEXT, record_id TEXT, event_type TEXT, author TEXT, payload TEXT, created_at TEXT)"

// Store is a tenant-scoped activity feed store.
type Store struct {
	mu      sync.RWMutex
	entries map[key][]Entry // newest first

	sql        adapter.SQL
	schemaDone map[string]bool // workspace_id -> activitySchema already applied
}

// New returns an empty in-memory Store.
func New() *Store { return &Store{entries: make(map[key][]Entry)} }

// NewWithSQL returns a Store that mirrors every entry to sqlBackend in
// addition to keeping the in-memory index, for USE_DB=1 deployments
// (spec.md §6).
func NewWithSQL(sqlBackend adapter.SQL) *Store {
	return &Store{entries: make(map[key][]Entry), sql: sqlBackend, schemaDone: make(map[string]bool)}
}

// AddEvent appends a new entry to a record's feed.
func (s *Store) AddEvent(workspaceID, entityID, recordID string, eventType EventType, payload manifest.Doc, author *Author) Entry {
	e := Entry{
		ID: uuid.NewString(), EntityID: entityID, RecordID: recordID,
		EventType: eventType, Author: author, Payload: manifest.CloneDoc(payload).(manifest.Doc),
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	k := key{workspaceID, entityID, recordID}
	s.entries[k] = append([]Entry{e}, s.entries[k]...)
	s.mu.Unlock()

	if s.sql != nil {
		s.persist(workspaceID, e)
	}
	return e
}

// persist mirrors e to the SQL boundary. Failures are swallowed: the
// in-memory feed stays the source of truth for the running process, and a
// dropped durability write is no worse than USE_DB=0's posture.
func (s *Store) persist(workspaceID string, e Entry) {
	s.ensureSchema(workspaceID)
	authorJSON, _ := json.Marshal(e.Author)
	payloadJSON, _ := json.Marshal(map[string]any(e.Payload))
	query := fmt.Sprintf("INSERT INTO %s (id, entity_id, record_id, event_type, author, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)", activityTable)
	_ = s.sql.Execute(context.Background(), workspaceID, query,
		e.ID, e.EntityID, e.RecordID, string(e.EventType), string(authorJSON), string(payloadJSON), e.CreatedAt.Format(time.RFC3339))
}

func (s *Store) ensureSchema(workspaceID string) {
	s.mu.Lock()
	done := s.schemaDone[workspaceID]
	s.schemaDone[workspaceID] = true
	s.mu.Unlock()
	if done {
		return
	}
	_ = s.sql.Execute(context.Background(), workspaceID, activitySchema)
}

// AddComment is a convenience wrapper around AddEvent for EventComment.
func (s *Store) AddComment(workspaceID, entityID, recordID, body string, author *Author) Entry {
	return s.AddEvent(workspaceID, entityID, recordID, EventComment, manifest.Doc{"body": body}, author)
}

// FieldChange is one {field, from, to} tuple in a change entry.
type FieldChange struct {
	Field string
	From  any
	To    any
}

// AddChange records a field-change entry (spec.md §4.7 step 7: "append a
// change entry listing tracked fields when the form view has
// activity.enabled=true").
func (s *Store) AddChange(workspaceID, entityID, recordID string, changes []FieldChange, author *Author) Entry {
	list := make([]any, 0, len(changes))
	for _, c := range changes {
		list = append(list, manifest.Doc{"field": c.Field, "from": c.From, "to": c.To})
	}
	return s.AddEvent(workspaceID, entityID, recordID, EventChange, manifest.Doc{"changes": list}, author)
}

// AddAttachment records an attachment-linked entry.
func (s *Store) AddAttachment(workspaceID, entityID, recordID, attachmentID, filename, mimeType string, size int64, author *Author) Entry {
	return s.AddEvent(workspaceID, entityID, recordID, EventAttachment, manifest.Doc{
		"attachment_id": attachmentID, "filename": filename, "mime_type": mimeType, "size": size,
	}, author)
}

// List returns up to limit entries (clamped to [1,200]), newest first.
func (s *Store) List(workspaceID, entityID, recordID string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit)
	items := s.entries[key{workspaceID, entityID, recordID}]
	if limit > len(items) {
		limit = len(items)
	}
	out := make([]Entry, limit)
	copy(out, items[:limit])
	return out
}

// ListSince returns entries created strictly after since, newest first.
func (s *Store) ListSince(workspaceID, entityID, recordID string, since time.Time, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit)
	items := s.entries[key{workspaceID, entityID, recordID}]
	out := make([]Entry, 0, limit)
	for _, e := range items {
		if e.CreatedAt.After(since) {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// AuthorFromActor builds an Author from an actor's id, name and email. It
// returns nil when all three are empty, and uses "System" as the name when
// name is empty.
func AuthorFromActor(userID, name, email string) *Author {
	if userID == "" && name == "" && email == "" {
		return nil
	}
	if name == "" {
		name = "System"
	}
	return &Author{ID: userID, Name: name, Email: email}
}
