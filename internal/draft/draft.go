// Package draft implements the per-module working-copy editor: a draft
// manifest plus an ordered list of versions, independent of the published
// snapshot history in manifeststore. Grounded on
// original_source/app/stores.py's MemoryDraftStore.
package draft

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/manifest"
)

// Draft is the working copy for a module, per spec.md §3.
type Draft struct {
	ModuleID       string
	Manifest       manifest.Doc
	CreatedAt      time.Time
	UpdatedAt      time.Time
	UpdatedBy      string
	BaseSnapshotID string
}

// Version is one entry in a draft's version history.
type Version struct {
	ID               string
	ModuleID         string
	Manifest         manifest.Doc
	Note             string
	CreatedAt        time.Time
	CreatedBy        string
	ParentVersionID  string
	OpsApplied       []manifest.Doc
	ValidationErrors []manifest.Doc
}

type workspaceDrafts struct {
	drafts   map[string]*Draft
	versions map[string][]Version // module_id -> versions, newest first
}

// Store is a tenant-scoped draft store.
type Store struct {
	mu   sync.RWMutex
	data map[string]*workspaceDrafts
}

// New returns an empty in-memory Store.
func New() *Store { return &Store{data: make(map[string]*workspaceDrafts)} }

func (s *Store) bucket(workspaceID string) *workspaceDrafts {
	b, ok := s.data[workspaceID]
	if !ok {
		b = &workspaceDrafts{drafts: make(map[string]*Draft), versions: make(map[string][]Version)}
		s.data[workspaceID] = b
	}
	return b
}

// ListDrafts returns draft summaries ordered newest-updated-first.
func (s *Store) ListDrafts(workspaceID string) []*Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.bucket(workspaceID)
	out := make([]*Draft, 0, len(b.drafts))
	for _, d := range b.drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// GetDraft returns the draft, or nil if none exists.
func (s *Store) GetDraft(workspaceID, moduleID string) *Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bucket(workspaceID).drafts[moduleID]
}

// UpsertDraft replaces the working copy, preserving created_at and
// base_snapshot_id when the caller does not supply a new one.
func (s *Store) UpsertDraft(workspaceID, moduleID string, m manifest.Doc, updatedBy, baseSnapshotID string) *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(workspaceID)
	now := time.Now().UTC()
	existing := b.drafts[moduleID]
	createdAt := now
	base := baseSnapshotID
	if existing != nil {
		createdAt = existing.CreatedAt
		if base == "" {
			base = existing.BaseSnapshotID
		}
	}
	d := &Draft{
		ModuleID: moduleID, Manifest: manifest.CloneDoc(m).(manifest.Doc),
		CreatedAt: createdAt, UpdatedAt: now, UpdatedBy: updatedBy, BaseSnapshotID: base,
	}
	b.drafts[moduleID] = d
	return d
}

// CreateDraftVersion appends a version entry newest-first and upserts the
// working copy to the new manifest.
func (s *Store) CreateDraftVersion(workspaceID, moduleID string, m manifest.Doc, note, createdBy, parentVersionID string, opsApplied, validationErrors []manifest.Doc) Version {
	v := Version{
		ID: uuid.NewString(), ModuleID: moduleID, Manifest: manifest.CloneDoc(m).(manifest.Doc),
		Note: note, CreatedAt: time.Now().UTC(), CreatedBy: createdBy,
		ParentVersionID: parentVersionID, OpsApplied: opsApplied, ValidationErrors: validationErrors,
	}
	s.mu.Lock()
	b := s.bucket(workspaceID)
	b.versions[moduleID] = append([]Version{v}, b.versions[moduleID]...)
	s.mu.Unlock()

	s.UpsertDraft(workspaceID, moduleID, m, createdBy, "")
	return v
}

// ListDraftVersions returns a module's versions, newest first.
func (s *Store) ListDraftVersions(workspaceID, moduleID string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Version(nil), s.bucket(workspaceID).versions[moduleID]...)
}

// GetDraftVersion returns a specific version by id, or (Version{}, false).
func (s *Store) GetDraftVersion(workspaceID, moduleID, versionID string) (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.bucket(workspaceID).versions[moduleID] {
		if v.ID == versionID {
			return v, true
		}
	}
	return Version{}, false
}

// DeleteDraft clears the working copy and its versions.
func (s *Store) DeleteDraft(workspaceID, moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(workspaceID)
	delete(b.drafts, moduleID)
	delete(b.versions, moduleID)
}
