// Package manifeststore provides append-only, content-addressed storage for
// module manifest snapshots: a snapshot blob is written once under
// (module_id, hash) and never mutated or deleted; a head pointer tracks the
// current snapshot per module, and every head move is recorded in an audit
// trail. Grounded on spec.md §4.2 and on the audit-trail shape of
// internal/audit/audit.go (Entry{Kind, CreatedAt, Extra}), adapted from a
// JSONL file sink to an in-process store guarded by a mutex — the same
// role audit.Entry plays for issue interactions there, it plays for
// module-hash history here.
package manifeststore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lowcraft/runtime/internal/canonical"
	"github.com/lowcraft/runtime/internal/manifest"
)

// AuditAction enumerates the module_audit action values spec.md §3 names.
type AuditAction string

const (
	AuditInstall        AuditAction = "install"
	AuditUpgrade        AuditAction = "upgrade"
	AuditEnable         AuditAction = "enable"
	AuditDisable        AuditAction = "disable"
	AuditRollback       AuditAction = "rollback"
	AuditModuleDeleted  AuditAction = "module_deleted"
	AuditModuleArchived AuditAction = "module_archived"
)

// AuditEntry is the append-only audit row spec.md §3 defines.
type AuditEntry struct {
	AuditID           string
	ModuleID          string
	Action            AuditAction
	FromHash          string
	ToHash            string
	Actor             string
	Reason            string
	TransactionGroupID string
	At                time.Time
}

// NotFoundError indicates a snapshot or module has no matching entry.
type NotFoundError struct {
	ModuleID string
	Hash     string
}

func (e *NotFoundError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("manifeststore: snapshot %s/%s not found", e.ModuleID, e.Hash)
	}
	return fmt.Sprintf("manifeststore: module %s has no head", e.ModuleID)
}

type moduleHistory struct {
	snapshots map[string]manifest.Doc // hash -> blob
	order     []string                // hashes, insertion order (oldest first)
	head      string
	audit     []AuditEntry
}

// Store is an append-only, tenant-scoped manifest snapshot store.
type Store struct {
	mu        sync.RWMutex
	tenants   map[string]map[string]*moduleHistory // workspace_id -> module_id -> history
	idCounter int
}

// New returns an empty in-memory Store. It is the only manifest store
// implementation: USE_DB does not change it, and no SQL-backed manifest
// store exists.
func New() *Store {
	return &Store{tenants: make(map[string]map[string]*moduleHistory)}
}

func (s *Store) bucket(workspaceID, moduleID string) *moduleHistory {
	mods, ok := s.tenants[workspaceID]
	if !ok {
		mods = make(map[string]*moduleHistory)
		s.tenants[workspaceID] = mods
	}
	h, ok := mods[moduleID]
	if !ok {
		h = &moduleHistory{snapshots: make(map[string]manifest.Doc)}
		mods[moduleID] = h
	}
	return h
}

func (s *Store) nextAuditID() string {
	s.idCounter++
	return fmt.Sprintf("aud_%d", s.idCounter)
}

// InitModule normalizes nothing itself (callers run the validator/normalizer
// pipeline first); it computes the canonical hash of manifest, stores the
// blob under (moduleID, hash) if not already present, advances head, and
// appends an audit entry. Returns the new hash.
func (s *Store) InitModule(workspaceID, moduleID string, m manifest.Doc, actor, reason string) (string, error) {
	return s.InitModuleTx(workspaceID, moduleID, m, actor, reason, "")
}

// InitModuleTx is InitModule with an explicit transaction_group_id stamped
// onto the audit entry, so a caller (the registry) can later resolve a
// rollback target by transaction group (spec.md §4.3, §6).
func (s *Store) InitModuleTx(workspaceID, moduleID string, m manifest.Doc, actor, reason, txGroupID string) (string, error) {
	hash, err := canonical.Hash(m)
	if err != nil {
		return "", fmt.Errorf("manifeststore: hash manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.bucket(workspaceID, moduleID)
	fromHash := h.head
	if _, exists := h.snapshots[hash]; !exists {
		h.snapshots[hash] = manifest.CloneDoc(m).(manifest.Doc)
		h.order = append(h.order, hash)
	}
	h.head = hash
	h.audit = append(h.audit, AuditEntry{
		AuditID: s.nextAuditID(), ModuleID: moduleID, Action: auditActionFor(fromHash),
		FromHash: fromHash, ToHash: hash, Actor: actor, Reason: reason,
		TransactionGroupID: txGroupID, At: time.Now().UTC(),
	})
	return hash, nil
}

func auditActionFor(fromHash string) AuditAction {
	if fromHash == "" {
		return AuditInstall
	}
	return AuditUpgrade
}

// GetSnapshot returns the blob stored under (moduleID, hash).
func (s *Store) GetSnapshot(workspaceID, moduleID, hash string) (manifest.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mods, ok := s.tenants[workspaceID]
	if !ok {
		return nil, &NotFoundError{ModuleID: moduleID, Hash: hash}
	}
	h, ok := mods[moduleID]
	if !ok {
		return nil, &NotFoundError{ModuleID: moduleID, Hash: hash}
	}
	blob, ok := h.snapshots[hash]
	if !ok {
		return nil, &NotFoundError{ModuleID: moduleID, Hash: hash}
	}
	return manifest.CloneDoc(blob).(manifest.Doc), nil
}

// GetHead returns the current head hash, or "" if the module has no history.
func (s *Store) GetHead(workspaceID, moduleID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mods, ok := s.tenants[workspaceID]
	if !ok {
		return ""
	}
	h, ok := mods[moduleID]
	if !ok {
		return ""
	}
	return h.head
}

// ListSnapshots returns snapshot hashes, newest first.
func (s *Store) ListSnapshots(workspaceID, moduleID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mods, ok := s.tenants[workspaceID]
	if !ok {
		return nil
	}
	h, ok := mods[moduleID]
	if !ok {
		return nil
	}
	out := make([]string, len(h.order))
	for i, hash := range h.order {
		out[len(h.order)-1-i] = hash
	}
	return out
}

// ListHistory returns the audit trail, newest first.
func (s *Store) ListHistory(workspaceID, moduleID string) []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mods, ok := s.tenants[workspaceID]
	if !ok {
		return nil
	}
	h, ok := mods[moduleID]
	if !ok {
		return nil
	}
	out := make([]AuditEntry, len(h.audit))
	copy(out, h.audit)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

// Rollback re-points head to an earlier hash and records an audit entry
// with action "rollback". The target hash must already be a known snapshot.
func (s *Store) Rollback(workspaceID, moduleID, targetHash, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mods, ok := s.tenants[workspaceID]
	if !ok {
		return &NotFoundError{ModuleID: moduleID, Hash: targetHash}
	}
	h, ok := mods[moduleID]
	if !ok {
		return &NotFoundError{ModuleID: moduleID, Hash: targetHash}
	}
	if _, exists := h.snapshots[targetHash]; !exists {
		return &NotFoundError{ModuleID: moduleID, Hash: targetHash}
	}
	fromHash := h.head
	h.head = targetHash
	h.audit = append(h.audit, AuditEntry{
		AuditID: s.nextAuditID(), ModuleID: moduleID, Action: AuditRollback,
		FromHash: fromHash, ToHash: targetHash, Actor: actor, Reason: reason, At: time.Now().UTC(),
	})
	return nil
}

// RecordAudit appends a standalone audit entry not tied to a head move
// (enable/disable/module_deleted/module_archived) — used by the registry.
func (s *Store) RecordAudit(workspaceID, moduleID string, action AuditAction, actor, reason string) AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.bucket(workspaceID, moduleID)
	entry := AuditEntry{
		AuditID: s.nextAuditID(), ModuleID: moduleID, Action: action,
		FromHash: h.head, ToHash: h.head, Actor: actor, Reason: reason, At: time.Now().UTC(),
	}
	h.audit = append(h.audit, entry)
	return entry
}
