// Package registry layers module lifecycle (install, upgrade, enable,
// disable, rollback, delete) over the append-only manifeststore, enforcing
// the system-module protection and per-module mutation lock spec.md §4.3
// describes. Grounded on internal/storage's Transaction/Storage split
// (a narrow mutation surface wrapping a broader read surface) and on its
// RunInTransaction-style fail-fast locking idiom; version comparisons
// use golang.org/x/mod/semver the way the rest of the pack reaches for it
// for module version ordering.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/manifeststore"
)

// Module is the installed-module record spec.md §3 defines.
type Module struct {
	ModuleID     string
	Name         string
	CurrentHash  string
	Enabled      bool
	Archived     bool
	InstalledAt  time.Time
	UpdatedAt    time.Time
	DisplayOrder int
	IconKey      string
}

// RegistryError is a structured core-boundary error carrying the codes
// spec.md §6 names (FORBIDDEN, MODULE_ROLLBACK_FORBIDDEN, ...).
type RegistryError struct {
	Code    string
	Message string
	Detail  map[string]any
}

func (e *RegistryError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) *RegistryError {
	return &RegistryError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RecordCounter is satisfied by internal/records.Store; it lets delete()
// count records across every entity a manifest declares without the
// registry importing the records package directly (records imports
// manifest, not the other way around).
type RecordCounter interface {
	CountByEntity(workspaceID, entityID string) int
}

// Registry is the tenant-scoped module lifecycle manager.
type Registry struct {
	store   *manifeststore.Store
	records RecordCounter

	mu      sync.Mutex
	modules map[string]map[string]*Module // workspace_id -> module_id -> record
	locks   map[string]bool               // "workspace_id:module_id" mutation lock set
}

// New returns a Registry backed by store. records may be nil if delete()'s
// record-count gate is not needed by the caller (e.g. tests).
func New(store *manifeststore.Store, records RecordCounter) *Registry {
	return &Registry{
		store:   store,
		records: records,
		modules: make(map[string]map[string]*Module),
		locks:   make(map[string]bool),
	}
}

func (r *Registry) bucket(workspaceID string) map[string]*Module {
	mods, ok := r.modules[workspaceID]
	if !ok {
		mods = make(map[string]*Module)
		r.modules[workspaceID] = mods
	}
	return mods
}

// acquire implements the "fail-fast" per-module mutation gate (spec.md §4.3):
// concurrent install/upgrade/rollback/delete attempts on the same module_id
// fail immediately with MODULE_MUTATION_IN_PROGRESS rather than blocking.
func (r *Registry) acquire(workspaceID, moduleID string) (func(), error) {
	key := workspaceID + ":" + moduleID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[key] {
		return nil, errf("MODULE_MUTATION_IN_PROGRESS", "module %s has a mutation already in progress", moduleID)
	}
	r.locks[key] = true
	return func() {
		r.mu.Lock()
		delete(r.locks, key)
		r.mu.Unlock()
	}, nil
}

// Install applies an approved patch manifest as the module's first snapshot.
func (r *Registry) Install(workspaceID, moduleID, name string, m manifest.Doc, actor, reason, txGroupID string) (*Module, error) {
	release, err := r.acquire(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	defer release()

	hash, err := r.store.InitModuleTx(workspaceID, moduleID, m, actor, reason, txGroupID)
	if err != nil {
		return nil, fmt.Errorf("registry: install: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	mod := &Module{ModuleID: moduleID, Name: name, CurrentHash: hash, Enabled: true, InstalledAt: now, UpdatedAt: now}
	r.bucket(workspaceID)[moduleID] = mod
	return mod, nil
}

// Upgrade installs a new snapshot as the module's head, the same operation
// as Install but against an existing module record.
func (r *Registry) Upgrade(workspaceID, moduleID string, m manifest.Doc, actor, reason, txGroupID string) (*Module, error) {
	release, err := r.acquire(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	defer release()

	mod, err := r.get(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	if err := r.refuseDowngrade(workspaceID, moduleID, mod.CurrentHash, m); err != nil {
		return nil, err
	}
	hash, err := r.store.InitModuleTx(workspaceID, moduleID, m, actor, reason, txGroupID)
	if err != nil {
		return nil, fmt.Errorf("registry: upgrade: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	mod.CurrentHash = hash
	mod.UpdatedAt = time.Now().UTC()
	return mod, nil
}

// refuseDowngrade compares incoming manifest m's module.version against the
// currently-installed snapshot's, refusing with MODULE_DOWNGRADE_FORBIDDEN
// when the new version orders strictly lower (SPEC_FULL.md §4.3 addendum:
// "upgrade can refuse a downgrade"). A missing version on either side is
// not an error — module.version is optional, so absence never blocks.
func (r *Registry) refuseDowngrade(workspaceID, moduleID, currentHash string, m manifest.Doc) error {
	if currentHash == "" {
		return nil
	}
	current, err := r.store.GetSnapshot(workspaceID, moduleID, currentHash)
	if err != nil {
		return nil
	}
	oldVersion := manifest.Str(manifest.Section(current, "module"), "version")
	newVersion := manifest.Str(manifest.Section(m, "module"), "version")
	if oldVersion == "" || newVersion == "" {
		return nil
	}
	if CompareVersions(newVersion, oldVersion) < 0 {
		return errf("MODULE_DOWNGRADE_FORBIDDEN", "module %s: cannot upgrade from version %s to lower version %s", moduleID, oldVersion, newVersion)
	}
	return nil
}

func (r *Registry) get(workspaceID, moduleID string) (*Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.bucket(workspaceID)[moduleID]
	if !ok {
		return nil, errf("MODULE_NOT_INSTALLED", "module %s is not installed", moduleID)
	}
	return mod, nil
}

// Get returns the installed module record.
func (r *Registry) Get(workspaceID, moduleID string) (*Module, error) { return r.get(workspaceID, moduleID) }

// List returns all installed modules for a workspace ordered by
// display_order then module_id.
func (r *Registry) List(workspaceID string) []*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Module, 0, len(r.bucket(workspaceID)))
	for _, m := range r.bucket(workspaceID) {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ModuleID < out[j].ModuleID
	})
	return out
}

// SetEnabled toggles enabled, refusing mutation of SYSTEM_MODULE_IDS.
func (r *Registry) SetEnabled(workspaceID, moduleID string, enabled bool, actor, reason string) (*Module, error) {
	if manifest.SystemModuleIDs[moduleID] {
		return nil, errf("FORBIDDEN", "module %s is a system module and cannot be mutated", moduleID)
	}
	release, err := r.acquire(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	defer release()

	mod, err := r.get(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	mod.Enabled = enabled
	mod.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	action := manifeststore.AuditDisable
	if enabled {
		action = manifeststore.AuditEnable
	}
	r.store.RecordAudit(workspaceID, moduleID, action, actor, reason)
	return mod, nil
}

// SetIcon updates a module's display icon key (spec.md §6's
// Modules.set_icon), a cosmetic mutation that does not touch the manifest
// snapshot or write an audit entry.
func (r *Registry) SetIcon(workspaceID, moduleID, iconKey string) (*Module, error) {
	mod, err := r.get(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	mod.IconKey = iconKey
	mod.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()
	return mod, nil
}

// SetDisplayOrder updates a module's List() sort key (spec.md §6's
// Modules.set_display_order).
func (r *Registry) SetDisplayOrder(workspaceID, moduleID string, order int) (*Module, error) {
	mod, err := r.get(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	mod.DisplayOrder = order
	mod.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()
	return mod, nil
}

// Rollback re-points head to targetHash, which must already be a snapshot
// of the module. Draft version ids and transaction group ids are not
// resolved here; the CLI's rollback command turns them into a hash first
// with patchset.ResolveRollbackTarget.
func (r *Registry) Rollback(workspaceID, moduleID, targetHash, actor, reason string) (*Module, error) {
	if manifest.SystemModuleIDs[moduleID] {
		return nil, errf("MODULE_ROLLBACK_FORBIDDEN", "module %s is a system module and cannot be rolled back", moduleID)
	}
	release, err := r.acquire(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	defer release()

	mod, err := r.get(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	if err := r.store.Rollback(workspaceID, moduleID, targetHash, actor, reason); err != nil {
		return nil, fmt.Errorf("registry: rollback: %w", err)
	}
	r.mu.Lock()
	mod.CurrentHash = targetHash
	mod.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()
	return mod, nil
}

// DeleteResult reports what Delete did, including per-entity record counts
// when it refused to proceed.
type DeleteResult struct {
	Deleted      bool
	Archived     bool
	RecordCounts map[string]int
}

// Delete counts records across all entities the current manifest declares;
// refuses with MODULE_HAS_RECORDS unless force or archive is set.
func (r *Registry) Delete(workspaceID, moduleID string, entityIDs []string, force, archive bool, actor, reason string) (*DeleteResult, error) {
	if manifest.SystemModuleIDs[moduleID] {
		return nil, errf("FORBIDDEN", "module %s is a system module and cannot be deleted", moduleID)
	}
	release, err := r.acquire(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}
	defer release()

	mod, err := r.get(workspaceID, moduleID)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	total := 0
	if r.records != nil {
		for _, eid := range entityIDs {
			c := r.records.CountByEntity(workspaceID, eid)
			counts[eid] = c
			total += c
		}
	}

	if total > 0 && !force && !archive {
		return nil, &RegistryError{
			Code:    "MODULE_HAS_RECORDS",
			Message: fmt.Sprintf("module %s has %d records across %d entities", moduleID, total, len(counts)),
			Detail:  map[string]any{"counts": counts},
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if archive || (force && total > 0) {
		mod.Archived = true
		mod.Enabled = false
		mod.UpdatedAt = time.Now().UTC()
		r.store.RecordAudit(workspaceID, moduleID, manifeststore.AuditModuleArchived, actor, reason)
		return &DeleteResult{Archived: true, RecordCounts: counts}, nil
	}

	delete(r.bucket(workspaceID), moduleID)
	r.store.RecordAudit(workspaceID, moduleID, manifeststore.AuditModuleDeleted, actor, reason)
	return &DeleteResult{Deleted: true, RecordCounts: counts}, nil
}

// CompareVersions orders two semver-ish module version strings ("1.2.0").
// Falls back to string comparison for non-semver-shaped input (the source
// system did not strictly enforce semver on module.version).
func CompareVersions(a, b string) int {
	va, vb := normalizeSemver(a), normalizeSemver(b)
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func normalizeSemver(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}
