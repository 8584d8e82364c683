package registry

import (
	"testing"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/manifeststore"
)

type fakeCounter struct{ counts map[string]int }

func (f fakeCounter) CountByEntity(workspaceID, entityID string) int { return f.counts[entityID] }

func TestInstallThenUpgrade(t *testing.T) {
	r := New(manifeststore.New(), nil)
	m1 := manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "1.0.0"}}
	mod, err := r.Install("ws1", "crm", "CRM", m1, "alice", "initial", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mod.Enabled {
		t.Fatal("newly installed module should be enabled")
	}
	m2 := manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "1.1.0"}}
	mod2, err := r.Upgrade("ws1", "crm", m2, "alice", "add field", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod2.CurrentHash == mod.CurrentHash {
		t.Fatal("upgrade should produce a new hash")
	}
}

func TestSystemModuleCannotBeDisabled(t *testing.T) {
	r := New(manifeststore.New(), nil)
	r.Install("ws1", "settings", "Settings", manifest.Doc{"module": manifest.Doc{"id": "settings"}}, "a", "r", "")
	_, err := r.SetEnabled("ws1", "settings", false, "a", "r")
	if err == nil {
		t.Fatal("expected FORBIDDEN for system module")
	}
	re, ok := err.(*RegistryError)
	if !ok || re.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN RegistryError, got %v", err)
	}
}

func TestDeleteRefusesWithRecords(t *testing.T) {
	counter := fakeCounter{counts: map[string]int{"entity.job": 3}}
	r := New(manifeststore.New(), counter)
	r.Install("ws1", "jobs", "Jobs", manifest.Doc{"module": manifest.Doc{"id": "jobs"}}, "a", "r", "")
	_, err := r.Delete("ws1", "jobs", []string{"entity.job"}, false, false, "a", "cleanup")
	if err == nil {
		t.Fatal("expected MODULE_HAS_RECORDS")
	}
	re, ok := err.(*RegistryError)
	if !ok || re.Code != "MODULE_HAS_RECORDS" {
		t.Fatalf("expected MODULE_HAS_RECORDS, got %v", err)
	}
}

func TestDeleteForceWithRecordsArchivesModule(t *testing.T) {
	counter := fakeCounter{counts: map[string]int{"entity.job": 3}}
	r := New(manifeststore.New(), counter)
	r.Install("ws1", "jobs", "Jobs", manifest.Doc{"module": manifest.Doc{"id": "jobs"}}, "a", "r", "")
	res, err := r.Delete("ws1", "jobs", []string{"entity.job"}, true, false, "a", "force delete")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Archived {
		t.Fatal("force delete with existing records should archive rather than hard-delete")
	}
	if _, err := r.Get("ws1", "jobs"); err != nil {
		t.Fatal("archived module should still be retrievable")
	}
}

func TestDeleteArchiveFlag(t *testing.T) {
	r := New(manifeststore.New(), nil)
	r.Install("ws1", "jobs", "Jobs", manifest.Doc{"module": manifest.Doc{"id": "jobs"}}, "a", "r", "")
	res, err := r.Delete("ws1", "jobs", nil, false, true, "a", "archiving")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Archived {
		t.Fatal("expected archived result")
	}
	mod, _ := r.Get("ws1", "jobs")
	if mod.Enabled {
		t.Fatal("archived module should be disabled")
	}
}

func TestRollbackForbiddenForSystemModule(t *testing.T) {
	r := New(manifeststore.New(), nil)
	r.Install("ws1", "auth", "Auth", manifest.Doc{"module": manifest.Doc{"id": "auth"}}, "a", "r", "")
	_, err := r.Rollback("ws1", "auth", "sha256:x", "a", "r")
	if err == nil {
		t.Fatal("expected MODULE_ROLLBACK_FORBIDDEN")
	}
}

func TestCompareVersions(t *testing.T) {
	if CompareVersions("1.0.0", "1.1.0") >= 0 {
		t.Fatal("1.0.0 should be < 1.1.0")
	}
	if CompareVersions("2.0.0", "1.9.9") <= 0 {
		t.Fatal("2.0.0 should be > 1.9.9")
	}
	if CompareVersions("1.0.0", "1.0.0") != 0 {
		t.Fatal("equal versions should compare equal")
	}
}

func TestMutationLockFailsFast(t *testing.T) {
	r := New(manifeststore.New(), nil)
	r.Install("ws1", "crm", "CRM", manifest.Doc{"module": manifest.Doc{"id": "crm"}}, "a", "r", "")
	release, err := r.acquire("ws1", "crm")
	if err != nil {
		t.Fatalf("unexpected error acquiring lock: %v", err)
	}
	defer release()
	_, err = r.Upgrade("ws1", "crm", manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "2.0.0"}}, "a", "r", "")
	if err == nil {
		t.Fatal("expected MODULE_MUTATION_IN_PROGRESS while lock is held")
	}
	re, ok := err.(*RegistryError)
	if !ok || re.Code != "MODULE_MUTATION_IN_PROGRESS" {
		t.Fatalf("expected MODULE_MUTATION_IN_PROGRESS, got %v", err)
	}
}
