package manifeststore

import (
	"testing"

	"github.com/lowcraft/runtime/internal/manifest"
)

func TestInitModuleAdvancesHead(t *testing.T) {
	s := New()
	m1 := manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "1.0.0"}}
	hash1, err := s.InitModule("ws1", "crm", m1, "alice", "initial install")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.GetHead("ws1", "crm") != hash1 {
		t.Fatal("head should equal the freshly installed hash")
	}

	m2 := manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "1.1.0"}}
	hash2, err := s.InitModule("ws1", "crm", m2, "alice", "upgrade")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash1 == hash2 {
		t.Fatal("different manifests must hash differently")
	}
	if s.GetHead("ws1", "crm") != hash2 {
		t.Fatal("head should advance to the upgraded hash")
	}

	history := s.ListHistory("ws1", "crm")
	if len(history) != 2 || history[0].Action != AuditUpgrade || history[1].Action != AuditInstall {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestInitModuleIdempotentHash(t *testing.T) {
	s := New()
	m := manifest.Doc{"module": manifest.Doc{"id": "crm"}}
	h1, _ := s.InitModule("ws1", "crm", m, "a", "r1")
	h2, _ := s.InitModule("ws1", "crm", m, "a", "r2")
	if h1 != h2 {
		t.Fatal("identical canonical manifests must produce identical hashes")
	}
	if len(s.ListSnapshots("ws1", "crm")) != 1 {
		t.Fatal("re-initializing with an identical manifest must not create a duplicate snapshot blob")
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSnapshot("ws1", "crm", "sha256:deadbeef")
	if err == nil {
		t.Fatal("expected NotFoundError")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
}

func TestRollbackRepointsHead(t *testing.T) {
	s := New()
	m1 := manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "1.0.0"}}
	hash1, _ := s.InitModule("ws1", "crm", m1, "a", "install")
	m2 := manifest.Doc{"module": manifest.Doc{"id": "crm", "version": "2.0.0"}}
	s.InitModule("ws1", "crm", m2, "a", "upgrade")

	if err := s.Rollback("ws1", "crm", hash1, "a", "bad upgrade"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.GetHead("ws1", "crm") != hash1 {
		t.Fatal("rollback should re-point head to the target hash")
	}
	history := s.ListHistory("ws1", "crm")
	if history[0].Action != AuditRollback {
		t.Fatalf("expected newest entry to be rollback, got %+v", history[0])
	}
}

func TestRollbackUnknownHashFails(t *testing.T) {
	s := New()
	s.InitModule("ws1", "crm", manifest.Doc{"module": manifest.Doc{"id": "crm"}}, "a", "install")
	if err := s.Rollback("ws1", "crm", "sha256:doesnotexist", "a", "r"); err == nil {
		t.Fatal("expected error rolling back to an unknown snapshot")
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	s.InitModule("ws1", "crm", manifest.Doc{"module": manifest.Doc{"id": "crm"}}, "a", "install")
	if s.GetHead("ws2", "crm") != "" {
		t.Fatal("module history must not leak across workspaces")
	}
}
