package draft

import (
	"testing"

	"github.com/lowcraft/runtime/internal/manifest"
)

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s := New()
	d1 := s.UpsertDraft("ws1", "crm", manifest.Doc{"module": manifest.Doc{"id": "crm"}}, "alice", "sha256:base")
	d2 := s.UpsertDraft("ws1", "crm", manifest.Doc{"module": manifest.Doc{"id": "crm", "x": 1}}, "alice", "")
	if !d2.CreatedAt.Equal(d1.CreatedAt) {
		t.Fatal("created_at should be preserved across upserts")
	}
	if d2.BaseSnapshotID != "sha256:base" {
		t.Fatalf("base_snapshot_id should be preserved when omitted, got %q", d2.BaseSnapshotID)
	}
}

func TestCreateDraftVersionOrdersNewestFirst(t *testing.T) {
	s := New()
	v1 := s.CreateDraftVersion("ws1", "crm", manifest.Doc{"v": 1}, "first", "alice", "", nil, nil)
	v2 := s.CreateDraftVersion("ws1", "crm", manifest.Doc{"v": 2}, "second", "alice", v1.ID, nil, nil)
	versions := s.ListDraftVersions("ws1", "crm")
	if len(versions) != 2 || versions[0].ID != v2.ID || versions[1].ID != v1.ID {
		t.Fatalf("expected newest-first ordering, got %+v", versions)
	}
	draft := s.GetDraft("ws1", "crm")
	if draft.Manifest["v"] != 2 {
		t.Fatal("creating a version should upsert the working copy to the new manifest")
	}
}

func TestGetDraftVersionNotFound(t *testing.T) {
	s := New()
	if _, ok := s.GetDraftVersion("ws1", "crm", "missing"); ok {
		t.Fatal("expected not found")
	}
}

func TestDeleteDraftClearsVersions(t *testing.T) {
	s := New()
	s.CreateDraftVersion("ws1", "crm", manifest.Doc{"v": 1}, "", "alice", "", nil, nil)
	s.DeleteDraft("ws1", "crm")
	if s.GetDraft("ws1", "crm") != nil {
		t.Fatal("expected draft cleared")
	}
	if len(s.ListDraftVersions("ws1", "crm")) != 0 {
		t.Fatal("expected versions cleared")
	}
}
