package activity

import (
	"testing"
	"time"
)

func TestAddCommentAndList(t *testing.T) {
	s := New()
	s.AddComment("ws1", "entity.job", "r1", "looks good", &Author{ID: "u1", Name: "Alice"})
	entries := s.List("ws1", "entity.job", "r1", 10)
	if len(entries) != 1 || entries[0].EventType != EventComment {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Payload["body"] != "looks good" {
		t.Fatalf("unexpected payload: %v", entries[0].Payload)
	}
}

func TestNewestFirstOrdering(t *testing.T) {
	s := New()
	s.AddComment("ws1", "entity.job", "r1", "first", nil)
	s.AddComment("ws1", "entity.job", "r1", "second", nil)
	entries := s.List("ws1", "entity.job", "r1", 10)
	if entries[0].Payload["body"] != "second" {
		t.Fatalf("expected newest first, got %+v", entries)
	}
}

func TestAddChange(t *testing.T) {
	s := New()
	s.AddChange("ws1", "entity.job", "r1", []FieldChange{{Field: "job.status", From: "open", To: "done"}}, nil)
	entries := s.List("ws1", "entity.job", "r1", 10)
	if entries[0].EventType != EventChange {
		t.Fatalf("expected change entry, got %+v", entries[0])
	}
}

func TestListSinceFiltersOlderEntries(t *testing.T) {
	s := New()
	s.AddComment("ws1", "entity.job", "r1", "old", nil)
	cutoff := time.Now().UTC()
	time.Sleep(time.Millisecond)
	s.AddComment("ws1", "entity.job", "r1", "new", nil)
	entries := s.ListSince("ws1", "entity.job", "r1", cutoff, 10)
	if len(entries) != 1 || entries[0].Payload["body"] != "new" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestAuthorFromActorDefaultsName(t *testing.T) {
	a := AuthorFromActor("u1", "", "u1@example.com")
	if a == nil || a.Name != "System" {
		t.Fatalf("expected default name System, got %+v", a)
	}
	if AuthorFromActor("", "", "") != nil {
		t.Fatal("expected nil author for empty actor")
	}
}

func TestListClampsLimit(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.AddComment("ws1", "entity.job", "r1", "c", nil)
	}
	if len(s.List("ws1", "entity.job", "r1", 0)) != 1 {
		t.Fatal("limit below 1 should clamp to 1")
	}
}
