package records

import (
	"testing"

	"github.com/lowcraft/runtime/internal/manifest"
)

func TestCreateGetUpdateDelete(t *testing.T) {
	s := New()
	id, rec := s.Create("ws1", "entity.job", manifest.Doc{"job.title": "Fix roof"})
	if id == "" || rec["id"] != id {
		t.Fatalf("expected assigned id, got %v", rec)
	}
	got, err := s.Get("ws1", "entity.job", id)
	if err != nil || got["job.title"] != "Fix roof" {
		t.Fatalf("unexpected get result: %v err=%v", got, err)
	}

	updated := manifest.Doc{"job.title": "Fix roof", "job.status": "done"}
	_, err = s.Update("ws1", "entity.job", id, updated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.Get("ws1", "entity.job", id)
	if got["job.status"] != "done" {
		t.Fatalf("expected status done, got %v", got)
	}

	s.Delete("ws1", "entity.job", id)
	if _, err := s.Get("ws1", "entity.job", id); err == nil {
		t.Fatal("expected NotFoundError after delete")
	}
}

func TestListSearchAndTenantIsolation(t *testing.T) {
	s := New()
	s.Create("ws1", "entity.job", manifest.Doc{"job.title": "Fix roof"})
	s.Create("ws1", "entity.job", manifest.Doc{"job.title": "Paint fence"})
	s.Create("ws2", "entity.job", manifest.Doc{"job.title": "Fix roof"})

	results := s.List("ws1", "entity.job", 50, 0, "roof", []string{"job.title"})
	if len(results) != 1 {
		t.Fatalf("expected 1 match in ws1, got %d", len(results))
	}
	if len(s.List("ws2", "entity.job", 50, 0, "", nil)) != 1 {
		t.Fatal("ws2 should only see its own record")
	}
}

func TestListPageCursorAndProjection(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Create("ws1", "entity.job", manifest.Doc{"job.title": "job"})
	}
	page1, cursor1 := s.ListPage("ws1", "entity.job", 2, "", "", nil, []string{"job.title"})
	if len(page1) != 2 || cursor1 == "" {
		t.Fatalf("expected 2 rows and a continuation cursor, got %d rows cursor=%q", len(page1), cursor1)
	}
	if _, ok := page1[0].Record["id"]; !ok {
		t.Fatal("projected record must retain id")
	}
	page2, cursor2 := s.ListPage("ws1", "entity.job", 2, cursor1, "", nil, nil)
	if len(page2) != 2 {
		t.Fatalf("expected 2 rows on page 2, got %d", len(page2))
	}
	page3, cursor3 := s.ListPage("ws1", "entity.job", 2, cursor2, "", nil, nil)
	if len(page3) != 1 || cursor3 != "" {
		t.Fatalf("expected final page of 1 with no further cursor, got %d rows cursor=%q", len(page3), cursor3)
	}
}

func TestListLookup(t *testing.T) {
	s := New()
	s.Create("ws1", "entity.account", manifest.Doc{"account.name": "Acme Corp"})
	s.Create("ws1", "entity.account", manifest.Doc{"account.name": "Globex"})
	rows := s.ListLookup("ws1", "entity.account", "account.name", 10, "acme")
	if len(rows) != 1 || rows[0].Display != "Acme Corp" {
		t.Fatalf("unexpected lookup rows: %+v", rows)
	}
}

func TestAggregateCountAndSum(t *testing.T) {
	recs := []manifest.Doc{
		{"job.region": "N", "job.amount": 10},
		{"job.region": "N", "job.amount": 5},
		{"job.region": "S", "job.amount": 7},
	}
	counts := Aggregate(recs, "job.region", "count")
	if counts["N"] != 2 || counts["S"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	sums := Aggregate(recs, "job.region", "sum:job.amount")
	if sums["N"] != 15 || sums["S"] != 7 {
		t.Fatalf("unexpected sums: %v", sums)
	}
}

func TestCountByEntity(t *testing.T) {
	s := New()
	s.Create("ws1", "entity.job", manifest.Doc{})
	s.Create("ws1", "entity.job", manifest.Doc{})
	if s.CountByEntity("ws1", "entity.job") != 2 {
		t.Fatal("expected count 2")
	}
	if s.CountByEntity("ws1", "entity.note") != 0 {
		t.Fatal("expected count 0 for untouched entity")
	}
}
