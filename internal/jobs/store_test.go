package jobs

import (
	"testing"
	"time"
)

func TestEnqueueIdempotencyCollapses(t *testing.T) {
	s := New()
	a := s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend, IdempotencyKey: "outbox:1"})
	b := s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend, IdempotencyKey: "outbox:1"})
	if a.ID != b.ID {
		t.Fatalf("expected duplicate enqueue to collapse, got %s and %s", a.ID, b.ID)
	}
	if len(s.List("ws1")) != 1 {
		t.Fatalf("expected exactly one job stored")
	}
}

func TestClaimBatchOrdersByPriorityThenRunAt(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	low := s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend, Priority: 0, RunAt: now})
	high := s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend, Priority: 5, RunAt: now})
	claimed := s.ClaimBatch(10, "worker-1")
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed jobs, got %d", len(claimed))
	}
	if claimed[0].ID != high.ID || claimed[1].ID != low.ID {
		t.Fatalf("expected higher-priority job claimed first")
	}
	if claimed[0].Status != StatusRunning || claimed[0].LockedBy != "worker-1" {
		t.Fatalf("claimed job should be running and locked")
	}
}

func TestClaimBatchSkipsFutureRunAt(t *testing.T) {
	s := New()
	s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend, RunAt: time.Now().Add(time.Hour)})
	if claimed := s.ClaimBatch(10, "worker-1"); len(claimed) != 0 {
		t.Fatalf("expected no jobs claimable before run_at, got %d", len(claimed))
	}
}

func TestRetryRequeuesImmediately(t *testing.T) {
	s := New()
	j := s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend})
	s.ClaimBatch(10, "worker-1")
	failed := StatusFailed
	s.Update(j.ID, Patch{Status: &failed})
	if err := s.Retry(j.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.Get(j.ID)
	if got.Status != StatusQueued {
		t.Fatalf("expected queued after retry, got %s", got.Status)
	}
}

func TestCancelSetsDeadWithCancelledError(t *testing.T) {
	s := New()
	j := s.Enqueue(EnqueueInput{WorkspaceID: "ws1", Type: TypeEmailSend})
	if err := s.Cancel(j.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.Get(j.ID)
	if got.Status != StatusDead || got.LastError != "Cancelled" {
		t.Fatalf("expected dead/Cancelled, got %s/%s", got.Status, got.LastError)
	}
}

func TestBackoffSecondsCapsAt3600(t *testing.T) {
	cases := map[int]int{1: 60, 2: 120, 3: 240, 10: 3600, 20: 3600}
	for attempt, want := range cases {
		if got := BackoffSeconds(attempt); got != want {
			t.Errorf("BackoffSeconds(%d) = %d, want %d", attempt, got, want)
		}
	}
}
