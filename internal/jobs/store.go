// Package jobs implements the durable job queue: priority+run_at claim
// semantics, attempt/backoff bookkeeping, and dead-lettering (spec.md
// §3/§4.10). Grounded on original_source/app/worker.py's job table shape
// and on storage.RunInTransaction's idiom for the claim-is-atomic
// requirement — ClaimBatch performs its select+update under a single
// mutex-held critical section the same way a SQLite adapter does it
// inside one `UPDATE ... RETURNING` statement
// (spec.md §5: "Job claim uses an atomic UPDATE ... WHERE status='queued'
// AND run_at <= now RETURNING ... (single SQL statement) to prevent
// double-assignment").
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status enumerates job lifecycle states, per spec.md §3.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Type enumerates the job types the worker dispatches (spec.md §4.10).
const (
	TypeEmailSend         = "email.send"
	TypeDocGenerate       = "doc.generate"
	TypeAutomationRun     = "automation.run"
	TypeAttachmentsCleanup = "attachments.cleanup"
)

// Job is the durable unit of async work spec.md §3 defines.
type Job struct {
	ID             string
	WorkspaceID    string
	Type           string
	Payload        map[string]any
	Priority       int
	Status         Status
	Attempt        int
	MaxAttempts    int
	RunAt          time.Time
	LockedBy       string
	LockedAt       time.Time
	IdempotencyKey string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Event is an append-only job lifecycle note (enqueue/claim/retry/dead),
// used by the admin job-list surface to show a job's history.
type Event struct {
	ID        string
	JobID     string
	Kind      string
	Detail    string
	At        time.Time
}

type idemKey struct {
	workspaceID, jobType, idempotencyKey string
}

// Store is a tenant-scoped, in-memory job queue. It is the only job store
// implementation; USE_DB does not change it, and no SQL-backed claim
// exists.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	order    []string // insertion order, for deterministic claim tie-breaks
	byIdem   map[idemKey]string
	events   map[string][]Event
	idSeq    int
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{jobs: make(map[string]*Job), byIdem: make(map[idemKey]string), events: make(map[string][]Event)}
}

// EnqueueInput is the caller-supplied shape for Enqueue.
type EnqueueInput struct {
	WorkspaceID    string
	Type           string
	Payload        map[string]any
	Priority       int
	MaxAttempts    int
	RunAt          time.Time
	IdempotencyKey string
}

// Enqueue inserts a new queued job, or — when IdempotencyKey is non-empty
// and a job with the same (workspace_id, type, idempotency_key) already
// exists — returns the existing job unchanged ("duplicate-collapses",
// spec.md §3).
func (s *Store) Enqueue(in EnqueueInput) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		key := idemKey{in.WorkspaceID, in.Type, in.IdempotencyKey}
		if existingID, ok := s.byIdem[key]; ok {
			return s.jobs[existingID]
		}
	}

	now := time.Now().UTC()
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = 10
	}
	if in.RunAt.IsZero() {
		in.RunAt = now
	}
	j := &Job{
		ID: s.nextID(), WorkspaceID: in.WorkspaceID, Type: in.Type, Payload: in.Payload,
		Priority: in.Priority, Status: StatusQueued, MaxAttempts: in.MaxAttempts,
		RunAt: in.RunAt, IdempotencyKey: in.IdempotencyKey, CreatedAt: now, UpdatedAt: now,
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	if in.IdempotencyKey != "" {
		s.byIdem[idemKey{in.WorkspaceID, in.Type, in.IdempotencyKey}] = j.ID
	}
	s.addEvent(j.ID, "enqueued", in.Type)
	return j
}

func (s *Store) nextID() string {
	s.idSeq++
	return fmt.Sprintf("job_%d_%s", s.idSeq, uuid.NewString()[:8])
}

func (s *Store) addEvent(jobID, kind, detail string) {
	s.events[jobID] = append(s.events[jobID], Event{ID: uuid.NewString(), JobID: jobID, Kind: kind, Detail: detail, At: time.Now().UTC()})
}

// ClaimBatch atomically selects up to limit queued, due jobs ordered by
// priority DESC, run_at ASC, flips them to running/locked, and returns
// them. The whole operation runs under s.mu, the in-process analogue of
// the single-statement atomic claim spec.md §5 requires.
func (s *Store) ClaimBatch(limit int, workerID string) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var candidates []*Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status == StatusQueued && !j.RunAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	sort.SliceStable(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, j := range candidates {
		j.Status = StatusRunning
		j.LockedBy = workerID
		j.LockedAt = now
		j.Attempt++
		j.UpdatedAt = now
		s.addEvent(j.ID, "claimed", workerID)
	}
	return candidates
}

// Patch is the mutable subset Update may change.
type Patch struct {
	Status    *Status
	LastError *string
	RunAt     *time.Time
	ClearLock bool
}

// Update applies patch to jobID.
func (s *Store) Update(jobID string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("jobs: %s not found", jobID)
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.LastError != nil {
		j.LastError = *patch.LastError
	}
	if patch.RunAt != nil {
		j.RunAt = *patch.RunAt
	}
	if patch.ClearLock {
		j.LockedBy = ""
		j.LockedAt = time.Time{}
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns the job, or (nil, false).
func (s *Store) Get(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// List returns every job for a workspace, newest first.
func (s *Store) List(workspaceID string) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if j.WorkspaceID == workspaceID {
			out = append(out, j)
		}
	}
	return out
}

// ListEvents returns jobID's lifecycle events, oldest first.
func (s *Store) ListEvents(jobID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events[jobID]))
	copy(out, s.events[jobID])
	return out
}

// AddEvent appends a caller-supplied lifecycle note (used by admin retry/cancel).
func (s *Store) AddEvent(jobID, kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addEvent(jobID, kind, detail)
}

// Retry re-queues a failed/dead job immediately (admin operation).
func (s *Store) Retry(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("jobs: %s not found", jobID)
	}
	j.Status = StatusQueued
	j.RunAt = time.Now().UTC()
	j.LastError = ""
	j.UpdatedAt = j.RunAt
	s.addEvent(jobID, "retried", "")
	return nil
}

// Cancel sets a job dead with last_error "Cancelled" (spec.md §5:
// "cooperative model", no in-flight cancellation attempted).
func (s *Store) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("jobs: %s not found", jobID)
	}
	j.Status = StatusDead
	j.LastError = "Cancelled"
	j.UpdatedAt = time.Now().UTC()
	s.addEvent(jobID, "cancelled", "")
	return nil
}

// BackoffSeconds computes min(60 * 2^(attempt-1), 3600), the formula
// spec.md §4.10 gives verbatim (grounded on
// original_source/app/worker.py::_backoff_seconds).
func BackoffSeconds(attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	secs := 60
	for i := 1; i < attempt; i++ {
		secs *= 2
		if secs >= 3600 {
			return 3600
		}
	}
	return secs
}
