package automation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/manifest"
)

// Status is an automation's lifecycle state, per spec.md §3.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusDisabled  Status = "disabled"
)

// StepKind enumerates the step kinds spec.md §3 names.
type StepKind string

const (
	StepAction    StepKind = "action"
	StepCondition StepKind = "condition"
	StepDelay     StepKind = "delay"
)

// RetryPolicy is a step's `{max_attempts, backoff_seconds}` retry budget.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffSeconds int
}

// Step is one automation step, per spec.md §3.
type Step struct {
	ID            string
	Kind          StepKind
	ActionID      string
	ModuleID      string
	Inputs        manifest.Doc
	Retry         *RetryPolicy
	Expr          any
	IfTrueGoto    *int
	IfFalseGoto   *int
	Seconds       *int
	Until         string
}

// Automation is `{id, name, status, trigger, steps[]}`, per spec.md §3.
type Automation struct {
	ID          string
	Name        string
	Description string
	Status      Status
	Trigger     Trigger
	Steps       []Step
}

// RunStatus enumerates automation run states, per spec.md §3.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is an automation run, per spec.md §3.
type Run struct {
	ID               string
	AutomationID     string
	WorkspaceID      string
	Status           RunStatus
	CurrentStepIndex int
	TriggerType      string
	TriggerPayload   manifest.Doc
	StartedAt        time.Time
	EndedAt          time.Time
	LastError        string
}

// StepRunStatus enumerates step run states.
type StepRunStatus string

const (
	StepRunRunning   StepRunStatus = "running"
	StepRunSucceeded StepRunStatus = "succeeded"
	StepRunFailed    StepRunStatus = "failed"
)

// StepRun is a materialized execution of one step attempt, per spec.md §3.
type StepRun struct {
	ID             string
	RunID          string
	StepIndex      int
	StepID         string
	Attempt        int
	Status         StepRunStatus
	IdempotencyKey string
	Input          manifest.Doc
	Output         manifest.Doc
	StartedAt      time.Time
	EndedAt        time.Time
	LastError      string
}

type wsKey struct {
	workspaceID, id string
}

// Store holds automations, runs, and step runs, all tenant-scoped.
type Store struct {
	mu          sync.Mutex
	automations map[wsKey]*Automation
	order       map[string][]string // workspaceID -> automation ids, insertion order
	runs        map[wsKey]*Run
	runOrder    map[string][]string // workspaceID -> run ids, insertion order
	stepRuns    map[string][]*StepRun // run id -> step runs, append order
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		automations: make(map[wsKey]*Automation),
		order:       make(map[string][]string),
		runs:        make(map[wsKey]*Run),
		runOrder:    make(map[string][]string),
		stepRuns:    make(map[string][]*StepRun),
	}
}

// Upsert creates or replaces an automation definition.
func (s *Store) Upsert(workspaceID string, a Automation) *Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = "automation_" + uuid.NewString()
	}
	key := wsKey{workspaceID, a.ID}
	if _, exists := s.automations[key]; !exists {
		s.order[workspaceID] = append(s.order[workspaceID], a.ID)
	}
	cp := a
	s.automations[key] = &cp
	return &cp
}

// Get returns the automation, or (nil, false).
func (s *Store) Get(workspaceID, id string) (*Automation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[wsKey{workspaceID, id}]
	return a, ok
}

// List returns every automation in a workspace, insertion order.
func (s *Store) List(workspaceID string) []*Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Automation
	for _, id := range s.order[workspaceID] {
		if a, ok := s.automations[wsKey{workspaceID, id}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Published returns every published automation in a workspace.
func (s *Store) Published(workspaceID string) []*Automation {
	var out []*Automation
	for _, a := range s.List(workspaceID) {
		if a.Status == StatusPublished {
			out = append(out, a)
		}
	}
	return out
}

// SetStatus transitions an automation's status (publish/disable).
func (s *Store) SetStatus(workspaceID, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[wsKey{workspaceID, id}]
	if !ok {
		return fmt.Errorf("automation: %s not found", id)
	}
	a.Status = status
	return nil
}

// Delete removes an automation definition.
func (s *Store) Delete(workspaceID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.automations, wsKey{workspaceID, id})
	ids := s.order[workspaceID]
	for i, existing := range ids {
		if existing == id {
			s.order[workspaceID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// CreateRun materializes a new run in status=queued, current_step_index=0,
// per spec.md §4.9.
func (s *Store) CreateRun(workspaceID, automationID, triggerType string, payload manifest.Doc) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Run{
		ID:             "run_" + uuid.NewString(),
		AutomationID:   automationID,
		WorkspaceID:    workspaceID,
		Status:         RunQueued,
		TriggerType:    triggerType,
		TriggerPayload: payload,
	}
	s.runs[wsKey{workspaceID, r.ID}] = r
	s.runOrder[workspaceID] = append(s.runOrder[workspaceID], r.ID)
	return r
}

// GetRun returns a run by id.
func (s *Store) GetRun(workspaceID, runID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[wsKey{workspaceID, runID}]
	return r, ok
}

// ListRuns returns every run in a workspace, newest first.
func (s *Store) ListRuns(workspaceID string) []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.runOrder[workspaceID]
	out := make([]*Run, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if r, ok := s.runs[wsKey{workspaceID, ids[i]}]; ok {
			out = append(out, r)
		}
	}
	return out
}

// UpdateRun applies fn to the run under lock, letting the runtime mutate
// status/current_step_index/last_error atomically with respect to
// concurrent worker cycles on the same run.
func (s *Store) UpdateRun(workspaceID, runID string, fn func(r *Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[wsKey{workspaceID, runID}]
	if !ok {
		return fmt.Errorf("automation: run %s not found", runID)
	}
	fn(r)
	return nil
}

// FindStepRun returns the step run with the given idempotency key, if any
// already exists — the dedup check spec.md §4.9 requires before
// re-executing a step.
func (s *Store) FindStepRun(runID, idempotencyKey string) (*StepRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sr := range s.stepRuns[runID] {
		if sr.IdempotencyKey == idempotencyKey {
			return sr, true
		}
	}
	return nil, false
}

// CreateStepRun appends a new step run in status=running.
func (s *Store) CreateStepRun(runID string, stepIndex int, stepID string, attempt int, idempotencyKey string, input manifest.Doc) *StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := &StepRun{
		ID: "steprun_" + uuid.NewString(), RunID: runID, StepIndex: stepIndex, StepID: stepID,
		Attempt: attempt, Status: StepRunRunning, IdempotencyKey: idempotencyKey,
		Input: input, StartedAt: time.Now().UTC(),
	}
	s.stepRuns[runID] = append(s.stepRuns[runID], sr)
	return sr
}

// FinishStepRun marks a step run succeeded/failed.
func (s *Store) FinishStepRun(sr *StepRun, status StepRunStatus, output manifest.Doc, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr.Status = status
	sr.Output = output
	sr.LastError = lastError
	sr.EndedAt = time.Now().UTC()
}

// ListStepRuns returns a run's step runs in creation order.
func (s *Store) ListStepRuns(runID string) []*StepRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StepRun, len(s.stepRuns[runID]))
	copy(out, s.stepRuns[runID])
	return out
}

// StepByID returns a in steps by id.
func StepByID(steps []Step, id string) (Step, bool) {
	for _, s := range steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}


// AutomationFromDoc decodes a manifest-shaped automation definition
// (import/export surface, spec.md §6).
func AutomationFromDoc(d manifest.Doc) Automation {
	a := Automation{
		ID:          manifest.Str(d, "id"),
		Name:        manifest.Str(d, "name"),
		Description: manifest.Str(d, "description"),
		Status:      Status(manifest.Str(d, "status")),
		Trigger:     TriggerFromDoc(manifest.Section(d, "trigger")),
	}
	for _, sd := range manifest.AsDocSlice(manifest.List(d, "steps")) {
		a.Steps = append(a.Steps, stepFromDoc(sd))
	}
	return a
}

func stepFromDoc(d manifest.Doc) Step {
	st := Step{
		ID:       manifest.Str(d, "id"),
		Kind:     StepKind(manifest.Str(d, "kind")),
		ActionID: manifest.Str(d, "action_id"),
		ModuleID: manifest.Str(d, "module_id"),
		Inputs:   manifest.Section(d, "inputs"),
		Expr:     d["expr"],
		Until:    manifest.Str(d, "until"),
	}
	if rp, ok := d["retry_policy"].(manifest.Doc); ok {
		st.Retry = &RetryPolicy{MaxAttempts: manifest.Int(rp, "max_attempts", 1), BackoffSeconds: manifest.Int(rp, "backoff_seconds", 60)}
	}
	if v, ok := d["if_true_goto"]; ok {
		n := manifest.Int(manifest.Doc{"v": v}, "v", -1)
		if n >= 0 {
			st.IfTrueGoto = &n
		}
	}
	if v, ok := d["if_false_goto"]; ok {
		n := manifest.Int(manifest.Doc{"v": v}, "v", -1)
		if n >= 0 {
			st.IfFalseGoto = &n
		}
	}
	if v, ok := d["seconds"]; ok {
		n := manifest.Int(manifest.Doc{"v": v}, "v", 0)
		st.Seconds = &n
	}
	return st
}

// ExportDoc round-trips an automation back into the {name, description,
// trigger, steps} import/export shape spec.md §6 names.
func ExportDoc(a *Automation) manifest.Doc {
	steps := make([]any, 0, len(a.Steps))
	for _, st := range a.Steps {
		sd := manifest.Doc{"id": st.ID, "kind": string(st.Kind)}
		switch st.Kind {
		case StepAction:
			sd["action_id"] = st.ActionID
			if st.ModuleID != "" {
				sd["module_id"] = st.ModuleID
			}
			sd["inputs"] = st.Inputs
			if st.Retry != nil {
				sd["retry_policy"] = manifest.Doc{"max_attempts": st.Retry.MaxAttempts, "backoff_seconds": st.Retry.BackoffSeconds}
			}
		case StepCondition:
			sd["expr"] = st.Expr
			if st.IfTrueGoto != nil {
				sd["if_true_goto"] = *st.IfTrueGoto
			}
			if st.IfFalseGoto != nil {
				sd["if_false_goto"] = *st.IfFalseGoto
			}
		case StepDelay:
			if st.Seconds != nil {
				sd["seconds"] = *st.Seconds
			}
			if st.Until != "" {
				sd["until"] = st.Until
			}
		}
		steps = append(steps, sd)
	}
	filters := make([]any, 0, len(a.Trigger.Filters))
	for _, f := range a.Trigger.Filters {
		filters = append(filters, manifest.Doc{"path": f.Path, "op": f.Op, "value": f.Value})
	}
	eventTypes := make([]any, 0, len(a.Trigger.EventTypes))
	for _, et := range a.Trigger.EventTypes {
		eventTypes = append(eventTypes, et)
	}
	return manifest.Doc{
		"name":        a.Name,
		"description": a.Description,
		"trigger":     manifest.Doc{"kind": a.Trigger.Kind, "event_types": eventTypes, "filters": filters},
		"steps":       steps,
	}
}
