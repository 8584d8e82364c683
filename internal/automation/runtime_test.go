package automation

import (
	"context"
	"testing"

	"github.com/lowcraft/runtime/internal/eventbus"
	"github.com/lowcraft/runtime/internal/jobs"
	"github.com/lowcraft/runtime/internal/manifest"
)

const runtimeTestWsID = "ws_runtime_1"

func newTestRuntime() (*Runtime, *eventbus.Bus) {
	store := NewStore()
	jobStore := jobs.New()
	bus := eventbus.New()
	rt := New(store, jobStore, bus, nil, nil, nil, nil, nil, nil)
	rt.WireMatcher(func(ev eventbus.Event) string { return ev.Meta.WorkspaceID })
	return rt, bus
}

// publishedAutomation matches record.updated events and runs a single
// no-op action step, per spec.md §8 scenario 1.
func publishedAutomation(id string) Automation {
	return Automation{
		ID:     id,
		Name:   "notify on update",
		Status: StatusPublished,
		Trigger: Trigger{
			Kind:       "event",
			EventTypes: []string{"record.updated"},
		},
		Steps: []Step{
			{ID: "step_1", Kind: StepAction, ActionID: "system.noop"},
		},
	}
}

// TestWireMatcherFiresExactlyOneRunOnMatchingEvent proves spec.md §8
// scenario 1: a record update publishes an event, the matcher picks up the
// published automation whose trigger names that event, and materializes
// exactly one run — not zero (the WorkspaceID-stamping/matcher-wiring bug),
// not more than one.
func TestWireMatcherFiresExactlyOneRunOnMatchingEvent(t *testing.T) {
	rt, bus := newTestRuntime()
	rt.Store.Upsert(runtimeTestWsID, publishedAutomation("automation_1"))

	payload := manifest.Doc{"entity_id": "entity.deal", "record_id": "rec_1", "record": manifest.Doc{"status": "won"}}
	ev, err := eventbus.MakeEvent("record.updated", payload, eventbus.Meta{
		WorkspaceID: runtimeTestWsID, ModuleID: "mod.crm", ManifestHash: "sha256:abc",
	})
	if err != nil {
		t.Fatalf("MakeEvent: %v", err)
	}
	bus.Publish(ev)

	runs := rt.Store.ListRuns(runtimeTestWsID)
	if len(runs) != 1 {
		t.Fatalf("expected exactly 1 automation_run, got %d", len(runs))
	}
	if runs[0].Status != RunQueued {
		t.Fatalf("expected run status queued, got %s", runs[0].Status)
	}
}

// TestWireMatcherSkipsEventsMissingWorkspaceID guards the other direction:
// an event with no WorkspaceID must never match, since WireMatcher's
// workspaceOf guard returns "" for it.
func TestWireMatcherSkipsEventsMissingWorkspaceID(t *testing.T) {
	rt, bus := newTestRuntime()
	rt.Store.Upsert(runtimeTestWsID, publishedAutomation("automation_1"))

	ev := eventbus.Event{
		Name:    "record.updated",
		Payload: manifest.Doc{"entity_id": "entity.deal"},
		Meta:    eventbus.Meta{ModuleID: "mod.crm", ManifestHash: "sha256:abc", EventID: "evt_1", OccurredAt: "2026-01-01T00:00:00Z", SchemaVersion: "1"},
	}
	bus.Publish(ev)

	if runs := rt.Store.ListRuns(runtimeTestWsID); len(runs) != 0 {
		t.Fatalf("expected no runs for a workspace-less event, got %d", len(runs))
	}
}

// TestAdvanceRunSucceedsThroughSingleNoopStep drives the materialized run
// from scenario 1 through Advance and confirms it reaches RunSucceeded —
// "exactly one succeeded automation_run", per spec.md §8 scenario 1.
func TestAdvanceRunSucceedsThroughSingleNoopStep(t *testing.T) {
	rt, bus := newTestRuntime()
	rt.Store.Upsert(runtimeTestWsID, publishedAutomation("automation_1"))

	payload := manifest.Doc{"entity_id": "entity.deal", "record_id": "rec_1"}
	ev, err := eventbus.MakeEvent("record.updated", payload, eventbus.Meta{
		WorkspaceID: runtimeTestWsID, ModuleID: "mod.crm", ManifestHash: "sha256:abc",
	})
	if err != nil {
		t.Fatalf("MakeEvent: %v", err)
	}
	bus.Publish(ev)

	runs := rt.Store.ListRuns(runtimeTestWsID)
	if len(runs) != 1 {
		t.Fatalf("expected exactly 1 automation_run, got %d", len(runs))
	}
	runID := runs[0].ID

	if err := rt.Advance(context.Background(), runtimeTestWsID, runID); err != nil {
		t.Fatalf("Advance (run noop step): %v", err)
	}
	if err := rt.Advance(context.Background(), runtimeTestWsID, runID); err != nil {
		t.Fatalf("Advance (finish run): %v", err)
	}

	run, ok := rt.Store.GetRun(runtimeTestWsID, runID)
	if !ok {
		t.Fatal("run disappeared")
	}
	if run.Status != RunSucceeded {
		t.Fatalf("expected run to succeed, got status %s (last_error=%q)", run.Status, run.LastError)
	}

	succeeded := 0
	for _, r := range rt.Store.ListRuns(runtimeTestWsID) {
		if r.Status == RunSucceeded {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one succeeded automation_run, got %d", succeeded)
	}
}

// TestMatchEventFilterRejectsNonMatchingPayload exercises the matcher's
// filter predicate directly: a trigger naming a filter the payload fails
// must not match even when the event type matches.
func TestMatchEventFilterRejectsNonMatchingPayload(t *testing.T) {
	trigger := Trigger{
		Kind:       "event",
		EventTypes: []string{"record.updated"},
		Filters:    []Filter{{Path: "record.status", Op: "eq", Value: "won"}},
	}
	payload := manifest.Doc{"record": manifest.Doc{"status": "open"}}
	if MatchEvent(trigger, "record.updated", payload) {
		t.Fatal("expected filter mismatch to reject the event")
	}
	payload["record"] = manifest.Doc{"status": "won"}
	if !MatchEvent(trigger, "record.updated", payload) {
		t.Fatal("expected matching filter value to match")
	}
}
