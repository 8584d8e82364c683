package eventbus

import (
	"errors"
	"testing"

	"github.com/lowcraft/runtime/internal/manifest"
)

func baseMeta() Meta {
	return Meta{ModuleID: "crm", ManifestHash: "sha256:abc"}
}

func TestMakeEventFillsDefaults(t *testing.T) {
	ev, err := MakeEvent("record.created", manifest.Doc{"id": "r1"}, baseMeta())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Meta.EventID == "" {
		t.Fatal("expected event_id to be filled")
	}
	if ev.Meta.SchemaVersion != "1" {
		t.Fatalf("expected schema_version 1, got %q", ev.Meta.SchemaVersion)
	}
	if !occurredAtPattern.MatchString(ev.Meta.OccurredAt) {
		t.Fatalf("occurred_at %q does not match the required pattern", ev.Meta.OccurredAt)
	}
}

func TestMakeEventRejectsMissingManifestHashPrefix(t *testing.T) {
	meta := baseMeta()
	meta.ManifestHash = "abc"
	if _, err := MakeEvent("record.created", manifest.Doc{}, meta); err == nil {
		t.Fatal("expected error for manifest_hash without sha256: prefix")
	}
}

func TestMakeEventRejectsEmptyName(t *testing.T) {
	if _, err := MakeEvent("", manifest.Doc{}, baseMeta()); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestMakeEventDeepCopiesPayload(t *testing.T) {
	payload := manifest.Doc{"nested": manifest.Doc{"v": 1}}
	ev, err := MakeEvent("record.created", payload, baseMeta())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload["nested"].(manifest.Doc)["v"] = 2
	if ev.Payload["nested"].(manifest.Doc)["v"] != 1 {
		t.Fatal("mutating the original payload should not affect the event's copy")
	}
}

func TestBusPublishDispatchesByNameAndGlobally(t *testing.T) {
	b := New()
	var named, global int
	b.Subscribe("record.created", func(ev Event) error { named++; return nil })
	b.SubscribeAll(func(ev Event) error { global++; return nil })

	ev, _ := MakeEvent("record.created", manifest.Doc{}, baseMeta())
	b.Publish(ev)

	if named != 1 || global != 1 {
		t.Fatalf("expected 1 named and 1 global dispatch, got %d/%d", named, global)
	}
	if len(b.Outbox().Pending()) != 1 {
		t.Fatal("expected the event enqueued on the outbox")
	}
}

func TestBusSuppressesSubscriberPanicsAndErrors(t *testing.T) {
	b := New()
	var calledAfter bool
	b.Subscribe("record.created", func(ev Event) error { panic("boom") })
	b.Subscribe("record.created", func(ev Event) error { return errors.New("fail") })
	b.Subscribe("record.created", func(ev Event) error { calledAfter = true; return nil })

	ev, _ := MakeEvent("record.created", manifest.Doc{}, baseMeta())
	b.Publish(ev)

	if !calledAfter {
		t.Fatal("a panicking/erroring subscriber must not block later subscribers")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var count int
	id := b.Subscribe("record.created", func(ev Event) error { count++; return nil })
	b.Unsubscribe(id)

	ev, _ := MakeEvent("record.created", manifest.Doc{}, baseMeta())
	b.Publish(ev)

	if count != 0 {
		t.Fatalf("expected 0 dispatches after unsubscribe, got %d", count)
	}
}

func TestOutboxAckRemovesOldestN(t *testing.T) {
	o := NewOutbox()
	ev1, _ := MakeEvent("a", manifest.Doc{}, baseMeta())
	ev2, _ := MakeEvent("b", manifest.Doc{}, baseMeta())
	o.Enqueue(ev1)
	o.Enqueue(ev2)
	o.Ack(1)
	pending := o.Pending()
	if len(pending) != 1 || pending[0].Name != "b" {
		t.Fatalf("expected only %q left pending, got %+v", "b", pending)
	}
}
