// Package eventbus implements event envelope construction/validation, a
// FIFO outbox, and an in-process publish/subscribe bus. Grounded on
// original_source/event_bus.py and outbox.py, ported line-for-line in
// idiom: MakeEvent fills defaults the way the source's make_event() does,
// ValidateEvent mirrors its field-by-field checks, and the Bus dispatches
// to subscribers the way its publish() loop does, suppressing subscriber
// panics/errors (spec.md §4.8: "subscriber exceptions are suppressed").
package eventbus

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/manifest"
)

// Meta is the event envelope's meta block, per spec.md §3.
type Meta struct {
	EventID       string
	OccurredAt    string
	WorkspaceID   string
	ModuleID      string
	ManifestHash  string
	Actor         *Actor
	TraceID       string
	SchemaVersion string
}

// Actor is the {id, roles[]} shape carried on an event's meta.actor.
type Actor struct {
	ID    string
	Roles []string
}

// Event is the envelope spec.md §3 defines. MakeEvent deep-copies the
// payload it is given, and nothing in this package mutates Payload or Meta
// afterwards; Pending and Publish hand out the same Payload map, not
// copies.
type Event struct {
	Name    string
	Payload manifest.Doc
	Meta    Meta
}

// EventValidationError carries a precise JSON-pointer-like path to the
// invalid field, per spec.md §3.
type EventValidationError struct {
	Path    string
	Message string
}

func (e *EventValidationError) Error() string {
	return fmt.Sprintf("event validation: %s: %s", e.Path, e.Message)
}

func verr(path, format string, args ...any) *EventValidationError {
	return &EventValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

var occurredAtPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

// MakeEvent fills event_id (UUIDv4 if absent), occurred_at (current UTC,
// "YYYY-MM-DDTHH:MM:SSZ"), and schema_version="1", then validates and
// deep-copies payload and meta, per spec.md §4.8.
func MakeEvent(name string, payload manifest.Doc, meta Meta) (Event, error) {
	if meta.EventID == "" {
		meta.EventID = uuid.NewString()
	}
	if meta.OccurredAt == "" {
		meta.OccurredAt = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}
	meta.SchemaVersion = "1"

	ev := Event{
		Name:    name,
		Payload: manifest.CloneDoc(payload).(manifest.Doc),
		Meta:    meta,
	}
	if err := ValidateEvent(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ValidateEvent applies the envelope integrity rules spec.md §8 names:
// occurred_at matches the Z-suffixed ISO8601 pattern, manifest_hash starts
// "sha256:", schema_version is "1", payload has no non-finite floats and
// every key is a string (guaranteed by Go's map[string]any already).
func ValidateEvent(ev Event) error {
	if ev.Name == "" {
		return verr("/name", "event name must not be empty")
	}
	if ev.Payload == nil {
		return verr("/payload", "payload must not be nil")
	}
	if err := checkFinite(ev.Payload, "/payload"); err != nil {
		return err
	}
	if ev.Meta.EventID == "" {
		return verr("/meta/event_id", "event_id must not be empty")
	}
	if !occurredAtPattern.MatchString(ev.Meta.OccurredAt) {
		return verr("/meta/occurred_at", "occurred_at %q must match ^\\d{4}-\\d{2}-\\d{2}T\\d{2}:\\d{2}:\\d{2}Z$", ev.Meta.OccurredAt)
	}
	if ev.Meta.ModuleID == "" {
		return verr("/meta/module_id", "module_id must not be empty")
	}
	if !strings.HasPrefix(ev.Meta.ManifestHash, "sha256:") {
		return verr("/meta/manifest_hash", "manifest_hash must begin with 'sha256:'")
	}
	if ev.Meta.SchemaVersion != "1" {
		return verr("/meta/schema_version", "schema_version must be \"1\", got %q", ev.Meta.SchemaVersion)
	}
	return nil
}

func checkFinite(v any, path string) error {
	switch val := v.(type) {
	case float64:
		if val != val || val > 1e308*10 || val < -1e308*10 { // NaN/Inf guard without importing math twice
			return verr(path, "non-finite float is not allowed in an event payload")
		}
	case manifest.Doc:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := checkFinite(val[k], path+"/"+k); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range val {
			if err := checkFinite(item, fmt.Sprintf("%s/%d", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Outbox is a simple FIFO queue of validated event envelopes awaiting
// delivery, per spec.md §3/§4.8.
type Outbox struct {
	mu    sync.Mutex
	items []Event
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox { return &Outbox{} }

// Enqueue appends ev to the tail of the queue.
func (o *Outbox) Enqueue(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, ev)
}

// Pending returns a snapshot of all currently queued events, oldest first.
func (o *Outbox) Pending() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.items))
	copy(out, o.items)
	return out
}

// Ack removes the oldest n entries (n clamped to the queue length).
func (o *Outbox) Ack(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > len(o.items) {
		n = len(o.items)
	}
	o.items = o.items[n:]
}

// Clear empties the queue.
func (o *Outbox) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = nil
}

// Subscriber receives a published event. A returned error (or a recovered
// panic) is suppressed by the Bus so one broken subscriber never blocks
// delivery to the rest.
type Subscriber func(ev Event) error

type subscription struct {
	id   int
	name string
	fn   Subscriber
}

// Bus is an in-process, order-preserving publish/subscribe dispatcher
// fronted by an Outbox.
type Bus struct {
	outbox *Outbox

	mu        sync.Mutex
	subs      map[string][]subscription
	global    []subscription
	nextSubID int
}

// New returns a Bus backed by a fresh Outbox.
func New() *Bus {
	return &Bus{outbox: NewOutbox(), subs: make(map[string][]subscription)}
}

// Outbox returns the bus's backing outbox.
func (b *Bus) Outbox() *Outbox { return b.outbox }

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID int

// Subscribe registers fn for events named name, additive and
// order-preserving (spec.md §4.8).
func (b *Bus) Subscribe(name string, fn Subscriber) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.subs[name] = append(b.subs[name], subscription{id: id, name: name, fn: fn})
	return SubscriptionID(id)
}

// SubscribeAll registers fn for every event the bus publishes, regardless of
// name — the hook the automation matcher uses to scan every emitted event
// against published automations (spec.md §4.9: "on every emitted event").
func (b *Bus) SubscribeAll(fn Subscriber) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.global = append(b.global, subscription{id: id, fn: fn})
	return SubscriptionID(id)
}

// Unsubscribe removes a previously-registered subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, list := range b.subs {
		for i, s := range list {
			if s.id == int(id) {
				b.subs[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
	for i, s := range b.global {
		if s.id == int(id) {
			b.global = append(b.global[:i:i], b.global[i+1:]...)
			return
		}
	}
}

// Publish enqueues ev to the outbox then dispatches it to every subscriber
// registered for ev.Name, in registration order. Subscriber errors and
// panics are recovered and suppressed.
func (b *Bus) Publish(ev Event) {
	b.outbox.Enqueue(ev)

	b.mu.Lock()
	list := make([]subscription, len(b.subs[ev.Name]))
	copy(list, b.subs[ev.Name])
	global := make([]subscription, len(b.global))
	copy(global, b.global)
	b.mu.Unlock()

	for _, s := range list {
		dispatchSafely(s.fn, ev)
	}
	for _, s := range global {
		dispatchSafely(s.fn, ev)
	}
}

func dispatchSafely(fn Subscriber, ev Event) {
	defer func() {
		_ = recover()
	}()
	_ = fn(ev)
}
