package actionexec

import (
	"testing"

	"github.com/lowcraft/runtime/internal/activity"
	"github.com/lowcraft/runtime/internal/eventbus"
	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/manifeststore"
	"github.com/lowcraft/runtime/internal/records"
	"github.com/lowcraft/runtime/internal/registry"
)

const wsID = "ws_1"

// dealEntity declares a required name, an enum status, and a lookup field
// whose domain requires the candidate account's region to match the
// record's own region (spec.md §8 scenario 2).
func dealEntity() manifest.Entity {
	return manifest.EntityFromDoc(manifest.Doc{
		"id": "entity.deal",
		"fields": []any{
			manifest.Doc{"id": "id", "type": string(manifest.FieldUUID)},
			manifest.Doc{"id": "name", "type": string(manifest.FieldString), "required": true},
			manifest.Doc{"id": "region", "type": string(manifest.FieldString)},
			manifest.Doc{"id": "status", "type": string(manifest.FieldEnum), "options": []any{"open", "won", "lost"}},
			manifest.Doc{
				"id": "account_id", "type": string(manifest.FieldLookup), "target": "entity.account",
				"domain": manifest.Doc{
					"op":    "eq",
					"left":  manifest.Doc{"ref": "$candidate.region"},
					"right": manifest.Doc{"ref": "$record.region"},
				},
			},
		},
	})
}

func newTestExecutor() (*Executor, *records.Store) {
	manifests := manifeststore.New()
	recs := records.New()
	reg := registry.New(manifests, recs)
	act := activity.New()
	bus := eventbus.New()
	return New(reg, manifests, recs, act, bus), recs
}

func TestExecuteCreateRequiredFieldMissing(t *testing.T) {
	ex, _ := newTestExecutor()
	actionDoc := manifest.Doc{"defaults": manifest.Doc{"region": "east"}}

	_, err := ex.executeCreate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, "user_1", nil)
	if err == nil {
		t.Fatal("expected validation error for missing required name")
	}
	re, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if re.Code != "RECORD_WRITE_FAILED" {
		t.Fatalf("expected RECORD_WRITE_FAILED, got %s", re.Code)
	}
}

func TestExecuteCreateEnumInvalid(t *testing.T) {
	ex, _ := newTestExecutor()
	actionDoc := manifest.Doc{"defaults": manifest.Doc{"name": "Acme deal", "status": "bogus"}}

	_, err := ex.executeCreate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, "user_1", nil)
	if err == nil {
		t.Fatal("expected validation error for invalid enum value")
	}
	if re, ok := err.(*Error); !ok || re.Code != "RECORD_WRITE_FAILED" {
		t.Fatalf("expected RECORD_WRITE_FAILED, got %v", err)
	}
}

func TestExecuteCreateSucceedsAndEmitsRecordCreated(t *testing.T) {
	ex, _ := newTestExecutor()
	actionDoc := manifest.Doc{"defaults": manifest.Doc{"name": "Acme deal", "status": "open", "region": "east"}}

	result, err := ex.executeCreate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, "user_1", nil)
	if err != nil {
		t.Fatalf("executeCreate: %v", err)
	}
	if result.Kind != "create_record" {
		t.Fatalf("expected kind create_record, got %s", result.Kind)
	}
	if result.Record["name"] != "Acme deal" {
		t.Fatalf("expected created record to carry name, got %v", result.Record)
	}
	found := false
	for _, name := range result.EventsEmitted {
		if name == "record.created" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected record.created in emitted events, got %v", result.EventsEmitted)
	}
}

func TestExecuteUpdateRejectsUnknownRecord(t *testing.T) {
	ex, _ := newTestExecutor()
	actionDoc := manifest.Doc{"patch": manifest.Doc{"name": "New name"}}

	_, err := ex.executeUpdate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, "missing", "user_1", nil)
	if err == nil {
		t.Fatal("expected RECORD_NOT_FOUND")
	}
	if re, ok := err.(*Error); !ok || re.Code != "RECORD_NOT_FOUND" {
		t.Fatalf("expected RECORD_NOT_FOUND, got %v", err)
	}
}

func TestExecuteBulkUpdateRequiresSelection(t *testing.T) {
	ex, _ := newTestExecutor()
	actionDoc := manifest.Doc{"patch": manifest.Doc{"status": "won"}}

	_, err := ex.executeBulkUpdate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, nil, "user_1", nil)
	if err == nil {
		t.Fatal("expected ACTION_SELECTION_REQUIRED")
	}
	if re, ok := err.(*Error); !ok || re.Code != "ACTION_SELECTION_REQUIRED" {
		t.Fatalf("expected ACTION_SELECTION_REQUIRED, got %v", err)
	}
}

func TestExecuteBulkUpdateAppliesPatchToEachSelectedRecord(t *testing.T) {
	ex, recs := newTestExecutor()
	_, dealA := recs.Create(wsID, "entity.deal", manifest.Doc{"name": "Deal A", "status": "open", "region": "east"})
	idA, _ := dealA["id"].(string)
	_, dealB := recs.Create(wsID, "entity.deal", manifest.Doc{"name": "Deal B", "status": "open", "region": "east"})
	idB, _ := dealB["id"].(string)

	actionDoc := manifest.Doc{"patch": manifest.Doc{"status": "won"}}
	result, err := ex.executeBulkUpdate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, []string{idA, idB}, "user_1", nil)
	if err != nil {
		t.Fatalf("executeBulkUpdate: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 updated records, got %d", len(result.Records))
	}
	for _, rec := range result.Records {
		if rec["status"] != "won" {
			t.Fatalf("expected status won, got %v", rec["status"])
		}
	}
}

// TestLookupDomainViolationRejectsMismatchedRegion proves spec.md §8
// scenario 2: a candidate account whose region differs from the deal's own
// region is rejected with LOOKUP_DOMAIN_VIOLATION, not CONDITION_INVALID.
func TestLookupDomainViolationRejectsMismatchedRegion(t *testing.T) {
	ex, recs := newTestExecutor()
	accountID, _ := recs.Create(wsID, "entity.account", manifest.Doc{"name": "West Co", "region": "west"})

	actionDoc := manifest.Doc{"defaults": manifest.Doc{
		"name": "Mismatched deal", "status": "open", "region": "east", "account_id": accountID,
	}}
	_, err := ex.executeCreate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, "user_1", nil)
	if err == nil {
		t.Fatal("expected lookup domain violation")
	}
	re, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	detail, ok := re.Detail["issues"].([]any)
	if !ok || len(detail) == 0 {
		t.Fatalf("expected issues in error detail, got %v", re.Detail)
	}
	foundViolation := false
	for _, raw := range detail {
		issue, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if issue["code"] == "LOOKUP_DOMAIN_VIOLATION" {
			foundViolation = true
		}
		if issue["code"] == "CONDITION_INVALID" {
			t.Fatalf("domain comparison must not be rejected as malformed: %v", issue)
		}
	}
	if !foundViolation {
		t.Fatalf("expected LOOKUP_DOMAIN_VIOLATION among issues, got %v", detail)
	}
}

// TestLookupDomainSatisfiedAcceptsMatchingRegion is the mirror of the above:
// a candidate whose region matches the record's own region must pass.
func TestLookupDomainSatisfiedAcceptsMatchingRegion(t *testing.T) {
	ex, recs := newTestExecutor()
	_, account := recs.Create(wsID, "entity.account", manifest.Doc{"name": "East Co", "region": "east"})
	accountID, _ := account["id"].(string)

	actionDoc := manifest.Doc{"defaults": manifest.Doc{
		"name": "Matching deal", "status": "open", "region": "east", "account_id": accountID,
	}}
	result, err := ex.executeCreate(wsID, "mod.crm", "crm", actionDoc, dealEntity(), manifest.Workflow{}, false, nil, "user_1", nil)
	if err != nil {
		t.Fatalf("executeCreate: %v", err)
	}
	if result.Record["account_id"] != accountID {
		t.Fatalf("expected account_id to be set, got %v", result.Record["account_id"])
	}
}
