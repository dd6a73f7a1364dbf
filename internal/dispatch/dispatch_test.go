package dispatch

import (
	"path/filepath"
	"testing"

	"github.com/hazyhaar/evidenceledger/internal/ledger"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := ledger.NewStore(ledger.Options{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if r := store.Init(); !r.OK {
		t.Fatalf("store init: %+v", r)
	}
	t.Cleanup(func() { store.Close() })
	return New(ledger.NewInvestigator(store), nil)
}

func dispatchOK(t *testing.T, d *Dispatcher, action string, payload map[string]any) map[string]any {
	t.Helper()
	res := d.Dispatch(action, payload, "test-caller")
	if okv, _ := res["ok"].(bool); !okv {
		t.Fatalf("%s failed: %v", action, res)
	}
	return res
}

func TestDispatchUnknownAction(t *testing.T) {
	d := newTestDispatcher(t)
	res := d.Dispatch("drop-tables", nil, "")
	if okv, _ := res["ok"].(bool); okv {
		t.Fatal("unknown action should fail")
	}
	if res["reason"] != "unknown_action" {
		t.Errorf("reason = %v, want unknown_action", res["reason"])
	}
}

func TestDispatchCreateIncidentFillsCaller(t *testing.T) {
	d := newTestDispatcher(t)
	created := dispatchOK(t, d, "create-incident", map[string]any{"title": "slow queries"})
	incidentID, _ := created["incidentId"].(string)
	if incidentID == "" {
		t.Fatal("no incidentId in result")
	}

	got := dispatchOK(t, d, "get-incident", map[string]any{"incidentId": incidentID})
	incident, _ := got["incident"].(map[string]any)
	if incident == nil {
		t.Fatal("no incident in result")
	}
	if incident["createdBy"] != "test-caller" {
		t.Errorf("createdBy = %v, want caller identity", incident["createdBy"])
	}
}

func TestDispatchExplicitAuthorWins(t *testing.T) {
	d := newTestDispatcher(t)
	created := dispatchOK(t, d, "create-incident", map[string]any{
		"title":     "x",
		"createdBy": "human-operator",
	})
	got := dispatchOK(t, d, "get-incident", map[string]any{"incidentId": created["incidentId"]})
	incident := got["incident"].(map[string]any)
	if incident["createdBy"] != "human-operator" {
		t.Errorf("createdBy = %v, explicit author should not be overwritten", incident["createdBy"])
	}
}

func TestDispatchNonNumericConfidence(t *testing.T) {
	d := newTestDispatcher(t)
	created := dispatchOK(t, d, "create-incident", map[string]any{"title": "x"})

	res := d.Dispatch("add-assertion", map[string]any{
		"incidentId":           created["incidentId"],
		"claim":                "broken",
		"confidence":           "very high",
		"allowWithoutEvidence": true,
	}, "")
	if okv, _ := res["ok"].(bool); okv {
		t.Fatal("string confidence should be rejected")
	}
	if res["reason"] != ledger.ReasonInvalidConfidence {
		t.Errorf("reason = %v, want invalid_confidence", res["reason"])
	}
}

func TestDispatchAssertionLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	created := dispatchOK(t, d, "create-incident", map[string]any{"title": "timeout storm"})
	incidentID := created["incidentId"].(string)

	added := dispatchOK(t, d, "add-assertion", map[string]any{
		"incidentId": incidentID,
		"claim":      "retries amplify load",
		"confidence": 0.6,
		"evidenceBindings": []any{
			map[string]any{"kind": "event_ref", "eventId": "evt_9"},
		},
	})
	assertionID := added["assertionId"].(string)

	superseded := dispatchOK(t, d, "supersede-assertion", map[string]any{
		"assertionId":          assertionID,
		"newClaim":             "retry budget missing entirely",
		"newConfidence":        0.85,
		"allowWithoutEvidence": true,
	})
	newID := superseded["newAssertionId"].(string)

	old := dispatchOK(t, d, "get-assertion", map[string]any{"assertionId": assertionID})
	oldAssertion := old["assertion"].(map[string]any)
	if oldAssertion["status"] != "superseded" {
		t.Errorf("old status = %v", oldAssertion["status"])
	}

	next := dispatchOK(t, d, "get-assertion", map[string]any{"assertionId": newID})
	nextAssertion := next["assertion"].(map[string]any)
	if nextAssertion["version"].(float64) != 2 {
		t.Errorf("new version = %v, want 2", nextAssertion["version"])
	}
	// Author flows from the caller through supersession.
	if nextAssertion["author"] != "test-caller" {
		t.Errorf("author = %v", nextAssertion["author"])
	}
}

func TestDispatchBindEvidenceValidationEnvelope(t *testing.T) {
	d := newTestDispatcher(t)
	created := dispatchOK(t, d, "create-incident", map[string]any{"title": "x"})
	added := dispatchOK(t, d, "add-assertion", map[string]any{
		"incidentId":           created["incidentId"],
		"claim":                "y",
		"allowWithoutEvidence": true,
	})

	res := d.Dispatch("bind-evidence", map[string]any{
		"assertionId": added["assertionId"],
		"kind":        "log_slice_ref",
		"logSource":   "api",
		"logStartMs":  6300,
		"logEndMs":    6200,
	}, "")
	if okv, _ := res["ok"].(bool); okv {
		t.Fatal("inverted log window should fail")
	}
	if res["reason"] != ledger.ReasonInvalidLogWindow {
		t.Errorf("reason = %v, want invalid_log_window", res["reason"])
	}
}

func TestDispatchVerdictAndTimeline(t *testing.T) {
	d := newTestDispatcher(t)
	created := dispatchOK(t, d, "create-incident", map[string]any{"title": "x", "nowMs": 1000})
	incidentID := created["incidentId"].(string)

	dispatchOK(t, d, "link-trace", map[string]any{
		"incidentId": incidentID,
		"traceId":    "tr_77",
		"linkedAtMs": 1500,
	})
	recorded := dispatchOK(t, d, "record-verdict", map[string]any{
		"incidentId": incidentID,
		"value":      "false alarm",
		"confidence": 0.95,
		"nowMs":      2000,
	})
	if recorded["version"].(float64) != 1 {
		t.Errorf("verdict version = %v, want 1", recorded["version"])
	}

	timeline := dispatchOK(t, d, "get-timeline", map[string]any{"incidentId": incidentID})
	entries, _ := timeline["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("timeline entries = %d, want 2", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["kind"] != "trace_link" {
		t.Errorf("first entry kind = %v", first["kind"])
	}
}

func TestDispatchInvalidPayloadShape(t *testing.T) {
	d := newTestDispatcher(t)
	res := d.Dispatch("create-incident", map[string]any{
		"title": "x",
		"tags":  "not-a-list",
	}, "")
	if okv, _ := res["ok"].(bool); okv {
		t.Fatal("shape mismatch should fail")
	}
	if res["reason"] != "invalid_payload" {
		t.Errorf("reason = %v, want invalid_payload", res["reason"])
	}
}
