// Package dispatch routes named ledger actions to Investigator methods.
// It is the upstream boundary contract: callers hand over an action string
// and a JSON-shaped payload; the dispatcher fills in caller identity where
// the payload leaves author fields blank, invokes the matching operation,
// and returns the uniform result envelope as a plain map.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/hazyhaar/evidenceledger/internal/audit"
	"github.com/hazyhaar/evidenceledger/internal/ledger"
)

// Dispatcher is safe for concurrent use; it holds no per-call state.
type Dispatcher struct {
	inv      *ledger.Investigator
	auditLog *audit.Logger // nil disables the trail
}

func New(inv *ledger.Investigator, auditLog *audit.Logger) *Dispatcher {
	return &Dispatcher{inv: inv, auditLog: auditLog}
}

// Dispatch routes one action. Unknown actions return reason
// "unknown_action"; everything else is the ledger envelope for the routed
// operation. caller fills createdBy/author/linkedBy fields left blank in
// the payload.
func (d *Dispatcher) Dispatch(action string, payload map[string]any, caller string) map[string]any {
	start := time.Now()
	result := d.route(action, payload, caller)
	d.record(action, payload, caller, result, time.Since(start))
	return result
}

func (d *Dispatcher) route(action string, payload map[string]any, caller string) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}

	switch action {
	case "create-incident":
		fillIdentity(payload, "createdBy", caller)
		var input ledger.CreateIncidentInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.CreateIncident(input))

	case "get-incident":
		return toMap(d.inv.GetIncident(stringField(payload, "incidentId")))

	case "update-incident":
		var input ledger.UpdateIncidentInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.UpdateIncident(stringField(payload, "incidentId"), input))

	case "close-incident":
		return toMap(d.inv.CloseIncident(stringField(payload, "incidentId"), intField(payload, "nowMs")))

	case "list-incidents":
		var input ledger.ListIncidentsInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.ListIncidents(input))

	case "link-trace":
		fillIdentity(payload, "linkedBy", caller)
		var input ledger.LinkTraceInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.LinkTrace(stringField(payload, "incidentId"), stringField(payload, "traceId"), input))

	case "add-assertion":
		fillIdentity(payload, "author", caller)
		if !confidenceNumeric(payload, "confidence") {
			return toMap(invalidConfidence())
		}
		var input ledger.AddAssertionInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.AddAssertion(input))

	case "update-assertion":
		if !confidenceNumeric(payload, "confidence") {
			return toMap(invalidConfidence())
		}
		var input ledger.UpdateAssertionInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.UpdateAssertion(stringField(payload, "assertionId"), input))

	case "supersede-assertion":
		fillIdentity(payload, "author", caller)
		if !confidenceNumeric(payload, "newConfidence") {
			return toMap(invalidConfidence())
		}
		var input ledger.SupersedeInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.SupersedeAssertion(stringField(payload, "assertionId"), input))

	case "get-assertion":
		return toMap(d.inv.GetAssertion(stringField(payload, "assertionId")))

	case "list-assertions":
		var input ledger.ListAssertionsInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.ListAssertions(stringField(payload, "incidentId"), input))

	case "bind-evidence":
		// createdBy intentionally not filled from the caller: the ledger
		// defaults it to the target assertion's author.
		var input ledger.EvidenceInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.BindEvidence(stringField(payload, "assertionId"), input))

	case "list-bindings":
		return toMap(d.inv.ListBindings(stringField(payload, "assertionId")))

	case "list-bindings-for-incident":
		return toMap(d.inv.ListBindingsForIncident(stringField(payload, "incidentId")))

	case "mark-binding-stale":
		return toMap(d.inv.MarkBindingStale(stringField(payload, "bindingId")))

	case "compute-snapshot-hash":
		return toMap(d.inv.ComputeFileSnapshotHash(
			stringField(payload, "filePath"),
			int(intField(payload, "fileLine")),
			stringField(payload, "baseDir")))

	case "refresh-staleness":
		var input ledger.RefreshInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.RefreshFileLineBindingStaleness(input))

	case "record-verdict":
		fillIdentity(payload, "author", caller)
		if !confidenceNumeric(payload, "confidence") {
			return toMap(invalidConfidence())
		}
		var input ledger.RecordVerdictInput
		if m, bad := decode(payload, &input); bad != nil {
			return m
		}
		return toMap(d.inv.RecordVerdict(input))

	case "get-current-verdict":
		return toMap(d.inv.GetCurrentVerdict(stringField(payload, "incidentId")))

	case "get-verdict-history":
		return toMap(d.inv.GetVerdictHistory(stringField(payload, "incidentId")))

	case "get-summary":
		return toMap(d.inv.GetIncidentSummary(stringField(payload, "incidentId")))

	case "get-timeline":
		return toMap(d.inv.GetIncidentTimeline(stringField(payload, "incidentId")))

	default:
		return map[string]any{"ok": false, "reason": "unknown_action"}
	}
}

func (d *Dispatcher) record(action string, payload map[string]any, caller string, result map[string]any, elapsed time.Duration) {
	if d.auditLog == nil {
		return
	}
	entry := &audit.Entry{
		Action:     action,
		Caller:     caller,
		DurationMs: elapsed.Milliseconds(),
	}
	if params, err := json.Marshal(payload); err == nil {
		entry.Parameters = string(params)
	}
	if okv, _ := result["ok"].(bool); !okv {
		entry.Reason, _ = result["reason"].(string)
		entry.Error, _ = result["error"].(string)
	}
	d.auditLog.LogAsync(entry)
}

// fillIdentity stamps the caller into an author-ish field the payload left
// blank.
func fillIdentity(payload map[string]any, field, caller string) {
	if caller == "" {
		return
	}
	if v, present := payload[field]; !present || v == "" {
		payload[field] = caller
	}
}

// confidenceNumeric rejects non-numeric confidence values up front rather
// than coercing them.
func confidenceNumeric(payload map[string]any, field string) bool {
	v, present := payload[field]
	if !present || v == nil {
		return true
	}
	switch v.(type) {
	case float64, float32, int, int64, json.Number:
		return true
	default:
		return false
	}
}

func invalidConfidence() ledger.Result {
	return ledger.Result{Reason: ledger.ReasonInvalidConfidence}
}

// decode maps the JSON-shaped payload onto a typed input. A shape mismatch
// comes back as a validation envelope, never a panic.
func decode(payload map[string]any, out any) (map[string]any, error) {
	b, err := json.Marshal(payload)
	if err == nil {
		err = json.Unmarshal(b, out)
	}
	if err != nil {
		return map[string]any{"ok": false, "reason": "invalid_payload", "error": err.Error()}, err
	}
	return nil, nil
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func intField(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// toMap flattens a result envelope into a JSON-shaped map.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"ok": false, "reason": ledger.ReasonDBError, "error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"ok": false, "reason": ledger.ReasonDBError, "error": err.Error()}
	}
	return m
}
