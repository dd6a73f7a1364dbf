// Package mcp registers the evidence ledger actions as MCP tools. Tool
// handlers delegate to the dispatcher, which fills caller identity and
// returns the uniform result envelope; the envelope is relayed verbatim as
// JSON text, failures included, so clients branch on the embedded reason
// code rather than on protocol errors.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/evidenceledger/internal/dispatch"
)

type toolDef struct {
	name        string
	action      string
	description string
	schema      map[string]any
}

var tools = []toolDef{
	{
		name:        "create_incident",
		action:      "create-incident",
		description: "Open a new incident in the evidence ledger",
		schema: objectSchema(map[string]any{
			"title":       strProp("Incident title"),
			"description": strProp("Free-form description"),
			"severity":    enumProp("Severity", "critical", "high", "medium", "low", "info"),
			"status":      enumProp("Initial status", "open", "investigating", "resolved", "closed", "stale"),
			"createdBy":   strProp("Caller identity (filled from the session when omitted)"),
			"sessionId":   strProp("Optional session scope"),
			"tags":        arrayProp("Optional tags"),
			"nowMs":       intProp("Timestamp override, epoch ms"),
		}, "title"),
	},
	{
		name:        "add_assertion",
		action:      "add-assertion",
		description: "Record a claim about an incident together with its evidence bindings (one transaction)",
		schema: objectSchema(map[string]any{
			"incidentId":           strProp("Target incident id"),
			"claim":                strProp("The claim text"),
			"type":                 enumProp("Assertion type", "hypothesis", "observation", "conclusion", "counterevidence"),
			"confidence":           numProp("Confidence in [0,1], default 0.5"),
			"reasoning":            strProp("Reasoning behind the claim"),
			"evidenceBindings":     map[string]any{"type": "array", "items": map[string]any{"type": "object"}, "description": "Evidence bindings; required unless allowWithoutEvidence"},
			"allowWithoutEvidence": boolProp("Waive the evidence-required rule"),
			"nowMs":                intProp("Timestamp override, epoch ms"),
		}, "incidentId", "claim"),
	},
	{
		name:        "supersede_assertion",
		action:      "supersede-assertion",
		description: "Atomically replace an assertion with a higher-version successor",
		schema: objectSchema(map[string]any{
			"assertionId":          strProp("Assertion to supersede"),
			"newClaim":             strProp("Replacement claim text"),
			"newConfidence":        numProp("Confidence in [0,1]; inherits when omitted"),
			"newType":              enumProp("Assertion type; inherits when omitted", "hypothesis", "observation", "conclusion", "counterevidence"),
			"evidenceBindings":     map[string]any{"type": "array", "items": map[string]any{"type": "object"}, "description": "Bindings for the successor"},
			"allowWithoutEvidence": boolProp("Waive the evidence-required rule"),
			"nowMs":                intProp("Timestamp override, epoch ms"),
		}, "assertionId", "newClaim"),
	},
	{
		name:        "bind_evidence",
		action:      "bind-evidence",
		description: "Attach a typed evidence binding (event_ref, file_line_ref, log_slice_ref, query_ref) to an assertion",
		schema: objectSchema(map[string]any{
			"assertionId":  strProp("Target assertion id"),
			"kind":         enumProp("Binding kind", "event_ref", "file_line_ref", "log_slice_ref", "query_ref"),
			"relation":     enumProp("Relation to the claim", "supports", "contradicts", "context"),
			"eventId":      strProp("event_ref: referenced event id"),
			"filePath":     strProp("file_line_ref: cited file path"),
			"fileLine":     intProp("file_line_ref: 1-indexed line"),
			"snapshotHash": strProp("file_line_ref: sha256 content snapshot"),
			"logSource":    strProp("log_slice_ref: log source name"),
			"logStartMs":   intProp("log_slice_ref: window start, epoch ms"),
			"logEndMs":     intProp("log_slice_ref: window end, epoch ms"),
			"query":        map[string]any{"type": "object", "description": "query_ref: the query object"},
		}, "assertionId", "kind"),
	},
	{
		name:        "record_verdict",
		action:      "record-verdict",
		description: "Append the next verdict version for an incident",
		schema: objectSchema(map[string]any{
			"incidentId":      strProp("Target incident id"),
			"value":           strProp("The verdict"),
			"confidence":      numProp("Confidence in [0,1], required"),
			"reason":          strProp("Supporting reasoning"),
			"keyAssertionIds": arrayProp("Assertions the verdict rests on"),
			"nowMs":           intProp("Timestamp override, epoch ms"),
		}, "incidentId", "value", "confidence"),
	},
	{
		name:        "link_trace",
		action:      "link-trace",
		description: "Idempotently link an external trace id to an incident",
		schema: objectSchema(map[string]any{
			"incidentId": strProp("Target incident id"),
			"traceId":    strProp("External trace id"),
			"note":       strProp("Optional note"),
		}, "incidentId", "traceId"),
	},
	{
		name:        "get_summary",
		action:      "get-summary",
		description: "Composite read: incident, trace links, assertions, current verdict, evidence count",
		schema: objectSchema(map[string]any{
			"incidentId": strProp("Incident id"),
		}, "incidentId"),
	},
	{
		name:        "get_timeline",
		action:      "get-timeline",
		description: "Causal reconstruction: trace links, assertions, evidence, and verdicts merged by timestamp",
		schema: objectSchema(map[string]any{
			"incidentId": strProp("Incident id"),
		}, "incidentId"),
	},
	{
		name:        "list_incidents",
		action:      "list-incidents",
		description: "List incidents, newest activity first",
		schema: objectSchema(map[string]any{
			"status":    enumProp("Filter by status", "open", "investigating", "resolved", "closed", "stale"),
			"severity":  enumProp("Filter by severity", "critical", "high", "medium", "low", "info"),
			"sessionId": strProp("Filter by session scope"),
			"limit":     intProp("Max results, 1-500 (default 100)"),
		}),
	},
	{
		name:        "refresh_staleness",
		action:      "refresh-staleness",
		description: "Re-hash cited file lines and mark bindings whose content drifted as stale",
		schema: objectSchema(map[string]any{
			"incidentId":  strProp("Restrict to one incident"),
			"assertionId": strProp("Restrict to one assertion"),
			"bindingId":   strProp("Restrict to one binding"),
			"baseDir":     strProp("Base directory for relative paths"),
			"limit":       intProp("Max bindings to check, 1-10000 (default 1000)"),
		}),
	},
}

// NewServer builds an MCPServer with every ledger tool registered.
// defaultCaller fills author fields when a tool call omits them.
func NewServer(d *dispatch.Dispatcher, defaultCaller string) *server.MCPServer {
	srv := server.NewMCPServer(
		"evidenceledger",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	for _, def := range tools {
		def := def
		raw, _ := json.Marshal(def.schema)
		tool := mcp.NewToolWithRawSchema(def.name, def.description, raw)
		srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result := d.Dispatch(def.action, req.GetArguments(), defaultCaller)
			body, err := json.Marshal(result)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(string(body)), nil
		})
	}

	return srv
}

// --- schema helpers ---

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func numProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func arrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
