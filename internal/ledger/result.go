package ledger

// Failure reason codes returned in result envelopes. Expected failures are
// values, never panics: callers branch on Reason, not on error identity.
const (
	ReasonUnavailable       = "unavailable"
	ReasonDBError           = "db_error"
	ReasonNotFound          = "not_found"
	ReasonConflict          = "conflict"
	ReasonNoUpdates         = "no_updates"
	ReasonTitleRequired     = "title_required"
	ReasonInvalidStatus     = "invalid_status"
	ReasonInvalidSeverity   = "invalid_severity"
	ReasonIncidentNotFound  = "incident_not_found"
	ReasonAssertionNotFound = "assertion_not_found"
	ReasonClaimRequired     = "claim_required"
	ReasonInvalidType       = "invalid_type"
	ReasonInvalidConfidence = "invalid_confidence"
	ReasonEvidenceRequired  = "evidence_required"
	ReasonInvalidKind       = "invalid_kind"
	ReasonInvalidRelation   = "invalid_relation"
	ReasonEventIDRequired   = "event_id_required"
	ReasonFilePathRequired  = "file_path_required"
	ReasonFileLineRequired  = "file_line_required"
	ReasonLogSourceRequired = "log_source_required"
	ReasonInvalidLogWindow  = "invalid_log_window"
	ReasonQueryRequired     = "query_required"
	ReasonValueRequired     = "value_required"
	ReasonReadFailed        = "read_failed"
)

// Result is the uniform envelope shared by every ledger operation.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func ok() Result { return Result{OK: true} }

func fail(reason string) Result { return Result{Reason: reason} }

func failErr(reason string, err error) Result {
	r := Result{Reason: reason}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// CreateIncidentResult is returned by CreateIncident.
type CreateIncidentResult struct {
	Result
	IncidentID string `json:"incidentId,omitempty"`
}

// IncidentResult carries a single mapped incident, or nil when the id does
// not resolve (a miss on a read is not a failure).
type IncidentResult struct {
	Result
	Incident *Incident `json:"incident,omitempty"`
}

// IncidentListResult is returned by ListIncidents.
type IncidentListResult struct {
	Result
	Incidents []*Incident `json:"incidents"`
}

// LinkTraceResult reports whether the link was created ("linked") or already
// existed ("exists").
type LinkTraceResult struct {
	Result
	Outcome string `json:"outcome,omitempty"`
}

// AddAssertionResult is returned by AddAssertion.
type AddAssertionResult struct {
	Result
	AssertionID  string `json:"assertionId,omitempty"`
	BindingCount int    `json:"bindingCount"`
}

// SupersedeResult is returned by SupersedeAssertion.
type SupersedeResult struct {
	Result
	NewAssertionID string `json:"newAssertionId,omitempty"`
	BindingCount   int    `json:"bindingCount"`
}

// AssertionResult carries a single mapped assertion or nil.
type AssertionResult struct {
	Result
	Assertion *Assertion `json:"assertion,omitempty"`
}

// AssertionListResult is returned by ListAssertions.
type AssertionListResult struct {
	Result
	Assertions []*Assertion `json:"assertions"`
}

// BindEvidenceResult is returned by BindEvidence.
type BindEvidenceResult struct {
	Result
	BindingID string `json:"bindingId,omitempty"`
}

// BindingListResult is returned by ListBindings and ListBindingsForIncident.
type BindingListResult struct {
	Result
	Bindings []*EvidenceBinding `json:"bindings"`
}

// SnapshotResult is returned by ComputeFileSnapshotHash.
type SnapshotResult struct {
	Result
	Hash       string `json:"hash,omitempty"`
	ByteLength int    `json:"byteLength"`
	Mode       string `json:"mode,omitempty"` // "file" or "line"
}

// RefreshResult is returned by RefreshFileLineBindingStaleness.
type RefreshResult struct {
	Result
	Checked             int      `json:"checked"`
	MarkedStale         int      `json:"markedStale"`
	StaleBindingIDs     []string `json:"staleBindingIds"`
	UnchangedBindingIDs []string `json:"unchangedBindingIds"`
	MissingFiles        []string `json:"missingFiles"`
}

// RecordVerdictResult is returned by RecordVerdict.
type RecordVerdictResult struct {
	Result
	VerdictID string `json:"verdictId,omitempty"`
	Version   int    `json:"version,omitempty"`
}

// VerdictResult carries a single verdict or nil.
type VerdictResult struct {
	Result
	Verdict *Verdict `json:"verdict,omitempty"`
}

// VerdictListResult is returned by GetVerdictHistory.
type VerdictListResult struct {
	Result
	Verdicts []*Verdict `json:"verdicts"`
}

// SummaryResult is returned by GetIncidentSummary.
type SummaryResult struct {
	Result
	Summary *IncidentSummary `json:"summary,omitempty"`
}

// TimelineResult is returned by GetIncidentTimeline.
type TimelineResult struct {
	Result
	Entries []TimelineEntry `json:"entries"`
}
