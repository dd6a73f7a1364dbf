package ledger

import (
	"database/sql"
	"strings"
)

// Verdict is a versioned, append-only conclusion recorded against an
// incident. The current verdict is the highest version.
type Verdict struct {
	ID              string         `json:"id"`
	IncidentID      string         `json:"incidentId"`
	Value           string         `json:"value"`
	Confidence      float64        `json:"confidence"`
	Version         int            `json:"version"`
	Reason          string         `json:"reason,omitempty"`
	KeyAssertionIDs []string       `json:"keyAssertionIds,omitempty"`
	Author          string         `json:"author"`
	Meta            map[string]any `json:"meta,omitempty"`
	CreatedAtMs     int64          `json:"createdAtMs"`
}

const verdictColumns = `id, incident_id, value, confidence, version, reason,
	key_assertion_ids, author, meta, created_at_ms`

func scanVerdict(s interface{ Scan(...any) error }) (*Verdict, error) {
	v := &Verdict{}
	var keyIDs, meta string
	err := s.Scan(&v.ID, &v.IncidentID, &v.Value, &v.Confidence, &v.Version, &v.Reason,
		&keyIDs, &v.Author, &meta, &v.CreatedAtMs)
	if err != nil {
		return nil, err
	}
	v.KeyAssertionIDs = idsList(keyIDs)
	v.Meta = metaMap(meta)
	return v, nil
}

// RecordVerdictInput carries the fields for RecordVerdict. Confidence is
// required and must land in [0,1].
type RecordVerdictInput struct {
	IncidentID      string         `json:"incidentId"`
	Value           string         `json:"value"`
	Confidence      *float64       `json:"confidence"`
	Reason          string         `json:"reason,omitempty"`
	KeyAssertionIDs []string       `json:"keyAssertionIds,omitempty"`
	Author          string         `json:"author,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
	NowMs           int64          `json:"nowMs,omitempty"`
}

// RecordVerdict appends the next verdict version. The max-version read and
// the insert share one transaction, so two concurrent recorders cannot
// produce duplicate or skipped versions.
func (inv *Investigator) RecordVerdict(input RecordVerdictInput) RecordVerdictResult {
	if r, up := inv.guard(); !up {
		return RecordVerdictResult{Result: r}
	}

	value := strings.TrimSpace(input.Value)
	if value == "" {
		return RecordVerdictResult{Result: fail(ReasonValueRequired)}
	}
	if input.Confidence == nil || !validConfidence(*input.Confidence) {
		return RecordVerdictResult{Result: fail(ReasonInvalidConfidence)}
	}
	if !inv.incidentExists(input.IncidentID) {
		return RecordVerdictResult{Result: fail(ReasonIncidentNotFound)}
	}

	id := NewID("vrd")
	author := orDefault(input.Author, "system")
	now := nowOr(input.NowMs)

	tx, err := inv.store.DB().Begin()
	if err != nil {
		return RecordVerdictResult{Result: failErr(ReasonDBError, err)}
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(version), 0) + 1 FROM verdicts WHERE incident_id = ?`,
		input.IncidentID).Scan(&version)
	if err != nil {
		return RecordVerdictResult{Result: failErr(ReasonDBError, err)}
	}

	_, err = tx.Exec(`
		INSERT INTO verdicts (id, incident_id, value, confidence, version, reason,
			key_assertion_ids, author, meta, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, input.IncidentID, value, *input.Confidence, version, input.Reason,
		idsJSON(input.KeyAssertionIDs), author, metaJSON(input.Meta), now)
	if err != nil {
		return RecordVerdictResult{Result: failErr(ReasonDBError, err)}
	}

	if err := tx.Commit(); err != nil {
		return RecordVerdictResult{Result: failErr(ReasonDBError, err)}
	}
	inv.store.noteWrite()

	return RecordVerdictResult{Result: ok(), VerdictID: id, Version: version}
}

// GetCurrentVerdict returns the highest-version verdict or nil.
func (inv *Investigator) GetCurrentVerdict(incidentID string) VerdictResult {
	if r, up := inv.guard(); !up {
		return VerdictResult{Result: r}
	}

	v, err := scanVerdict(inv.store.DB().QueryRow(
		`SELECT `+verdictColumns+` FROM verdicts WHERE incident_id = ?
		 ORDER BY version DESC LIMIT 1`, incidentID))
	if err == sql.ErrNoRows {
		return VerdictResult{Result: ok()}
	}
	if err != nil {
		return VerdictResult{Result: failErr(ReasonDBError, err)}
	}
	return VerdictResult{Result: ok(), Verdict: v}
}

// GetVerdictHistory returns all verdict versions, newest first.
func (inv *Investigator) GetVerdictHistory(incidentID string) VerdictListResult {
	if r, up := inv.guard(); !up {
		return VerdictListResult{Result: r}
	}

	rows, err := inv.store.DB().Query(
		`SELECT `+verdictColumns+` FROM verdicts WHERE incident_id = ?
		 ORDER BY version DESC`, incidentID)
	if err != nil {
		return VerdictListResult{Result: failErr(ReasonDBError, err)}
	}
	defer rows.Close()

	var verdicts []*Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return VerdictListResult{Result: failErr(ReasonDBError, err)}
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return VerdictListResult{Result: failErr(ReasonDBError, err)}
	}
	return VerdictListResult{Result: ok(), Verdicts: verdicts}
}

// IncidentSummary is the composite read assembled by GetIncidentSummary.
type IncidentSummary struct {
	Incident       *Incident    `json:"incident"`
	TraceLinks     []TraceLink  `json:"traceLinks,omitempty"`
	Assertions     []*Assertion `json:"assertions,omitempty"`
	CurrentVerdict *Verdict     `json:"currentVerdict,omitempty"`
	EvidenceCount  int          `json:"evidenceCount"`
}

// GetIncidentSummary reads the incident, its trace links, all assertions
// (newest first), the current verdict, and the evidence count in one pass.
func (inv *Investigator) GetIncidentSummary(incidentID string) SummaryResult {
	if r, up := inv.guard(); !up {
		return SummaryResult{Result: r}
	}

	incident := inv.GetIncident(incidentID)
	if !incident.OK {
		return SummaryResult{Result: incident.Result}
	}
	if incident.Incident == nil {
		return SummaryResult{Result: fail(ReasonIncidentNotFound)}
	}

	links, err := inv.traceLinksFor(incidentID)
	if err != nil {
		return SummaryResult{Result: failErr(ReasonDBError, err)}
	}

	assertions := inv.ListAssertions(incidentID, ListAssertionsInput{Limit: 1000})
	if !assertions.OK {
		return SummaryResult{Result: assertions.Result}
	}

	verdict := inv.GetCurrentVerdict(incidentID)
	if !verdict.OK {
		return SummaryResult{Result: verdict.Result}
	}

	var evidenceCount int
	if err := inv.store.DB().QueryRow(
		`SELECT COUNT(*) FROM evidence_bindings WHERE incident_id = ?`, incidentID).
		Scan(&evidenceCount); err != nil {
		return SummaryResult{Result: failErr(ReasonDBError, err)}
	}

	return SummaryResult{Result: ok(), Summary: &IncidentSummary{
		Incident:       incident.Incident,
		TraceLinks:     links,
		Assertions:     assertions.Assertions,
		CurrentVerdict: verdict.Verdict,
		EvidenceCount:  evidenceCount,
	}}
}
