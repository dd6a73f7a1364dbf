package ledger

import (
	"database/sql"
	"strings"
)

// Incident is a tracked problem/investigation unit.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Severity    string         `json:"severity"`
	CreatedBy   string         `json:"createdBy"`
	SessionID   *string        `json:"sessionId,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAtMs int64          `json:"createdAtMs"`
	UpdatedAtMs int64          `json:"updatedAtMs"`
	ClosedAtMs  *int64         `json:"closedAtMs,omitempty"`
}

// TraceLink ties an incident to an external trace identifier. Linking is
// idempotent per (incident, trace) pair.
type TraceLink struct {
	IncidentID string `json:"incidentId"`
	TraceID    string `json:"traceId"`
	LinkedAtMs int64  `json:"linkedAtMs"`
	LinkedBy   string `json:"linkedBy"`
	Note       string `json:"note,omitempty"`
}

var incidentStatuses = []string{"open", "investigating", "resolved", "closed", "stale"}
var incidentSeverities = []string{"critical", "high", "medium", "low", "info"}

func validIncidentStatus(s string) bool   { return contains(incidentStatuses, s) }
func validIncidentSeverity(s string) bool { return contains(incidentSeverities, s) }

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// terminalIncidentStatus reports whether the status stamps closedAtMs.
func terminalIncidentStatus(s string) bool { return s == "closed" || s == "resolved" }

const incidentColumns = `id, title, description, status, severity, created_by, session_id, meta,
	created_at_ms, updated_at_ms, closed_at_ms`

func scanIncident(s interface{ Scan(...any) error }) (*Incident, error) {
	in := &Incident{}
	var sessionID sql.NullString
	var closedAt sql.NullInt64
	var meta string
	err := s.Scan(&in.ID, &in.Title, &in.Description, &in.Status, &in.Severity, &in.CreatedBy,
		&sessionID, &meta, &in.CreatedAtMs, &in.UpdatedAtMs, &closedAt)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		in.SessionID = &sessionID.String
	}
	if closedAt.Valid {
		in.ClosedAtMs = &closedAt.Int64
	}
	in.Meta = metaMap(meta)
	return in, nil
}

// CreateIncidentInput carries the fields for CreateIncident. Zero values use
// the documented defaults.
type CreateIncidentInput struct {
	IncidentID  string         `json:"incidentId,omitempty"` // optional caller-chosen id
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Severity    string         `json:"severity,omitempty"` // default "medium"
	Status      string         `json:"status,omitempty"`   // default "open"
	CreatedBy   string         `json:"createdBy,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	NowMs       int64          `json:"nowMs,omitempty"`
}

// CreateIncident opens a new investigation unit.
func (inv *Investigator) CreateIncident(input CreateIncidentInput) CreateIncidentResult {
	if r, up := inv.guard(); !up {
		return CreateIncidentResult{Result: r}
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return CreateIncidentResult{Result: fail(ReasonTitleRequired)}
	}
	status := orDefault(input.Status, "open")
	if !validIncidentStatus(status) {
		return CreateIncidentResult{Result: fail(ReasonInvalidStatus)}
	}
	severity := orDefault(input.Severity, "medium")
	if !validIncidentSeverity(severity) {
		return CreateIncidentResult{Result: fail(ReasonInvalidSeverity)}
	}

	id := input.IncidentID
	if id == "" {
		id = NewID("inc")
	}
	createdBy := orDefault(input.CreatedBy, "system")
	now := nowOr(input.NowMs)

	var sessionID *string
	if sid := orDefault(input.SessionID, inv.store.SessionID()); sid != "" {
		sessionID = &sid
	}
	var closedAt *int64
	if terminalIncidentStatus(status) {
		closedAt = &now
	}

	db := inv.store.DB()
	tx, err := db.Begin()
	if err != nil {
		return CreateIncidentResult{Result: failErr(ReasonDBError, err)}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO incidents (id, title, description, status, severity, created_by, session_id,
			meta, created_at_ms, updated_at_ms, closed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, title, input.Description, status, severity, createdBy, sessionID,
		metaJSON(input.Meta), now, now, closedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return CreateIncidentResult{Result: fail(ReasonConflict)}
		}
		return CreateIncidentResult{Result: failErr(ReasonDBError, err)}
	}

	for _, tag := range input.Tags {
		if tag = strings.TrimSpace(tag); tag == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO incident_tags (incident_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return CreateIncidentResult{Result: failErr(ReasonDBError, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return CreateIncidentResult{Result: failErr(ReasonDBError, err)}
	}
	inv.store.noteWrite()

	return CreateIncidentResult{Result: ok(), IncidentID: id}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetIncident returns the mapped incident, or a nil incident when the id
// does not resolve.
func (inv *Investigator) GetIncident(id string) IncidentResult {
	if r, up := inv.guard(); !up {
		return IncidentResult{Result: r}
	}

	in, err := scanIncident(inv.store.DB().QueryRow(
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return IncidentResult{Result: ok()}
	}
	if err != nil {
		return IncidentResult{Result: failErr(ReasonDBError, err)}
	}
	if err := inv.attachTags(in); err != nil {
		return IncidentResult{Result: failErr(ReasonDBError, err)}
	}
	return IncidentResult{Result: ok(), Incident: in}
}

func (inv *Investigator) attachTags(in *Incident) error {
	rows, err := inv.store.DB().Query(
		`SELECT tag FROM incident_tags WHERE incident_id = ? ORDER BY tag`, in.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return err
		}
		in.Tags = append(in.Tags, tag)
	}
	return rows.Err()
}

// UpdateIncidentInput is a presence-flagged partial update: only non-nil
// fields reach the SET clause, so unspecified fields are never clobbered.
type UpdateIncidentInput struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *string        `json:"status,omitempty"`
	Severity    *string        `json:"severity,omitempty"`
	ClosedAtMs  *int64         `json:"closedAtMs,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	NowMs       int64          `json:"nowMs,omitempty"`
}

// UpdateIncident applies a partial update. Setting status to closed or
// resolved stamps closedAtMs unless an explicit closedAtMs was supplied;
// updatedAtMs is always bumped.
func (inv *Investigator) UpdateIncident(id string, input UpdateIncidentInput) Result {
	if r, up := inv.guard(); !up {
		return r
	}

	var sets []string
	var args []any

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return fail(ReasonTitleRequired)
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if input.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *input.Description)
	}
	now := nowOr(input.NowMs)
	if input.Status != nil {
		if !validIncidentStatus(*input.Status) {
			return fail(ReasonInvalidStatus)
		}
		sets = append(sets, "status = ?")
		args = append(args, *input.Status)
		if terminalIncidentStatus(*input.Status) && input.ClosedAtMs == nil {
			sets = append(sets, "closed_at_ms = ?")
			args = append(args, now)
		}
	}
	if input.Severity != nil {
		if !validIncidentSeverity(*input.Severity) {
			return fail(ReasonInvalidSeverity)
		}
		sets = append(sets, "severity = ?")
		args = append(args, *input.Severity)
	}
	if input.ClosedAtMs != nil {
		sets = append(sets, "closed_at_ms = ?")
		args = append(args, nowOr(*input.ClosedAtMs))
	}
	if input.Meta != nil {
		sets = append(sets, "meta = ?")
		args = append(args, metaJSON(input.Meta))
	}

	if len(sets) == 0 {
		return fail(ReasonNoUpdates)
	}

	sets = append(sets, "updated_at_ms = ?")
	args = append(args, now, id)

	res, err := inv.store.DB().Exec(
		`UPDATE incidents SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return failErr(ReasonDBError, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return failErr(ReasonDBError, err)
	}
	if affected == 0 {
		return fail(ReasonNotFound)
	}
	inv.store.noteWrite()
	return ok()
}

// CloseIncident is a thin wrapper over UpdateIncident.
func (inv *Investigator) CloseIncident(id string, nowMs int64) Result {
	status := "closed"
	return inv.UpdateIncident(id, UpdateIncidentInput{Status: &status, NowMs: nowMs})
}

// ListIncidentsInput filters ListIncidents. Empty fields match everything.
type ListIncidentsInput struct {
	Status    string `json:"status,omitempty"`
	Severity  string `json:"severity,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Limit     int    `json:"limit,omitempty"` // [1,500], default 100
}

// ListIncidents returns incidents ordered by updatedAtMs descending.
func (inv *Investigator) ListIncidents(input ListIncidentsInput) IncidentListResult {
	if r, up := inv.guard(); !up {
		return IncidentListResult{Result: r}
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any
	if input.Status != "" {
		if !validIncidentStatus(input.Status) {
			return IncidentListResult{Result: fail(ReasonInvalidStatus)}
		}
		query += ` AND status = ?`
		args = append(args, input.Status)
	}
	if input.Severity != "" {
		if !validIncidentSeverity(input.Severity) {
			return IncidentListResult{Result: fail(ReasonInvalidSeverity)}
		}
		query += ` AND severity = ?`
		args = append(args, input.Severity)
	}
	if input.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, input.SessionID)
	}
	query += ` ORDER BY updated_at_ms DESC LIMIT ?`
	args = append(args, clampLimit(input.Limit, 100, 500))

	rows, err := inv.store.DB().Query(query, args...)
	if err != nil {
		return IncidentListResult{Result: failErr(ReasonDBError, err)}
	}
	defer rows.Close()

	var incidents []*Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return IncidentListResult{Result: failErr(ReasonDBError, err)}
		}
		incidents = append(incidents, in)
	}
	if err := rows.Err(); err != nil {
		return IncidentListResult{Result: failErr(ReasonDBError, err)}
	}
	for _, in := range incidents {
		if err := inv.attachTags(in); err != nil {
			return IncidentListResult{Result: failErr(ReasonDBError, err)}
		}
	}
	return IncidentListResult{Result: ok(), Incidents: incidents}
}

// LinkTraceInput carries the optional fields for LinkTrace.
type LinkTraceInput struct {
	LinkedBy   string `json:"linkedBy,omitempty"`
	Note       string `json:"note,omitempty"`
	LinkedAtMs int64  `json:"linkedAtMs,omitempty"`
}

// LinkTrace idempotently links a trace to an incident. The first call
// reports "linked", repeats report "exists".
func (inv *Investigator) LinkTrace(incidentID, traceID string, input LinkTraceInput) LinkTraceResult {
	if r, up := inv.guard(); !up {
		return LinkTraceResult{Result: r}
	}
	if !inv.incidentExists(incidentID) {
		return LinkTraceResult{Result: fail(ReasonIncidentNotFound)}
	}

	res, err := inv.store.DB().Exec(`
		INSERT OR IGNORE INTO trace_links (incident_id, trace_id, linked_at_ms, linked_by, note)
		VALUES (?, ?, ?, ?, ?)`,
		incidentID, traceID, nowOr(input.LinkedAtMs), orDefault(input.LinkedBy, "system"), input.Note)
	if err != nil {
		return LinkTraceResult{Result: failErr(ReasonDBError, err)}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return LinkTraceResult{Result: failErr(ReasonDBError, err)}
	}
	if affected == 0 {
		return LinkTraceResult{Result: ok(), Outcome: "exists"}
	}
	inv.store.noteWrite()
	return LinkTraceResult{Result: ok(), Outcome: "linked"}
}

func (inv *Investigator) incidentExists(id string) bool {
	var one int
	err := inv.store.DB().QueryRow(`SELECT 1 FROM incidents WHERE id = ?`, id).Scan(&one)
	return err == nil
}

func (inv *Investigator) traceLinksFor(incidentID string) ([]TraceLink, error) {
	rows, err := inv.store.DB().Query(`
		SELECT incident_id, trace_id, linked_at_ms, linked_by, note
		FROM trace_links WHERE incident_id = ? ORDER BY linked_at_ms ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []TraceLink
	for rows.Next() {
		var l TraceLink
		if err := rows.Scan(&l.IncidentID, &l.TraceID, &l.LinkedAtMs, &l.LinkedBy, &l.Note); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
