package ledger

import (
	"database/sql"
	"strings"
)

// EvidenceBinding is a typed link from an assertion to supporting,
// contradicting, or contextual material. Kind-specific fields are nullable
// columns on a flat row; only the stale flag is ever updated in place.
type EvidenceBinding struct {
	ID           string         `json:"id"`
	AssertionID  string         `json:"assertionId"`
	IncidentID   string         `json:"incidentId"`
	Kind         string         `json:"kind"`
	Relation     string         `json:"relation"`
	EventID      string         `json:"eventId,omitempty"`
	FilePath     string         `json:"filePath,omitempty"`
	FileLine     int            `json:"fileLine,omitempty"`
	FileCol      int            `json:"fileCol,omitempty"`
	SnapshotHash string         `json:"snapshotHash,omitempty"`
	LogSource    string         `json:"logSource,omitempty"`
	LogStartMs   int64          `json:"logStartMs,omitempty"`
	LogEndMs     int64          `json:"logEndMs,omitempty"`
	LogFilter    string         `json:"logFilter,omitempty"`
	Query        map[string]any `json:"query,omitempty"`
	ResultHash   string         `json:"resultHash,omitempty"`
	Stale        bool           `json:"stale"`
	CreatedBy    string         `json:"createdBy"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAtMs  int64          `json:"createdAtMs"`
}

// EvidenceInput is one binding to validate and insert. Kind selects which
// fields are required.
type EvidenceInput struct {
	Kind         string         `json:"kind"`
	Relation     string         `json:"relation,omitempty"` // default "supports"
	EventID      string         `json:"eventId,omitempty"`
	FilePath     string         `json:"filePath,omitempty"`
	FileLine     int            `json:"fileLine,omitempty"`
	FileCol      int            `json:"fileCol,omitempty"`
	SnapshotHash string         `json:"snapshotHash,omitempty"`
	LogSource    string         `json:"logSource,omitempty"`
	LogStartMs   int64          `json:"logStartMs,omitempty"`
	LogEndMs     int64          `json:"logEndMs,omitempty"`
	LogFilter    string         `json:"logFilter,omitempty"`
	Query        map[string]any `json:"query,omitempty"`
	ResultHash   string         `json:"resultHash,omitempty"`
	CreatedBy    string         `json:"createdBy,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	NowMs        int64          `json:"nowMs,omitempty"`
}

var evidenceKinds = []string{"event_ref", "file_line_ref", "log_slice_ref", "query_ref"}
var evidenceRelations = []string{"supports", "contradicts", "context"}

// validateBinding checks kind, relation, and kind-specific required fields.
// It normalizes the relation default in place and returns the failure reason
// code, or "" when valid.
func validateBinding(e *EvidenceInput) string {
	if !contains(evidenceKinds, e.Kind) {
		return ReasonInvalidKind
	}
	if e.Relation == "" {
		e.Relation = "supports"
	}
	if !contains(evidenceRelations, e.Relation) {
		return ReasonInvalidRelation
	}

	switch e.Kind {
	case "event_ref":
		if strings.TrimSpace(e.EventID) == "" {
			return ReasonEventIDRequired
		}
	case "file_line_ref":
		if strings.TrimSpace(e.FilePath) == "" {
			return ReasonFilePathRequired
		}
		if e.FileLine <= 0 {
			return ReasonFileLineRequired
		}
	case "log_slice_ref":
		// Window sanity is reported ahead of a missing source so a caller
		// with inverted bounds hears about the bounds first.
		if e.LogStartMs <= 0 || e.LogEndMs <= 0 || e.LogEndMs < e.LogStartMs {
			return ReasonInvalidLogWindow
		}
		if strings.TrimSpace(e.LogSource) == "" {
			return ReasonLogSourceRequired
		}
	case "query_ref":
		if len(e.Query) == 0 {
			return ReasonQueryRequired
		}
	}
	return ""
}

// insertBinding writes one validated binding inside the caller's
// transaction and returns the new binding id. defaultAuthor fills createdBy
// when the input leaves it blank.
func insertBinding(tx *sql.Tx, assertionID, incidentID, defaultAuthor string, nowMs int64, e *EvidenceInput) (string, error) {
	id := NewID("evb")
	createdBy := orDefault(e.CreatedBy, defaultAuthor)

	var queryJSON *string
	if len(e.Query) > 0 {
		q := metaJSON(e.Query)
		queryJSON = &q
	}

	at := nowMs
	if e.NowMs > 0 {
		at = e.NowMs
	}

	_, err := tx.Exec(`
		INSERT INTO evidence_bindings (id, assertion_id, incident_id, kind, relation,
			event_id, file_path, file_line, file_col, snapshot_hash,
			log_source, log_start_ms, log_end_ms, log_filter,
			query_json, result_hash, stale, created_by, meta, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id, assertionID, incidentID, e.Kind, e.Relation,
		nullStr(e.EventID), nullStr(e.FilePath), nullInt(int64(e.FileLine)), nullInt(int64(e.FileCol)),
		nullStr(normalizeSnapshotHash(e.SnapshotHash)),
		nullStr(e.LogSource), nullInt(e.LogStartMs), nullInt(e.LogEndMs), nullStr(e.LogFilter),
		queryJSON, nullStr(e.ResultHash), createdBy, metaJSON(e.Meta), nowOr(at))
	return id, err
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

const bindingColumns = `id, assertion_id, incident_id, kind, relation,
	event_id, file_path, file_line, file_col, snapshot_hash,
	log_source, log_start_ms, log_end_ms, log_filter,
	query_json, result_hash, stale, created_by, meta, created_at_ms`

func scanBinding(s interface{ Scan(...any) error }) (*EvidenceBinding, error) {
	b := &EvidenceBinding{}
	var eventID, filePath, snapshotHash, logSource, logFilter, queryJSON, resultHash sql.NullString
	var fileLine, fileCol, logStart, logEnd sql.NullInt64
	var stale int
	var meta string
	err := s.Scan(&b.ID, &b.AssertionID, &b.IncidentID, &b.Kind, &b.Relation,
		&eventID, &filePath, &fileLine, &fileCol, &snapshotHash,
		&logSource, &logStart, &logEnd, &logFilter,
		&queryJSON, &resultHash, &stale, &b.CreatedBy, &meta, &b.CreatedAtMs)
	if err != nil {
		return nil, err
	}
	b.EventID = eventID.String
	b.FilePath = filePath.String
	b.FileLine = int(fileLine.Int64)
	b.FileCol = int(fileCol.Int64)
	b.SnapshotHash = snapshotHash.String
	b.LogSource = logSource.String
	b.LogStartMs = logStart.Int64
	b.LogEndMs = logEnd.Int64
	b.LogFilter = logFilter.String
	b.ResultHash = resultHash.String
	b.Stale = stale == 1
	b.Meta = metaMap(meta)
	if queryJSON.Valid {
		b.Query = metaMap(queryJSON.String)
	}
	return b, nil
}

// BindEvidence validates and attaches one binding to an existing assertion.
// createdBy defaults to the assertion's author.
func (inv *Investigator) BindEvidence(assertionID string, input EvidenceInput) BindEvidenceResult {
	if r, up := inv.guard(); !up {
		return BindEvidenceResult{Result: r}
	}

	var incidentID, author string
	err := inv.store.DB().QueryRow(
		`SELECT incident_id, author FROM assertions WHERE id = ?`, assertionID).
		Scan(&incidentID, &author)
	if err == sql.ErrNoRows {
		return BindEvidenceResult{Result: fail(ReasonAssertionNotFound)}
	}
	if err != nil {
		return BindEvidenceResult{Result: failErr(ReasonDBError, err)}
	}

	if reason := validateBinding(&input); reason != "" {
		return BindEvidenceResult{Result: fail(reason)}
	}

	tx, err := inv.store.DB().Begin()
	if err != nil {
		return BindEvidenceResult{Result: failErr(ReasonDBError, err)}
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertBinding(tx, assertionID, incidentID, author, nowOr(input.NowMs), &input)
	if err != nil {
		return BindEvidenceResult{Result: failErr(ReasonDBError, err)}
	}
	if err := tx.Commit(); err != nil {
		return BindEvidenceResult{Result: failErr(ReasonDBError, err)}
	}
	inv.store.noteWrite()

	return BindEvidenceResult{Result: ok(), BindingID: id}
}

// ListBindings returns an assertion's bindings, oldest first.
func (inv *Investigator) ListBindings(assertionID string) BindingListResult {
	return inv.listBindingsWhere(`assertion_id = ?`, assertionID)
}

// ListBindingsForIncident returns every binding recorded against an
// incident, oldest first.
func (inv *Investigator) ListBindingsForIncident(incidentID string) BindingListResult {
	return inv.listBindingsWhere(`incident_id = ?`, incidentID)
}

func (inv *Investigator) listBindingsWhere(where string, arg any) BindingListResult {
	if r, up := inv.guard(); !up {
		return BindingListResult{Result: r}
	}

	rows, err := inv.store.DB().Query(
		`SELECT `+bindingColumns+` FROM evidence_bindings WHERE `+where+` ORDER BY created_at_ms ASC`, arg)
	if err != nil {
		return BindingListResult{Result: failErr(ReasonDBError, err)}
	}
	defer rows.Close()

	var bindings []*EvidenceBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return BindingListResult{Result: failErr(ReasonDBError, err)}
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return BindingListResult{Result: failErr(ReasonDBError, err)}
	}
	return BindingListResult{Result: ok(), Bindings: bindings}
}

// MarkBindingStale sets the stale flag, the only in-place update a binding
// ever receives.
func (inv *Investigator) MarkBindingStale(bindingID string) Result {
	if r, up := inv.guard(); !up {
		return r
	}

	res, err := inv.store.DB().Exec(
		`UPDATE evidence_bindings SET stale = 1 WHERE id = ?`, bindingID)
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
