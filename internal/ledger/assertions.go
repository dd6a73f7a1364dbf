package ledger

import (
	"database/sql"
	"strings"
)

// Assertion is a versioned, supersedable claim about an incident's cause.
type Assertion struct {
	ID           string         `json:"id"`
	IncidentID   string         `json:"incidentId"`
	Claim        string         `json:"claim"`
	Type         string         `json:"type"`
	Confidence   float64        `json:"confidence"`
	Status       string         `json:"status"`
	Author       string         `json:"author"`
	Reasoning    string         `json:"reasoning,omitempty"`
	SupersededBy *string        `json:"supersededBy,omitempty"`
	Version      int            `json:"version"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAtMs  int64          `json:"createdAtMs"`
	UpdatedAtMs  int64          `json:"updatedAtMs"`
}

var assertionTypes = []string{"hypothesis", "observation", "conclusion", "counterevidence"}
var assertionStatuses = []string{"active", "superseded", "retracted", "confirmed"}

func validAssertionType(s string) bool   { return contains(assertionTypes, s) }
func validAssertionStatus(s string) bool { return contains(assertionStatuses, s) }

func validConfidence(c float64) bool { return c >= 0.0 && c <= 1.0 }

const assertionColumns = `id, incident_id, claim, type, confidence, status, author, reasoning,
	superseded_by, version, meta, created_at_ms, updated_at_ms`

func scanAssertion(s interface{ Scan(...any) error }) (*Assertion, error) {
	a := &Assertion{}
	var supersededBy sql.NullString
	var meta string
	err := s.Scan(&a.ID, &a.IncidentID, &a.Claim, &a.Type, &a.Confidence, &a.Status, &a.Author,
		&a.Reasoning, &supersededBy, &a.Version, &meta, &a.CreatedAtMs, &a.UpdatedAtMs)
	if err != nil {
		return nil, err
	}
	if supersededBy.Valid {
		a.SupersededBy = &supersededBy.String
	}
	a.Meta = metaMap(meta)
	return a, nil
}

// AddAssertionInput carries the fields for AddAssertion. A nil Confidence
// defaults to 0.5.
type AddAssertionInput struct {
	IncidentID           string          `json:"incidentId"`
	Claim                string          `json:"claim"`
	Type                 string          `json:"type,omitempty"`   // default "hypothesis"
	Confidence           *float64        `json:"confidence,omitempty"`
	Status               string          `json:"status,omitempty"` // default "active"
	Author               string          `json:"author,omitempty"`
	Reasoning            string          `json:"reasoning,omitempty"`
	EvidenceBindings     []EvidenceInput `json:"evidenceBindings,omitempty"`
	AllowWithoutEvidence bool            `json:"allowWithoutEvidence,omitempty"`
	Meta                 map[string]any  `json:"meta,omitempty"`
	NowMs                int64           `json:"nowMs,omitempty"`
}

// AddAssertion records a claim and its evidence bindings in one transaction.
// Any binding validation failure leaves zero rows behind.
func (inv *Investigator) AddAssertion(input AddAssertionInput) AddAssertionResult {
	if r, up := inv.guard(); !up {
		return AddAssertionResult{Result: r}
	}

	claim := strings.TrimSpace(input.Claim)
	if claim == "" {
		return AddAssertionResult{Result: fail(ReasonClaimRequired)}
	}
	typ := orDefault(input.Type, "hypothesis")
	if !validAssertionType(typ) {
		return AddAssertionResult{Result: fail(ReasonInvalidType)}
	}
	status := orDefault(input.Status, "active")
	if !validAssertionStatus(status) {
		return AddAssertionResult{Result: fail(ReasonInvalidStatus)}
	}
	confidence := 0.5
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	if !validConfidence(confidence) {
		return AddAssertionResult{Result: fail(ReasonInvalidConfidence)}
	}
	if !inv.incidentExists(input.IncidentID) {
		return AddAssertionResult{Result: fail(ReasonIncidentNotFound)}
	}
	if len(input.EvidenceBindings) == 0 && !input.AllowWithoutEvidence {
		return AddAssertionResult{Result: fail(ReasonEvidenceRequired)}
	}
	for i := range input.EvidenceBindings {
		if reason := validateBinding(&input.EvidenceBindings[i]); reason != "" {
			return AddAssertionResult{Result: fail(reason)}
		}
	}

	id := NewID("ast")
	author := orDefault(input.Author, "system")
	now := nowOr(input.NowMs)

	db := inv.store.DB()
	tx, err := db.Begin()
	if err != nil {
		return AddAssertionResult{Result: failErr(ReasonDBError, err)}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO assertions (id, incident_id, claim, type, confidence, status, author,
			reasoning, version, meta, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		id, input.IncidentID, claim, typ, confidence, status, author,
		input.Reasoning, metaJSON(input.Meta), now, now)
	if err != nil {
		return AddAssertionResult{Result: failErr(ReasonDBError, err)}
	}

	for i := range input.EvidenceBindings {
		if _, err := insertBinding(tx, id, input.IncidentID, author, now, &input.EvidenceBindings[i]); err != nil {
			return AddAssertionResult{Result: failErr(ReasonDBError, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return AddAssertionResult{Result: failErr(ReasonDBError, err)}
	}
	inv.store.noteWrite()

	return AddAssertionResult{Result: ok(), AssertionID: id, BindingCount: len(input.EvidenceBindings)}
}

// UpdateAssertionInput is a presence-flagged partial update for assertions.
type UpdateAssertionInput struct {
	Claim      *string        `json:"claim,omitempty"`
	Type       *string        `json:"type,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Status     *string        `json:"status,omitempty"`
	Reasoning  *string        `json:"reasoning,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	NowMs      int64          `json:"nowMs,omitempty"`
}

// UpdateAssertion applies a partial update, re-validating any present enum
// or confidence field.
func (inv *Investigator) UpdateAssertion(id string, input UpdateAssertionInput) Result {
	if r, up := inv.guard(); !up {
		return r
	}

	var sets []string
	var args []any

	if input.Claim != nil {
		claim := strings.TrimSpace(*input.Claim)
		if claim == "" {
			return fail(ReasonClaimRequired)
		}
		sets = append(sets, "claim = ?")
		args = append(args, claim)
	}
	if input.Type != nil {
		if !validAssertionType(*input.Type) {
			return fail(ReasonInvalidType)
		}
		sets = append(sets, "type = ?")
		args = append(args, *input.Type)
	}
	if input.Confidence != nil {
		if !validConfidence(*input.Confidence) {
			return fail(ReasonInvalidConfidence)
		}
		sets = append(sets, "confidence = ?")
		args = append(args, *input.Confidence)
	}
	if input.Status != nil {
		if !validAssertionStatus(*input.Status) {
			return fail(ReasonInvalidStatus)
		}
		sets = append(sets, "status = ?")
		args = append(args, *input.Status)
	}
	if input.Reasoning != nil {
		sets = append(sets, "reasoning = ?")
		args = append(args, *input.Reasoning)
	}
	if input.Meta != nil {
		sets = append(sets, "meta = ?")
		args = append(args, metaJSON(input.Meta))
	}

	if len(sets) == 0 {
		return fail(ReasonNoUpdates)
	}

	sets = append(sets, "updated_at_ms = ?")
	args = append(args, nowOr(input.NowMs), id)

	res, err := inv.store.DB().Exec(
		`UPDATE assertions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
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

// SupersedeInput carries the replacement claim for SupersedeAssertion.
// Confidence and type inherit from the superseded assertion when omitted.
type SupersedeInput struct {
	NewClaim             string          `json:"newClaim"`
	NewConfidence        *float64        `json:"newConfidence,omitempty"`
	NewType              string          `json:"newType,omitempty"`
	Reasoning            string          `json:"reasoning,omitempty"`
	Author               string          `json:"author,omitempty"`
	EvidenceBindings     []EvidenceInput `json:"evidenceBindings,omitempty"`
	AllowWithoutEvidence bool            `json:"allowWithoutEvidence,omitempty"`
	Meta                 map[string]any  `json:"meta,omitempty"`
	NowMs                int64           `json:"nowMs,omitempty"`
}

// SupersedeAssertion atomically replaces an assertion with a higher-version
// successor: the new row gets version+1 and status active, the old row flips
// to superseded with supersededBy set, and any new bindings land against the
// new id — all in one transaction.
func (inv *Investigator) SupersedeAssertion(id string, input SupersedeInput) SupersedeResult {
	if r, up := inv.guard(); !up {
		return SupersedeResult{Result: r}
	}

	claim := strings.TrimSpace(input.NewClaim)
	if claim == "" {
		return SupersedeResult{Result: fail(ReasonClaimRequired)}
	}
	if input.NewType != "" && !validAssertionType(input.NewType) {
		return SupersedeResult{Result: fail(ReasonInvalidType)}
	}
	if input.NewConfidence != nil && !validConfidence(*input.NewConfidence) {
		return SupersedeResult{Result: fail(ReasonInvalidConfidence)}
	}
	if len(input.EvidenceBindings) == 0 && !input.AllowWithoutEvidence {
		return SupersedeResult{Result: fail(ReasonEvidenceRequired)}
	}
	for i := range input.EvidenceBindings {
		if reason := validateBinding(&input.EvidenceBindings[i]); reason != "" {
			return SupersedeResult{Result: fail(reason)}
		}
	}

	db := inv.store.DB()
	tx, err := db.Begin()
	if err != nil {
		return SupersedeResult{Result: failErr(ReasonDBError, err)}
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanAssertion(tx.QueryRow(
		`SELECT `+assertionColumns+` FROM assertions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return SupersedeResult{Result: fail(ReasonAssertionNotFound)}
	}
	if err != nil {
		return SupersedeResult{Result: failErr(ReasonDBError, err)}
	}

	newID := NewID("ast")
	newType := orDefault(input.NewType, old.Type)
	confidence := old.Confidence
	if input.NewConfidence != nil {
		confidence = *input.NewConfidence
	}
	author := orDefault(input.Author, old.Author)
	now := nowOr(input.NowMs)

	_, err = tx.Exec(`
		INSERT INTO assertions (id, incident_id, claim, type, confidence, status, author,
			reasoning, version, meta, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?, ?, ?, ?, ?)`,
		newID, old.IncidentID, claim, newType, confidence, author,
		input.Reasoning, old.Version+1, metaJSON(input.Meta), now, now)
	if err != nil {
		return SupersedeResult{Result: failErr(ReasonDBError, err)}
	}

	_, err = tx.Exec(`
		UPDATE assertions SET status = 'superseded', superseded_by = ?, updated_at_ms = ?
		WHERE id = ?`, newID, now, id)
	if err != nil {
		return SupersedeResult{Result: failErr(ReasonDBError, err)}
	}

	for i := range input.EvidenceBindings {
		if _, err := insertBinding(tx, newID, old.IncidentID, author, now, &input.EvidenceBindings[i]); err != nil {
			return SupersedeResult{Result: failErr(ReasonDBError, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return SupersedeResult{Result: failErr(ReasonDBError, err)}
	}
	inv.store.noteWrite()

	return SupersedeResult{Result: ok(), NewAssertionID: newID, BindingCount: len(input.EvidenceBindings)}
}

// GetAssertion returns the mapped assertion or nil.
func (inv *Investigator) GetAssertion(id string) AssertionResult {
	if r, up := inv.guard(); !up {
		return AssertionResult{Result: r}
	}

	a, err := scanAssertion(inv.store.DB().QueryRow(
		`SELECT `+assertionColumns+` FROM assertions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return AssertionResult{Result: ok()}
	}
	if err != nil {
		return AssertionResult{Result: failErr(ReasonDBError, err)}
	}
	return AssertionResult{Result: ok(), Assertion: a}
}

// ListAssertionsInput filters ListAssertions within one incident.
type ListAssertionsInput struct {
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
	Limit  int    `json:"limit,omitempty"` // [1,1000], default 200
}

// ListAssertions returns an incident's assertions, newest first.
func (inv *Investigator) ListAssertions(incidentID string, input ListAssertionsInput) AssertionListResult {
	if r, up := inv.guard(); !up {
		return AssertionListResult{Result: r}
	}

	query := `SELECT ` + assertionColumns + ` FROM assertions WHERE incident_id = ?`
	args := []any{incidentID}
	if input.Status != "" {
		if !validAssertionStatus(input.Status) {
			return AssertionListResult{Result: fail(ReasonInvalidStatus)}
		}
		query += ` AND status = ?`
		args = append(args, input.Status)
	}
	if input.Type != "" {
		if !validAssertionType(input.Type) {
			return AssertionListResult{Result: fail(ReasonInvalidType)}
		}
		query += ` AND type = ?`
		args = append(args, input.Type)
	}
	query += ` ORDER BY created_at_ms DESC LIMIT ?`
	args = append(args, clampLimit(input.Limit, 200, 1000))

	rows, err := inv.store.DB().Query(query, args...)
	if err != nil {
		return AssertionListResult{Result: failErr(ReasonDBError, err)}
	}
	defer rows.Close()

	var assertions []*Assertion
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return AssertionListResult{Result: failErr(ReasonDBError, err)}
		}
		assertions = append(assertions, a)
	}
	if err := rows.Err(); err != nil {
		return AssertionListResult{Result: failErr(ReasonDBError, err)}
	}
	return AssertionListResult{Result: ok(), Assertions: assertions}
}
