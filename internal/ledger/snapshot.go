package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const hashPrefix = "sha256:"

// normalizeSnapshotHash lowercases a hash and guarantees the sha256: prefix,
// tolerating input that omits it. Empty input stays empty.
func normalizeSnapshotHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	return hashPrefix + strings.TrimPrefix(h, hashPrefix)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// ComputeFileSnapshotHash hashes a whole file, or one 1-indexed line of it,
// as sha256:<hex>. Read failures are reported in the envelope, never thrown.
func (inv *Investigator) ComputeFileSnapshotHash(filePath string, fileLine int, baseDir string) SnapshotResult {
	if r, up := inv.guard(); !up {
		return SnapshotResult{Result: r}
	}
	if strings.TrimSpace(filePath) == "" {
		return SnapshotResult{Result: fail(ReasonFilePathRequired)}
	}

	path := filePath
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return SnapshotResult{Result: failErr(ReasonReadFailed, err)}
	}

	if fileLine <= 0 {
		return SnapshotResult{
			Result:     ok(),
			Hash:       hashBytes(content),
			ByteLength: len(content),
			Mode:       "file",
		}
	}

	lines := strings.Split(string(content), "\n")
	if fileLine > len(lines) {
		return SnapshotResult{Result: failErr(ReasonReadFailed,
			fmt.Errorf("line %d out of range (%d lines)", fileLine, len(lines)))}
	}
	line := strings.TrimSuffix(lines[fileLine-1], "\r")
	return SnapshotResult{
		Result:     ok(),
		Hash:       hashBytes([]byte(line)),
		ByteLength: len(line),
		Mode:       "line",
	}
}

// RefreshInput selects the candidate file_line_ref bindings to re-check.
// Exactly zero or one of BindingID/AssertionID/IncidentID is typically set;
// all empty means every candidate in the store (up to Limit).
type RefreshInput struct {
	BindingID           string `json:"bindingId,omitempty"`
	AssertionID         string `json:"assertionId,omitempty"`
	IncidentID          string `json:"incidentId,omitempty"`
	IncludeAlreadyStale bool   `json:"includeAlreadyStale,omitempty"`
	Limit               int    `json:"limit,omitempty"` // [1,10000], default 1000
	BaseDir             string `json:"baseDir,omitempty"`
}

// RefreshFileLineBindingStaleness recomputes current hashes for candidate
// file_line_ref bindings that carry a snapshot hash and marks stale any
// whose content drifted. A missing or unreadable file also counts as stale
// and is reported under MissingFiles.
func (inv *Investigator) RefreshFileLineBindingStaleness(input RefreshInput) RefreshResult {
	if r, up := inv.guard(); !up {
		return RefreshResult{Result: r}
	}

	query := `SELECT id, file_path, file_line, snapshot_hash FROM evidence_bindings
		WHERE kind = 'file_line_ref' AND snapshot_hash IS NOT NULL AND snapshot_hash != ''`
	var args []any
	if input.BindingID != "" {
		query += ` AND id = ?`
		args = append(args, input.BindingID)
	}
	if input.AssertionID != "" {
		query += ` AND assertion_id = ?`
		args = append(args, input.AssertionID)
	}
	if input.IncidentID != "" {
		query += ` AND incident_id = ?`
		args = append(args, input.IncidentID)
	}
	if !input.IncludeAlreadyStale {
		query += ` AND stale = 0`
	}
	query += ` ORDER BY created_at_ms ASC LIMIT ?`
	args = append(args, clampLimit(input.Limit, 1000, 10000))

	rows, err := inv.store.DB().Query(query, args...)
	if err != nil {
		return RefreshResult{Result: failErr(ReasonDBError, err)}
	}

	type candidate struct {
		id       string
		path     string
		line     int
		snapshot string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.path, &c.line, &c.snapshot); err != nil {
			rows.Close()
			return RefreshResult{Result: failErr(ReasonDBError, err)}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return RefreshResult{Result: failErr(ReasonDBError, err)}
	}
	rows.Close()

	out := RefreshResult{
		Result:              ok(),
		StaleBindingIDs:     []string{},
		UnchangedBindingIDs: []string{},
		MissingFiles:        []string{},
	}

	for _, c := range candidates {
		out.Checked++

		current := inv.ComputeFileSnapshotHash(c.path, c.line, input.BaseDir)
		if !current.OK {
			out.MissingFiles = append(out.MissingFiles, c.path)
			out.StaleBindingIDs = append(out.StaleBindingIDs, c.id)
			continue
		}
		if normalizeSnapshotHash(current.Hash) == normalizeSnapshotHash(c.snapshot) {
			out.UnchangedBindingIDs = append(out.UnchangedBindingIDs, c.id)
			continue
		}
		out.StaleBindingIDs = append(out.StaleBindingIDs, c.id)
	}

	for _, id := range out.StaleBindingIDs {
		if _, err := inv.store.DB().Exec(
			`UPDATE evidence_bindings SET stale = 1 WHERE id = ?`, id); err != nil {
			return RefreshResult{Result: failErr(ReasonDBError, err)}
		}
	}
	out.MarkedStale = len(out.StaleBindingIDs)
	if out.MarkedStale > 0 {
		inv.store.noteWrite()
	}
	return out
}
