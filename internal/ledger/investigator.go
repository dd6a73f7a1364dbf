package ledger

import (
	"encoding/json"
	"time"
)

// Investigator is a stateless façade over the Store. It caches nothing:
// every read reflects the latest committed state.
type Investigator struct {
	store *Store
}

// NewInvestigator wraps an explicitly owned Store handle. The Investigator
// never opens a second connection.
func NewInvestigator(store *Store) *Investigator {
	return &Investigator{store: store}
}

// Store returns the backing store.
func (inv *Investigator) Store() *Store { return inv.store }

// guard is the uniform unavailability short-circuit: checked before any SQL
// is issued, identical across all methods.
func (inv *Investigator) guard() (Result, bool) {
	if !inv.store.IsAvailable() {
		return fail(ReasonUnavailable), false
	}
	return Result{}, true
}

// nowOr resolves a caller-supplied millisecond timestamp. Omitted or
// non-positive values fall back to wall-clock time, never to zero.
func nowOr(ms int64) int64 {
	if ms > 0 {
		return ms
	}
	return time.Now().UnixMilli()
}

// metaJSON serializes a metadata map for storage. Nil and unmarshalable
// values collapse to the empty object.
func metaJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// metaMap deserializes a stored metadata column.
func metaMap(s string) map[string]any {
	if s == "" || s == "{}" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// idsJSON serializes a string list column ([] when empty).
func idsJSON(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func idsList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

// clampLimit applies a [1, max] window with a default for the zero value.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
