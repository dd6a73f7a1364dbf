package audit

import (
	"path/filepath"
	"testing"

	"github.com/hazyhaar/evidenceledger/internal/ledger"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	store := ledger.NewStore(ledger.Options{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if r := store.Init(); !r.OK {
		t.Fatalf("store init: %+v", r)
	}
	t.Cleanup(func() { store.Close() })

	l := NewLogger(store.DB())
	if err := l.Init(); err != nil {
		t.Fatalf("audit init: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func countEntries(t *testing.T, l *Logger) int {
	t.Helper()
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestLogFillsDefaults(t *testing.T) {
	l := newTestLogger(t)

	if err := l.Log(&Entry{Action: "create-incident", Caller: "agent-1"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	var entryID, transport, status string
	var ts int64
	err := l.db.QueryRow(
		`SELECT entry_id, transport, status, timestamp_ms FROM audit_log WHERE action = 'create-incident'`).
		Scan(&entryID, &transport, &status, &ts)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if entryID == "" || entryID[:4] != "aud_" {
		t.Errorf("entry_id = %q, want aud_ prefix", entryID)
	}
	if transport != "mcp" || status != "success" {
		t.Errorf("transport/status = %s/%s", transport, status)
	}
	if ts <= 0 {
		t.Errorf("timestamp_ms = %d", ts)
	}
}

func TestLogFailureGetsErrorStatus(t *testing.T) {
	l := newTestLogger(t)

	if err := l.Log(&Entry{Action: "add-assertion", Reason: "invalid_confidence"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	var status, reason string
	err := l.db.QueryRow(
		`SELECT status, reason FROM audit_log WHERE action = 'add-assertion'`).Scan(&status, &reason)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "error" || reason != "invalid_confidence" {
		t.Errorf("status/reason = %s/%s", status, reason)
	}
}

func TestLogAsyncFlushesOnClose(t *testing.T) {
	l := newTestLogger(t)

	for i := 0; i < 5; i++ {
		l.LogAsync(&Entry{Action: "get-incident"})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := countEntries(t, l); n != 5 {
		t.Errorf("entries after close = %d, want 5", n)
	}
}

func TestCloseIdempotent(t *testing.T) {
	l := newTestLogger(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
