// Package audit records dispatched ledger actions to an audit_log table in
// the same database, asynchronously, so the trail never adds latency to the
// operation it describes.
package audit

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/evidenceledger/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id      TEXT PRIMARY KEY,
	timestamp_ms  INTEGER NOT NULL,
	action        TEXT NOT NULL,
	transport     TEXT NOT NULL DEFAULT 'mcp',
	caller        TEXT,
	parameters    TEXT,
	reason        TEXT,
	error_message TEXT,
	duration_ms   INTEGER,
	status        TEXT NOT NULL DEFAULT 'success'
);
CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_log_caller ON audit_log(caller);
`

// Entry is one recorded action.
type Entry struct {
	EntryID     string
	TimestampMs int64
	Action      string
	Transport   string
	Caller      string
	Parameters  string
	Reason      string
	Error       string
	DurationMs  int64
	Status      string
}

// Logger buffers entries and flushes them on a background loop. Entries are
// dropped (with a warning) rather than blocking when the buffer is full.
type Logger struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

func NewLogger(db *sql.DB) *Logger {
	l := &Logger{
		db:   db,
		ch:   make(chan *Entry, 256),
		done: make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

func (l *Logger) Init() error {
	_, err := l.db.Exec(schema)
	return err
}

// Log writes an entry synchronously. Used by tests and shutdown paths.
func (l *Logger) Log(entry *Entry) error {
	l.fillDefaults(entry)
	return l.insert(entry)
}

// LogAsync enqueues an entry for the flush loop.
func (l *Logger) LogAsync(entry *Entry) {
	l.fillDefaults(entry)
	select {
	case l.ch <- entry:
	default:
		slog.Warn("audit buffer full, dropping entry", "action", entry.Action)
	}
}

// Close drains the buffer and stops the flush loop. Idempotent.
func (l *Logger) Close() error {
	l.once.Do(func() {
		close(l.ch)
		<-l.done
	})
	return nil
}

func (l *Logger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = ledger.NewID("aud")
	}
	if e.TimestampMs == 0 {
		e.TimestampMs = time.Now().UnixMilli()
	}
	if e.Status == "" {
		if e.Error != "" || e.Reason != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
	if e.Transport == "" {
		e.Transport = "mcp"
	}
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	batch := make([]*Entry, 0, 32)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-l.ch:
			if !ok {
				l.flushBatch(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 32 {
				l.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	for _, e := range batch {
		if err := l.insert(e); err != nil {
			slog.Error("audit write failed", "error", err, "action", e.Action)
		}
	}
}

func (l *Logger) insert(e *Entry) error {
	_, err := l.db.Exec(`
		INSERT INTO audit_log (entry_id, timestamp_ms, action, transport, caller,
			parameters, reason, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.TimestampMs, e.Action, e.Transport, e.Caller,
		e.Parameters, e.Reason, e.Error, e.DurationMs, e.Status)
	return err
}
