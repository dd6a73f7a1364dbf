// Package ledger implements the evidence ledger: an embedded, transactional
// investigation datastore tracking incidents, supersedable assertions, typed
// evidence bindings, and versioned verdicts.
//
// The Store owns the physical SQLite connection and its lifecycle; the
// Investigator is a stateless façade that validates input and executes
// parameterized statements against the Store. If the engine cannot be opened
// the Store degrades permanently for its lifetime and every operation returns
// the uniform unavailable envelope instead of erroring.
package ledger

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Options configures a Store. Zero values fall back to conservative defaults.
type Options struct {
	// Path is the SQLite file location. The parent directory is created on
	// Init if missing.
	Path string

	// SessionID, when set, is stamped on incidents created without an
	// explicit session. It is a soft, filterable partition, not a boundary.
	SessionID string

	// Disabled makes the store permanently unavailable without touching
	// the filesystem.
	Disabled bool

	// MaxIncidents caps retained incidents; the oldest are pruned beyond it.
	// Zero disables the row cap.
	MaxIncidents int

	// MaxAgeDays prunes incidents whose last update is older than this.
	// Zero disables the age cap.
	MaxAgeDays int

	// PruneEvery triggers an opportunistic retention sweep after this many
	// writes. Zero means every 64 writes.
	PruneEvery int
}

// pruneBatch bounds how many incidents one sweep may delete so retention
// never makes an ordinary write's latency unbounded.
const pruneBatch = 64

// Store owns the SQLite connection. Unavailability is sticky: once Init
// fails, the store never reconnects on its own.
type Store struct {
	opts Options

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
	available   bool
	reason      string
	writesLeft  int
}

// StoreStatus is a point-in-time snapshot of the store.
type StoreStatus struct {
	Available bool             `json:"available"`
	Path      string           `json:"path"`
	SessionID string           `json:"sessionId,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	RowCounts map[string]int64 `json:"rowCounts,omitempty"`
}

// NewStore builds a Store without touching the filesystem. Call Init before
// use.
func NewStore(opts Options) *Store {
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = 64
	}
	return &Store{opts: opts, writesLeft: opts.PruneEvery}
}

// Init idempotently opens the connection and creates the schema. A failure
// leaves the store permanently unavailable; repeated calls report the first
// failure without retrying.
func (s *Store) Init() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		if s.available {
			return ok()
		}
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}
	s.initialized = true

	if s.opts.Disabled {
		s.reason = "ledger disabled by config"
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}
	if s.opts.Path == "" {
		s.reason = "ledger path not configured"
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}

	if err := os.MkdirAll(filepath.Dir(s.opts.Path), 0o755); err != nil {
		s.reason = fmt.Sprintf("creating data dir: %v", err)
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate",
		s.opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		s.reason = fmt.Sprintf("opening database: %v", err)
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		s.reason = fmt.Sprintf("pinging database: %v", err)
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		s.reason = fmt.Sprintf("migrating database: %v", err)
		return Result{Reason: ReasonUnavailable, Error: s.reason}
	}

	// SQLite serializes writers; one connection keeps lock contention out
	// of the driver's pool.
	db.SetMaxOpenConns(1)

	s.db = db
	s.available = true

	if n, err := s.pruneLocked(); err != nil {
		slog.Warn("retention sweep at init failed", "error", err)
	} else if n > 0 {
		slog.Info("retention sweep at init", "pruned", n)
	}

	return ok()
}

// IsAvailable reports whether the connection is open and the schema
// confirmed.
func (s *Store) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Close releases the connection. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.available = false
	s.reason = "closed"
	return err
}

// DB exposes the underlying handle for supporting infrastructure (audit
// trail). Nil while unavailable.
func (s *Store) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// SessionID returns the configured default session scope.
func (s *Store) SessionID() string { return s.opts.SessionID }

// Path returns the configured database path.
func (s *Store) Path() string { return s.opts.Path }

// Status snapshots availability, path, session scope, and per-table row
// counts.
func (s *Store) Status() StoreStatus {
	s.mu.Lock()
	db, available, reason := s.db, s.available, s.reason
	s.mu.Unlock()

	st := StoreStatus{
		Available: available,
		Path:      s.opts.Path,
		SessionID: s.opts.SessionID,
		Reason:    reason,
	}
	if !available || db == nil {
		return st
	}

	st.RowCounts = make(map[string]int64)
	for _, table := range []string{"incidents", "assertions", "evidence_bindings", "verdicts", "trace_links"} {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			slog.Warn("row count failed", "table", table, "error", err)
			continue
		}
		st.RowCounts[table] = n
	}
	return st
}

// noteWrite counts down to the next opportunistic retention sweep. Called by
// the Investigator after successful writes.
func (s *Store) noteWrite() {
	s.mu.Lock()
	s.writesLeft--
	due := s.writesLeft <= 0
	if due {
		s.writesLeft = s.opts.PruneEvery
	}
	s.mu.Unlock()

	if due {
		if n, err := s.Prune(); err != nil {
			slog.Warn("retention sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("retention sweep", "pruned", n)
		}
	}
}

// Prune applies the row-count and age caps, deleting at most pruneBatch
// incidents (with their assertions, bindings, verdicts, trace links, and
// tags) per call. Returns the number of incidents removed.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked()
}

func (s *Store) pruneLocked() (int64, error) {
	if !s.available || s.db == nil {
		return 0, nil
	}
	if s.opts.MaxIncidents <= 0 && s.opts.MaxAgeDays <= 0 {
		return 0, nil
	}

	var victims []string

	if s.opts.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.opts.MaxAgeDays).UnixMilli()
		ids, err := s.selectIncidentIDs(
			`SELECT id FROM incidents WHERE updated_at_ms < ? ORDER BY updated_at_ms ASC LIMIT ?`,
			cutoff, pruneBatch)
		if err != nil {
			return 0, err
		}
		victims = append(victims, ids...)
	}

	if s.opts.MaxIncidents > 0 && len(victims) < pruneBatch {
		var total int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&total); err != nil {
			return 0, err
		}
		if excess := total - len(victims) - s.opts.MaxIncidents; excess > 0 {
			if excess > pruneBatch-len(victims) {
				excess = pruneBatch - len(victims)
			}
			ids, err := s.selectIncidentIDs(
				`SELECT id FROM incidents ORDER BY updated_at_ms ASC LIMIT ?`, excess)
			if err != nil {
				return 0, err
			}
			for _, id := range ids {
				if !slices.Contains(victims, id) {
					victims = append(victims, id)
				}
			}
		}
	}

	if len(victims) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range victims {
		for _, stmt := range []string{
			`DELETE FROM evidence_bindings WHERE incident_id = ?`,
			`DELETE FROM verdicts WHERE incident_id = ?`,
			`DELETE FROM assertions WHERE incident_id = ?`,
			`DELETE FROM trace_links WHERE incident_id = ?`,
			`DELETE FROM incident_tags WHERE incident_id = ?`,
			`DELETE FROM incidents WHERE id = ?`,
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(victims)), nil
}

func (s *Store) selectIncidentIDs(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
