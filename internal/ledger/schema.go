package ledger

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','investigating','resolved','closed','stale')),
    severity      TEXT NOT NULL DEFAULT 'medium' CHECK(severity IN ('critical','high','medium','low','info')),
    created_by    TEXT NOT NULL DEFAULT 'system',
    session_id    TEXT,
    meta          TEXT NOT NULL DEFAULT '{}',
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    closed_at_ms  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
CREATE INDEX IF NOT EXISTS idx_incidents_session ON incidents(session_id) WHERE session_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_incidents_updated ON incidents(updated_at_ms);

CREATE TABLE IF NOT EXISTS incident_tags (
    incident_id TEXT NOT NULL,
    tag         TEXT NOT NULL,
    PRIMARY KEY (incident_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_incident_tags_tag ON incident_tags(tag);

CREATE TABLE IF NOT EXISTS assertions (
    id            TEXT PRIMARY KEY,
    incident_id   TEXT NOT NULL REFERENCES incidents(id),
    claim         TEXT NOT NULL,
    type          TEXT NOT NULL DEFAULT 'hypothesis' CHECK(type IN ('hypothesis','observation','conclusion','counterevidence')),
    confidence    REAL NOT NULL DEFAULT 0.5 CHECK(confidence >= 0.0 AND confidence <= 1.0),
    status        TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','superseded','retracted','confirmed')),
    author        TEXT NOT NULL DEFAULT 'system',
    reasoning     TEXT NOT NULL DEFAULT '',
    superseded_by TEXT,
    version       INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
    meta          TEXT NOT NULL DEFAULT '{}',
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assertions_incident ON assertions(incident_id);
CREATE INDEX IF NOT EXISTS idx_assertions_status ON assertions(status);
CREATE INDEX IF NOT EXISTS idx_assertions_type ON assertions(type);

CREATE TABLE IF NOT EXISTS evidence_bindings (
    id            TEXT PRIMARY KEY,
    assertion_id  TEXT NOT NULL REFERENCES assertions(id),
    incident_id   TEXT NOT NULL,
    kind          TEXT NOT NULL CHECK(kind IN ('event_ref','file_line_ref','log_slice_ref','query_ref')),
    relation      TEXT NOT NULL DEFAULT 'supports' CHECK(relation IN ('supports','contradicts','context')),
    event_id      TEXT,
    file_path     TEXT,
    file_line     INTEGER,
    file_col      INTEGER,
    snapshot_hash TEXT,
    log_source    TEXT,
    log_start_ms  INTEGER,
    log_end_ms    INTEGER,
    log_filter    TEXT,
    query_json    TEXT,
    result_hash   TEXT,
    stale         INTEGER NOT NULL DEFAULT 0 CHECK(stale IN (0, 1)),
    created_by    TEXT NOT NULL DEFAULT 'system',
    meta          TEXT NOT NULL DEFAULT '{}',
    created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bindings_assertion ON evidence_bindings(assertion_id);
CREATE INDEX IF NOT EXISTS idx_bindings_incident ON evidence_bindings(incident_id);
CREATE INDEX IF NOT EXISTS idx_bindings_kind ON evidence_bindings(kind);
CREATE INDEX IF NOT EXISTS idx_bindings_stale ON evidence_bindings(stale) WHERE stale = 0;

CREATE TABLE IF NOT EXISTS verdicts (
    id                TEXT PRIMARY KEY,
    incident_id       TEXT NOT NULL REFERENCES incidents(id),
    value             TEXT NOT NULL,
    confidence        REAL NOT NULL CHECK(confidence >= 0.0 AND confidence <= 1.0),
    version           INTEGER NOT NULL CHECK(version >= 1),
    reason            TEXT NOT NULL DEFAULT '',
    key_assertion_ids TEXT NOT NULL DEFAULT '[]',
    author            TEXT NOT NULL DEFAULT 'system',
    meta              TEXT NOT NULL DEFAULT '{}',
    created_at_ms     INTEGER NOT NULL,
    UNIQUE (incident_id, version)
);
CREATE INDEX IF NOT EXISTS idx_verdicts_incident ON verdicts(incident_id);

CREATE TABLE IF NOT EXISTS trace_links (
    incident_id  TEXT NOT NULL,
    trace_id     TEXT NOT NULL,
    linked_at_ms INTEGER NOT NULL,
    linked_by    TEXT NOT NULL DEFAULT 'system',
    note         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (incident_id, trace_id)
);
CREATE INDEX IF NOT EXISTS idx_trace_links_trace ON trace_links(trace_id);
`
