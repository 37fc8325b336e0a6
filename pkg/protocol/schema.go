package protocol

// SchemaDDL defines the SQLite schema for the Strata engine database.
// Tables: frames, events, anchors, handoff_requests, traces.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Hierarchical work call-stack. parent_frame_id forms the ownership tree;
-- depth is always parent.depth+1 (0 for roots).
CREATE TABLE IF NOT EXISTS frames (
    frame_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    parent_frame_id TEXT REFERENCES frames(frame_id),
    depth INTEGER NOT NULL DEFAULT 0,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'active',
    inputs TEXT NOT NULL DEFAULT '{}',
    outputs TEXT NOT NULL DEFAULT '{}',
    digest_text TEXT,
    digest_json TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    closed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_frames_run ON frames(run_id);
CREATE INDEX IF NOT EXISTS idx_frames_parent ON frames(parent_frame_id);
CREATE INDEX IF NOT EXISTS idx_frames_state ON frames(state);

-- Ordered facts attached to frames. seq is monotonic per frame, starting
-- at 1, assigned atomically at insert time.
CREATE TABLE IF NOT EXISTS events (
    event_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    frame_id TEXT NOT NULL REFERENCES frames(frame_id),
    seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    ts TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_frame_seq ON events(frame_id, seq);

-- Prioritized annotations (DECISION, CONSTRAINT, RISK, FACT, TODO).
CREATE TABLE IF NOT EXISTS anchors (
    anchor_id TEXT PRIMARY KEY,
    frame_id TEXT NOT NULL REFERENCES frames(frame_id),
    project_id TEXT NOT NULL,
    type TEXT NOT NULL,
    text TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_anchors_frame ON anchors(frame_id);

-- Cross-session / cross-user handoff queue.
CREATE TABLE IF NOT EXISTS handoff_requests (
    request_id TEXT PRIMARY KEY,
    source_stack_id TEXT NOT NULL,
    target_stack_id TEXT,
    frame_ids TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    expires_at TEXT,
    target_user_id TEXT,
    message TEXT
);

-- Finalized tool-call traces. tools and metadata are JSON; compressed is
-- populated later by the aging sweep and is the only post-insert mutation.
CREATE TABLE IF NOT EXISTS traces (
    trace_id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    summary TEXT,
    tools TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    compressed TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// TimeFormat is the timestamp layout used in SQLite columns, matching the
// output of datetime('now').
const TimeFormat = "2006-01-02 15:04:05"
