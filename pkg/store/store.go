// Package store provides durable SQLite-backed storage for frames, events,
// anchors, and handoff requests. It is the leaf of the engine: every other
// package reaches persistence through a Store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"strata/pkg/protocol"
)

// Store manages the engine tables in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given SQLite database. The caller
// is expected to have applied protocol.SchemaDDL.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for schema application and test setup.
func (s *Store) DB() *sql.DB {
	return s.db
}

// FrameQuery selects which frames a listing or stack reconstruction sees.
// Zero-value fields do not filter; ActiveOnly restricts to state='active'.
type FrameQuery struct {
	RunID      string
	ProjectID  string
	ActiveOnly bool
}

// mapToJSON serializes a map for a JSON text column. nil maps become "{}".
func mapToJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// mapFromJSON parses a JSON text column into a map. Empty or malformed
// columns yield nil.
func mapFromJSON(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// storeErr wraps a database error into the typed taxonomy. SQLite busy and
// locked conditions are the transient, retryable class.
func storeErr(op string, err error) error {
	msg := err.Error()
	transient := strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
	return &protocol.StoreError{Op: op, Transient: transient, Cause: err}
}

// formatTime renders a timestamp for a SQLite text column.
func formatTime(t time.Time) string {
	return t.UTC().Format(protocol.TimeFormat)
}

// parseTime parses a SQLite text timestamp, accepting both the default
// datetime('now') layout and RFC3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(protocol.TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CreateFrame inserts a new active frame. When the frame names a parent,
// the parent row is read inside the same transaction: a missing parent is
// a FrameStateError, and Depth is forced to parent.depth+1.
func (s *Store) CreateFrame(ctx context.Context, f *protocol.Frame) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("create frame begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if f.ParentFrameID != "" {
		var parentDepth int
		var parentState string
		row := tx.QueryRowContext(ctx,
			`SELECT depth, state FROM frames WHERE frame_id = ?`, f.ParentFrameID)
		if err := row.Scan(&parentDepth, &parentState); err != nil {
			if err == sql.ErrNoRows {
				return &protocol.FrameStateError{
					FrameID: f.ParentFrameID,
					Op:      "create frame",
					Reason:  "parent frame does not exist",
				}
			}
			return storeErr("create frame parent lookup", err)
		}
		f.Depth = parentDepth + 1
	} else {
		f.Depth = 0
	}

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.State = protocol.FrameActive

	_, err = tx.ExecContext(ctx,
		`INSERT INTO frames (frame_id, run_id, project_id, parent_frame_id, depth,
		                     type, name, state, inputs, outputs, digest_json, created_at)
		 VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, '{}', '{}', ?)`,
		f.FrameID, f.RunID, f.ProjectID, f.ParentFrameID, f.Depth,
		f.Type, f.Name, f.State, mapToJSON(f.Inputs), formatTime(f.CreatedAt),
	)
	if err != nil {
		return storeErr("create frame insert", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("create frame commit", err)
	}
	return nil
}

// frameColumns is the SELECT list shared by all frame reads.
const frameColumns = `frame_id, run_id, project_id,
	COALESCE(parent_frame_id, '') AS parent_frame_id,
	depth, type, name, state, inputs, outputs,
	COALESCE(digest_text, '') AS digest_text, digest_json,
	created_at, COALESCE(closed_at, '') AS closed_at`

// scanFrame reads one frame row.
func scanFrame(row interface{ Scan(...any) error }) (*protocol.Frame, error) {
	var f protocol.Frame
	var inputs, outputs, digestJSON, createdAt, closedAt string
	if err := row.Scan(
		&f.FrameID, &f.RunID, &f.ProjectID, &f.ParentFrameID,
		&f.Depth, &f.Type, &f.Name, &f.State, &inputs, &outputs,
		&f.DigestText, &digestJSON, &createdAt, &closedAt,
	); err != nil {
		return nil, err
	}
	f.Inputs = mapFromJSON(inputs)
	f.Outputs = mapFromJSON(outputs)
	f.DigestJSON = mapFromJSON(digestJSON)
	if createdAt != "" {
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		f.CreatedAt = t
	}
	if closedAt != "" {
		t, err := parseTime(closedAt)
		if err != nil {
			return nil, fmt.Errorf("parse closed_at: %w", err)
		}
		f.ClosedAt = &t
	}
	return &f, nil
}

// GetFrame returns a frame by id, or FrameNotFoundError.
func (s *Store) GetFrame(ctx context.Context, frameID string) (*protocol.Frame, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+frameColumns+` FROM frames WHERE frame_id = ?`, frameID)
	f, err := scanFrame(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &protocol.FrameNotFoundError{FrameID: frameID}
		}
		return nil, storeErr("get frame", err)
	}
	return f, nil
}

// ListFrames returns frames matching the query, ordered by created_at then
// frame_id for stable output.
func (s *Store) ListFrames(ctx context.Context, q FrameQuery) ([]protocol.Frame, error) {
	var conditions []string
	var args []any

	if q.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, q.ProjectID)
	}
	if q.ActiveOnly {
		conditions = append(conditions, "state = ?")
		args = append(args, string(protocol.FrameActive))
	}

	query := `SELECT ` + frameColumns + ` FROM frames`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, frame_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list frames", err)
	}
	defer rows.Close()

	var frames []protocol.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, storeErr("list frames scan", err)
		}
		frames = append(frames, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list frames rows", err)
	}
	return frames, nil
}

// Children returns the child frames of frameID, optionally restricted to
// active ones, ordered by creation time.
func (s *Store) Children(ctx context.Context, frameID string, activeOnly bool) ([]protocol.Frame, error) {
	query := `SELECT ` + frameColumns + ` FROM frames WHERE parent_frame_id = ?`
	args := []any{frameID}
	if activeOnly {
		query += ` AND state = ?`
		args = append(args, string(protocol.FrameActive))
	}
	query += ` ORDER BY created_at ASC, frame_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("children", err)
	}
	defer rows.Close()

	var frames []protocol.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, storeErr("children scan", err)
		}
		frames = append(frames, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("children rows", err)
	}
	return frames, nil
}

// CloseFrame marks an active frame closed, freezing its outputs and digest.
// It returns false without error when the frame was already closed, which
// callers surface as an idempotent no-op. A missing frame is
// FrameNotFoundError.
func (s *Store) CloseFrame(ctx context.Context, frameID string, outputs map[string]any, digestText string, digestJSON map[string]any, closedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE frames
		 SET state = ?, outputs = ?, digest_text = ?, digest_json = ?, closed_at = ?
		 WHERE frame_id = ? AND state = ?`,
		string(protocol.FrameClosed), mapToJSON(outputs), digestText,
		mapToJSON(digestJSON), formatTime(closedAt),
		frameID, string(protocol.FrameActive),
	)
	if err != nil {
		return false, storeErr("close frame", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("close frame rows affected", err)
	}
	if n == 0 {
		// Distinguish "already closed" from "never existed".
		var state string
		row := s.db.QueryRowContext(ctx,
			`SELECT state FROM frames WHERE frame_id = ?`, frameID)
		if err := row.Scan(&state); err != nil {
			if err == sql.ErrNoRows {
				return false, &protocol.FrameNotFoundError{FrameID: frameID}
			}
			return false, storeErr("close frame state check", err)
		}
		return false, nil
	}
	return true, nil
}

// AppendEvent inserts an event with an atomically assigned per-frame
// sequence number: the seq subselect runs inside the INSERT statement, so
// concurrent writers to the same frame cannot produce duplicates.
func (s *Store) AppendEvent(ctx context.Context, e *protocol.Event) (int64, error) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, frame_id, seq, event_type, payload, ts)
		 SELECT ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
		 FROM events WHERE frame_id = ?`,
		e.EventID, e.RunID, e.FrameID, e.EventType, mapToJSON(e.Payload),
		formatTime(e.TS), e.FrameID,
	)
	if err != nil {
		return 0, storeErr("append event", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT seq FROM events WHERE event_id = ?`, e.EventID)
	if err := row.Scan(&e.Seq); err != nil {
		return 0, storeErr("append event seq", err)
	}
	return e.Seq, nil
}

// ListEvents returns a frame's events in seq order. limit 0 means all.
func (s *Store) ListEvents(ctx context.Context, frameID string, limit int) ([]protocol.Event, error) {
	query := `SELECT event_id, run_id, frame_id, seq, event_type, payload, ts
	          FROM events WHERE frame_id = ? ORDER BY seq ASC`
	args := []any{frameID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var events []protocol.Event
	for rows.Next() {
		var e protocol.Event
		var payload, ts string
		if err := rows.Scan(&e.EventID, &e.RunID, &e.FrameID, &e.Seq,
			&e.EventType, &payload, &ts); err != nil {
			return nil, storeErr("list events scan", err)
		}
		e.Payload = mapFromJSON(payload)
		if ts != "" {
			t, err := parseTime(ts)
			if err != nil {
				return nil, storeErr("list events ts", err)
			}
			e.TS = t
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list events rows", err)
	}
	return events, nil
}

// RecentEvents returns the last n events of a frame in seq order.
func (s *Store) RecentEvents(ctx context.Context, frameID string, n int) ([]protocol.Event, error) {
	events, err := s.ListEvents(ctx, frameID, 0)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// AddAnchor inserts an anchor. Anchors are immutable once written.
func (s *Store) AddAnchor(ctx context.Context, a *protocol.Anchor) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors (anchor_id, frame_id, project_id, type, text, priority, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AnchorID, a.FrameID, a.ProjectID, string(a.Type), a.Text, a.Priority,
		formatTime(a.CreatedAt), mapToJSON(a.Metadata),
	)
	if err != nil {
		return storeErr("add anchor", err)
	}
	return nil
}

// ListAnchors returns a frame's anchors ordered priority DESC, created_at ASC.
func (s *Store) ListAnchors(ctx context.Context, frameID string) ([]protocol.Anchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT anchor_id, frame_id, project_id, type, text, priority, created_at, metadata
		 FROM anchors WHERE frame_id = ?
		 ORDER BY priority DESC, created_at ASC, anchor_id ASC`, frameID)
	if err != nil {
		return nil, storeErr("list anchors", err)
	}
	defer rows.Close()

	var anchors []protocol.Anchor
	for rows.Next() {
		var a protocol.Anchor
		var typ, createdAt, metadata string
		if err := rows.Scan(&a.AnchorID, &a.FrameID, &a.ProjectID, &typ,
			&a.Text, &a.Priority, &createdAt, &metadata); err != nil {
			return nil, storeErr("list anchors scan", err)
		}
		a.Type = protocol.AnchorType(typ)
		a.Metadata = mapFromJSON(metadata)
		if createdAt != "" {
			t, err := parseTime(createdAt)
			if err != nil {
				return nil, storeErr("list anchors created_at", err)
			}
			a.CreatedAt = t
		}
		anchors = append(anchors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list anchors rows", err)
	}
	return anchors, nil
}
