package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"strata/pkg/protocol"
)

// TraceStore is the external persistence hook for finalized traces.
type TraceStore interface {
	SaveTrace(ctx context.Context, t *Trace) error
	AllTraces(ctx context.Context) ([]*Trace, error)
	UpdateCompression(ctx context.Context, t *Trace) error
}

// SQLiteTraceStore persists traces in the engine database's traces table.
type SQLiteTraceStore struct {
	db *sql.DB
}

// NewSQLiteTraceStore creates a trace store over the given database. The
// caller is expected to have applied protocol.SchemaDDL.
func NewSQLiteTraceStore(db *sql.DB) *SQLiteTraceStore {
	return &SQLiteTraceStore{db: db}
}

// SaveTrace inserts a finalized trace.
func (s *SQLiteTraceStore) SaveTrace(ctx context.Context, t *Trace) error {
	tools, err := json.Marshal(t.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (trace_id, type, score, summary, tools, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Score, t.Summary, string(tools), string(meta),
		t.Metadata.End.UTC().Format(protocol.TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	return nil
}

// AllTraces returns every persisted trace in finalization order.
func (s *SQLiteTraceStore) AllTraces(ctx context.Context) ([]*Trace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, type, score, COALESCE(summary, ''), tools, metadata,
		        COALESCE(compressed, '')
		 FROM traces ORDER BY created_at ASC, trace_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("all traces: %w", err)
	}
	defer rows.Close()

	var out []*Trace
	for rows.Next() {
		var t Trace
		var tools, meta, compressed string
		if err := rows.Scan(&t.ID, &t.Type, &t.Score, &t.Summary,
			&tools, &meta, &compressed); err != nil {
			return nil, fmt.Errorf("all traces scan: %w", err)
		}
		if err := json.Unmarshal([]byte(tools), &t.Tools); err != nil {
			t.Tools = nil
		}
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			t.Metadata = Metadata{}
		}
		if compressed != "" {
			var c Compressed
			if err := json.Unmarshal([]byte(compressed), &c); err == nil {
				t.Compressed = &c
			}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all traces rows: %w", err)
	}
	return out, nil
}

// UpdateCompression writes back a trace's compressed representation and
// its (possibly pruned) tools array. This is the only post-insert update.
func (s *SQLiteTraceStore) UpdateCompression(ctx context.Context, t *Trace) error {
	if t.Compressed == nil {
		return nil
	}
	compressed, err := json.Marshal(t.Compressed)
	if err != nil {
		return fmt.Errorf("marshal compressed: %w", err)
	}
	tools, err := json.Marshal(t.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE traces SET compressed = ?, tools = ? WHERE trace_id = ?`,
		string(compressed), string(tools), t.ID)
	if err != nil {
		return fmt.Errorf("update compression: %w", err)
	}
	return nil
}
