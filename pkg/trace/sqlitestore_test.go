package trace

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"strata/pkg/protocol"

	_ "modernc.org/sqlite"
)

func setupTraceStore(t *testing.T) *SQLiteTraceStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	return NewSQLiteTraceStore(db)
}

func TestSQLiteTraceStore_SaveAndLoad(t *testing.T) {
	st := setupTraceStore(t)
	ctx := context.Background()

	tr := testTrace(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	if err := st.SaveTrace(ctx, tr); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := st.AllTraces(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(all))
	}
	got := all[0]
	if got.ID != tr.ID || got.Type != tr.Type || got.Score != tr.Score {
		t.Errorf("trace fields lost: %+v", got)
	}
	if len(got.Tools) != 4 {
		t.Errorf("tools not round-tripped: %d", len(got.Tools))
	}
	if got.Compressed != nil {
		t.Error("fresh trace should have no compression")
	}
}

func TestSQLiteTraceStore_UpdateCompression(t *testing.T) {
	st := setupTraceStore(t)
	ctx := context.Background()

	tr := testTrace(time.Now().UTC())
	if err := st.SaveTrace(ctx, tr); err != nil {
		t.Fatalf("save: %v", err)
	}

	Compress(tr, StrategyMaximal, nil)
	if err := st.UpdateCompression(ctx, tr); err != nil {
		t.Fatalf("update: %v", err)
	}

	all, err := st.AllTraces(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := all[0]
	if got.Compressed == nil || got.Compressed.Strategy != StrategyMaximal {
		t.Fatalf("compression not persisted: %+v", got.Compressed)
	}
	if got.Compressed.ToolCount != 4 {
		t.Errorf("tool count lost: %d", got.Compressed.ToolCount)
	}
	if len(got.Tools) != 0 {
		t.Errorf("maximal trace should store no tools, got %d", len(got.Tools))
	}
}

func TestDetector_PersistsThroughStore(t *testing.T) {
	st := setupTraceStore(t)
	d := NewDetector(Config{Store: st})
	ctx := context.Background()
	base := time.Now().UTC()

	d.Add(ctx, callAt("edit", base, 0))
	d.Add(ctx, callAt("test", base, 2*time.Second))
	d.Flush(ctx)

	all, err := st.AllTraces(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the flushed trace persisted, got %d", len(all))
	}
}
