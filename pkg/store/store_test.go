package store //nolint:testpackage // white-box tests for internal helpers (mapToJSON, parseTime, etc.)

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"strata/pkg/protocol"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("exec schema: %v", err)
	}

	return db
}

func testFrame(id, parent string) *protocol.Frame {
	return &protocol.Frame{
		FrameID:       id,
		RunID:         "run-1",
		ProjectID:     "proj-1",
		ParentFrameID: parent,
		Type:          "task",
		Name:          "frame " + id,
	}
}

func TestStore_CreateAndGetFrame(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	f := testFrame("f-1", "")
	f.Inputs = map[string]any{"goal": "add caching"}
	if err := st.CreateFrame(ctx, f); err != nil {
		t.Fatalf("create frame: %v", err)
	}

	got, err := st.GetFrame(ctx, "f-1")
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if got.State != protocol.FrameActive {
		t.Errorf("expected active state, got %s", got.State)
	}
	if got.Depth != 0 {
		t.Errorf("expected root depth 0, got %d", got.Depth)
	}
	if got.Inputs["goal"] != "add caching" {
		t.Errorf("inputs not round-tripped: %v", got.Inputs)
	}
	if got.ClosedAt != nil {
		t.Errorf("expected nil closed_at on active frame")
	}
}

func TestStore_GetFrameNotFound(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)

	_, err := st.GetFrame(context.Background(), "missing")
	var nf *protocol.FrameNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FrameNotFoundError, got %v", err)
	}
	if nf.FrameID != "missing" {
		t.Errorf("expected frame id in error, got %q", nf.FrameID)
	}
}

func TestStore_ChildDepthFollowsParent(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("root", "")); err != nil {
		t.Fatalf("create root: %v", err)
	}
	child := testFrame("child", "root")
	child.Depth = 99 // ignored: depth is derived from the parent row
	if err := st.CreateFrame(ctx, child); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Depth != 1 {
		t.Errorf("expected depth 1, got %d", child.Depth)
	}

	grandchild := testFrame("grandchild", "child")
	if err := st.CreateFrame(ctx, grandchild); err != nil {
		t.Fatalf("create grandchild: %v", err)
	}
	if grandchild.Depth != 2 {
		t.Errorf("expected depth 2, got %d", grandchild.Depth)
	}
}

func TestStore_CreateFrameMissingParent(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)

	err := st.CreateFrame(context.Background(), testFrame("orphan", "no-such-parent"))
	var fse *protocol.FrameStateError
	if !errors.As(err, &fse) {
		t.Fatalf("expected FrameStateError, got %v", err)
	}
}

func TestStore_CloseFrameIdempotent(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("f-1", "")); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	changed, err := st.CloseFrame(ctx, "f-1", map[string]any{"result": "done"}, "did the thing", nil, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !changed {
		t.Fatal("expected first close to change the frame")
	}

	// Second close is a no-op, not an error, and must not clobber outputs.
	changed, err = st.CloseFrame(ctx, "f-1", map[string]any{"result": "overwritten"}, "", nil, now)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if changed {
		t.Fatal("expected second close to be a no-op")
	}

	got, err := st.GetFrame(ctx, "f-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outputs["result"] != "done" {
		t.Errorf("outputs clobbered by idempotent close: %v", got.Outputs)
	}
	if got.DigestText != "did the thing" {
		t.Errorf("digest text lost: %q", got.DigestText)
	}
	if got.ClosedAt == nil {
		t.Fatal("expected closed_at to be set")
	}
}

func TestStore_CloseFrameNotFound(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)

	_, err := st.CloseFrame(context.Background(), "missing", nil, "", nil, time.Now())
	var nf *protocol.FrameNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected FrameNotFoundError, got %v", err)
	}
}

func TestStore_ListFramesFilters(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	a := testFrame("a", "")
	b := testFrame("b", "")
	b.RunID = "run-2"
	c := testFrame("c", "")
	c.ProjectID = "proj-2"
	for _, f := range []*protocol.Frame{a, b, c} {
		if err := st.CreateFrame(ctx, f); err != nil {
			t.Fatalf("create %s: %v", f.FrameID, err)
		}
	}
	if _, err := st.CloseFrame(ctx, "a", nil, "", nil, time.Now()); err != nil {
		t.Fatalf("close a: %v", err)
	}

	byRun, err := st.ListFrames(ctx, FrameQuery{RunID: "run-1"})
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(byRun) != 2 {
		t.Errorf("expected 2 frames in run-1, got %d", len(byRun))
	}

	active, err := st.ListFrames(ctx, FrameQuery{RunID: "run-1", ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].FrameID != "c" {
		t.Errorf("expected only active frame c, got %+v", active)
	}

	byProject, err := st.ListFrames(ctx, FrameQuery{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list by project: %v", err)
	}
	if len(byProject) != 2 {
		t.Errorf("expected 2 frames in proj-1, got %d", len(byProject))
	}
}

func TestStore_Children(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("root", "")); err != nil {
		t.Fatalf("create root: %v", err)
	}
	for _, id := range []string{"c1", "c2"} {
		if err := st.CreateFrame(ctx, testFrame(id, "root")); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := st.CloseFrame(ctx, "c1", nil, "", nil, time.Now()); err != nil {
		t.Fatalf("close c1: %v", err)
	}

	all, err := st.Children(ctx, "root", false)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 children, got %d", len(all))
	}

	active, err := st.Children(ctx, "root", true)
	if err != nil {
		t.Fatalf("active children: %v", err)
	}
	if len(active) != 1 || active[0].FrameID != "c2" {
		t.Errorf("expected only c2 active, got %+v", active)
	}
}

func TestStore_AppendEventAssignsSeq(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("f-1", "")); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 1; i <= 3; i++ {
		seq, err := st.AppendEvent(ctx, &protocol.Event{
			EventID:   fmt.Sprintf("e-%d", i),
			RunID:     "run-1",
			FrameID:   "f-1",
			EventType: protocol.EventToolCall,
			Payload:   map[string]any{"tool": "edit"},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != int64(i) {
			t.Errorf("expected seq %d, got %d", i, seq)
		}
	}

	events, err := st.ListEvents(ctx, "f-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Errorf("event %d has seq %d", i, e.Seq)
		}
	}
}

func TestStore_AppendEventConcurrentSeq(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("f-1", "")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.AppendEvent(ctx, &protocol.Event{
				EventID: fmt.Sprintf("e-%d", i), RunID: "run-1",
				FrameID: "f-1", EventType: "note",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	events, err := st.ListEvents(ctx, "f-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
	seen := make(map[int64]bool, n)
	for _, e := range events {
		if e.Seq < 1 || e.Seq > n {
			t.Errorf("seq %d out of range", e.Seq)
		}
		if seen[e.Seq] {
			t.Errorf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}

func TestStore_RecentEvents(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("f-1", "")); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := st.AppendEvent(ctx, &protocol.Event{
			EventID: fmt.Sprintf("e-%d", i), RunID: "run-1",
			FrameID: "f-1", EventType: "note",
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recent, err := st.RecentEvents(ctx, "f-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[0].Seq != 4 || recent[1].Seq != 5 {
		t.Errorf("expected last two events in seq order, got %d,%d", recent[0].Seq, recent[1].Seq)
	}
}

func TestStore_AnchorsPriorityOrder(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	if err := st.CreateFrame(ctx, testFrame("f-1", "")); err != nil {
		t.Fatalf("create: %v", err)
	}

	anchors := []protocol.Anchor{
		{AnchorID: "a-1", FrameID: "f-1", ProjectID: "proj-1", Type: protocol.AnchorFact, Text: "low", Priority: 1},
		{AnchorID: "a-2", FrameID: "f-1", ProjectID: "proj-1", Type: protocol.AnchorDecision, Text: "high", Priority: 9},
		{AnchorID: "a-3", FrameID: "f-1", ProjectID: "proj-1", Type: protocol.AnchorRisk, Text: "mid", Priority: 5},
	}
	for i := range anchors {
		if err := st.AddAnchor(ctx, &anchors[i]); err != nil {
			t.Fatalf("add anchor %d: %v", i, err)
		}
	}

	got, err := st.ListAnchors(ctx, "f-1")
	if err != nil {
		t.Fatalf("list anchors: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 anchors, got %d", len(got))
	}
	if got[0].Text != "high" || got[1].Text != "mid" || got[2].Text != "low" {
		t.Errorf("wrong priority order: %s, %s, %s", got[0].Text, got[1].Text, got[2].Text)
	}
}

func TestParseTimeAcceptsBothLayouts(t *testing.T) {
	for _, s := range []string{"2026-01-15 10:30:00", "2026-01-15T10:30:00Z"} {
		got, err := parseTime(s)
		if err != nil {
			t.Errorf("parse %q: %v", s, err)
			continue
		}
		if got.Hour() != 10 || got.Minute() != 30 {
			t.Errorf("parse %q: wrong time %v", s, got)
		}
	}
}

func TestMapJSONRoundTrip(t *testing.T) {
	if s := mapToJSON(nil); s != "{}" {
		t.Errorf("nil map should serialize to {}, got %q", s)
	}
	if m := mapFromJSON("{}"); m != nil {
		t.Errorf("empty object should parse to nil, got %v", m)
	}
	m := mapFromJSON(mapToJSON(map[string]any{"k": "v"}))
	if m["k"] != "v" {
		t.Errorf("round trip lost value: %v", m)
	}
}
