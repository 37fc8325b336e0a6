package bridge //nolint:testpackage // white-box tests for sync guard internals

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"strata/pkg/protocol"
	"strata/pkg/sharedctx"
)

func setupCoordinator(t *testing.T) (*Coordinator, *sharedctx.Layer) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	layer := sharedctx.NewLayer(t.TempDir(), log, sharedctx.Options{})
	c := New(Config{
		Layer:     layer,
		ProjectID: "proj-1",
		Branch:    "main",
		SessionID: "sess-1",
		Logger:    log,
	})
	return c, layer
}

func closedFrame(id string) *protocol.Frame {
	closedAt := time.Now().Add(-time.Minute)
	return &protocol.Frame{
		FrameID:    id,
		Type:       "task",
		Name:       "frame " + id,
		State:      protocol.FrameClosed,
		Inputs:     map[string]any{"goal": "g"},
		Outputs:    map[string]any{"result": "r"},
		DigestText: "did " + id,
		ClosedAt:   &closedAt,
	}
}

func TestCoordinator_SyncPushesClosedFrames(t *testing.T) {
	c, layer := setupCoordinator(t)
	ctx := context.Background()

	c.FrameClosed(closedFrame("f-1"))
	c.FrameClosed(closedFrame("f-2"))
	if c.Pending() != 2 {
		t.Fatalf("expected 2 tracked frames, got %d", c.Pending())
	}

	if err := c.SyncNow(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	entry, err := layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entry.Sessions) != 1 || len(entry.Sessions[0].KeyFrames) != 2 {
		t.Fatalf("expected one session with 2 key frames, got %+v", entry.Sessions)
	}
}

func TestCoordinator_SyncSkipsWhenClean(t *testing.T) {
	c, layer := setupCoordinator(t)
	ctx := context.Background()

	c.FrameClosed(closedFrame("f-1"))
	if err := c.SyncNow(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// With nothing new, a sync must not rewrite the entry.
	entry, _ := layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
	before := entry.LastUpdated
	if err := c.SyncNow(ctx); err != nil {
		t.Fatalf("clean sync: %v", err)
	}
	entry, _ = layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
	if !entry.LastUpdated.Equal(before) {
		t.Error("clean sync must not touch the entry")
	}

	// A later close re-dirties and the full set is pushed again.
	c.FrameClosed(closedFrame("f-2"))
	if err := c.SyncNow(ctx); err != nil {
		t.Fatalf("re-dirty sync: %v", err)
	}
	entry, _ = layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
	if len(entry.Sessions[0].KeyFrames) != 2 {
		t.Errorf("expected cumulative push of 2 frames, got %d", len(entry.Sessions[0].KeyFrames))
	}
}

func TestCoordinator_CloseDuringSyncStaysDirty(t *testing.T) {
	c, layer := setupCoordinator(t)
	ctx := context.Background()

	c.FrameClosed(closedFrame("f-1"))
	frames, gen, ok := c.snapshot()
	if !ok || len(frames) != 1 {
		t.Fatalf("snapshot: frames=%d ok=%v", len(frames), ok)
	}

	// A frame closes while the push of the snapshot is in flight. The
	// coordinator must stay dirty, or this frame is never synced.
	c.FrameClosed(closedFrame("f-2"))
	c.markSynced(gen)

	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if !dirty {
		t.Fatal("coordinator marked clean despite a close during the push")
	}

	// The next sync carries the late frame.
	if err := c.SyncNow(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	entry, err := layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entry.Sessions) != 1 || len(entry.Sessions[0].KeyFrames) != 2 {
		t.Fatalf("expected one session with 2 key frames, got %+v", entry.Sessions)
	}
}

func TestCoordinator_InFlightGuard(t *testing.T) {
	c, _ := setupCoordinator(t)

	// Simulate a sync in flight: the overlapping call returns without
	// touching anything.
	c.FrameClosed(closedFrame("f-1"))
	c.inFlight.Store(true)
	if err := c.SyncNow(context.Background()); err != nil {
		t.Fatalf("guarded sync: %v", err)
	}
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if !dirty {
		t.Error("overlapping sync must leave the dirty flag for the next tick")
	}
	c.inFlight.Store(false)
}

func TestCoordinator_TrackedFramesBounded(t *testing.T) {
	c, _ := setupCoordinator(t)

	for i := 0; i < maxTracked+50; i++ {
		c.FrameClosed(closedFrame("f"))
	}
	if c.Pending() != maxTracked {
		t.Errorf("expected tracked frames capped at %d, got %d", maxTracked, c.Pending())
	}
}

func TestCoordinator_StartStop(t *testing.T) {
	c, layer := setupCoordinator(t)
	c.cfg.Interval = 10 * time.Millisecond
	ctx := context.Background()

	c.FrameClosed(closedFrame("f-1"))
	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(entry.Sessions) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Stop()
	c.Stop() // safe to call twice

	entry, err := layer.Get(ctx, sharedctx.Query{ProjectID: "proj-1", Branch: "main"})
	if err != nil {
		t.Fatalf("get after stop: %v", err)
	}
	if len(entry.Sessions) == 0 {
		t.Fatal("ticker never synced before stop")
	}
}

func TestCoordinator_SuggestOnStart(t *testing.T) {
	c, _ := setupCoordinator(t)
	ctx := context.Background()

	c.FrameClosed(closedFrame("f-1"))
	if err := c.SyncNow(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	d, err := c.SuggestOnStart(ctx)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(d.TopFrames) == 0 {
		t.Error("expected discovered frames after sync")
	}
}
