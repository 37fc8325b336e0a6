package store

import (
	"context"
	"testing"
	"time"

	"strata/pkg/protocol"
)

func TestStore_HandoffLifecycle(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	exp := time.Now().UTC().Add(time.Hour)
	h := &protocol.HandoffRequest{
		RequestID:     "req-1",
		SourceStackID: "run-1",
		FrameIDs:      []string{"f-1", "f-2"},
		ExpiresAt:     &exp,
		Message:       "taking over auth work",
	}
	if err := st.CreateHandoff(ctx, h); err != nil {
		t.Fatalf("create handoff: %v", err)
	}
	if h.Status != protocol.HandoffPending {
		t.Errorf("expected default pending status, got %s", h.Status)
	}

	got, err := st.ListHandoffs(ctx, protocol.HandoffPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pending handoff, got %d", len(got))
	}
	if len(got[0].FrameIDs) != 2 {
		t.Errorf("frame ids not round-tripped: %v", got[0].FrameIDs)
	}
	if got[0].Message != "taking over auth work" {
		t.Errorf("message lost: %q", got[0].Message)
	}
	if got[0].ExpiresAt == nil {
		t.Error("expected expires_at to survive round trip")
	}
}

func TestStore_ExpireHandoffs(t *testing.T) {
	db := setupTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	stale := &protocol.HandoffRequest{
		RequestID: "stale", SourceStackID: "run-1",
		FrameIDs: []string{"f-1"}, ExpiresAt: &past,
	}
	fresh := &protocol.HandoffRequest{
		RequestID: "fresh", SourceStackID: "run-1",
		FrameIDs: []string{"f-2"}, ExpiresAt: &future,
	}
	forever := &protocol.HandoffRequest{
		RequestID: "forever", SourceStackID: "run-1",
		FrameIDs: []string{"f-3"},
	}
	for _, h := range []*protocol.HandoffRequest{stale, fresh, forever} {
		if err := st.CreateHandoff(ctx, h); err != nil {
			t.Fatalf("create %s: %v", h.RequestID, err)
		}
	}

	n, err := st.ExpireHandoffs(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 handoff expired, got %d", n)
	}

	pending, err := st.ListHandoffs(ctx, protocol.HandoffPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 still pending, got %d", len(pending))
	}
	expired, err := st.ListHandoffs(ctx, protocol.HandoffExpired)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].RequestID != "stale" {
		t.Errorf("expected only stale expired, got %+v", expired)
	}
}
