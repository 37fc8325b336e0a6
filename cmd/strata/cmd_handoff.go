package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"strata/pkg/protocol"
)

// newHandoffCmd creates the "strata handoff" subcommand.
func newHandoffCmd() *cobra.Command {
	var target, user, message string
	var frameIDs []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Offer frames from this run to another stack",
		Long:  "Queue a handoff request carrying frames from the current run. The\nrequest stays pending until accepted or expired.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			ids := frameIDs
			if len(ids) == 0 {
				ids = e.mgr.Stack()
			}
			if len(ids) == 0 {
				return &protocol.ValidationError{Field: "frame_ids", Reason: "no frames to hand off"}
			}
			for _, id := range ids {
				if _, err := e.store.GetFrame(ctx, id); err != nil {
					return fmt.Errorf("handoff: %w", err)
				}
			}

			h := &protocol.HandoffRequest{
				RequestID:     uuid.New().String(),
				SourceStackID: e.runID,
				TargetStackID: target,
				FrameIDs:      ids,
				TargetUserID:  user,
				Message:       message,
			}
			if ttl > 0 {
				exp := time.Now().UTC().Add(ttl)
				h.ExpiresAt = &exp
			}
			if err := e.store.CreateHandoff(ctx, h); err != nil {
				return fmt.Errorf("handoff: %w", err)
			}

			human := fmt.Sprintf("Handoff %s queued with %d frame(s)\n", h.RequestID, len(ids))
			return emit(cmd, human, h)
		},
	}

	cmd.Flags().StringSliceVar(&frameIDs, "frame", nil, "frame id to include (repeatable; defaults to the active stack)")
	cmd.Flags().StringVar(&target, "target", "", "target stack id")
	cmd.Flags().StringVar(&user, "user", "", "target user id")
	cmd.Flags().StringVar(&message, "message", "", "note for the receiving session")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "how long the request stays valid (0 for no expiry)")
	return cmd
}

// newHandoffsCmd creates the "strata handoffs" subcommand.
func newHandoffsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "handoffs",
		Short: "List handoff requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if n, err := e.store.ExpireHandoffs(ctx, time.Now().UTC()); err != nil {
				e.log.Warn("expire handoffs failed", "error", err)
			} else if n > 0 {
				e.log.Info("handoffs expired", "count", n)
			}

			requests, err := e.store.ListHandoffs(ctx, status)
			if err != nil {
				return fmt.Errorf("handoffs: %w", err)
			}

			var b strings.Builder
			if len(requests) == 0 {
				b.WriteString("No handoff requests\n")
			}
			for _, h := range requests {
				fmt.Fprintf(&b, "%s  %-8s  from %s  %d frame(s)", h.RequestID, h.Status, h.SourceStackID, len(h.FrameIDs))
				if h.Message != "" {
					fmt.Fprintf(&b, "  %q", h.Message)
				}
				b.WriteString("\n")
			}
			return emit(cmd, b.String(), requests)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, accepted, expired)")
	return cmd
}
