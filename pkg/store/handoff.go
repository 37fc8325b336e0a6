package store

import (
	"context"
	"encoding/json"
	"time"

	"strata/pkg/protocol"
)

// CreateHandoff queues a handoff request. Status defaults to pending.
func (s *Store) CreateHandoff(ctx context.Context, h *protocol.HandoffRequest) error {
	if h.Status == "" {
		h.Status = protocol.HandoffPending
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	frameIDs, err := json.Marshal(h.FrameIDs)
	if err != nil {
		return &protocol.ValidationError{Field: "frame_ids", Reason: err.Error()}
	}
	var expiresAt any
	if h.ExpiresAt != nil {
		expiresAt = formatTime(*h.ExpiresAt)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO handoff_requests
		 (request_id, source_stack_id, target_stack_id, frame_ids, status,
		  created_at, expires_at, target_user_id, message)
		 VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		h.RequestID, h.SourceStackID, h.TargetStackID, string(frameIDs), h.Status,
		formatTime(h.CreatedAt), expiresAt, h.TargetUserID, h.Message,
	)
	if err != nil {
		return storeErr("create handoff", err)
	}
	return nil
}

// ListHandoffs returns handoff requests, optionally filtered by status,
// newest first.
func (s *Store) ListHandoffs(ctx context.Context, status string) ([]protocol.HandoffRequest, error) {
	query := `SELECT request_id, source_stack_id,
	                 COALESCE(target_stack_id, '') AS target_stack_id,
	                 frame_ids, status, created_at,
	                 COALESCE(expires_at, '') AS expires_at,
	                 COALESCE(target_user_id, '') AS target_user_id,
	                 COALESCE(message, '') AS message
	          FROM handoff_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, request_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list handoffs", err)
	}
	defer rows.Close()

	var out []protocol.HandoffRequest
	for rows.Next() {
		var h protocol.HandoffRequest
		var frameIDs, createdAt, expiresAt string
		if err := rows.Scan(&h.RequestID, &h.SourceStackID, &h.TargetStackID,
			&frameIDs, &h.Status, &createdAt, &expiresAt,
			&h.TargetUserID, &h.Message); err != nil {
			return nil, storeErr("list handoffs scan", err)
		}
		if err := json.Unmarshal([]byte(frameIDs), &h.FrameIDs); err != nil {
			h.FrameIDs = nil
		}
		if createdAt != "" {
			t, err := parseTime(createdAt)
			if err != nil {
				return nil, storeErr("list handoffs created_at", err)
			}
			h.CreatedAt = t
		}
		if expiresAt != "" {
			t, err := parseTime(expiresAt)
			if err != nil {
				return nil, storeErr("list handoffs expires_at", err)
			}
			h.ExpiresAt = &t
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list handoffs rows", err)
	}
	return out, nil
}

// ExpireHandoffs marks pending requests whose expires_at has passed as
// expired. Returns the number of requests transitioned.
func (s *Store) ExpireHandoffs(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE handoff_requests SET status = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		protocol.HandoffExpired, protocol.HandoffPending, formatTime(now),
	)
	if err != nil {
		return 0, storeErr("expire handoffs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("expire handoffs rows affected", err)
	}
	return n, nil
}
