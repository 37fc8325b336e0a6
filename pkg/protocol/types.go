// Package protocol defines the shared types, schema, and error taxonomy for
// the Strata memory engine: frames, events, anchors, and handoff requests as
// they cross the store, stack, and hook/CLI boundaries.
package protocol

import "time"

// Frame is one unit of work on the hierarchical call stack.
type Frame struct {
	FrameID       string         `json:"frame_id"`
	RunID         string         `json:"run_id"`
	ProjectID     string         `json:"project_id"`
	ParentFrameID string         `json:"parent_frame_id,omitempty"` // empty for the root frame
	Depth         int            `json:"depth"`
	Type          string         `json:"type"` // task, milestone, error, resolution, decision, ...
	Name          string         `json:"name"`
	State         FrameState     `json:"state"`
	Inputs        map[string]any `json:"inputs,omitempty"`  // immutable after creation
	Outputs       map[string]any `json:"outputs,omitempty"` // mutable until closed, then frozen
	DigestText    string         `json:"digest_text,omitempty"`
	DigestJSON    map[string]any `json:"digest_json,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// Closed reports whether the frame has left the active state.
func (f *Frame) Closed() bool {
	return f.State == FrameClosed
}

// Event is an ordered, immutable fact attached to a frame. Ordering is by
// Seq, which is monotonic per frame and starts at 1.
type Event struct {
	EventID   string         `json:"event_id"`
	RunID     string         `json:"run_id"`
	FrameID   string         `json:"frame_id"`
	Seq       int64          `json:"seq"`
	EventType string         `json:"event_type"` // tool_call, artifact, note, ...
	Payload   map[string]any `json:"payload,omitempty"`
	TS        time.Time      `json:"ts"`
}

// Anchor is a typed, prioritized annotation on a frame. Anchors are
// immutable once written; read order is priority DESC, created_at ASC.
type Anchor struct {
	AnchorID  string         `json:"anchor_id"`
	FrameID   string         `json:"frame_id"`
	ProjectID string         `json:"project_id"`
	Type      AnchorType     `json:"type"`
	Text      string         `json:"text"`
	Priority  int            `json:"priority"` // higher first
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HandoffRequest queues a set of frames for transfer to another stack or
// user. Strata only stores and expires these; acting on them is the
// consumer's job.
type HandoffRequest struct {
	RequestID     string     `json:"request_id"`
	SourceStackID string     `json:"source_stack_id"`
	TargetStackID string     `json:"target_stack_id,omitempty"`
	FrameIDs      []string   `json:"frame_ids"`
	Status        string     `json:"status"` // pending, accepted, expired
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	TargetUserID  string     `json:"target_user_id,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// Digest is the structured summary generated when a frame closes. It is
// stored as digest_json on the frame and merged into the frame outputs.
type Digest struct {
	Result          string   `json:"result,omitempty"`
	Decisions       []string `json:"decisions,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
	Risks           []string `json:"risks,omitempty"`
	Artifacts       []string `json:"artifacts,omitempty"`
	ToolCallsCount  int      `json:"tool_calls_count"`
	DurationSeconds float64  `json:"duration_seconds"`
}
