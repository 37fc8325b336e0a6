package protocol

// StrataDir is the user-level state directory (e.g., ~/.strata).
const StrataDir = ".strata"

// DefaultBranch is used for shared context files when no branch is known.
const DefaultBranch = "main"

// FrameState represents the lifecycle state of a frame.
type FrameState string

// Frame state constants. A frame transitions active -> closed exactly once.
const (
	FrameActive FrameState = "active"
	FrameClosed FrameState = "closed"
)

// AnchorType classifies an anchor annotation.
type AnchorType string

// Anchor type constants.
const (
	AnchorDecision   AnchorType = "DECISION"
	AnchorConstraint AnchorType = "CONSTRAINT"
	AnchorRisk       AnchorType = "RISK"
	AnchorFact       AnchorType = "FACT"
	AnchorTODO       AnchorType = "TODO"
)

// ValidAnchorType reports whether t is one of the known anchor types.
func ValidAnchorType(t AnchorType) bool {
	switch t {
	case AnchorDecision, AnchorConstraint, AnchorRisk, AnchorFact, AnchorTODO:
		return true
	}
	return false
}

// Event type constants for the well-known event kinds. event_type is an
// open string; these are the ones the digest and hot context recognize.
const (
	EventToolCall = "tool_call"
	EventArtifact = "artifact"
)

// Handoff request status constants.
const (
	HandoffPending  = "pending"
	HandoffAccepted = "accepted"
	HandoffExpired  = "expired"
)
