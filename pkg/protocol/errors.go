package protocol

import "fmt"

// FrameNotFoundError reports a lookup for a frame that does not exist.
// It enables typed error discrimination via errors.As.
type FrameNotFoundError struct {
	FrameID string
}

func (e *FrameNotFoundError) Error() string {
	return fmt.Sprintf("frame %s not found", e.FrameID)
}

// FrameStateError reports an operation attempted on a frame (or the stack)
// in the wrong lifecycle state, e.g. closing with an empty stack or opening
// a second active child under the same parent.
type FrameStateError struct {
	FrameID string // may be empty when the stack itself is the problem
	Op      string
	Reason  string
}

func (e *FrameStateError) Error() string {
	if e.FrameID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: frame %s: %s", e.Op, e.FrameID, e.Reason)
}

// ValidationError reports malformed input to an engine operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure. Transient indicates a connection
// level problem that is safe to retry; all other store failures are
// terminal for the current operation.
type StoreError struct {
	Op        string
	Transient bool
	Cause     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
