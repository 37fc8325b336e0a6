// Package stack implements the frame stack manager: the in-memory active
// stack (root to leaf chain of open frames) and all frame, event, and
// anchor lifecycle operations against the persistent store.
//
// A Manager is single-writer: callers serialize access to one instance per
// process. The only side channel is the observer list, notified after
// successful creates and closes.
package stack

import (
	"context"
	"log/slog"
	"time"

	"strata/pkg/protocol"
	"strata/pkg/store"

	"github.com/google/uuid"
)

// Scope selects which frames are eligible for stack reconstruction and
// listing.
type Scope string

// Query scopes.
const (
	ScopeRun            Scope = "run"             // active frames in the current run
	ScopeProject        Scope = "project"         // active frames in the project
	ScopeProjectHistory Scope = "project_history" // all frames in the project
	ScopeGlobal         Scope = "global"          // all active frames
)

// FrameObserver receives lifecycle notifications. The bridge subscribes to
// push important closed frames into the shared context layer.
type FrameObserver interface {
	FrameCreated(f *protocol.Frame)
	FrameClosed(f *protocol.Frame)
}

// Manager owns the active stack and frame lifecycle. Construct with
// NewManager; dependencies are injected, never reached through globals.
type Manager struct {
	store     *store.Store
	log       *slog.Logger
	runID     string
	projectID string
	stack     []string // frame ids, root first
	observers []FrameObserver
	now       func() time.Time
}

// NewManager creates a Manager for one run of one project.
func NewManager(st *store.Store, log *slog.Logger, projectID, runID string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:     st,
		log:       log,
		runID:     runID,
		projectID: projectID,
		now:       time.Now,
	}
}

// Notify registers an observer for frame lifecycle events.
func (m *Manager) Notify(obs FrameObserver) {
	m.observers = append(m.observers, obs)
}

// Stack returns a copy of the active stack, root first.
func (m *Manager) Stack() []string {
	out := make([]string, len(m.stack))
	copy(out, m.stack)
	return out
}

// RunID returns the run this manager writes frames under.
func (m *Manager) RunID() string { return m.runID }

// ProjectID returns the project this manager writes frames under.
func (m *Manager) ProjectID() string { return m.projectID }

// top returns the current top of the stack, or "" when empty.
func (m *Manager) top() string {
	if len(m.stack) == 0 {
		return ""
	}
	return m.stack[len(m.stack)-1]
}

// CreateFrame opens a new active frame and pushes it onto the stack. The
// parent defaults to the current top; depth is parent.depth+1. Only one
// active child per parent is allowed, which keeps the stack a single
// linear chain and makes reconstruction deterministic.
func (m *Manager) CreateFrame(ctx context.Context, frameType, name string, inputs map[string]any, parentID string) (string, error) {
	if name == "" {
		return "", &protocol.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if frameType == "" {
		frameType = "task"
	}
	if parentID == "" {
		parentID = m.top()
	}

	if parentID != "" {
		active, err := m.store.Children(ctx, parentID, true)
		if err != nil {
			return "", err
		}
		if len(active) > 0 {
			return "", &protocol.FrameStateError{
				FrameID: parentID,
				Op:      "create frame",
				Reason:  "parent already has an active child",
			}
		}
	}

	f := &protocol.Frame{
		FrameID:       uuid.New().String(),
		RunID:         m.runID,
		ProjectID:     m.projectID,
		ParentFrameID: parentID,
		Type:          frameType,
		Name:          name,
		Inputs:        inputs,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.store.CreateFrame(ctx, f); err != nil {
		return "", err
	}

	m.stack = append(m.stack, f.FrameID)
	m.log.Debug("frame created",
		"frame_id", f.FrameID, "type", f.Type, "name", f.Name, "depth", f.Depth)

	for _, obs := range m.observers {
		obs.FrameCreated(f)
	}
	return f.FrameID, nil
}

// CloseFrame closes a frame, generating its digest, merging outputs,
// popping it from the stack, and cascading to any still-active children.
// The target defaults to the top of the stack. Closing an already-closed
// frame is a warn-level no-op, not an error.
func (m *Manager) CloseFrame(ctx context.Context, frameID string, outputs map[string]any) error {
	if frameID == "" {
		frameID = m.top()
		if frameID == "" {
			return &protocol.FrameStateError{
				Op:     "close frame",
				Reason: "no active frame on the stack",
			}
		}
	}

	f, err := m.store.GetFrame(ctx, frameID)
	if err != nil {
		return err
	}
	if f.Closed() {
		m.log.Warn("close of already-closed frame ignored", "frame_id", frameID)
		return nil
	}

	anchors, err := m.store.ListAnchors(ctx, frameID)
	if err != nil {
		return err
	}
	events, err := m.store.ListEvents(ctx, frameID, 0)
	if err != nil {
		return err
	}

	closedAt := m.now().UTC()
	digest := buildDigest(f, anchors, events, outputs, closedAt)
	digestText := renderDigestText(f, digest, len(events))
	digestMap := digestToMap(digest)
	merged := mergeOutputs(outputs, digestMap)

	changed, err := m.store.CloseFrame(ctx, frameID, merged, digestText, digestMap, closedAt)
	if err != nil {
		// A failed write must not mutate the in-memory stack.
		return err
	}
	if !changed {
		m.log.Warn("close of already-closed frame ignored", "frame_id", frameID)
		return nil
	}

	m.removeFromStack(frameID)

	f.State = protocol.FrameClosed
	f.Outputs = merged
	f.DigestText = digestText
	f.DigestJSON = digestMap
	f.ClosedAt = &closedAt

	// Cascade: children still active are closed best-effort; one failing
	// child does not abort its siblings.
	children, err := m.store.Children(ctx, frameID, true)
	if err != nil {
		m.log.Warn("cascade child listing failed", "frame_id", frameID, "error", err)
	} else {
		for _, child := range children {
			if err := m.CloseFrame(ctx, child.FrameID, nil); err != nil {
				m.log.Warn("cascade close failed",
					"frame_id", child.FrameID, "parent", frameID, "error", err)
			}
		}
	}

	m.log.Debug("frame closed", "frame_id", frameID, "name", f.Name)
	for _, obs := range m.observers {
		obs.FrameClosed(f)
	}
	return nil
}

// removeFromStack drops id from the active stack if present.
func (m *Manager) removeFromStack(id string) {
	for i, fid := range m.stack {
		if fid == id {
			m.stack = append(m.stack[:i], m.stack[i+1:]...)
			return
		}
	}
}

// AddEvent appends an event to a frame. The target defaults to the top of
// the stack.
func (m *Manager) AddEvent(ctx context.Context, eventType string, payload map[string]any, frameID string) (*protocol.Event, error) {
	if eventType == "" {
		return nil, &protocol.ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if frameID == "" {
		frameID = m.top()
		if frameID == "" {
			return nil, &protocol.FrameStateError{
				Op:     "add event",
				Reason: "no active frame on the stack",
			}
		}
	}
	e := &protocol.Event{
		EventID:   uuid.New().String(),
		RunID:     m.runID,
		FrameID:   frameID,
		EventType: eventType,
		Payload:   payload,
		TS:        m.now().UTC(),
	}
	if _, err := m.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddAnchor attaches a typed annotation to a frame. The target defaults to
// the top of the stack.
func (m *Manager) AddAnchor(ctx context.Context, typ protocol.AnchorType, text string, priority int, metadata map[string]any, frameID string) (*protocol.Anchor, error) {
	if !protocol.ValidAnchorType(typ) {
		return nil, &protocol.ValidationError{Field: "anchor type", Reason: string(typ)}
	}
	if text == "" {
		return nil, &protocol.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if frameID == "" {
		frameID = m.top()
		if frameID == "" {
			return nil, &protocol.FrameStateError{
				Op:     "add anchor",
				Reason: "no active frame on the stack",
			}
		}
	}
	a := &protocol.Anchor{
		AnchorID:  uuid.New().String(),
		FrameID:   frameID,
		ProjectID: m.projectID,
		Type:      typ,
		Text:      text,
		Priority:  priority,
		Metadata:  metadata,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.AddAnchor(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// LoadStack rebuilds the active stack from persisted frames for the given
// scope: find the root (no parent among the returned set), then repeatedly
// follow to a child until no child is found. With the one-active-child
// invariant enforced at create time the chain is unique.
func (m *Manager) LoadStack(ctx context.Context, scope Scope) error {
	frames, err := m.store.ListFrames(ctx, m.scopeQuery(scope))
	if err != nil {
		return err
	}
	m.stack = buildChain(frames)
	return nil
}

// scopeQuery maps a Scope to a store query.
func (m *Manager) scopeQuery(scope Scope) store.FrameQuery {
	switch scope {
	case ScopeRun:
		return store.FrameQuery{RunID: m.runID, ActiveOnly: true}
	case ScopeProject:
		return store.FrameQuery{ProjectID: m.projectID, ActiveOnly: true}
	case ScopeProjectHistory:
		return store.FrameQuery{ProjectID: m.projectID}
	case ScopeGlobal:
		return store.FrameQuery{ActiveOnly: true}
	}
	return store.FrameQuery{RunID: m.runID, ActiveOnly: true}
}

// buildChain reconstructs the root-to-leaf chain from an unordered frame
// set. Frames whose parent is outside the set count as roots.
func buildChain(frames []protocol.Frame) []string {
	byID := make(map[string]*protocol.Frame, len(frames))
	for i := range frames {
		byID[frames[i].FrameID] = &frames[i]
	}
	childOf := make(map[string]string, len(frames))
	var root string
	for i := range frames {
		f := &frames[i]
		if f.ParentFrameID == "" || byID[f.ParentFrameID] == nil {
			if root == "" {
				root = f.FrameID
			}
			continue
		}
		if _, taken := childOf[f.ParentFrameID]; !taken {
			childOf[f.ParentFrameID] = f.FrameID
		}
	}
	if root == "" {
		return nil
	}

	var chain []string
	for cur := root; cur != ""; cur = childOf[cur] {
		chain = append(chain, cur)
		if len(chain) > len(frames) {
			// Defends against a corrupted parent cycle on disk.
			break
		}
	}
	return chain
}
