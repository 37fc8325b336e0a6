package stack

import (
	"fmt"
	"strings"
	"time"

	"strata/pkg/protocol"
)

// buildDigest partitions a frame's anchors and events into the structured
// close-time summary. Runs synchronously at close; not cancellable.
func buildDigest(f *protocol.Frame, anchors []protocol.Anchor, events []protocol.Event, outputs map[string]any, closedAt time.Time) protocol.Digest {
	var d protocol.Digest

	for _, a := range anchors {
		switch a.Type {
		case protocol.AnchorDecision:
			d.Decisions = append(d.Decisions, a.Text)
		case protocol.AnchorConstraint:
			d.Constraints = append(d.Constraints, a.Text)
		case protocol.AnchorRisk:
			d.Risks = append(d.Risks, a.Text)
		}
	}

	for _, e := range events {
		switch e.EventType {
		case protocol.EventToolCall:
			d.ToolCallsCount++
		case protocol.EventArtifact:
			if ref := artifactRef(e.Payload); ref != "" && !contains(d.Artifacts, ref) {
				d.Artifacts = append(d.Artifacts, ref)
			}
		}
	}

	if r, ok := outputs["result"].(string); ok {
		d.Result = r
	}
	if !f.CreatedAt.IsZero() && closedAt.After(f.CreatedAt) {
		d.DurationSeconds = closedAt.Sub(f.CreatedAt).Seconds()
	}
	return d
}

// artifactRef pulls the artifact reference out of an event payload.
// "ref" wins over "path".
func artifactRef(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if ref, ok := payload["ref"].(string); ok && ref != "" {
		return ref
	}
	if path, ok := payload["path"].(string); ok {
		return path
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// renderDigestText builds the human-readable summary: labeled sections
// only when non-empty, ending with an activity line.
func renderDigestText(f *protocol.Frame, d protocol.Digest, eventCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", f.Type, f.Name)

	if d.Result != "" {
		fmt.Fprintf(&b, "Result: %s\n", d.Result)
	}
	writeSection(&b, "Decisions", d.Decisions)
	writeSection(&b, "Constraints", d.Constraints)
	writeSection(&b, "Risks", d.Risks)
	writeSection(&b, "Artifacts", d.Artifacts)

	fmt.Fprintf(&b, "Activity: %d events, %d tool calls", eventCount, d.ToolCallsCount)
	if d.DurationSeconds >= 1 {
		fmt.Fprintf(&b, ", %s", formatDuration(d.DurationSeconds))
	}
	b.WriteString("\n")
	return b.String()
}

func writeSection(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// formatDuration renders a duration in seconds as a compact string.
func formatDuration(seconds float64) string {
	dur := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm%ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(dur.Hours()), int(dur.Minutes())%60)
}

// digestToMap converts the digest to the map stored as digest_json and
// merged into the frame outputs.
func digestToMap(d protocol.Digest) map[string]any {
	m := map[string]any{
		"tool_calls_count": d.ToolCallsCount,
		"duration_seconds": d.DurationSeconds,
	}
	if d.Result != "" {
		m["result"] = d.Result
	}
	if len(d.Decisions) > 0 {
		m["decisions"] = toAnySlice(d.Decisions)
	}
	if len(d.Constraints) > 0 {
		m["constraints"] = toAnySlice(d.Constraints)
	}
	if len(d.Risks) > 0 {
		m["risks"] = toAnySlice(d.Risks)
	}
	if len(d.Artifacts) > 0 {
		m["artifacts"] = toAnySlice(d.Artifacts)
	}
	return m
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// mergeOutputs combines caller-supplied outputs with the digest summary.
// Caller values win on key conflicts.
func mergeOutputs(outputs, digest map[string]any) map[string]any {
	merged := make(map[string]any, len(outputs)+len(digest))
	for k, v := range digest {
		merged[k] = v
	}
	for k, v := range outputs {
		merged[k] = v
	}
	return merged
}
