package stack

import (
	"strings"
	"testing"
	"time"

	"strata/pkg/protocol"
)

func TestRenderDigestText(t *testing.T) {
	f := &protocol.Frame{Type: "task", Name: "wire up cache"}
	d := protocol.Digest{
		Result:          "cache wired",
		Decisions:       []string{"use write-through"},
		Risks:           []string{"stale reads under load"},
		ToolCallsCount:  4,
		DurationSeconds: 125,
	}

	text := renderDigestText(f, d, 7)
	for _, want := range []string{
		"task: wire up cache",
		"Result: cache wired",
		"Decisions:\n- use write-through",
		"Risks:\n- stale reads under load",
		"Activity: 7 events, 4 tool calls, 2m5s",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("digest text missing %q:\n%s", want, text)
		}
	}
	// Empty sections are omitted entirely.
	if strings.Contains(text, "Constraints") || strings.Contains(text, "Artifacts") {
		t.Errorf("empty sections should be omitted:\n%s", text)
	}
}

func TestRenderDigestTextMinimal(t *testing.T) {
	f := &protocol.Frame{Type: "task", Name: "noop"}
	text := renderDigestText(f, protocol.Digest{}, 0)
	if !strings.Contains(text, "Activity: 0 events, 0 tool calls") {
		t.Errorf("activity line missing:\n%s", text)
	}
	if strings.Contains(text, "Result") {
		t.Errorf("empty result should be omitted:\n%s", text)
	}
}

func TestBuildDigestDedupesArtifacts(t *testing.T) {
	f := &protocol.Frame{CreatedAt: time.Now().Add(-time.Minute)}
	events := []protocol.Event{
		{EventType: protocol.EventArtifact, Payload: map[string]any{"path": "a.go"}},
		{EventType: protocol.EventArtifact, Payload: map[string]any{"path": "a.go"}},
		{EventType: protocol.EventArtifact, Payload: map[string]any{"ref": "pkg/b", "path": "ignored.go"}},
		{EventType: protocol.EventArtifact},
	}
	d := buildDigest(f, nil, events, nil, time.Now())
	if len(d.Artifacts) != 2 {
		t.Fatalf("expected 2 unique artifacts, got %v", d.Artifacts)
	}
	if d.Artifacts[0] != "a.go" || d.Artifacts[1] != "pkg/b" {
		t.Errorf("wrong artifacts: %v", d.Artifacts)
	}
}

func TestMergeOutputsCallerWins(t *testing.T) {
	merged := mergeOutputs(
		map[string]any{"result": "caller", "extra": 1},
		map[string]any{"result": "digest", "tool_calls_count": 3},
	)
	if merged["result"] != "caller" {
		t.Errorf("caller value must win on conflict, got %v", merged["result"])
	}
	if merged["tool_calls_count"] != 3 || merged["extra"] != 1 {
		t.Errorf("non-conflicting keys lost: %v", merged)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{42, "42s"},
		{125, "2m5s"},
		{3725, "1h2m"},
	}
	for _, c := range cases {
		if got := formatDuration(c.seconds); got != c.want {
			t.Errorf("formatDuration(%v) = %q, want %q", c.seconds, got, c.want)
		}
	}
}
