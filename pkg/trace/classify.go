package trace

import (
	"fmt"
	"regexp"
	"strings"
)

// Trace type constants produced by classification.
const (
	TypeRefactoring    = "refactoring"
	TypeTestDriven     = "test-driven"
	TypeDebugging      = "debugging"
	TypeSearchDriven   = "search-driven-dev"
	TypeExploration    = "exploration"
	TypeErrorRecovery  = "error-recovery"
	TypeTesting        = "testing"
	TypeFeatureImpl    = "feature-implementation"
	TypeUnknown        = "unknown"
)

// knownPattern matches a trace type against the arrow-joined tool chain,
// either by regex or by ordered subsequence. Patterns are tried in order;
// the first hit wins.
type knownPattern struct {
	name   string
	re     *regexp.Regexp // regex over the arrow-joined chain
	subseq []string       // ordered subsequence of tool names
}

var knownPatterns = []knownPattern{
	{name: TypeTestDriven, re: regexp.MustCompile(`^test(->(edit|write))+(->test)+`)},
	{name: TypeDebugging, subseq: []string{"test", "read", "edit", "test"}},
	{name: TypeRefactoring, re: regexp.MustCompile(`^read(->read)*(->edit){2,}`)},
	{name: TypeSearchDriven, subseq: []string{"grep", "read", "edit"}},
	{name: TypeSearchDriven, subseq: []string{"search", "read", "edit"}},
}

// classify determines the trace type: known patterns over the tool chain
// first, heuristics over tool presence as fallback.
func classify(tools []ToolCall) string {
	joined := chain(tools)
	names := strings.Split(joined, "->")

	for _, p := range knownPatterns {
		if p.re != nil && p.re.MatchString(joined) {
			return p.name
		}
		if len(p.subseq) > 0 && hasSubsequence(names, p.subseq) {
			return p.name
		}
	}
	return heuristicType(tools, names)
}

// hasSubsequence reports whether want appears in names in order, not
// necessarily contiguously.
func hasSubsequence(names, want []string) bool {
	i := 0
	for _, n := range names {
		if n == want[i] {
			i++
			if i == len(want) {
				return true
			}
		}
	}
	return false
}

// heuristicType is the fallback classifier over tool presence.
func heuristicType(tools []ToolCall, names []string) string {
	var hasSearch, hasEdit, hasError, hasTest, hasWrite bool
	for _, n := range names {
		switch n {
		case "grep", "search", "glob":
			hasSearch = true
		case "edit":
			hasEdit = true
		case "test":
			hasTest = true
		case "write":
			hasWrite = true
		}
	}
	for _, t := range tools {
		if t.Errored() {
			hasError = true
			break
		}
	}

	switch {
	case hasSearch && hasEdit:
		return TypeSearchDriven
	case hasSearch:
		return TypeExploration
	case hasError:
		return TypeErrorRecovery
	case hasTest:
		return TypeTesting
	case hasWrite:
		return TypeFeatureImpl
	}
	return TypeUnknown
}

// summarize builds the one-line trace summary.
func summarize(traceType string, tools []ToolCall, meta Metadata) string {
	s := fmt.Sprintf("%s: %s", traceType, chain(tools))
	if len(meta.Files) > 0 {
		s += fmt.Sprintf(" across %d files", len(meta.Files))
	}
	if len(meta.Errors) > 0 {
		s += fmt.Sprintf(" (%d errors", len(meta.Errors))
		if meta.CausalChain {
			s += ", fixed"
		}
		s += ")"
	}
	return s
}
