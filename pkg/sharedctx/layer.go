package sharedctx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"strata/pkg/protocol"
)

// Defaults for the in-process cache.
const (
	DefaultTTL          = 5 * time.Minute
	DefaultMaxCacheSize = 16
)

// Query selects one shared context entry.
type Query struct {
	ProjectID            string
	Branch               string // empty means protocol.DefaultBranch
	IncludeOtherBranches bool   // merge session summaries from sibling branch files
}

// AddOpts tunes Add.
type AddOpts struct {
	SessionID string
	MinScore  float64 // frames scoring below this are dropped (default 0.5)
	Tags      []string
}

// ContextQuery filters and ranks key frames.
type ContextQuery struct {
	ProjectID string
	Branch    string
	SessionID string // restrict to one session
	Tags      []string
	Type      string
	MinScore  float64
	Limit     int
}

// cached wraps an entry with its cache bookkeeping.
type cached struct {
	entry     *Entry
	loadedAt  time.Time
	updatedAt time.Time
}

// Layer is the shared context layer: lazy per (project, branch) loading
// from disk, a bounded TTL cache, and write-back after every mutation.
// Disk reads and writes are local only; reads never touch the network.
type Layer struct {
	dir string
	log *slog.Logger
	ttl time.Duration
	max int

	mu    sync.Mutex
	cache map[string]*cached
	now   func() time.Time
}

// Options tunes the Layer cache. Zero values take the defaults.
type Options struct {
	TTL      time.Duration // cache entry freshness window (default 5m)
	MaxCache int           // cached (project, branch) entries (default 16)
}

// NewLayer creates a Layer rooted at dir (one subdirectory per project).
func NewLayer(dir string, log *slog.Logger, opts Options) *Layer {
	if log == nil {
		log = slog.Default()
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxCache == 0 {
		opts.MaxCache = DefaultMaxCacheSize
	}
	return &Layer{
		dir:   dir,
		log:   log,
		ttl:   opts.TTL,
		max:   opts.MaxCache,
		cache: make(map[string]*cached),
		now:   time.Now,
	}
}

// cacheKey builds the cache key for a (project, branch) pair.
func cacheKey(projectID, branch string) string {
	return projectID + "|" + branch
}

// entryPath is the on-disk location of an entry. Branch path separators
// are flattened so a branch like "feat/login" stays a single file.
func (l *Layer) entryPath(projectID, branch string) string {
	return filepath.Join(l.dir, projectID, strings.ReplaceAll(branch, "/", "__")+".json")
}

// Get returns the shared context entry for a query: cache when fresh,
// disk otherwise, an empty entry when no file exists yet.
func (l *Layer) Get(ctx context.Context, q Query) (*Entry, error) {
	if q.ProjectID == "" {
		return nil, &protocol.ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if q.Branch == "" {
		q.Branch = protocol.DefaultBranch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := cacheKey(q.ProjectID, q.Branch)
	if c, ok := l.cache[key]; ok && l.now().Sub(c.loadedAt) < l.ttl {
		return c.entry, nil
	}

	entry, err := l.load(q.ProjectID, q.Branch)
	if err != nil {
		return nil, err
	}

	if q.IncludeOtherBranches {
		l.mergeSiblingSessions(entry, q.ProjectID, q.Branch)
	}

	l.cache[key] = &cached{entry: entry, loadedAt: l.now(), updatedAt: l.now()}
	l.evictLocked()
	return entry, nil
}

// load reads an entry from disk. A missing file is an empty context, not
// an error.
func (l *Layer) load(projectID, branch string) (*Entry, error) {
	path := l.entryPath(projectID, branch)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newEntry(projectID, branch), nil
		}
		return nil, fmt.Errorf("read shared context %s: %w", path, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse shared context %s: %w", path, err)
	}
	entry.normalize()
	return &entry, nil
}

// mergeSiblingSessions folds session summaries from the project's other
// branch files into entry. Failures here degrade to the single branch.
func (l *Layer) mergeSiblingSessions(entry *Entry, projectID, branch string) {
	projectDir := filepath.Join(l.dir, projectID)
	files, err := os.ReadDir(projectDir)
	if err != nil {
		return
	}
	own := filepath.Base(l.entryPath(projectID, branch))
	seen := make(map[string]bool, len(entry.Sessions))
	for _, s := range entry.Sessions {
		seen[s.SessionID] = true
	}
	for _, f := range files {
		if f.IsDir() || f.Name() == own || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		sibling, err := l.load(projectID, strings.TrimSuffix(f.Name(), ".json"))
		if err != nil {
			l.log.Warn("sibling branch load failed", "file", f.Name(), "error", err)
			continue
		}
		for _, s := range sibling.Sessions {
			if !seen[s.SessionID] {
				entry.Sessions = append(entry.Sessions, s)
				seen[s.SessionID] = true
			}
		}
	}
}

// save writes an entry back to disk with a temp-file rename so concurrent
// writers leave a whole file (last writer wins). A write failure is logged
// and the in-memory cache stays authoritative.
func (l *Layer) save(entry *Entry) {
	path := l.entryPath(entry.ProjectID, entry.Branch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.log.Warn("shared context mkdir failed", "path", path, "error", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		l.log.Warn("shared context marshal failed", "path", path, "error", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.log.Warn("shared context write failed", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		l.log.Warn("shared context rename failed", "path", path, "error", err)
	}
}

// evictLocked drops the least-recently-updated half of the cache when it
// grows past the max. Caller holds l.mu.
func (l *Layer) evictLocked() {
	if len(l.cache) <= l.max {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(l.cache))
	for k, c := range l.cache {
		entries = append(entries, aged{key: k, at: c.updatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	for _, e := range entries[len(entries)/2:] {
		delete(l.cache, e.key)
	}
}

// Invalidate drops a (project, branch) entry from the cache, forcing the
// next Get to reload from disk. Used by the directory watcher when another
// process rewrites the file.
func (l *Layer) Invalidate(projectID, branch string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, cacheKey(projectID, branch))
}

// invalidatePath drops any cached entry backed by the given file. Used by
// the watcher, where only the flattened file name is known.
func (l *Layer) invalidatePath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.cache {
		projectID, branch, _ := strings.Cut(key, "|")
		if l.entryPath(projectID, branch) == path {
			delete(l.cache, key)
		}
	}
}

// Add distills frames into the shared context: frames scoring at or above
// MinScore become key frames of the session summary (replacing any prior
// summary for the same session), recurring error and decision patterns are
// folded into the frequency table, the reference indices are updated, and
// the entry is written back to disk.
func (l *Layer) Add(ctx context.Context, q Query, frames []*protocol.Frame, opts AddOpts) (int, error) {
	if opts.SessionID == "" {
		return 0, &protocol.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	minScore := opts.MinScore
	if minScore == 0 {
		minScore = 0.5
	}

	entry, err := l.Get(ctx, q)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var keyFrames []KeyFrame
	for _, f := range frames {
		score := FrameImportance(f, now)
		if score < minScore {
			continue
		}
		keyFrames = append(keyFrames, KeyFrame{
			FrameID:  f.FrameID,
			Type:     f.Type,
			Score:    score,
			Tags:     opts.Tags,
			Summary:  frameSummary(f),
			ClosedAt: frameTime(f),
		})
		l.extractPatterns(entry, f, now)
	}
	if len(keyFrames) > maxKeyFramesPerSession {
		keyFrames = keyFrames[len(keyFrames)-maxKeyFramesPerSession:]
	}

	upsertSession(entry, SessionSummary{
		SessionID: opts.SessionID,
		UpdatedAt: now,
		KeyFrames: keyFrames,
	})
	for i := range keyFrames {
		indexKeyFrame(&entry.ReferenceIndex, keyFrames[i])
	}

	entry.LastUpdated = now
	if c, ok := l.cache[cacheKey(entry.ProjectID, entry.Branch)]; ok {
		c.updatedAt = now
	}
	l.save(entry)
	return len(keyFrames), nil
}

// frameSummary prefers the digest text, falling back to type and name.
func frameSummary(f *protocol.Frame) string {
	if f.DigestText != "" {
		return f.DigestText
	}
	return f.Type + ": " + f.Name
}

// upsertSession replaces any existing summary for the same session.
func upsertSession(entry *Entry, s SessionSummary) {
	for i := range entry.Sessions {
		if entry.Sessions[i].SessionID == s.SessionID {
			entry.Sessions[i] = s
			return
		}
	}
	entry.Sessions = append(entry.Sessions, s)
}

// extractPatterns folds a frame's error/resolution and decision signals
// into the frequency-ranked pattern table and the decision log.
func (l *Layer) extractPatterns(entry *Entry, f *protocol.Frame, now time.Time) {
	switch f.Type {
	case "error", "resolution":
		resolution := ""
		if r, ok := f.Outputs["result"].(string); ok {
			resolution = r
		}
		bumpPattern(entry, Pattern{
			Pattern:    f.Name,
			Type:       "error_resolution",
			Resolution: resolution,
			LastSeen:   now,
		})
	}

	if decisions, ok := f.DigestJSON["decisions"].([]any); ok {
		for _, d := range decisions {
			text, ok := d.(string)
			if !ok || text == "" {
				continue
			}
			bumpPattern(entry, Pattern{Pattern: text, Type: "decision", LastSeen: now})
			entry.DecisionLog = append(entry.DecisionLog, Decision{
				Text:    text,
				FrameID: f.FrameID,
				At:      now,
			})
		}
	}
	if len(entry.DecisionLog) > maxDecisionLog {
		entry.DecisionLog = entry.DecisionLog[len(entry.DecisionLog)-maxDecisionLog:]
	}
}

// bumpPattern increments an existing pattern's frequency or appends a new
// one, evicting the lowest-frequency pattern when the table overflows.
func bumpPattern(entry *Entry, p Pattern) {
	for i := range entry.GlobalPatterns {
		existing := &entry.GlobalPatterns[i]
		if existing.Pattern == p.Pattern && existing.Type == p.Type {
			existing.Frequency++
			existing.LastSeen = p.LastSeen
			if p.Resolution != "" {
				existing.Resolution = p.Resolution
			}
			return
		}
	}
	p.Frequency = 1
	entry.GlobalPatterns = append(entry.GlobalPatterns, p)

	if len(entry.GlobalPatterns) > maxGlobalPatterns {
		lowest := 0
		for i := range entry.GlobalPatterns {
			if entry.GlobalPatterns[i].Frequency < entry.GlobalPatterns[lowest].Frequency {
				lowest = i
			}
		}
		entry.GlobalPatterns = append(
			entry.GlobalPatterns[:lowest], entry.GlobalPatterns[lowest+1:]...)
	}
}

// indexKeyFrame updates the tag, type, and score indices for one key frame.
func indexKeyFrame(idx *ReferenceIndex, kf KeyFrame) {
	for _, tag := range kf.Tags {
		idx.ByTag[tag] = appendUnique(idx.ByTag[tag], kf.FrameID)
	}
	idx.ByType[kf.Type] = appendUnique(idx.ByType[kf.Type], kf.FrameID)

	// Replace a prior score entry for the frame, keep sorted descending.
	for i := range idx.ByScore {
		if idx.ByScore[i].FrameID == kf.FrameID {
			idx.ByScore = append(idx.ByScore[:i], idx.ByScore[i+1:]...)
			break
		}
	}
	pos := sort.Search(len(idx.ByScore), func(i int) bool {
		return idx.ByScore[i].Score < kf.Score
	})
	idx.ByScore = append(idx.ByScore, ScoredRef{})
	copy(idx.ByScore[pos+1:], idx.ByScore[pos:])
	idx.ByScore[pos] = ScoredRef{FrameID: kf.FrameID, Score: kf.Score}
	if len(idx.ByScore) > maxByScore {
		idx.ByScore = idx.ByScore[:maxByScore]
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// QueryResult is one ranked key frame.
type QueryResult struct {
	KeyFrame  KeyFrame `json:"keyFrame"`
	SessionID string   `json:"sessionId"`
	Rank      float64  `json:"rank"` // 0.7*score + 0.3*recency
}

// QueryContext scans the key frames of all sessions (or one), filters by
// tags, type, and minimum score, and ranks by 0.7*score + 0.3*recency
// where recency decays linearly to zero over 30 days. Returned frame ids
// are recorded into the recently-accessed ring and persisted.
func (l *Layer) QueryContext(ctx context.Context, q ContextQuery) ([]QueryResult, error) {
	entry, err := l.Get(ctx, Query{ProjectID: q.ProjectID, Branch: q.Branch})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var results []QueryResult
	for _, session := range entry.Sessions {
		if q.SessionID != "" && session.SessionID != q.SessionID {
			continue
		}
		for _, kf := range session.KeyFrames {
			if q.Type != "" && kf.Type != q.Type {
				continue
			}
			if kf.Score < q.MinScore {
				continue
			}
			if len(q.Tags) > 0 && !anyTagMatch(kf.Tags, q.Tags) {
				continue
			}
			results = append(results, QueryResult{
				KeyFrame:  kf,
				SessionID: session.SessionID,
				Rank:      0.7*kf.Score + 0.3*recencyFactor(kf.ClosedAt, now),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Rank > results[j].Rank })
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	if len(results) > 0 {
		for _, r := range results {
			entry.ReferenceIndex.RecentlyAccessed = append(
				entry.ReferenceIndex.RecentlyAccessed, r.KeyFrame.FrameID)
		}
		if n := len(entry.ReferenceIndex.RecentlyAccessed); n > maxRecentlyAccessed {
			entry.ReferenceIndex.RecentlyAccessed =
				entry.ReferenceIndex.RecentlyAccessed[n-maxRecentlyAccessed:]
		}
		entry.LastUpdated = now
		if c, ok := l.cache[cacheKey(entry.ProjectID, entry.Branch)]; ok {
			c.updatedAt = now
		}
		l.save(entry)
	}
	return results, nil
}

// anyTagMatch returns true if any tag in a appears in b.
func anyTagMatch(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	for _, t := range a {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Discovered is the session bootstrap bundle from AutoDiscover.
type Discovered struct {
	TopPatterns   []Pattern     `json:"topPatterns"`
	LastDecisions []Decision    `json:"lastDecisions"`
	TopFrames     []QueryResult `json:"topFrames"`
}

// AutoDiscover combines the top 5 patterns of the last 7 days, the last 5
// decisions, and the top 5 frames by rank with score at least 0.8.
func (l *Layer) AutoDiscover(ctx context.Context, projectID, branch string) (*Discovered, error) {
	entry, err := l.Get(ctx, Query{ProjectID: projectID, Branch: branch})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	now := l.now()
	var recent []Pattern
	for _, p := range entry.GlobalPatterns {
		if now.Sub(p.LastSeen) <= 7*24*time.Hour {
			recent = append(recent, p)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Frequency > recent[j].Frequency })
	if len(recent) > 5 {
		recent = recent[:5]
	}

	decisions := entry.DecisionLog
	if len(decisions) > 5 {
		decisions = decisions[len(decisions)-5:]
	}
	lastDecisions := make([]Decision, len(decisions))
	copy(lastDecisions, decisions)
	l.mu.Unlock()

	frames, err := l.QueryContext(ctx, ContextQuery{
		ProjectID: projectID,
		Branch:    branch,
		MinScore:  0.8,
		Limit:     5,
	})
	if err != nil {
		return nil, err
	}

	return &Discovered{
		TopPatterns:   recent,
		LastDecisions: lastDecisions,
		TopFrames:     frames,
	}, nil
}
