package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type message map[string]any

func modelMessage(id, model string, input, output, cached int) message {
	return message{
		"type":   "gemini",
		"id":     id,
		"model":  model,
		"tokens": map[string]int{"input": input, "output": output, "cached": cached},
	}
}

func writeSession(t *testing.T, path, sessionID string, mtime time.Time, messages ...message) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if messages == nil {
		messages = []message{}
	}
	data, err := json.Marshal(map[string]any{"sessionId": sessionID, "messages": messages})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T, root string, opts Options) (*Engine, *fakeClock) {
	t.Helper()
	opts.SessionsDir = root
	e := New(opts)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	e.now = clock.Now
	t.Cleanup(e.Stop)
	return e, clock
}

func query(t *testing.T, e *Engine, q Query) []sessionRow {
	t.Helper()
	rows, err := e.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	out := make([]sessionRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, sessionRow{r.SessionID, r.ModelID, r.Tokens.Input, r.Tokens.Output, r.Tokens.CacheRead})
	}
	return out
}

type sessionRow struct {
	session string
	model   string
	input   int64
	output  int64
	cached  int64
}

var base = time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC)

func TestQuery_Scenario(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p1", "chats", "a.json")
	writeSession(t, path, "s1", base,
		message{"type": "model", "id": "m1", "model": "g1", "tokens": map[string]int{"input": 10, "output": 5, "cached": 0}},
		modelMessage("m2", "g1", 0, 0, 0),
		modelMessage("m3", "g1", 1, 1, 3),
	)

	e, _ := newTestEngine(t, root, Options{})
	rows, err := e.Query(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	first := rows[0]
	if first.SessionID != "s1" || first.ModelID != "g1" || first.Tokens.Input != 10 || first.Tokens.Output != 5 || first.Tokens.CacheRead != 0 {
		t.Errorf("first row = %+v", first)
	}
	if !first.SessionUpdatedAt.Equal(base) {
		t.Errorf("SessionUpdatedAt = %v, want %v", first.SessionUpdatedAt, base)
	}
	if rows[1].Tokens.CacheRead != 3 {
		t.Errorf("second row cacheRead = %d, want 3", rows[1].Tokens.CacheRead)
	}
}

func TestQuery_MissingRootIsEmpty(t *testing.T) {
	e, _ := newTestEngine(t, filepath.Join(t.TempDir(), "nope"), Options{})
	rows, err := e.Query(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want empty non-nil slice", rows)
	}
	if e.Stats().Watch.Started {
		t.Error("watcher started for a missing root")
	}
}

func TestQuery_CachedWithinTTL(t *testing.T) {
	root := t.TempDir()
	writeSession(t, filepath.Join(root, "p1", "chats", "a.json"), "s1", base, modelMessage("m1", "g1", 10, 5, 0))
	writeSession(t, filepath.Join(root, "p2", "chats", "b.json"), "s2", base.Add(time.Minute), modelMessage("m1", "g2", 3, 4, 0))

	e, clock := newTestEngine(t, root, Options{})
	first := query(t, e, Query{})
	before := e.Stats()

	clock.Advance(CacheTTL / 2)
	second := query(t, e, Query{})
	after := e.Stats()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second result differs:\n got %v\nwant %v", second, first)
	}
	if after.StatChecks != before.StatChecks || after.Passes != before.Passes {
		t.Errorf("second query ran a pass: before %+v after %+v", before, after)
	}
	if after.ResultCacheHits != before.ResultCacheHits+1 {
		t.Errorf("ResultCacheHits = %d, want %d", after.ResultCacheHits, before.ResultCacheHits+1)
	}

	// Different parameters miss the slot.
	query(t, e, Query{Limit: 5})
	if got := e.Stats().Passes; got != after.Passes+1 {
		t.Errorf("Passes = %d, want %d after a limit change", got, after.Passes+1)
	}
}

func TestQuery_OrderedNewestSessionFirst(t *testing.T) {
	root := t.TempDir()
	writeSession(t, filepath.Join(root, "p1", "chats", "old.json"), "old", base, modelMessage("m1", "g1", 1, 1, 0))
	writeSession(t, filepath.Join(root, "p2", "chats", "new.json"), "new", base.Add(time.Hour), modelMessage("m1", "g1", 2, 2, 0))
	writeSession(t, filepath.Join(root, "p1", "chats", "mid.json"), "mid", base.Add(time.Minute), modelMessage("m1", "g1", 3, 3, 0))

	e, _ := newTestEngine(t, root, Options{})
	rows := query(t, e, Query{})
	var got []string
	for _, r := range rows {
		got = append(got, r.session)
	}
	want := []string{"new", "mid", "old"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestQuery_Filters(t *testing.T) {
	root := t.TempDir()
	writeSession(t, filepath.Join(root, "p1", "chats", "a.json"), "s1", base, modelMessage("m1", "g1", 1, 1, 0))
	writeSession(t, filepath.Join(root, "p1", "chats", "b.json"), "s2", base.Add(time.Hour), modelMessage("m1", "g1", 2, 2, 0))

	e, clock := newTestEngine(t, root, Options{})

	rows := query(t, e, Query{SessionID: "s1"})
	if len(rows) != 1 || rows[0].session != "s1" {
		t.Errorf("session filter rows = %v", rows)
	}

	rows = query(t, e, Query{Since: base.Add(time.Minute)})
	if len(rows) != 1 || rows[0].session != "s2" {
		t.Errorf("since filter rows = %v", rows)
	}

	// The cache-trust branch applies the same filters.
	clock.Advance(time.Minute)
	rows = query(t, e, Query{SessionID: "s2"})
	if len(rows) != 1 || rows[0].session != "s2" {
		t.Errorf("session filter from metadata rows = %v", rows)
	}
	if skips := e.LastPass().StatSkips; skips != 2 {
		t.Errorf("StatSkips = %d, want 2", skips)
	}
}

func TestQuery_FilenameFallbackSessionID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p1", "chats", "session-x.json")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte(`{"messages": "nope"}`), 0o644)
	writeSession(t, filepath.Join(root, "p1", "chats", "ok.json"), "s1", base, modelMessage("m1", "g1", 1, 1, 0))

	e, _ := newTestEngine(t, root, Options{})
	rows := query(t, e, Query{})
	if len(rows) != 1 || rows[0].session != "s1" {
		t.Fatalf("rows = %v, want only s1", rows)
	}

	e.passMu.Lock()
	meta, ok := e.metadata[path]
	e.passMu.Unlock()
	if !ok || meta.sessionID != "session-x" {
		t.Errorf("metadata for invalid file = %+v (ok=%v), want filename fallback", meta, ok)
	}
	if got := e.LastPass().SkippedFiles; got != 1 {
		t.Errorf("SkippedFiles = %d, want 1", got)
	}
}

func TestQuery_FreshAfterChange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p1", "chats", "a.json")
	writeSession(t, path, "s1", base, modelMessage("m1", "g1", 10, 5, 0))

	e, clock := newTestEngine(t, root, Options{})
	query(t, e, Query{})

	writeSession(t, path, "s1", base.Add(time.Minute),
		modelMessage("m1", "g1", 10, 5, 0),
		modelMessage("m2", "g1", 7, 7, 0),
	)
	e.MarkDirty(path)
	clock.Advance(CacheTTL)

	rows := query(t, e, Query{})
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 after the file changed", len(rows))
	}
	pass := e.LastPass()
	if pass.DirtyHits != 1 || pass.AggregateMisses != 1 {
		t.Errorf("pass = %+v, want one dirty hit and one aggregate miss", pass)
	}
}

func TestQuery_DirtyButUnchangedReusesAggregate(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p1", "chats", "a.json")
	writeSession(t, path, "s1", base, modelMessage("m1", "g1", 10, 5, 0))

	e, clock := newTestEngine(t, root, Options{})
	query(t, e, Query{})

	e.MarkDirty(path)
	clock.Advance(CacheTTL)
	query(t, e, Query{})

	pass := e.LastPass()
	if pass.StatChecks != 1 || pass.FileReads != 0 || pass.AggregateHits != 1 {
		t.Errorf("pass = %+v, want a stat, no read and an aggregate hit", pass)
	}
}

func TestQuery_WatchEventMarksDirty(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p1", "chats", "a.json")
	writeSession(t, path, "s1", base, modelMessage("m1", "g1", 10, 5, 0))

	e, clock := newTestEngine(t, root, Options{})
	query(t, e, Query{})

	writeSession(t, path, "s1", base.Add(time.Minute), modelMessage("m1", "g1", 10, 5, 0), modelMessage("m2", "g2", 1, 1, 0))

	deadline := time.Now().Add(3 * time.Second)
	for e.dirty.len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch event never marked the file dirty")
		}
		time.Sleep(20 * time.Millisecond)
	}

	clock.Advance(CacheTTL)
	if rows := query(t, e, Query{}); len(rows) != 2 {
		t.Errorf("len(rows) = %d, want 2", len(rows))
	}
}

func TestQuery_ForcedSweepStatsEverything(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		writeSession(t, filepath.Join(root, "p1", "chats", fmt.Sprintf("%d.json", i)), fmt.Sprintf("s%d", i), base, modelMessage("m1", "g1", 1, 1, 0))
	}

	e, clock := newTestEngine(t, root, Options{})
	query(t, e, Query{})

	clock.Advance(CacheTTL)
	query(t, e, Query{})
	if pass := e.LastPass(); pass.StatChecks != 0 || pass.StatSkips != 3 {
		t.Errorf("steady pass = %+v, want 0 stats and 3 skips", pass)
	}

	e.ForceFullReconciliation()
	clock.Advance(CacheTTL)
	query(t, e, Query{})
	if pass := e.LastPass(); !pass.Forced || pass.StatChecks != 3 {
		t.Errorf("forced pass = %+v, want 3 stats", pass)
	}

	clock.Advance(CacheTTL)
	query(t, e, Query{})
	if pass := e.LastPass(); pass.Forced || pass.StatChecks != 0 {
		t.Errorf("pass after sweep = %+v, flag should have been consumed", pass)
	}
}

func TestScheduler_SetsForceFlag(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestEngine(t, root, Options{ReconciliationInterval: 10 * time.Millisecond})
	e.Start()

	deadline := time.Now().Add(2 * time.Second)
	for !e.forceFull.Load() {
		if time.Now().After(deadline) {
			t.Fatal("reconciliation timer never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQuery_DeletedFileIsPurged(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "p1", "chats", "keep.json")
	gone := filepath.Join(root, "p1", "chats", "gone.json")
	writeSession(t, keep, "keep", base, modelMessage("m1", "g1", 1, 1, 0))
	writeSession(t, gone, "gone", base, modelMessage("m1", "g1", 1, 1, 0))

	e, clock := newTestEngine(t, root, Options{})
	if rows := query(t, e, Query{}); len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	clock.Advance(CacheTTL)
	rows := query(t, e, Query{})
	if len(rows) != 1 || rows[0].session != "keep" {
		t.Errorf("rows after delete = %v", rows)
	}

	e.passMu.Lock()
	_, stillIndexed := e.metadata[gone]
	e.passMu.Unlock()
	if stillIndexed {
		t.Error("metadata entry for deleted file was not purged")
	}
}

func TestAggregateCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"s1", "s2", "s3"} {
		writeSession(t, filepath.Join(root, "p1", "chats", id+".json"), id, base, modelMessage("m1", "g1", 1, 1, 0))
	}

	e, clock := newTestEngine(t, root, Options{MaxAggregateEntries: 2})
	for _, id := range []string{"s1", "s2", "s1", "s3"} {
		clock.Advance(time.Second)
		query(t, e, Query{SessionID: id})
		if size := e.Stats().AggregateSize; size > 2 {
			t.Fatalf("aggregate cache size = %d, want <= 2", size)
		}
	}

	e.passMu.Lock()
	defer e.passMu.Unlock()
	if e.aggregates.has("s2") {
		t.Error("s2 was the least recently accessed and should be evicted")
	}
	if !e.aggregates.has("s1") || !e.aggregates.has("s3") {
		t.Error("s1 and s3 should remain cached")
	}
}

func TestAggregateCache_BoundOnSinglePass(t *testing.T) {
	c := newAggregateCache()
	now := base
	for i := 0; i < 5; i++ {
		c.store(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute), nil, now)
	}
	if evicted := c.evict(3); evicted != 2 {
		t.Errorf("evict() = %d, want 2", evicted)
	}
	if c.len() != 3 {
		t.Errorf("len = %d, want 3", c.len())
	}
	if c.has("s0") || c.has("s1") {
		t.Error("ties should evict the oldest files first")
	}
}

func TestDirtySet_DrainDefersLaterAdds(t *testing.T) {
	d := newDirtySet()
	d.add("/a")
	d.add("/a")
	d.add("/b")

	got := d.drain()
	if len(got) != 2 {
		t.Errorf("drain() = %v, want 2 paths", got)
	}
	d.add("/c")
	if next := d.drain(); len(next) != 1 || !next["/c"] {
		t.Errorf("second drain() = %v, want /c", next)
	}
}

func TestStop_KeepsCaches(t *testing.T) {
	root := t.TempDir()
	writeSession(t, filepath.Join(root, "p1", "chats", "a.json"), "s1", base, modelMessage("m1", "g1", 1, 1, 0))

	e, _ := newTestEngine(t, root, Options{})
	query(t, e, Query{})
	e.MarkDirty("/somewhere.json")
	e.Stop()

	stats := e.Stats()
	if stats.Watch.Started || stats.DirtyPending != 0 {
		t.Errorf("stats after Stop = %+v", stats)
	}
	if stats.MetadataSize != 1 || stats.AggregateSize != 1 {
		t.Errorf("caches cleared by Stop: %+v", stats)
	}
}

func TestStop_ChangeWhileStoppedIsSeen(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p1", "chats", "a.json")
	writeSession(t, path, "s1", base, modelMessage("m1", "g1", 1, 1, 0))

	e, clock := newTestEngine(t, root, Options{})
	if got := query(t, e, Query{}); len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	e.Stop()

	writeSession(t, path, "s1", base.Add(time.Minute),
		modelMessage("m1", "g1", 1, 1, 0),
		modelMessage("m2", "g1", 2, 2, 0),
	)
	clock.Advance(CacheTTL + time.Second)

	if got := query(t, e, Query{}); len(got) != 2 {
		t.Fatalf("rows after change while stopped = %d, want 2", len(got))
	}
	last := e.LastPass()
	if !last.Forced || last.StatSkips != 0 || last.FileReads == 0 {
		t.Errorf("pass after restart = %+v, want forced re-stat", last)
	}
}
