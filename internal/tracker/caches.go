package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/session"
	"github.com/samber/lo"
)

type metadataEntry struct {
	mtime     time.Time
	sessionID string
}

// metadataIndex maps an absolute session file path to what the last pass saw.
// Only files that existed at their last observation have an entry.
type metadataIndex map[string]metadataEntry

// retain drops every path not in seen and returns how many were dropped.
func (m metadataIndex) retain(seen map[string]bool) int {
	dropped := 0
	for path := range m {
		if !seen[path] {
			delete(m, path)
			dropped++
		}
	}
	return dropped
}

type aggregateEntry struct {
	updatedAt    time.Time
	rows         []session.UsageRow
	lastAccessed time.Time
}

// aggregateCache holds extracted rows per session id. An entry is only usable
// while updatedAt equals the current mtime of the session's file.
type aggregateCache struct {
	entries map[string]*aggregateEntry
}

func newAggregateCache() *aggregateCache {
	return &aggregateCache{entries: make(map[string]*aggregateEntry)}
}

func (c *aggregateCache) lookup(sessionID string, mtime, now time.Time) ([]session.UsageRow, bool) {
	entry, ok := c.entries[sessionID]
	if !ok || !entry.updatedAt.Equal(mtime) {
		return nil, false
	}
	entry.lastAccessed = now
	return entry.rows, true
}

func (c *aggregateCache) store(sessionID string, mtime time.Time, rows []session.UsageRow, now time.Time) {
	c.entries[sessionID] = &aggregateEntry{
		updatedAt:    mtime,
		rows:         rows,
		lastAccessed: now,
	}
}

func (c *aggregateCache) has(sessionID string) bool {
	_, ok := c.entries[sessionID]
	return ok
}

func (c *aggregateCache) len() int { return len(c.entries) }

// evict trims the cache to max entries, least recently accessed first. Ties
// go to the entry whose file is older.
func (c *aggregateCache) evict(max int) int {
	if max <= 0 || len(c.entries) <= max {
		return 0
	}

	ids := lo.Keys(c.entries)
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.entries[ids[i]], c.entries[ids[j]]
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		if !a.updatedAt.Equal(b.updatedAt) {
			return a.updatedAt.Before(b.updatedAt)
		}
		return ids[i] < ids[j]
	})

	excess := len(c.entries) - max
	for _, id := range ids[:excess] {
		delete(c.entries, id)
	}
	return excess
}

// resultCache is a single slot holding the last unfiltered query result.
type resultCache struct {
	valid     bool
	lastCheck time.Time
	rows      []session.UsageRow
	limit     int
	since     time.Time
}

func (r *resultCache) get(q Query, now time.Time, ttl time.Duration) ([]session.UsageRow, bool) {
	if !r.valid || r.limit != q.Limit || !r.since.Equal(q.Since) {
		return nil, false
	}
	if now.Sub(r.lastCheck) >= ttl {
		return nil, false
	}
	return r.rows, true
}

func (r *resultCache) set(q Query, rows []session.UsageRow, now time.Time) {
	*r = resultCache{
		valid:     true,
		lastCheck: now,
		rows:      rows,
		limit:     q.Limit,
		since:     q.Since,
	}
}

// dirtySet collects paths reported by watch callbacks. Duplicate reports
// collapse; a pass takes the whole set at once.
type dirtySet struct {
	mu    sync.Mutex
	paths map[string]bool
}

func newDirtySet() *dirtySet {
	return &dirtySet{paths: make(map[string]bool)}
}

func (d *dirtySet) add(path string) {
	d.mu.Lock()
	d.paths[path] = true
	d.mu.Unlock()
}

// drain returns the current set and leaves an empty one behind. Paths added
// after this call belong to the next pass.
func (d *dirtySet) drain() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.paths
	d.paths = make(map[string]bool)
	return out
}

func (d *dirtySet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.paths)
}
