// Package tracker keeps an in-memory view of every usage row in the Gemini
// CLI sessions tree and refreshes it incrementally.
//
// A query first consults a short-lived result cache. On a miss it runs a
// reconciliation pass: files that no watch event marked dirty are trusted from
// the metadata index without a stat, changed files are re-read, and rows are
// re-extracted only for sessions whose file mtime moved. A periodic timer
// forces a full re-stat to cover watch events that never arrived.
package tracker

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/session"
	"github.com/janekbaraniewski/geminiusage/internal/watch"
)

const (
	// CacheTTL bounds how long an unfiltered query result is reused.
	CacheTTL = 2 * time.Second
	// MaxAggregateEntries caps the per-session aggregate cache.
	MaxAggregateEntries = 10_000
	// ReconciliationInterval is how often a full re-stat sweep is forced.
	ReconciliationInterval = 10 * time.Minute
	// DefaultLimit is the query limit when none is given.
	DefaultLimit = 100
)

// Options overrides the fixed constants. Zero values keep the defaults.
type Options struct {
	SessionsDir            string
	CacheTTL               time.Duration
	MaxAggregateEntries    int
	ReconciliationInterval time.Duration
}

// Query selects usage rows. Limit is recorded with cached results but does
// not truncate them.
type Query struct {
	SessionID string
	Limit     int
	Since     time.Time
}

func (q Query) normalized() Query {
	q.SessionID = strings.TrimSpace(q.SessionID)
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	return q
}

func (q Query) matches(sessionID string, mtime time.Time) bool {
	if q.SessionID != "" && sessionID != q.SessionID {
		return false
	}
	return q.Since.IsZero() || !mtime.Before(q.Since)
}

// PassStats describes one reconciliation pass.
type PassStats struct {
	Forced          bool          `json:"forced"`
	SessionFiles    int           `json:"session_files"`
	Rows            int           `json:"rows"`
	StatChecks      int           `json:"stat_checks"`
	StatSkips       int           `json:"stat_skips"`
	DirtyHits       int           `json:"dirty_hits"`
	FileReads       int           `json:"file_reads"`
	SkippedFiles    int           `json:"skipped_files"`
	AggregateHits   int           `json:"aggregate_hits"`
	AggregateMisses int           `json:"aggregate_misses"`
	Evicted         int           `json:"evicted"`
	MetadataSize    int           `json:"metadata_size"`
	AggregateSize   int           `json:"aggregate_size"`
	Duration        time.Duration `json:"duration"`
}

// Stats are cumulative counters since the engine was created.
type Stats struct {
	Passes          int64       `json:"passes"`
	ResultCacheHits int64       `json:"result_cache_hits"`
	StatChecks      int64       `json:"stat_checks"`
	StatSkips       int64       `json:"stat_skips"`
	DirtyHits       int64       `json:"dirty_hits"`
	FileReads       int64       `json:"file_reads"`
	AggregateHits   int64       `json:"aggregate_hits"`
	AggregateMisses int64       `json:"aggregate_misses"`
	Evicted         int64       `json:"evicted"`
	MetadataSize    int         `json:"metadata_size"`
	AggregateSize   int         `json:"aggregate_size"`
	DirtyPending    int         `json:"dirty_pending"`
	LastPass        PassStats   `json:"last_pass"`
	Watch           watch.Stats `json:"watch"`
}

func (s *Stats) add(p PassStats) {
	s.Passes++
	s.StatChecks += int64(p.StatChecks)
	s.StatSkips += int64(p.StatSkips)
	s.DirtyHits += int64(p.DirtyHits)
	s.FileReads += int64(p.FileReads)
	s.AggregateHits += int64(p.AggregateHits)
	s.AggregateMisses += int64(p.AggregateMisses)
	s.Evicted += int64(p.Evicted)
	s.LastPass = p
}

// Engine answers usage queries from the sessions tree. It is safe for
// concurrent use; passes run one at a time.
type Engine struct {
	root         string
	ttl          time.Duration
	maxAggregate int
	interval     time.Duration
	now          func() time.Time

	watcher   *watch.Manager
	dirty     *dirtySet
	forceFull atomic.Bool

	// passMu serializes passes. It guards everything below it.
	passMu     sync.Mutex
	metadata   metadataIndex
	aggregates *aggregateCache
	result     resultCache
	stats      Stats

	schedMu     sync.Mutex
	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

// New returns a stopped engine. Query starts it on first use.
func New(opts Options) *Engine {
	e := &Engine{
		root:         strings.TrimSpace(opts.SessionsDir),
		ttl:          opts.CacheTTL,
		maxAggregate: opts.MaxAggregateEntries,
		interval:     opts.ReconciliationInterval,
		now:          time.Now,
		dirty:        newDirtySet(),
		metadata:     make(metadataIndex),
		aggregates:   newAggregateCache(),
	}
	if e.root == "" {
		e.root = session.DefaultSessionsDir()
	}
	if e.ttl <= 0 {
		e.ttl = CacheTTL
	}
	if e.maxAggregate <= 0 {
		e.maxAggregate = MaxAggregateEntries
	}
	if e.interval <= 0 {
		e.interval = ReconciliationInterval
	}
	e.watcher = watch.New("sessions", e.root, watch.Handlers{OnFile: e.MarkDirty})
	return e
}

func (e *Engine) SessionsDir() string { return e.root }

// Start attaches the invalidation watches and the reconciliation timer.
// Calling it again while running does nothing.
func (e *Engine) Start() {
	e.watcher.Start()

	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.schedCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.schedCancel = cancel
	e.schedDone = make(chan struct{})
	go e.runScheduler(ctx, e.schedDone)
}

// Stop tears down watches and the timer and forgets pending dirty paths.
// Caches survive for later queries, and the next pass re-stats every file
// since changes made while stopped were never seen.
func (e *Engine) Stop() {
	e.schedMu.Lock()
	cancel, done := e.schedCancel, e.schedDone
	e.schedCancel, e.schedDone = nil, nil
	e.schedMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	e.watcher.Stop()
	e.dirty.drain()
	e.forceFull.Store(true)
}

// MarkDirty flags a session file as possibly changed.
func (e *Engine) MarkDirty(path string) {
	e.dirty.add(path)
}

// ForceFullReconciliation makes the next pass stat every file.
func (e *Engine) ForceFullReconciliation() {
	e.forceFull.Store(true)
}

// Stats returns cumulative counters plus current cache sizes and watch health.
func (e *Engine) Stats() Stats {
	e.passMu.Lock()
	out := e.stats
	out.MetadataSize = len(e.metadata)
	out.AggregateSize = e.aggregates.len()
	e.passMu.Unlock()

	out.DirtyPending = e.dirty.len()
	out.Watch = e.watcher.Stats()
	return out
}

// LastPass returns the stats of the most recent reconciliation pass.
func (e *Engine) LastPass() PassStats {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	return e.stats.LastPass
}

func (e *Engine) runScheduler(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.forceFull.Store(true)
			e.debugf("full_reconciliation_scheduled", "interval=%s", e.interval)
		}
	}
}

func (e *Engine) debugf(event, format string, args ...any) {
	if strings.TrimSpace(format) == "" {
		log.Printf("[tracker] level=debug event=%s", event)
		return
	}
	log.Printf("[tracker] level=debug event=%s "+format, append([]any{event}, args...)...)
}
