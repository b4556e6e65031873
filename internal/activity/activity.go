// Package activity turns session file writes into per-message usage deltas.
//
// Files are primed the first time their chats directory is watched: their
// current message ids are recorded without emitting anything. After that,
// each write emits every usage-bearing message whose id has not been seen for
// that file, at most once per id for the life of the watcher.
package activity

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/session"
	"github.com/janekbaraniewski/geminiusage/internal/watch"
)

// Delta is one newly observed model response.
type Delta struct {
	SessionID string         `json:"sessionId" yaml:"sessionId"`
	MessageID string         `json:"messageId" yaml:"messageId"`
	ModelID   string         `json:"modelId" yaml:"modelId"`
	Tokens    session.Tokens `json:"tokens" yaml:"tokens"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

type Callback func(Delta)

type Stats struct {
	Running    bool        `json:"running"`
	KnownFiles int         `json:"known_files"`
	KnownIDs   int         `json:"known_ids"`
	Emitted    int64       `json:"emitted"`
	Watch      watch.Stats `json:"watch"`
}

type Watcher struct {
	manager *watch.Manager
	now     func() time.Time

	mu      sync.Mutex
	cb      Callback
	primed  map[string]bool
	known   map[string]map[string]bool
	emitted int64
}

func New(root string) *Watcher {
	w := &Watcher{
		now:    time.Now,
		primed: make(map[string]bool),
		known:  make(map[string]map[string]bool),
	}
	w.manager = watch.New("activity", root, watch.Handlers{
		OnChatsDir: w.prime,
		OnFile:     w.processFile,
	})
	return w
}

// Start registers cb and begins watching. A second call only replaces the
// callback.
func (w *Watcher) Start(cb Callback) {
	w.mu.Lock()
	w.cb = cb
	w.mu.Unlock()

	w.manager.Start()
}

// Stop removes every watch, the callback and all known ids. A later Start
// primes again from the files as they are then.
func (w *Watcher) Stop() {
	w.manager.Stop()

	w.mu.Lock()
	w.cb = nil
	w.primed = make(map[string]bool)
	w.known = make(map[string]map[string]bool)
	w.mu.Unlock()
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	out := Stats{
		Running:    w.cb != nil,
		KnownFiles: len(w.known),
		Emitted:    w.emitted,
	}
	for _, ids := range w.known {
		out.KnownIDs += len(ids)
	}
	w.mu.Unlock()

	out.Watch = w.manager.Stats()
	return out
}

// prime records the current message ids of every file in a chats directory.
// Ids are merged so an event handled before priming cannot be re-emitted.
func (w *Watcher) prime(dir string) {
	files, err := session.ListSessionFiles(dir)
	if err != nil {
		debugf("prime_list_failed", "dir=%s error=%v", dir, err)
	}

	seeded := make(map[string][]string, len(files))
	for _, path := range files {
		f, err := session.ReadFile(path)
		if err != nil {
			debugf("prime_file_skipped", "error=%v", err)
			seeded[path] = nil
			continue
		}
		seeded[path] = session.MessageIDs(f)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.primed[filepath.Clean(dir)] = true
	for path, ids := range seeded {
		set := w.knownLocked(path)
		for _, id := range ids {
			set[id] = true
		}
	}
	debugf("primed", "dir=%s files=%d", dir, len(seeded))
}

func (w *Watcher) processFile(path string) {
	w.mu.Lock()
	ready := w.cb != nil && w.primed[filepath.Dir(path)]
	w.mu.Unlock()
	if !ready {
		return
	}

	f, err := session.ReadFile(path)
	if err != nil {
		// Partially written files are common; the next write retries.
		debugf("delta_file_skipped", "error=%v", err)
		return
	}

	now := w.now()
	w.mu.Lock()
	known := w.knownLocked(path)
	var deltas []Delta
	for _, raw := range f.Messages {
		msg, ok := session.ParseUsageMessage(raw)
		if !ok || known[msg.ID] {
			continue
		}
		known[msg.ID] = true
		deltas = append(deltas, Delta{
			SessionID: f.SessionID,
			MessageID: msg.ID,
			ModelID:   msg.Model,
			Tokens:    session.TokensFor(msg.Tokens),
			Timestamp: session.ParseTimestamp(msg.Timestamp, now),
		})
	}
	w.emitted += int64(len(deltas))
	cb := w.cb
	w.mu.Unlock()

	if cb == nil {
		return
	}
	for _, d := range deltas {
		cb(d)
	}
}

func (w *Watcher) knownLocked(path string) map[string]bool {
	set, ok := w.known[path]
	if !ok {
		set = make(map[string]bool)
		w.known[path] = set
	}
	return set
}

func debugf(event, format string, args ...any) {
	log.Printf("[activity] level=debug event=%s "+format, append([]any{event}, args...)...)
}
