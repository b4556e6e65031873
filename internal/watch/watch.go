// Package watch keeps fsnotify watches on a sessions root, its project
// directories and their chats directories.
//
// Watches are best effort. fsnotify is not recursive, so a project directory
// that gains a chats child after being watched is picked up from the project
// watch, and anything missed entirely is left to the caller's periodic sweep.
package watch

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/janekbaraniewski/geminiusage/internal/session"
)

// Handlers receive watch callbacks on the manager's event goroutine, except
// for OnChatsDir calls made while Start enumerates existing projects.
type Handlers struct {
	// OnFile fires for any create, write, rename or remove of a *.json file
	// inside a watched chats directory.
	OnFile func(path string)
	// OnChatsDir fires once per chats directory, right after its watch is
	// attached.
	OnChatsDir func(dir string)
}

type Stats struct {
	Started        bool  `json:"started"`
	WaitingForRoot bool  `json:"waiting_for_root"`
	RootWatched    bool  `json:"root_watched"`
	Projects       int   `json:"projects"`
	ChatsDirs      int   `json:"chats_dirs"`
	AttachFailures int64 `json:"attach_failures"`
}

// rootPollInterval is how often a missing sessions root is checked for.
const rootPollInterval = 2 * time.Second

type Manager struct {
	name     string
	root     string
	handlers Handlers

	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	done        chan struct{}
	started     bool
	rootWatched bool
	rootWait    chan struct{}
	rootPoll    time.Duration
	projects    map[string]bool
	chats       map[string]bool

	attachFailures atomic.Int64
}

// New returns a stopped manager. name only shows up in log lines.
func New(name, root string, h Handlers) *Manager {
	return &Manager{
		name:     name,
		root:     filepath.Clean(root),
		handlers: h,
		rootPoll: rootPollInterval,
		projects: make(map[string]bool),
		chats:    make(map[string]bool),
	}
}

// Start attaches the root watch and one watch per existing project directory.
// Calls after the first are no-ops until Stop. While the root does not exist
// the manager stays stopped and polls for it, so a sessions directory created
// later is still picked up.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	if _, err := os.Stat(m.root); errors.Is(err, fs.ErrNotExist) {
		waiting := m.waitForRootLocked()
		m.mu.Unlock()
		if waiting {
			m.debugf("root_missing", "root=%s poll=%s", m.root, rootPollInterval)
		}
		return
	}
	if m.rootWait != nil {
		close(m.rootWait)
		m.rootWait = nil
	}
	m.started = true

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		m.attachFailures.Add(1)
		m.debugf("watcher_create_failed", "error=%v", err)
		return
	}
	m.fsw = fsw
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(fsw, done)

	if m.add(fsw, m.root) {
		m.mu.Lock()
		m.rootWatched = m.fsw == fsw
		m.mu.Unlock()
	}

	dirs, err := session.ProjectDirs(m.root)
	if err != nil {
		m.debugf("initial_enumeration_skipped", "root=%s error=%v", m.root, err)
		return
	}
	for _, dir := range dirs {
		m.WatchProject(dir)
	}
}

// waitForRootLocked starts the root poller unless one is already running. It
// reports whether it started one.
func (m *Manager) waitForRootLocked() bool {
	if m.rootWait != nil {
		return false
	}
	stop := make(chan struct{})
	m.rootWait = stop
	go m.pollRoot(stop)
	return true
}

func (m *Manager) pollRoot(stop chan struct{}) {
	ticker := time.NewTicker(m.rootPoll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := os.Stat(m.root); err != nil {
				continue
			}
			m.mu.Lock()
			current := m.rootWait == stop
			if current {
				m.rootWait = nil
			}
			m.mu.Unlock()
			if current {
				m.debugf("root_appeared", "root=%s", m.root)
				m.Start()
			}
			return
		}
	}
}

// Stop closes every watch, stops any root poller and forgets all
// bookkeeping. It waits for the event goroutine, so it must not be called
// from a handler.
func (m *Manager) Stop() {
	m.mu.Lock()
	fsw := m.fsw
	done := m.done
	if m.rootWait != nil {
		close(m.rootWait)
		m.rootWait = nil
	}
	m.fsw = nil
	m.done = nil
	m.started = false
	m.rootWatched = false
	m.projects = make(map[string]bool)
	m.chats = make(map[string]bool)
	m.mu.Unlock()

	if fsw == nil {
		return
	}
	_ = fsw.Close()
	<-done
}

// WatchProject watches a project directory for its chats child and, when the
// chats directory already exists, watches that too.
func (m *Manager) WatchProject(dir string) {
	dir = filepath.Clean(dir)
	m.mu.Lock()
	fsw := m.fsw
	watched := m.projects[dir]
	m.mu.Unlock()
	if fsw == nil || watched {
		return
	}

	if m.add(fsw, dir) {
		m.mu.Lock()
		if m.fsw == fsw {
			m.projects[dir] = true
		}
		m.mu.Unlock()
	}

	// Checked after the project watch exists so a chats directory created in
	// between is seen by one path or the other.
	chats := session.ChatsDir(dir)
	if info, err := os.Stat(chats); err == nil && info.IsDir() {
		m.WatchChats(chats)
	}
}

// WatchChats watches a chats directory. It reports whether the directory is
// watched when it returns.
func (m *Manager) WatchChats(dir string) bool {
	dir = filepath.Clean(dir)
	m.mu.Lock()
	fsw := m.fsw
	watched := m.chats[dir]
	m.mu.Unlock()
	if fsw == nil {
		return false
	}
	if watched {
		return true
	}

	if !m.add(fsw, dir) {
		return false
	}

	m.mu.Lock()
	first := m.fsw == fsw && !m.chats[dir]
	if first {
		m.chats[dir] = true
	}
	m.mu.Unlock()

	if first && m.handlers.OnChatsDir != nil {
		m.handlers.OnChatsDir(dir)
	}
	return true
}

func (m *Manager) IsWatchingChats(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chats[filepath.Clean(dir)]
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Started:        m.started,
		WaitingForRoot: m.rootWait != nil,
		RootWatched:    m.rootWatched,
		Projects:       len(m.projects),
		ChatsDirs:      len(m.chats),
		AttachFailures: m.attachFailures.Load(),
	}
}

// add attaches one fsnotify watch. A path that does not exist is a normal
// miss; anything else counts as an attach failure.
func (m *Manager) add(fsw *fsnotify.Watcher, path string) bool {
	err := fsw.Add(path)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fsnotify.ErrClosed) {
		return false
	}
	m.attachFailures.Add(1)
	m.debugf("attach_failed", "path=%s error=%v", path, err)
	return false
}

func (m *Manager) run(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			m.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			// Usually a kernel queue overflow: events were dropped.
			m.debugf("watch_error", "error=%v", err)
		}
	}
}

func (m *Manager) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	name := filepath.Clean(ev.Name)
	parent := filepath.Dir(name)
	base := filepath.Base(name)
	gone := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)

	m.mu.Lock()
	if gone {
		m.forgetLocked(name)
	}
	inProject := m.projects[parent]
	inChats := m.chats[parent]
	m.mu.Unlock()

	switch {
	case parent == m.root:
		if gone || !session.IsProjectDirName(base) {
			return
		}
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			m.WatchProject(name)
		}
	case inProject:
		if base != session.ChatsDirName || gone {
			return
		}
		m.WatchChats(name)
	case inChats:
		if !session.IsSessionFileName(base) {
			return
		}
		if m.handlers.OnFile != nil {
			m.handlers.OnFile(name)
		}
	}
}

// forgetLocked drops bookkeeping for a removed directory so that a later
// re-creation attaches a fresh watch.
func (m *Manager) forgetLocked(path string) {
	if m.projects[path] {
		delete(m.projects, path)
		delete(m.chats, session.ChatsDir(path))
	}
	delete(m.chats, path)
}

func (m *Manager) debugf(event, format string, args ...any) {
	log.Printf("[watch:%s] level=debug event=%s "+format, append([]any{m.name, event}, args...)...)
}
