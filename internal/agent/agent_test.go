package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/tracker"
)

const sessionJSON = `{
  "sessionId": "s1",
  "projectHash": "abc",
  "messages": [
    {"type": "user", "id": "u1", "content": "hello"},
    {"type": "gemini", "id": "m1", "model": "gemini-2.5-pro", "timestamp": "2026-02-01T10:00:00Z",
     "tokens": {"input": 120, "output": 40, "cached": 8, "thoughts": 3, "tool": 0, "total": 171}}
  ]
}`

func writeSession(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, "hash1", "chats", "session-2026-02-01.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(sessionJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIsInstalled(t *testing.T) {
	root := t.TempDir()
	if !New(Options{SessionsDir: root}).IsInstalled() {
		t.Error("IsInstalled() = false for existing dir")
	}
	if New(Options{SessionsDir: filepath.Join(root, "missing")}).IsInstalled() {
		t.Error("IsInstalled() = true for missing dir")
	}
}

func TestParseSessions(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root)

	a := New(Options{SessionsDir: root})
	defer a.StopActivityWatch()

	rows, err := a.ParseSessions(context.Background(), tracker.Query{})
	if err != nil {
		t.Fatalf("ParseSessions() error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.SessionID != "s1" || r.ModelID != "gemini-2.5-pro" || r.Tokens.Input != 120 || r.Tokens.Output != 40 || r.Tokens.CacheRead != 8 {
		t.Errorf("row = %+v", r)
	}
	if want := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC); !r.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
	}
}

func TestParseSessions_CanceledContext(t *testing.T) {
	a := New(Options{SessionsDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.ParseSessions(ctx, tracker.Query{}); err == nil {
		t.Error("ParseSessions() with canceled context: want error")
	}
}

func TestActivityWatchLifecycle(t *testing.T) {
	root := t.TempDir()
	path := writeSession(t, root)

	a := New(Options{SessionsDir: root})
	if _, err := a.ParseSessions(context.Background(), tracker.Query{}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []activity.Delta
	a.StartActivityWatch(func(d activity.Delta) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})

	stats := a.Stats()
	if !stats.Activity.Watch.Started || !stats.Tracker.Watch.Started {
		t.Fatalf("both watch subsystems should run: %+v", stats)
	}

	updated := `{"sessionId":"s1","messages":[
	  {"type":"gemini","id":"m1","model":"gemini-2.5-pro","tokens":{"input":120,"output":40,"cached":8}},
	  {"type":"gemini","id":"m2","model":"gemini-2.5-flash","tokens":{"input":7,"output":9}}]}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no delta delivered")
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	if got[0].MessageID != "m2" || got[0].ModelID != "gemini-2.5-flash" {
		t.Errorf("delta = %+v, want m2", got[0])
	}
	mu.Unlock()

	a.StopActivityWatch()
	stats = a.Stats()
	if stats.Activity.Watch.Started || stats.Tracker.Watch.Started {
		t.Errorf("watches still running after stop: %+v", stats)
	}
	if stats.Tracker.MetadataSize != 1 {
		t.Errorf("MetadataSize = %d, caches should survive stop", stats.Tracker.MetadataSize)
	}
}
