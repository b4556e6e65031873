// Package agent exposes the Gemini CLI usage source as one object: installed
// check, usage queries and the live activity stream.
package agent

import (
	"context"
	"os"
	"strings"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/session"
	"github.com/janekbaraniewski/geminiusage/internal/tracker"
)

const (
	ID   = "gemini-cli"
	Name = "Gemini CLI"
)

type Options struct {
	SessionsDir string
	Tracker     tracker.Options
}

type Stats struct {
	Installed   bool           `json:"installed"`
	SessionsDir string         `json:"sessions_dir"`
	Tracker     tracker.Stats  `json:"tracker"`
	Activity    activity.Stats `json:"activity"`
}

type Agent struct {
	root     string
	engine   *tracker.Engine
	activity *activity.Watcher
}

func New(opts Options) *Agent {
	root := strings.TrimSpace(opts.SessionsDir)
	if root == "" {
		root = strings.TrimSpace(opts.Tracker.SessionsDir)
	}
	if root == "" {
		root = session.DefaultSessionsDir()
	}
	topts := opts.Tracker
	topts.SessionsDir = root

	return &Agent{
		root:     root,
		engine:   tracker.New(topts),
		activity: activity.New(root),
	}
}

func (a *Agent) SessionsDir() string { return a.root }

// IsInstalled reports whether the sessions directory exists.
func (a *Agent) IsInstalled() bool {
	if a.root == "" {
		return false
	}
	info, err := os.Stat(a.root)
	return err == nil && info.IsDir()
}

// ParseSessions returns usage rows, newest session first.
func (a *Agent) ParseSessions(ctx context.Context, q tracker.Query) ([]session.UsageRow, error) {
	return a.engine.Query(ctx, q)
}

// StartActivityWatch delivers a Delta to cb for each new model response.
// It also keeps the query caches fresh through their own watches.
func (a *Agent) StartActivityWatch(cb activity.Callback) {
	a.activity.Start(cb)
	if a.IsInstalled() {
		a.engine.Start()
	}
}

// StopActivityWatch tears down both watch subsystems and the reconciliation
// timer. Query caches are kept.
func (a *Agent) StopActivityWatch() {
	a.activity.Stop()
	a.engine.Stop()
}

// ForceFullReconciliation makes the next query re-stat every session file.
func (a *Agent) ForceFullReconciliation() {
	a.engine.ForceFullReconciliation()
}

func (a *Agent) Stats() Stats {
	return Stats{
		Installed:   a.IsInstalled(),
		SessionsDir: a.root,
		Tracker:     a.engine.Stats(),
		Activity:    a.activity.Stats(),
	}
}
