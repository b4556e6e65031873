package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/session"
)

// FetchFunc loads the current usage rows.
type FetchFunc func(context.Context) ([]session.UsageRow, error)

type Options struct {
	Fetch           FetchFunc
	RefreshInterval time.Duration
	RecentDeltas    int
	SessionsDir     string
	Installed       bool
}

// RowsMsg carries the result of one fetch.
type RowsMsg struct {
	Rows []session.UsageRow
	Err  error
	At   time.Time
}

// DeltaMsg delivers one live activity delta; send it with Program.Send.
type DeltaMsg activity.Delta

type tickMsg time.Time

const (
	defaultRefreshInterval = time.Second
	defaultRecentDeltas    = 50
	fetchTimeout           = 5 * time.Second
)

type Model struct {
	fetch           FetchFunc
	refreshInterval time.Duration
	maxDeltas       int
	sessionsDir     string
	installed       bool

	rows        []session.UsageRow
	models      []modelTotal
	sessions    []sessionTotal
	deltas      []activity.Delta
	lastRefresh time.Time
	lastErr     error
	hasData     bool
	fetching    bool

	sessionOffset int
	showChart     bool
	showHelp      bool
	width         int
	height        int
}

func NewModel(opts Options) Model {
	m := Model{
		fetch:           opts.Fetch,
		refreshInterval: opts.RefreshInterval,
		maxDeltas:       opts.RecentDeltas,
		sessionsDir:     opts.SessionsDir,
		installed:       opts.Installed,
		showChart:       true,
		width:           100,
		height:          40,
	}
	if m.refreshInterval <= 0 {
		m.refreshInterval = defaultRefreshInterval
	}
	if m.maxDeltas <= 0 {
		m.maxDeltas = defaultRecentDeltas
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	fetch := m.fetch
	if fetch == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		rows, err := fetch(ctx)
		return RowsMsg{Rows: rows, Err: err, At: time.Now()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessionOffset = clampInt(m.sessionOffset, 0, m.maxSessionOffset())
		return m, nil

	case tickMsg:
		if m.fetching {
			return m, m.tickCmd()
		}
		m.fetching = true
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case RowsMsg:
		m.fetching = false
		m.lastRefresh = msg.At
		m.lastErr = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		m.hasData = true
		m.rows = msg.Rows
		m.models = totalsByModel(msg.Rows)
		m.sessions = totalsBySession(msg.Rows)
		m.sessionOffset = clampInt(m.sessionOffset, 0, m.maxSessionOffset())
		return m, nil

	case DeltaMsg:
		m.deltas = append([]activity.Delta{activity.Delta(msg)}, m.deltas...)
		if len(m.deltas) > m.maxDeltas {
			m.deltas = m.deltas[:m.maxDeltas]
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if m.showHelp && msg.String() == "esc" {
			m.showHelp = false
			return m, nil
		}
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "c":
		m.showChart = !m.showChart
	case "r":
		if !m.fetching {
			m.fetching = true
			return m, m.fetchCmd()
		}
	case "j", "down":
		m.sessionOffset = clampInt(m.sessionOffset+1, 0, m.maxSessionOffset())
	case "k", "up":
		m.sessionOffset = clampInt(m.sessionOffset-1, 0, m.maxSessionOffset())
	case "g", "home":
		m.sessionOffset = 0
	case "G", "end":
		m.sessionOffset = m.maxSessionOffset()
	}
	return m, nil
}

func (m Model) maxSessionOffset() int {
	return max(len(m.sessions)-m.sessionRows(), 0)
}
