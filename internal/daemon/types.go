package daemon

import (
	"errors"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/agent"
	"github.com/janekbaraniewski/geminiusage/internal/session"
)

const APIVersion = "v1"

var errDaemonUnavailable = errors.New("usage daemon unavailable")

type Config struct {
	SocketPath  string
	SessionsDir string
	// StatsInterval is how often engine counters are logged.
	StatsInterval time.Duration
	Verbose       bool
}

type HealthResponse struct {
	Status        string `json:"status"`
	DaemonVersion string `json:"daemon_version,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	SessionsDir   string `json:"sessions_dir,omitempty"`
	Installed     bool   `json:"installed"`
}

type UsageRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Since     time.Time `json:"since,omitzero"`
}

type UsageResponse struct {
	Rows []session.UsageRow `json:"rows"`
}

type StatsResponse struct {
	Agent       agent.Stats `json:"agent"`
	Subscribers int         `json:"subscribers"`
	Published   int64       `json:"published"`
	Dropped     int64       `json:"dropped"`
	UptimeSec   int64       `json:"uptime_sec"`
}

type DaemonStatus int

const (
	DaemonStatusUnknown  DaemonStatus = iota
	DaemonStatusStopped               // nothing listening on the socket
	DaemonStatusRunning               // healthy and current
	DaemonStatusOutdated              // healthy but wrong version
	DaemonStatusError                 // unreachable for another reason
)

func (s DaemonStatus) String() string {
	switch s {
	case DaemonStatusStopped:
		return "stopped"
	case DaemonStatusRunning:
		return "running"
	case DaemonStatusOutdated:
		return "outdated"
	case DaemonStatusError:
		return "error"
	default:
		return "unknown"
	}
}

type DaemonState struct {
	Status      DaemonStatus
	Message     string
	InstallHint string
}
