package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/agent"
	"github.com/janekbaraniewski/geminiusage/internal/config"
	"github.com/janekbaraniewski/geminiusage/internal/tracker"
	"github.com/janekbaraniewski/geminiusage/internal/version"
)

type Service struct {
	cfg     Config
	agent   *agent.Agent
	hub     *hub
	started time.Time

	logMu     sync.Mutex
	lastLogAt map[string]time.Time
}

func RunServer(cfg Config) error {
	if cfg.Verbose {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := NewService(cfg)
	err := svc.Run(ctx)
	svc.infof("daemon_stop", "reason=signal")
	return err
}

func NewService(cfg Config) *Service {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		cfg.SocketPath = config.DefaultSocketPath()
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Minute
	}
	return &Service{
		cfg:       cfg,
		agent:     agent.New(agent.Options{SessionsDir: cfg.SessionsDir}),
		hub:       newHub(),
		started:   time.Now(),
		lastLogAt: map[string]time.Time{},
	}
}

// Run serves the socket until ctx is done. The activity watch runs for the
// life of the service and feeds every websocket subscriber.
func (s *Service) Run(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}

	s.infof(
		"daemon_start",
		"socket=%s sessions_dir=%s installed=%t stats_interval=%s",
		s.cfg.SocketPath, s.agent.SessionsDir(), s.agent.IsInstalled(), s.cfg.StatsInterval,
	)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve daemon socket: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.infof("socket_shutdown", "reason=context_done")
		s.hub.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
		return nil
	})
	g.Go(func() error {
		s.agent.StartActivityWatch(s.Publish)
		<-gctx.Done()
		s.agent.StopActivityWatch()
		return nil
	})
	g.Go(func() error {
		s.runStatsLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/activity", s.handleActivity)
	return mux
}

// --- Logging ---

func (s *Service) infof(event, format string, args ...any) {
	if s == nil || !s.cfg.Verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=info event=%s", event)
		return
	}
	log.Printf("daemon level=info event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) warnf(event, format string, args ...any) {
	if s == nil || !s.cfg.Verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=warn event=%s", event)
		return
	}
	log.Printf("daemon level=warn event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) shouldLog(key string, interval time.Duration) bool {
	if s == nil {
		return false
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	now := time.Now()
	if interval > 0 {
		if last, ok := s.lastLogAt[key]; ok && now.Sub(last) < interval {
			return false
		}
	}
	s.lastLogAt[key] = now
	return true
}

// --- Loops ---

// runStatsLoop warms the caches once and then logs engine counters.
func (s *Service) runStatsLoop(ctx context.Context) {
	if _, err := s.agent.ParseSessions(ctx, tracker.Query{}); err != nil {
		s.warnf("warmup_failed", "error=%v", err)
	}

	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.stats()
			last := st.Agent.Tracker.LastPass
			s.infof(
				"engine_stats",
				"passes=%d result_cache_hits=%d stat_checks=%d stat_skips=%d metadata_index_size=%d aggregate_cache_size=%d last_pass_ms=%d attach_failures=%d subscribers=%d dropped=%d",
				st.Agent.Tracker.Passes,
				st.Agent.Tracker.ResultCacheHits,
				st.Agent.Tracker.StatChecks,
				st.Agent.Tracker.StatSkips,
				st.Agent.Tracker.MetadataSize,
				st.Agent.Tracker.AggregateSize,
				last.Duration.Milliseconds(),
				st.Agent.Tracker.Watch.AttachFailures+st.Agent.Activity.Watch.AttachFailures,
				st.Subscribers,
				st.Dropped,
			)
		}
	}
}

func (s *Service) stats() StatsResponse {
	return StatsResponse{
		Agent:       s.agent.Stats(),
		Subscribers: s.hub.len(),
		Published:   s.hub.published.Load(),
		Dropped:     s.hub.dropped.Load(),
		UptimeSec:   int64(time.Since(s.started).Seconds()),
	}
}

// --- HTTP server ---

func (s *Service) listen() (net.Listener, error) {
	if strings.TrimSpace(s.cfg.SocketPath) == "" {
		return nil, fmt.Errorf("usage daemon socket path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create usage daemon socket dir: %w", err)
	}
	if err := EnsureSocketPathAvailable(s.cfg.SocketPath); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen usage daemon socket: %w", err)
	}
	_ = os.Chmod(s.cfg.SocketPath, 0o660)
	s.infof("socket_listening", "path=%s", s.cfg.SocketPath)
	return listener, nil
}

func EnsureSocketPathAvailable(socketPath string) error {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return fmt.Errorf("socket path is empty")
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket path %s: %w", socketPath, err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path %s already exists and is not a socket", socketPath)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()
	dialer := net.Dialer{Timeout: 450 * time.Millisecond}
	conn, dialErr := dialer.DialContext(dialCtx, "unix", socketPath)
	if dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("usage daemon already running on socket %s", socketPath)
	}

	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("remove stale daemon socket %s: %w", socketPath, err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		DaemonVersion: strings.TrimSpace(version.Version),
		APIVersion:    APIVersion,
		SessionsDir:   s.agent.SessionsDir(),
		Installed:     s.agent.IsInstalled(),
	})
}

func (s *Service) handleUsage(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req UsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode usage request: %v", err))
		return
	}
	if req.Limit < 0 {
		writeJSONError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	rows, err := s.agent.ParseSessions(r.Context(), tracker.Query{
		SessionID: req.SessionID,
		Limit:     req.Limit,
		Since:     req.Since,
	})
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("query usage: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{Rows: rows})

	durationMs := time.Since(started).Milliseconds()
	if durationMs >= 500 && s.shouldLog("usage_slow", 30*time.Second) {
		s.infof("usage_slow", "duration_ms=%d rows=%d session_id=%q", durationMs, len(rows), req.SessionID)
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.stats())
}

// Only local clients reach the socket, so any origin is accepted.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Service) handleActivity(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.shouldLog("activity_upgrade_failed", 10*time.Second) {
			s.warnf("activity_upgrade_failed", "error=%v", err)
		}
		return
	}

	sub, ok := s.hub.add(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	s.infof("subscriber_added", "id=%s subscribers=%d", sub.id, s.hub.len())

	// The read loop only services pongs and notices the peer going away.
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.remove(sub.id)
	s.infof("subscriber_removed", "id=%s", sub.id)
}

// Publish forwards one delta to every subscriber. Run registers it as the
// activity watch callback.
func (s *Service) Publish(d activity.Delta) {
	s.hub.publish(d)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
