package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/session"
)

type Client struct {
	SocketPath string
	http       *http.Client
	ws         *websocket.Dialer
}

func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	dialUnix := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", socketPath)
	}
	transport := &http.Transport{
		DialContext:        dialUnix,
		DisableCompression: true,
		DisableKeepAlives:  true,
	}
	return &Client{
		SocketPath: socketPath,
		http: &http.Client{
			Transport: transport,
			Timeout:   12 * time.Second,
		},
		ws: &websocket.Dialer{
			NetDialContext:   dialUnix,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

func (c *Client) configured() error {
	if c == nil || strings.TrimSpace(c.SocketPath) == "" {
		return fmt.Errorf("daemon client is not configured")
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	if err := c.configured(); err != nil {
		return HealthResponse{}, err
	}
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return HealthResponse{}, err
	}
	if strings.TrimSpace(out.Status) == "" {
		out.Status = "ok"
	}
	return out, nil
}

func (c *Client) Usage(ctx context.Context, request UsageRequest) ([]session.UsageRow, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal daemon usage request: %w", err)
	}
	var out UsageResponse
	if err := c.do(ctx, http.MethodPost, "/v1/usage", payload, &out); err != nil {
		return nil, err
	}
	if out.Rows == nil {
		out.Rows = []session.UsageRow{}
	}
	return out.Rows, nil
}

func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	if err := c.configured(); err != nil {
		return StatsResponse{}, err
	}
	var out StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out); err != nil {
		return StatsResponse{}, err
	}
	return out, nil
}

// StreamActivity calls fn for each delta the daemon pushes until ctx is done
// or the connection drops. It returns nil when ctx ended the stream.
func (c *Client) StreamActivity(ctx context.Context, fn activity.Callback) error {
	if err := c.configured(); err != nil {
		return err
	}
	conn, _, err := c.ws.DialContext(ctx, "ws://unix/v1/activity", nil)
	if err != nil {
		return fmt.Errorf("dial daemon activity stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read daemon activity stream: %w", err)
		}
		var d activity.Delta
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		fn(d)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon %s %s failed: %s", method, path, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode daemon %s response: %w", path, err)
	}
	return nil
}
