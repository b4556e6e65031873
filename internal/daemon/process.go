package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/version"
)

// ClassifyHealth turns a health probe result into a daemon state.
func ClassifyHealth(health HealthResponse, err error) DaemonState {
	if err == nil {
		if !HealthCurrent(health) {
			return DaemonState{
				Status: DaemonStatusOutdated,
				Message: fmt.Sprintf(
					"daemon is out of date (running=%s expected=%s)",
					HealthVersion(health), strings.TrimSpace(version.Version),
				),
				InstallHint: "geminiusage daemon install",
			}
		}
		return DaemonState{Status: DaemonStatusRunning}
	}
	if isNotListening(err) {
		return DaemonState{
			Status:      DaemonStatusStopped,
			Message:     "No daemon is listening on the socket.",
			InstallHint: "geminiusage daemon install",
		}
	}
	return DaemonState{Status: DaemonStatusError, Message: err.Error()}
}

func isNotListening(err error) bool {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func HealthVersion(health HealthResponse) string {
	if v := strings.TrimSpace(health.DaemonVersion); v != "" {
		return v
	}
	return "unknown"
}

// HealthCurrent reports whether a running daemon matches this binary. Dev
// builds only require the API version to match.
func HealthCurrent(health HealthResponse) bool {
	expected := strings.TrimSpace(version.Version)
	if expected == "" || strings.EqualFold(expected, "dev") || !version.IsReleaseSemver(expected) {
		return HealthAPICompatible(health)
	}
	return version.SameRelease(health.DaemonVersion, expected) && HealthAPICompatible(health)
}

func HealthAPICompatible(health HealthResponse) bool {
	apiVersion := strings.TrimSpace(health.APIVersion)
	return apiVersion == "" || apiVersion == APIVersion
}

func WaitForHealth(ctx context.Context, client *Client, timeout time.Duration) error {
	_, err := WaitForHealthInfo(ctx, client, timeout)
	return err
}

func WaitForHealthInfo(
	ctx context.Context,
	client *Client,
	timeout time.Duration,
) (HealthResponse, error) {
	if client == nil {
		return HealthResponse{}, errDaemonUnavailable
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if pingCtx.Err() != nil {
			break
		}
		hc, hcCancel := context.WithTimeout(pingCtx, 700*time.Millisecond)
		health, err := client.Health(hc)
		hcCancel()
		if err == nil {
			return health, nil
		}
		lastErr = err
		time.Sleep(220 * time.Millisecond)
	}
	if pingCtx.Err() != nil && pingCtx.Err() != context.Canceled && lastErr == nil {
		return HealthResponse{}, pingCtx.Err()
	}
	if lastErr != nil {
		return HealthResponse{}, fmt.Errorf("usage daemon did not become ready at %s: %w", client.SocketPath, lastErr)
	}
	return HealthResponse{}, fmt.Errorf("usage daemon did not become ready at %s", client.SocketPath)
}

func TailFile(path string, maxLines int) string {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return ""
	}
	return TailTextLines(string(raw), maxLines)
}

func TailTextLines(text string, maxLines int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return ""
	}
	if maxLines <= 0 {
		maxLines = 20
	}
	parts := strings.Split(text, "\n")
	if len(parts) <= maxLines {
		return strings.Join(parts, "\n")
	}
	return strings.Join(parts[len(parts)-maxLines:], "\n")
}
