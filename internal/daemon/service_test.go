package daemon

import (
	"strings"
	"testing"
)

func TestIsTransientExecutablePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{
			name: "empty path",
			path: "",
			want: true,
		},
		{
			name: "go run temp path",
			path: "/var/folders/ab/cd/T/go-build123456789/b001/exe/geminiusage",
			want: true,
		},
		{
			name: "stable binary path",
			path: "/usr/local/bin/geminiusage",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isTransientExecutablePath(tt.path)
			if got != tt.want {
				t.Fatalf("isTransientExecutablePath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestInstallRejectsTransientExecutablePath(t *testing.T) {
	manager := newServiceManager("linux", "/home/u", "/tmp/go-build123456789/b001/exe/geminiusage", ServiceOptions{SocketPath: "/tmp/gu.sock"})
	err := manager.Install()
	if err == nil {
		t.Fatal("Install() error = nil, want transient executable rejection")
	}
	if !strings.Contains(err.Error(), "transient executable") {
		t.Fatalf("Install() error = %q, want transient executable hint", err)
	}
}

func TestNewServiceManager_UnitPaths(t *testing.T) {
	tests := []struct {
		goos      string
		wantPath  string
		supported bool
	}{
		{goos: "linux", wantPath: "/home/u/.config/systemd/user/" + SystemdDaemonUnit, supported: true},
		{goos: "darwin", wantPath: "/home/u/Library/LaunchAgents/" + LaunchdDaemonLabel + ".plist", supported: true},
		{goos: "windows", wantPath: "", supported: false},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			m := newServiceManager(tt.goos, "/home/u", "/usr/local/bin/geminiusage", ServiceOptions{SocketPath: "/run/gu/daemon.sock"})
			if m.UnitPath() != tt.wantPath || m.IsSupported() != tt.supported {
				t.Errorf("UnitPath() = %q supported = %v, want %q %v", m.UnitPath(), m.IsSupported(), tt.wantPath, tt.supported)
			}
		})
	}

	m := newServiceManager("windows", "/home/u", "/usr/local/bin/geminiusage", ServiceOptions{})
	if _, err := m.Unit(); err == nil {
		t.Error("Unit() on an unsupported platform error = nil")
	}
}

func TestSystemdUnit_RunsDaemonWithSessionsDir(t *testing.T) {
	m := newServiceManager("linux", "/home/u", "/usr/local/bin/geminiusage", ServiceOptions{
		SocketPath:  "/run/user/1/gu.sock",
		SessionsDir: "/data/gemini tmp",
	})
	unit, err := m.Unit()
	if err != nil {
		t.Fatal(err)
	}
	want := `ExecStart=/usr/local/bin/geminiusage daemon --socket-path /run/user/1/gu.sock --sessions-dir "/data/gemini tmp"`
	if !strings.Contains(unit, want) {
		t.Errorf("systemd unit missing %q:\n%s", want, unit)
	}
	if !strings.Contains(unit, "StandardError=append:/run/user/1/daemon.stderr.log") {
		t.Errorf("systemd unit does not log stderr next to the socket:\n%s", unit)
	}
}

func TestLaunchdPlist_EscapesArguments(t *testing.T) {
	m := newServiceManager("darwin", "/Users/u", "/Apps/a&b/geminiusage", ServiceOptions{SocketPath: "/tmp/gu.sock"})
	plist, err := m.Unit()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"<string>/Apps/a&amp;b/geminiusage</string>",
		"<string>daemon</string>",
		"<string>--socket-path</string>",
		"<string>" + LaunchdDaemonLabel + "</string>",
		"<string>/tmp/daemon.stderr.log</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q:\n%s", want, plist)
		}
	}
	if strings.Contains(plist, "--sessions-dir") {
		t.Error("plist pins a sessions dir that was not configured")
	}
}

func TestSystemdQuote(t *testing.T) {
	tests := map[string]string{
		"/usr/bin/x": "/usr/bin/x",
		"has space":  `"has space"`,
		`say "hi"`:   `"say \"hi\""`,
		"":           `""`,
	}
	for in, want := range tests {
		if got := systemdQuote(in); got != want {
			t.Errorf("systemdQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
