package daemon

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

const (
	LaunchdDaemonLabel = "com.geminiusage.daemon"
	SystemdDaemonUnit  = "geminiusage.service"
)

// ServiceOptions is what the installed daemon is started with.
type ServiceOptions struct {
	SocketPath  string
	SessionsDir string
}

// ServiceManager installs the usage daemon as a per-user launchd agent or
// systemd user unit.
type ServiceManager struct {
	Kind     string
	exePath  string
	opts     ServiceOptions
	stateDir string
	unitPath string
}

func NewServiceManager(opts ServiceOptions) (ServiceManager, error) {
	exePath, err := os.Executable()
	if err != nil {
		return ServiceManager{}, fmt.Errorf("resolve executable path: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ServiceManager{}, fmt.Errorf("resolve home dir: %w", err)
	}
	return newServiceManager(runtime.GOOS, home, exePath, opts), nil
}

func newServiceManager(goos, home, exePath string, opts ServiceOptions) ServiceManager {
	opts.SocketPath = strings.TrimSpace(opts.SocketPath)
	opts.SessionsDir = strings.TrimSpace(opts.SessionsDir)
	m := ServiceManager{
		Kind:     goos,
		exePath:  exePath,
		opts:     opts,
		stateDir: filepath.Dir(opts.SocketPath),
	}
	switch goos {
	case "darwin":
		m.unitPath = filepath.Join(home, "Library", "LaunchAgents", LaunchdDaemonLabel+".plist")
	case "linux":
		m.unitPath = filepath.Join(home, ".config", "systemd", "user", SystemdDaemonUnit)
	default:
		m.Kind = "unsupported"
	}
	return m
}

func (m ServiceManager) IsSupported() bool {
	return m.Kind == "darwin" || m.Kind == "linux"
}

func (m ServiceManager) IsInstalled() bool {
	if m.unitPath == "" {
		return false
	}
	_, err := os.Stat(m.unitPath)
	return err == nil
}

func (m ServiceManager) UnitPath() string { return m.unitPath }

func (m ServiceManager) stdoutLogPath() string {
	return filepath.Join(m.stateDir, "daemon.stdout.log")
}

func (m ServiceManager) stderrLogPath() string {
	return filepath.Join(m.stateDir, "daemon.stderr.log")
}

// daemonArgs is the command line the unit runs. The sessions directory is
// pinned so the service reads the same tree as the installing shell.
func (m ServiceManager) daemonArgs() []string {
	args := []string{m.exePath, "daemon", "--socket-path", m.opts.SocketPath}
	if m.opts.SessionsDir != "" {
		args = append(args, "--sessions-dir", m.opts.SessionsDir)
	}
	return args
}

// Unit renders the launchd plist or systemd unit for this manager.
func (m ServiceManager) Unit() (string, error) {
	data := unitData{
		Label:      LaunchdDaemonLabel,
		Args:       m.daemonArgs(),
		StdoutPath: m.stdoutLogPath(),
		StderrPath: m.stderrLogPath(),
	}
	var tmpl *template.Template
	switch m.Kind {
	case "darwin":
		tmpl = launchdTemplate
	case "linux":
		tmpl = systemdTemplate
	default:
		return "", fmt.Errorf("daemon service is unsupported on %s", m.Kind)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s service unit: %w", m.Kind, err)
	}
	return b.String(), nil
}

func (m ServiceManager) Install() error {
	if isTransientExecutablePath(m.exePath) {
		return fmt.Errorf(
			"refusing to install daemon service from transient executable %q; build a stable binary first",
			m.exePath,
		)
	}
	if m.opts.SocketPath == "" {
		return fmt.Errorf("daemon service needs a socket path")
	}
	unit, err := m.Unit()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.unitPath), 0o755); err != nil {
		return fmt.Errorf("create service dir: %w", err)
	}
	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("create daemon state dir: %w", err)
	}
	if err := os.WriteFile(m.unitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}

	if m.Kind == "darwin" {
		domain := fmt.Sprintf("gui/%d", os.Getuid())
		_, _ = runCommand("launchctl", "bootout", domain+"/"+LaunchdDaemonLabel)
		_, err := runCommand("launchctl", "bootstrap", domain, m.unitPath)
		return err
	}
	if _, err := runCommand("systemctl", "--user", "daemon-reload"); err != nil {
		return err
	}
	_, err = runCommand("systemctl", "--user", "enable", "--now", SystemdDaemonUnit)
	return err
}

func (m ServiceManager) Uninstall() error {
	switch m.Kind {
	case "darwin":
		_, _ = runCommand("launchctl", "bootout", fmt.Sprintf("gui/%d/%s", os.Getuid(), LaunchdDaemonLabel))
	case "linux":
		_, _ = runCommand("systemctl", "--user", "disable", "--now", SystemdDaemonUnit)
	default:
		return fmt.Errorf("daemon service is unsupported on %s", m.Kind)
	}
	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove service unit: %w", err)
	}
	if m.Kind == "linux" {
		_, _ = runCommand("systemctl", "--user", "daemon-reload")
	}
	return nil
}

// Diagnostics describes where to look when the service does not come up.
func (m ServiceManager) Diagnostics() string {
	lines := []string{
		"unit=" + m.unitPath,
		"socket_path=" + m.opts.SocketPath,
	}
	if m.opts.SessionsDir != "" {
		lines = append(lines, "sessions_dir="+m.opts.SessionsDir)
	}
	switch m.Kind {
	case "darwin":
		lines = append(lines, "status_cmd=launchctl print gui/$(id -u)/"+LaunchdDaemonLabel)
	case "linux":
		lines = append(lines, "status_cmd=systemctl --user status "+SystemdDaemonUnit)
	}
	lines = append(lines, "stderr_log="+m.stderrLogPath())
	if tail := TailFile(m.stderrLogPath(), 20); tail != "" {
		lines = append(lines, "stderr_tail:\n"+tail)
	}
	return strings.Join(lines, "\n")
}

func runCommand(name string, args ...string) (string, error) {
	output, err := exec.Command(name, args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(output))
	if err == nil {
		return trimmed, nil
	}
	cmdline := name + " " + strings.Join(args, " ")
	if trimmed != "" {
		return trimmed, fmt.Errorf("%s failed: %w (%s)", cmdline, err, trimmed)
	}
	return trimmed, fmt.Errorf("%s failed: %w", cmdline, err)
}

type unitData struct {
	Label      string
	Args       []string
	StdoutPath string
	StderrPath string
}

var unitFuncs = template.FuncMap{
	"xml":     xmlEscape,
	"execArg": systemdQuote,
}

var launchdTemplate = template.Must(template.New("launchd").Funcs(unitFuncs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{xml .Label}}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Args}}
		<string>{{xml .}}</string>
{{- end}}
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{xml .StdoutPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{xml .StderrPath}}</string>
</dict>
</plist>
`))

var systemdTemplate = template.Must(template.New("systemd").Funcs(unitFuncs).Parse(`[Unit]
Description=Gemini CLI usage daemon
After=default.target

[Service]
Type=simple
ExecStart={{range $i, $a := .Args}}{{if $i}} {{end}}{{execArg $a}}{{end}}
StandardOutput=append:{{.StdoutPath}}
StandardError=append:{{.StderrPath}}
Restart=on-failure
RestartSec=2

[Install]
WantedBy=default.target
`))

func xmlEscape(in string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(in)); err != nil {
		return in
	}
	return b.String()
}

// systemdQuote double-quotes an ExecStart argument when it has whitespace or
// quotes in it.
func systemdQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'\\") {
		return arg
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(arg) + `"`
}

func isTransientExecutablePath(path string) bool {
	p := strings.TrimSpace(path)
	if p == "" {
		return true
	}
	normalized := filepath.ToSlash(strings.ToLower(filepath.Clean(p)))
	if strings.Contains(normalized, "/go-build") && strings.Contains(normalized, "/exe/") {
		return true
	}
	tmpRoot := filepath.ToSlash(strings.ToLower(filepath.Clean(os.TempDir())))
	if tmpRoot == "" || tmpRoot == "." {
		return false
	}
	return strings.HasPrefix(normalized, tmpRoot+"/go-build")
}
