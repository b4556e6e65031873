package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/geminiusage/internal/agent"
	"github.com/janekbaraniewski/geminiusage/internal/config"
)

// app carries the loaded config and the global flag overrides.
type app struct {
	cfg         config.Config
	configPath  string
	sessionsDir string
	socketPath  string
}

func (a *app) resolvedSessionsDir() string {
	if dir := strings.TrimSpace(a.sessionsDir); dir != "" {
		return dir
	}
	return a.cfg.SessionsDir
}

func (a *app) resolvedSocketPath() string {
	if path := strings.TrimSpace(a.socketPath); path != "" {
		return path
	}
	return a.cfg.Daemon.SocketPath
}

func (a *app) newAgent() *agent.Agent {
	return agent.New(agent.Options{SessionsDir: a.resolvedSessionsDir()})
}

func debugEnabled(cfg config.Config) bool {
	return os.Getenv("GEMINIUSAGE_DEBUG") != "" || cfg.Debug
}

func main() {
	log.SetOutput(io.Discard)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "geminiusage",
		Short:        "Track Gemini CLI token usage from its local session files.",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var (
				cfg config.Config
				err error
			)
			if a.configPath == "" {
				cfg, err = config.Load()
			} else {
				cfg, err = config.LoadFrom(a.configPath)
			}
			if err != nil {
				return err
			}
			a.cfg = cfg
			if debugEnabled(cfg) {
				log.SetOutput(os.Stderr)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTop(cmd.Context(), a)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "settings file (default "+config.ConfigPath()+")")
	root.PersistentFlags().StringVar(&a.sessionsDir, "sessions-dir", "", "Gemini CLI sessions directory (default ~/.gemini/tmp)")
	root.PersistentFlags().StringVar(&a.socketPath, "socket-path", "", "usage daemon unix socket")

	root.AddCommand(newUsageCommand(a))
	root.AddCommand(newWatchCommand(a))
	root.AddCommand(newTopCommand(a))
	root.AddCommand(newDaemonCommand(a))
	root.AddCommand(newStatusCommand(a))
	root.AddCommand(newConfigCommand(a))
	root.AddCommand(newVersionCommand())
	return root
}
