package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/geminiusage/internal/daemon"
)

func newDaemonCommand(a *app) *cobra.Command {
	var (
		verbose       bool
		statsInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve usage queries and live activity over a unix socket",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return daemon.RunServer(daemon.Config{
				SocketPath:    a.resolvedSocketPath(),
				SessionsDir:   a.resolvedSessionsDir(),
				StatsInterval: statsInterval,
				Verbose:       verbose || debugEnabled(a.cfg),
			})
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "log daemon events to stderr")
	cmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "how often engine counters are logged")

	cmd.AddCommand(newDaemonInstallCommand(a))
	cmd.AddCommand(newDaemonUninstallCommand(a))
	return cmd
}

func (a *app) serviceOptions() daemon.ServiceOptions {
	return daemon.ServiceOptions{
		SocketPath:  a.resolvedSocketPath(),
		SessionsDir: a.resolvedSessionsDir(),
	}
}

func newDaemonInstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the daemon as a per-user launchd or systemd service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := daemon.NewServiceManager(a.serviceOptions())
			if err != nil {
				return err
			}
			if !manager.IsSupported() {
				return fmt.Errorf("daemon service install is unsupported on %s", manager.Kind)
			}
			if err := manager.Install(); err != nil {
				return err
			}

			client := daemon.NewClient(a.resolvedSocketPath())
			if err := daemon.WaitForHealth(cmd.Context(), client, 10*time.Second); err != nil {
				return fmt.Errorf("service installed but daemon did not become healthy: %w\n%s", err, manager.Diagnostics())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s\n", manager.UnitPath())
			return nil
		},
	}
}

func newDaemonUninstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the daemon service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := daemon.NewServiceManager(a.serviceOptions())
			if err != nil {
				return err
			}
			if !manager.IsInstalled() {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon service is not installed.")
				return nil
			}
			if err := manager.Uninstall(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", manager.UnitPath())
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and engine counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()

			socketPath := a.resolvedSocketPath()
			client := daemon.NewClient(socketPath)
			health, err := client.Health(ctx)
			state := daemon.ClassifyHealth(health, err)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "socket\t%s\n", socketPath)
			fmt.Fprintf(tw, "status\t%s\n", state.Status)
			if state.Message != "" {
				fmt.Fprintf(tw, "message\t%s\n", state.Message)
			}
			if state.Status != daemon.DaemonStatusRunning && state.Status != daemon.DaemonStatusOutdated {
				if state.InstallHint != "" {
					fmt.Fprintf(tw, "hint\t%s\n", state.InstallHint)
				}
				return tw.Flush()
			}

			fmt.Fprintf(tw, "version\t%s\n", daemon.HealthVersion(health))
			fmt.Fprintf(tw, "sessions_dir\t%s\n", health.SessionsDir)

			st, err := client.Stats(ctx)
			if err != nil {
				_ = tw.Flush()
				return fmt.Errorf("reading daemon stats: %w", err)
			}
			tr := st.Agent.Tracker
			fmt.Fprintf(tw, "uptime\t%s\n", time.Duration(st.UptimeSec)*time.Second)
			fmt.Fprintf(tw, "passes\t%d (cache hits %d)\n", tr.Passes, tr.ResultCacheHits)
			fmt.Fprintf(tw, "files\tmetadata %d, aggregates %d, dirty %d\n", tr.MetadataSize, tr.AggregateSize, tr.DirtyPending)
			fmt.Fprintf(tw, "reads\t%d (stat checks %d, skips %d)\n", tr.FileReads, tr.StatChecks, tr.StatSkips)
			fmt.Fprintf(tw, "subscribers\t%d (published %d, dropped %d)\n", st.Subscribers, st.Published, st.Dropped)
			if err := tw.Flush(); err != nil {
				return err
			}
			if state.Status == daemon.DaemonStatusOutdated {
				return errors.New("daemon is outdated; restart it to pick up this build")
			}
			return nil
		},
	}
}
