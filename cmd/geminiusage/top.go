package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/session"
	"github.com/janekbaraniewski/geminiusage/internal/tracker"
	"github.com/janekbaraniewski/geminiusage/internal/tui"
)

func newTopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Open the live usage dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTop(cmd.Context(), a)
		},
	}
}

func runTop(ctx context.Context, a *app) error {
	ag := a.newAgent()

	model := tui.NewModel(tui.Options{
		Fetch: func(ctx context.Context) ([]session.UsageRow, error) {
			return ag.ParseSessions(ctx, tracker.Query{})
		},
		RefreshInterval: a.cfg.RefreshInterval(),
		RecentDeltas:    a.cfg.UI.RecentDeltas,
		SessionsDir:     ag.SessionsDir(),
		Installed:       ag.IsInstalled(),
	})

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	ag.StartActivityWatch(func(d activity.Delta) {
		program.Send(tui.DeltaMsg(d))
	})
	defer ag.StopActivityWatch()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
