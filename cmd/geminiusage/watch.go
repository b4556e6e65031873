package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
	"github.com/janekbaraniewski/geminiusage/internal/daemon"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		asJSON    bool
		viaDaemon bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new Gemini responses as they are written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			emit := deltaPrinter(cmd.OutOrStdout(), asJSON)

			if viaDaemon {
				client := daemon.NewClient(a.resolvedSocketPath())
				if err := client.StreamActivity(ctx, emit); err != nil {
					return fmt.Errorf("streaming from daemon: %w", err)
				}
				return nil
			}

			ag := a.newAgent()
			if !ag.IsInstalled() {
				fmt.Fprintf(cmd.ErrOrStderr(), "waiting for %s to appear\n", ag.SessionsDir())
			}
			ag.StartActivityWatch(emit)
			defer ag.StopActivityWatch()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "subscribe to the running usage daemon")
	return cmd
}

// deltaPrinter serializes writes; activity callbacks may come from the watcher
// goroutine while a previous line is still being written.
func deltaPrinter(w io.Writer, asJSON bool) activity.Callback {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(d activity.Delta) {
		mu.Lock()
		defer mu.Unlock()
		if asJSON {
			_ = enc.Encode(d)
			return
		}
		fmt.Fprintln(w, formatDelta(d))
	}
}

func formatDelta(d activity.Delta) string {
	line := fmt.Sprintf("%s  %s  %s  +%d in  +%d out",
		d.Timestamp.Local().Format(time.TimeOnly),
		d.SessionID,
		d.ModelID,
		d.Tokens.Input,
		d.Tokens.Output,
	)
	if d.Tokens.CacheRead > 0 {
		line += fmt.Sprintf("  %d cached", d.Tokens.CacheRead)
	}
	return line
}
