package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/janekbaraniewski/geminiusage/internal/daemon"
	"github.com/janekbaraniewski/geminiusage/internal/session"
	"github.com/janekbaraniewski/geminiusage/internal/tracker"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func newUsageCommand(a *app) *cobra.Command {
	var (
		sessionID string
		since     string
		limit     int
		format    string
		viaDaemon bool
		full      bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print per-message token usage from Gemini CLI sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			sinceAt, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			var rows []session.UsageRow
			if viaDaemon {
				client := daemon.NewClient(a.resolvedSocketPath())
				rows, err = client.Usage(cmd.Context(), daemon.UsageRequest{
					SessionID: sessionID,
					Limit:     limit,
					Since:     sinceAt,
				})
			} else {
				ag := a.newAgent()
				if full {
					ag.ForceFullReconciliation()
				}
				rows, err = ag.ParseSessions(cmd.Context(), tracker.Query{
					SessionID: sessionID,
					Limit:     limit,
					Since:     sinceAt,
				})
			}
			if err != nil {
				return fmt.Errorf("loading usage: %w", err)
			}
			return writeRows(cmd.OutOrStdout(), rows, format)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "only rows from this session id")
	cmd.Flags().StringVar(&since, "since", "", "only sessions updated after this time (RFC3339 or a duration like 24h)")
	cmd.Flags().IntVar(&limit, "limit", 0, fmt.Sprintf("query limit recorded with cached results; it does not truncate output (default %d)", tracker.DefaultLimit))
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "query the running usage daemon instead of reading files directly")
	cmd.Flags().BoolVar(&full, "full", false, "re-stat every session file instead of trusting cached metadata")
	return cmd
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

// parseSince accepts an absolute RFC3339 timestamp or a duration counted back
// from now. Empty means no lower bound.
func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 or a positive duration", value)
	}
	return now.Add(-d), nil
}

func writeRows(w io.Writer, rows []session.UsageRow, format string) error {
	if rows == nil {
		rows = []session.UsageRow{}
	}
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeRowsTable(w, rows)
	}
}

func writeRowsTable(w io.Writer, rows []session.UsageRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No usage recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMODEL\tINPUT\tOUTPUT\tCACHED\tTIMESTAMP")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			row.SessionID,
			row.ModelID,
			row.Tokens.Input,
			row.Tokens.Output,
			row.Tokens.CacheRead,
			row.Timestamp.Local().Format(time.DateTime),
		)
	}
	sessions := lo.Uniq(lo.Map(rows, func(r session.UsageRow, _ int) string { return r.SessionID }))
	fmt.Fprintf(tw, "TOTAL (%d sessions)\t\t%d\t%d\t%d\t\n",
		len(sessions),
		lo.SumBy(rows, func(r session.UsageRow) int64 { return r.Tokens.Input }),
		lo.SumBy(rows, func(r session.UsageRow) int64 { return r.Tokens.Output }),
		lo.SumBy(rows, func(r session.UsageRow) int64 { return r.Tokens.CacheRead }),
	)
	return tw.Flush()
}
