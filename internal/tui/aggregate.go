package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/geminiusage/internal/session"
)

type modelTotal struct {
	Model     string
	Sessions  int
	Messages  int
	Input     int64
	Output    int64
	CacheRead int64
}

func (t modelTotal) tokens() int64 { return t.Input + t.Output }

type sessionTotal struct {
	SessionID string
	Models    []string
	Messages  int
	Input     int64
	Output    int64
	CacheRead int64
	UpdatedAt time.Time
}

// totalsByModel sums rows per model, largest token total first.
func totalsByModel(rows []session.UsageRow) []modelTotal {
	grouped := lo.GroupBy(rows, func(r session.UsageRow) string { return r.ModelID })
	out := lo.MapToSlice(grouped, func(model string, rs []session.UsageRow) modelTotal {
		return modelTotal{
			Model:     model,
			Sessions:  len(lo.Uniq(lo.Map(rs, func(r session.UsageRow, _ int) string { return r.SessionID }))),
			Messages:  len(rs),
			Input:     lo.SumBy(rs, func(r session.UsageRow) int64 { return r.Tokens.Input }),
			Output:    lo.SumBy(rs, func(r session.UsageRow) int64 { return r.Tokens.Output }),
			CacheRead: lo.SumBy(rs, func(r session.UsageRow) int64 { return r.Tokens.CacheRead }),
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].tokens() != out[j].tokens() {
			return out[i].tokens() > out[j].tokens()
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// totalsBySession keeps the row order, which is newest session first.
func totalsBySession(rows []session.UsageRow) []sessionTotal {
	var out []sessionTotal
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.SessionID]
		if !ok {
			i = len(out)
			index[r.SessionID] = i
			out = append(out, sessionTotal{SessionID: r.SessionID, UpdatedAt: r.SessionUpdatedAt})
		}
		t := &out[i]
		t.Messages++
		t.Input += r.Tokens.Input
		t.Output += r.Tokens.Output
		t.CacheRead += r.Tokens.CacheRead
		if !lo.Contains(t.Models, r.ModelID) {
			t.Models = append(t.Models, r.ModelID)
		}
	}
	return out
}

// formatTokens renders a token count with K/M suffixes.
func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
