package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxModelRows    = 8
	maxActivityRows = 6
	minSessionRows  = 3
	chartHeight     = 8
	chartBarWidth   = 2
)

func (m Model) View() string {
	width := max(m.width, 40)
	var sb strings.Builder

	sb.WriteString(m.renderHeader(width))
	sb.WriteString("\n\n")

	if m.showHelp {
		sb.WriteString(renderHelp())
		return sb.String()
	}

	if !m.installed && !m.hasData {
		sb.WriteString(warnStyle.Render("Gemini CLI sessions directory not found"))
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render(truncate(m.sessionsDir, width)))
		sb.WriteString("\n\n")
		sb.WriteString(m.renderFooter(width))
		return sb.String()
	}

	sb.WriteString(m.renderModels(width))
	sb.WriteString("\n")
	if m.showChart && len(m.models) > 0 {
		sb.WriteString(m.renderChart(width))
		sb.WriteString("\n")
	}
	sb.WriteString(m.renderSessions(width))
	sb.WriteString("\n")
	sb.WriteString(m.renderActivity(width))
	sb.WriteString("\n")
	sb.WriteString(m.renderFooter(width))
	return sb.String()
}

func (m Model) renderHeader(width int) string {
	title := headerBrandStyle.Render("geminiusage") + " " + headerStyle.Render("Gemini CLI token usage")

	var pill string
	switch {
	case m.lastErr != nil:
		pill = statusPillWarnStyle.Render("ERROR")
	case !m.hasData:
		pill = statusPillDimStyle.Render("LOADING")
	default:
		pill = statusPillOKStyle.Render("LIVE")
	}

	left := title + " " + pill
	right := ""
	if !m.lastRefresh.IsZero() {
		right = dimStyle.Render("updated " + m.lastRefresh.Format("15:04:05"))
	}
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return fitAnsiWidth(left, width)
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderModels(width int) string {
	var sb strings.Builder
	sb.WriteString(sectionHeaderStyle.Render("Models"))
	sb.WriteString("\n")

	if len(m.models) == 0 {
		sb.WriteString(dimStyle.Render("  no usage recorded yet"))
		sb.WriteString("\n")
		return sb.String()
	}

	nameW := max(width-4-4*9-10, 12)
	header := fmt.Sprintf("  %-*s %9s %9s %9s %9s %9s", nameW, "MODEL", "SESSIONS", "MESSAGES", "INPUT", "OUTPUT", "CACHED")
	sb.WriteString(columnHeaderStyle.Render(truncate(header, width)))
	sb.WriteString("\n")

	var in, out, cached int64
	for i, t := range m.models {
		in += t.Input
		out += t.Output
		cached += t.CacheRead
		if i >= maxModelRows {
			continue
		}
		name := fmt.Sprintf("%-*s", nameW, truncate(t.Model, nameW))
		line := "  " + valueStyle.Render(name) +
			labelStyle.Render(fmt.Sprintf(" %9d %9d", t.Sessions, t.Messages)) +
			inputStyle.Render(fmt.Sprintf(" %9s", formatTokens(t.Input))) +
			outputStyle.Render(fmt.Sprintf(" %9s", formatTokens(t.Output))) +
			cachedStyle.Render(fmt.Sprintf(" %9s", formatTokens(t.CacheRead)))
		sb.WriteString(fitAnsiWidth(line, width))
		sb.WriteString("\n")
	}
	if hidden := len(m.models) - maxModelRows; hidden > 0 {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", hidden)))
		sb.WriteString("\n")
	}
	sb.WriteString(labelStyle.Render(fmt.Sprintf(
		"  total  in %s  out %s  cached %s  across %d sessions",
		formatTokens(in), formatTokens(out), formatTokens(cached), len(m.sessions),
	)))
	sb.WriteString("\n")
	return sb.String()
}

// renderChart draws input and output bars side by side per model.
func (m Model) renderChart(width int) string {
	models := m.models
	if len(models) > maxModelRows {
		models = models[:maxModelRows]
	}

	var maxVal float64
	for _, t := range models {
		maxVal = max(maxVal, float64(t.Input), float64(t.Output))
	}
	if maxVal == 0 {
		maxVal = 1
	}

	chartW := min(width-2, len(models)*(2*chartBarWidth+1)+8)
	axis := lipgloss.NewStyle().Foreground(colorDim)
	label := lipgloss.NewStyle().Foreground(colorSubtext)
	chart := barchart.New(chartW, chartHeight, barchart.WithStyles(axis, label))
	chart.SetBarWidth(chartBarWidth)
	chart.SetBarGap(0)
	chart.SetMax(maxVal)

	for i, t := range models {
		chart.Push(barchart.BarData{
			Label: fmt.Sprintf("%d", i+1),
			Values: []barchart.BarValue{
				{Name: "in", Value: float64(t.Input), Style: inputStyle},
			},
		})
		chart.Push(barchart.BarData{
			Values: []barchart.BarValue{
				{Name: "out", Value: float64(t.Output), Style: outputStyle},
			},
		})
	}
	chart.Draw()

	legend := sectionHeaderStyle.Render("Tokens by model") + "  " +
		inputStyle.Render("■ input") + " " + outputStyle.Render("■ output")
	return legend + "\n" + chart.View() + "\n"
}

func (m Model) renderSessions(width int) string {
	var sb strings.Builder
	sb.WriteString(sectionHeaderStyle.Render("Sessions"))
	sb.WriteString("\n")
	if len(m.sessions) == 0 {
		sb.WriteString(dimStyle.Render("  no sessions"))
		sb.WriteString("\n")
		return sb.String()
	}

	idW := 38
	modelsW := max(width-idW-2-3*9-10, 10)
	header := fmt.Sprintf("  %-*s %-*s %9s %9s %8s", idW, "SESSION", modelsW, "MODELS", "INPUT", "OUTPUT", "UPDATED")
	sb.WriteString(columnHeaderStyle.Render(truncate(header, width)))
	sb.WriteString("\n")

	visible := m.sessionRows()
	end := min(m.sessionOffset+visible, len(m.sessions))
	for _, s := range m.sessions[m.sessionOffset:end] {
		line := fmt.Sprintf("  %-*s %-*s %9s %9s %8s",
			idW, truncate(s.SessionID, idW),
			modelsW, truncate(strings.Join(s.Models, ","), modelsW),
			formatTokens(s.Input), formatTokens(s.Output),
			formatAge(s.UpdatedAt, m.lastRefresh),
		)
		sb.WriteString(valueStyle.Render(fitAnsiWidth(line, width)))
		sb.WriteString("\n")
	}
	if bar := renderScrollBarLine(width, m.sessionOffset, visible, len(m.sessions)); bar != "" {
		sb.WriteString(bar)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderActivity(width int) string {
	var sb strings.Builder
	sb.WriteString(sectionHeaderStyle.Render("Live activity"))
	sb.WriteString("\n")
	if len(m.deltas) == 0 {
		sb.WriteString(dimStyle.Render("  waiting for new model responses…"))
		sb.WriteString("\n")
		return sb.String()
	}
	for i, d := range m.deltas {
		if i >= maxActivityRows {
			break
		}
		line := "  " + dimStyle.Render(d.Timestamp.Local().Format("15:04:05")) + " " +
			valueStyle.Render(truncate(d.SessionID, 12)) + " " +
			labelStyle.Render(d.ModelID) + " " +
			inputStyle.Render("+"+formatTokens(d.Tokens.Input)+" in") + " " +
			outputStyle.Render("+"+formatTokens(d.Tokens.Output)+" out")
		if d.Tokens.CacheRead > 0 {
			line += " " + cachedStyle.Render(formatTokens(d.Tokens.CacheRead)+" cached")
		}
		sb.WriteString(fitAnsiWidth(line, width))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderFooter(width int) string {
	if m.lastErr != nil {
		return errorStyle.Render(truncate("error: "+m.lastErr.Error(), width))
	}
	keys := []string{"q quit", "r refresh", "c chart", "j/k scroll", "? help"}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		key, desc, _ := strings.Cut(k, " ")
		parts = append(parts, helpKeyStyle.Render(key)+" "+helpStyle.Render(desc))
	}
	return fitAnsiWidth(strings.Join(parts, helpStyle.Render("  ·  ")), width)
}

func renderHelp() string {
	rows := [][2]string{
		{"q / ctrl+c", "quit"},
		{"r", "refresh now"},
		{"c", "toggle the per-model chart"},
		{"j / k", "scroll sessions"},
		{"g / G", "first / last session"},
		{"?", "close help"},
	}
	var sb strings.Builder
	sb.WriteString(sectionHeaderStyle.Render("Keys"))
	sb.WriteString("\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("  %s  %s\n", helpKeyStyle.Render(fmt.Sprintf("%-10s", r[0])), helpStyle.Render(r[1])))
	}
	return sb.String()
}

// sessionRows is how many session lines fit once every other section is laid
// out.
func (m Model) sessionRows() int {
	used := 2 // header
	used += 2 + min(len(m.models), maxModelRows) + 2
	if len(m.models) > maxModelRows {
		used++
	}
	if m.showChart && len(m.models) > 0 {
		used += 1 + chartHeight + 2
	}
	used += 2 + 1 + 1 // sessions title, column header, scrollbar, gap
	used += 1 + max(min(len(m.deltas), maxActivityRows), 1) + 1
	used++ // footer
	return max(m.height-used, minSessionRows)
}

func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if now.IsZero() {
		now = time.Now()
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
