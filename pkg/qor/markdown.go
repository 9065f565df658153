package qor

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return nil
}

// WriteMarkdown writes the report as Markdown tables.
func WriteMarkdown(w io.Writer, r *Report) error {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# QoR: %s (%s)\n\n", r.Benchmark, r.Tool)

	writeCommits(&sb, r.Commits)
	writeSummary(&sb, r.Summary)

	_, err := io.WriteString(w, sb.String())

	return err
}

func writeCommits(sb *strings.Builder, rows []CommitQoR) {
	sb.WriteString("## Commits\n\n")
	sb.WriteString("| HEAD~N | Commit | Synth | PnR | Area [LUTs] | Fmax [MHz] | Churn " +
		"| Synth Time | PnR Time |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|\n")

	for _, row := range rows {
		fmt.Fprintf(sb, "| %d | `%s` | %s | %s | %s | %s | %s | %s | %s |\n",
			row.Index,
			shortSHA(row.SHA),
			passFail(row.SynthPassed),
			passFail(row.PnRPassed),
			formatIntPtr(row.AreaLUTs),
			formatFmax(row.Fmax),
			formatIntPtr(row.Churn),
			formatSeconds(row.SynthSecs),
			formatSeconds(row.PnRSecs),
		)
	}

	sb.WriteByte('\n')
}

func writeSummary(sb *strings.Builder, s Summary) {
	if s.Area == nil && s.Source == nil && s.FmaxMid == nil {
		return
	}

	sb.WriteString("## Change Statistics\n\n")
	sb.WriteString("| Quantity | N | Mean | StD | Median |\n")
	sb.WriteString("|---|---|---|---|---|\n")

	writeStatsRow(sb, "Source change [lines]", s.Source)
	writeStatsRow(sb, "Area change [LUTs]", s.Area)
	writeStatsRow(sb, "Fmax change [MHz]", s.FmaxMid)

	sb.WriteByte('\n')

	if s.Correlation != nil {
		fmt.Fprintf(sb, "Source/area correlation coefficient: %.4f\n", *s.Correlation)
	}
}

func writeStatsRow(sb *strings.Builder, name string, st *Stats) {
	if st == nil {
		return
	}

	fmt.Fprintf(sb, "| %s | %d | %.2f | %.2f | %.2f |\n", name, st.N, st.Mean, st.Std, st.Median)
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}

	return "FAIL"
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}

	return sha
}

func formatFmax(f *Fmax) string {
	if f == nil {
		return "-"
	}

	return fmt.Sprintf("%.1f ± %.1f", f.Mid, f.Uncertainty/2)
}

func formatIntPtr(n *int) string {
	if n == nil {
		return "-"
	}

	return formatCount(*n)
}

// formatCount formats an integer with comma separators.
func formatCount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	if len(s) <= 3 {
		if neg {
			return "-" + s
		}

		return s
	}

	var b strings.Builder

	b.Grow(len(s) + (len(s)-1)/3 + 1)

	if neg {
		b.WriteByte('-')
	}

	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}

		b.WriteRune(ch)
	}

	return b.String()
}

func formatSeconds(secs float64) string {
	if secs <= 0 {
		return "-"
	}

	return formatDuration(time.Duration(secs * float64(time.Second)))
}

// formatDuration formats a time.Duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}
