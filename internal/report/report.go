// Package report renders the final stability verdict for the console. The
// core only emits a RunSummary; everything cosmetic lives here.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"wsstress/internal/config"
	"wsstress/internal/stats"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorGreen   = lipgloss.Color("#04B575")
	colorRed     = lipgloss.Color("#FF5F87")
	colorSubtle  = lipgloss.Color("#767676")

	titleStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(colorRed)
	dimStyle   = lipgloss.NewStyle().Foreground(colorSubtle)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1)
)

// BatchLine is the one-liner printed as each batch finalizes.
func BatchLine(cfg *config.Config, bs stats.BatchStats) string {
	mark := okStyle.Render("✓")
	if !bs.Stable(cfg.StabilityThreshold) {
		mark = badStyle.Render("✗")
	}
	latency := "-"
	if bs.HasResponseTimes {
		latency = fmt.Sprintf("%s/%s/%s",
			ms(bs.MinResponse), ms(bs.AvgResponse), ms(bs.MaxResponse))
	}
	return fmt.Sprintf("batch %-3d conns %-5d ok %d/%d (%.1f%%) %s  rtt min/avg/max %s  took %s",
		bs.Index, bs.Requested, bs.Succeeded, bs.Attempted, bs.SuccessRate, mark,
		latency, bs.Elapsed.Round(time.Millisecond))
}

// PrintSummary renders the full run report.
func PrintSummary(cfg *config.Config, s *stats.RunSummary) {
	fmt.Println()
	fmt.Println(titleStyle.Render("📊 CONNECTION STABILITY RESULTS"))
	fmt.Println(dimStyle.Render("Target: " + cfg.URL()))

	var b strings.Builder
	fmt.Fprintf(&b, "%-7s %-11s %-10s %-8s %-14s %-20s %s\n",
		"Batch", "Requested", "Attempted", "OK", "Success Rate", "RTT min/avg/max", "Status")
	for _, bs := range s.Batches {
		status := okStyle.Render("stable")
		if !bs.Stable(cfg.StabilityThreshold) {
			status = badStyle.Render("unstable")
		}
		latency := "-"
		if bs.HasResponseTimes {
			latency = fmt.Sprintf("%s/%s/%s",
				ms(bs.MinResponse), ms(bs.AvgResponse), ms(bs.MaxResponse))
		}
		fmt.Fprintf(&b, "%-7d %-11d %-10d %-8d %-14s %-20s %s\n",
			bs.Index, bs.Requested, bs.Attempted, bs.Succeeded,
			fmt.Sprintf("%.1f%%", bs.SuccessRate), latency, status)
	}
	fmt.Println(boxStyle.Render(strings.TrimRight(b.String(), "\n")))

	totals := fmt.Sprintf(
		"Batches:   %d\nAttempted: %d\nSucceeded: %d\nFailed:    %d\nDuration:  %s",
		len(s.Batches), s.TotalAttempted, s.TotalSucceeded, s.TotalFailed,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
	)
	if s.ResponseTimes != nil && s.ResponseTimes.TotalCount() > 0 {
		totals += fmt.Sprintf(
			"\n\nResponse times (ms)\n  P50: %.2f\n  P90: %.2f\n  P99: %.2f\n  Max: %.2f",
			s.P50Ms(), s.P90Ms(), s.P99Ms(), s.MaxMs())
	}
	fmt.Println(boxStyle.Render(totals))

	printVerdict(cfg, s)
}

func printVerdict(cfg *config.Config, s *stats.RunSummary) {
	switch s.StoppedReason {
	case stats.StopError:
		fmt.Println(badStyle.Render("❌ Run aborted: " + s.Error))
		return
	case stats.StopCancelled:
		fmt.Println(dimStyle.Render("Run cancelled; partial results above."))
		if s.MaxStableCount > 0 {
			fmt.Println(okStyle.Render(fmt.Sprintf("Stable so far up to %d connection(s).", s.MaxStableCount)))
		}
		return
	case stats.StopUnstable:
		if s.MaxStableCount == 0 {
			fmt.Println(badStyle.Render(fmt.Sprintf(
				"❌ Even the starting batch of %d connection(s) fell below %.1f%%.",
				cfg.StartCount, cfg.StabilityThreshold)))
			return
		}
		unstable := s.Batches[len(s.Batches)-1]
		fmt.Println(okStyle.Render(fmt.Sprintf("🎯 Maximum stable connection count: %d", s.MaxStableCount)))
		fmt.Println(badStyle.Render(fmt.Sprintf(
			"   Instability began at %d connection(s) (%.1f%% success).",
			unstable.Requested, unstable.SuccessRate)))
		if unstable.Requested-s.MaxStableCount > cfg.Increment {
			fmt.Println(dimStyle.Render(fmt.Sprintf(
				"   The threshold lies between %d and %d; rerun this range with a smaller increment.",
				s.MaxStableCount, unstable.Requested)))
		}
	case stats.StopReachedMax:
		if s.MaxStableCount == cfg.MaxCount {
			fmt.Println(okStyle.Render(fmt.Sprintf(
				"✅ Stable through the full scan: the target handles at least %d connection(s).",
				s.MaxStableCount)))
			fmt.Println(dimStyle.Render("   Raise --max to find the actual limit."))
		} else if s.MaxStableCount > 0 {
			fmt.Println(okStyle.Render(fmt.Sprintf("🎯 Maximum stable connection count: %d", s.MaxStableCount)))
		} else {
			fmt.Println(badStyle.Render("❌ No batch met the stability threshold."))
		}
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
}
