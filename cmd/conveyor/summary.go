package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/conveyor/internal/executor"
	"github.com/alexisbeaulieu97/conveyor/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	unstableSty  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func statusStyle(status executor.Status) lipgloss.Style {
	switch status {
	case executor.StatusSuccess:
		return successStyle
	case executor.StatusFailure, executor.StatusAborted:
		return failureStyle
	case executor.StatusUnstable:
		return unstableSty
	default:
		return mutedStyle
	}
}

// renderSummary formats the per-stage outcome table shown after a run.
func renderSummary(result *pipeline.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Pipeline %s", result.Status)))
	b.WriteString("\n")

	for _, stage := range result.Stages {
		line := fmt.Sprintf("  %-24s %-10s %s",
			stage.Name,
			statusStyle(stage.Status).Render(string(stage.Status)),
			mutedStyle.Render(stage.Duration.Round(time.Millisecond).String()),
		)
		if stage.ErrorMessage != "" {
			line += "\n" + mutedStyle.Render("    "+stage.ErrorMessage)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	stats := result.CacheStats
	if stats.Hits+stats.Misses > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  script cache: %d hits / %d misses", stats.Hits, stats.Misses)))
	}
	return strings.TrimRight(b.String(), "\n")
}
