// Package cli provides styled terminal output for the expenseflow commands.
package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/expense-flow/internal/ingest"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/charmbracelet/lipgloss"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5B8DEF")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates failures.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor is for labels and secondary text.
	SubtleColor = lipgloss.Color("#888888")

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoxStyle frames report output.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Width(16)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠"
	InfoIcon    = "ℹ"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// RenderBox renders content under a title in a bordered box.
func RenderBox(title, content string) string {
	return BoxStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		TitleStyle.UnsetMargins().Render(title),
		content,
	))
}

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// RenderIngestResult summarizes one ingestion run.
func RenderIngestResult(r ingest.Result) string {
	lines := []string{
		row("Rows", r.Total),
		row("Stored", r.Stored),
		row("Duplicates", r.Duplicates),
		row("Categorized", r.Categorized),
		row("Enrolled", r.Enrolled),
		row("Enqueued", r.Enqueued),
	}
	if r.Invalid > 0 {
		lines = append(lines, WarningStyle.Render(row("Invalid", r.Invalid)))
	}
	if r.StoreFailed > 0 {
		lines = append(lines, ErrorStyle.Render(row("Store failures", r.StoreFailed)))
	}
	if r.EnqueueFailed > 0 {
		lines = append(lines, ErrorStyle.Render(row("Enqueue failures", r.EnqueueFailed)))
	}
	return RenderBox("Ingestion", strings.Join(lines, "\n"))
}

// RenderBatchSummary summarizes one worker invocation.
func RenderBatchSummary(s model.BatchSummary) string {
	lines := []string{
		row("Processed", s.TotalProcessed),
		row("Eligible", s.Eligible),
		SuccessStyle.Render(row("Successful", s.Successful)),
		row("Skipped", s.Skipped),
	}
	if s.Failed > 0 {
		lines = append(lines, ErrorStyle.Render(row("Failed", s.Failed)))
	}
	if s.Malformed > 0 {
		lines = append(lines, WarningStyle.Render(row("Malformed", s.Malformed)))
	}
	lines = append(lines, SubtleStyle.Render(row("Duration", s.Duration.Round(time.Millisecond))))
	return RenderBox("Categorization", strings.Join(lines, "\n"))
}

// RenderStatusCounts lists a user's expenses per AI status, then queue depth.
func RenderStatusCounts(userID string, counts map[model.AIStatus]int, queue map[string]int) string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	lines := make([]string, 0, len(statuses)+len(queue)+1)
	for _, status := range statuses {
		name := status
		if name == "" {
			name = "not enrolled"
		}
		lines = append(lines, row(name, counts[model.AIStatus(status)]))
	}

	names := make([]string, 0, len(queue))
	for name := range queue {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		lines = append(lines, "")
		for _, name := range names {
			lines = append(lines, row("queue "+name, queue[name]))
		}
	}
	return RenderBox("Status for "+userID, strings.Join(lines, "\n"))
}
