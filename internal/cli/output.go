package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
)

func levelStyle(level events.Level) lipgloss.Style {
	switch level {
	case events.LevelSuccess:
		return successStyle
	case events.LevelWarning:
		return warningStyle
	case events.LevelError:
		return errorStyle
	default:
		return infoStyle
	}
}

// printer renders channel traffic for a terminal
type printer struct {
	out io.Writer
}

func (p printer) log(l events.LogEvent) {
	ts := time.UnixMilli(l.Timestamp).Format("15:04:05")
	fmt.Fprintf(p.out, "%s %s\n", timeStyle.Render(ts), levelStyle(l.Level).Render(l.Message))
}

func (p printer) progress(s quest.Snapshot) {
	pct := 0
	if s.SecondsNeeded > 0 {
		pct = s.SecondsDone * 100 / s.SecondsNeeded
	}
	eta := time.UnixMilli(s.EstimatedEndTime).Format("15:04:05")
	fmt.Fprintf(p.out, "%s %s %d/%ds (%d%%) eta %s\n",
		timeStyle.Render("progress"), s.TaskID, s.SecondsDone, s.SecondsNeeded, pct, eta)
}

func (p printer) cleared(taskID string, c events.Cleared) {
	fmt.Fprintf(p.out, "%s %s %s\n", timeStyle.Render("cleared"), taskID, c.Reason)
}

func (p printer) outcome(o orchestrator.Outcome, errMsg string) {
	switch {
	case errMsg != "":
		fmt.Fprintln(p.out, errorStyle.Render("failed: "+errMsg))
	case o.Monitoring:
		fmt.Fprintln(p.out, infoStyle.Render(fmt.Sprintf("monitoring %s (%ds needed)", o.TaskID, o.SecondsNeeded)))
	default:
		msg := o.Message
		if msg == "" {
			msg = "done"
		}
		fmt.Fprintln(p.out, successStyle.Render(msg))
	}
}

func (p printer) quests(tasks []quest.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(p.out, "no quests")
		return
	}

	fmt.Fprintln(p.out, headerStyle.Render(fmt.Sprintf("%-24s %-26s %-20s %s", "ID", "KIND", "APP", "PROGRESS")))
	for _, t := range tasks {
		progress := fmt.Sprintf("%d/%ds", t.SecondsDone, t.SecondsNeeded)
		if t.IsComplete() {
			progress = successStyle.Render("completed")
		}
		fmt.Fprintf(p.out, "%-24s %-26s %-20s %s\n", t.ID, t.Kind, truncate(t.OwnerAppName, 20), progress)
	}
}

func (p printer) raw(typ string, data json.RawMessage) {
	fmt.Fprintf(p.out, "%s %s\n", timeStyle.Render(typ), strings.TrimSpace(string(data)))
}

func (p printer) note(msg string) {
	fmt.Fprintln(p.out, timeStyle.Render(msg))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
