package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/modoterra/nexus/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRestart = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	logError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	logWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	logInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	logDebug   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	logDefault = lipgloss.NewStyle()

	toastStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)
	toastErrStyle  = toastStyle.Background(lipgloss.Color("160"))
	toastFadeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
)

const (
	statusBarH = 2
	detailH    = 4
)

func severityStyle(s core.Severity) lipgloss.Style {
	switch s {
	case core.SeverityError:
		return logError
	case core.SeverityWarning:
		return logWarning
	case core.SeverityInfo:
		return logInfo
	case core.SeverityDebug:
		return logDebug
	default:
		return logDefault
	}
}

// layout returns the inner widths of both panes and their shared height.
func (a App) layout() (listW, logsW, bodyH int) {
	listW = max(a.width*2/5-2, 10)
	logsW = max(a.width-listW-8, 10)
	bodyH = max(a.height-statusBarH-2, 4)
	return listW, logsW, bodyH
}

// logSize is the viewport size of a log panel.
func (a App) logSize() (int, int) {
	_, logsW, bodyH := a.layout()
	return logsW, max(bodyH-detailH-2, 1)
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	listW, logsW, bodyH := a.layout()

	list := a.renderList(listW, bodyH)
	listPane := a.paneBox(PaneList, " Services ", list, listW, bodyH)

	logs := a.renderLogs(logsW)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, logsW, bodyH)

	body := lipgloss.JoinHorizontal(lipgloss.Top, listPane, logPane)
	return lipgloss.JoinVertical(lipgloss.Left, body, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderList(w, h int) string {
	items := a.filteredItems()
	if len(items) == 0 {
		if !a.connected {
			return dimStyle.Render("connecting...")
		}
		return dimStyle.Render("no services")
	}

	var b strings.Builder
	maxVisible := h - 2
	if a.mode == ModeSearch {
		maxVisible -= 2
	}
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(items) && i-start < maxVisible; i++ {
		item := items[i]
		marker := "▸"
		if p, ok := a.panels[item.ID()]; ok && p.expanded {
			marker = "▾"
		}
		indicator := statusIndicator(string(item.Status))
		name := runewidth.FillRight(runewidth.Truncate(item.Name, w-6, "…"), w-6)
		line := fmt.Sprintf("%s %s %s", marker, indicator, name)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderDetail(item *core.Item, w int) string {
	var b strings.Builder
	head := fmt.Sprintf("%s  %s  %s", item.Name, dimStyle.Render(string(item.Kind)), colorStatus(string(item.Status)))
	if item.Group != "" {
		head += dimStyle.Render("  [" + item.Group + "]")
	}
	b.WriteString(head + "\n")

	path := item.Path
	if path == "" {
		path = "-"
	}
	b.WriteString(dimStyle.Render("path: "+runewidth.Truncate(path, w-6, "…")) + "\n")

	var facts []string
	if len(item.PIDs) > 0 {
		facts = append(facts, fmt.Sprintf("pid %v", item.PIDs))
	}
	if item.MemBytes > 0 {
		facts = append(facts, formatBytes(item.MemBytes))
	}
	if item.UptimeSec > 0 {
		facts = append(facts, "up "+formatDuration(item.UptimeSec))
	}
	b.WriteString(dimStyle.Render(strings.Join(facts, " · ")) + "\n")

	if item.Error != "" {
		b.WriteString(statusFailed.Render(runewidth.Truncate(item.Error, w, "…")))
	}
	return b.String()
}

func (a App) renderLogs(w int) string {
	item := a.selectedItem()
	if item == nil {
		return dimStyle.Render("select a service")
	}

	detail := a.renderDetail(item, w)
	p, ok := a.panels[item.ID()]
	if !ok || !p.expanded {
		return detail + "\n" + dimStyle.Render("press enter to follow logs")
	}
	return detail + "\n" + p.viewport.View()
}

func (a App) logTitle() string {
	title := " Logs "
	item := a.selectedItem()
	if item == nil {
		return title
	}
	if p, ok := a.panels[item.ID()]; ok && p.expanded {
		if p.autoScroll {
			title += dimStyle.Render("[follow]") + " "
		} else {
			title += dimStyle.Render("[paused]") + " "
		}
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	if a.refreshing {
		left = a.spinner.View() + " refreshing repositories..."
	}

	if a.toast.text != "" {
		style := toastStyle
		switch {
		case a.toast.fading:
			style = toastFadeStyle
		case a.toast.isErr:
			style = toastErrStyle
		}
		left = style.Render(a.toast.text)
	}

	right := a.help.View(a.keys)
	if a.mode == ModeSearch {
		right = helpStyle.Render("enter:apply esc:cancel")
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func statusIndicator(status string) string {
	switch status {
	case "running":
		return statusRunning.Render("●")
	case "stopped":
		return statusStopped.Render("○")
	case "failed", "dependent_failed":
		return statusFailed.Render("✖")
	case "restarting", "starting", "stopping":
		return statusRestart.Render("↻")
	default:
		return dimStyle.Render("?")
	}
}

func colorStatus(status string) string {
	switch status {
	case "running":
		return statusRunning.Render(status)
	case "stopped":
		return statusStopped.Render(status)
	case "failed", "dependent_failed":
		return statusFailed.Render(status)
	case "restarting", "starting", "stopping":
		return statusRestart.Render(status)
	default:
		return dimStyle.Render(status)
	}
}

func formatBytes(b uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(sec uint64) string {
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%dm%ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%dh%dm", sec/3600, (sec%3600)/60)
}
