package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/modoterra/nexus/pkg/client"
	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/monitor"
)

var (
	logsOnce   bool
	logsLines  int
	logsGlobal bool
)

// globalPID addresses the daemon-wide log in the monitor.
const globalPID core.ProcessID = "_global"

var logsCmd = &cobra.Command{
	Use:   "logs [name]",
	Short: "Follow the logs of a service, or of every service with --global",
	Args: func(cmd *cobra.Command, args []string) error {
		if logsGlobal {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		c.SetLogLines(logsLines)
		out := cmd.OutOrStdout()

		var fetcher monitor.Fetcher = c
		pid := globalPID
		if logsGlobal {
			fetcher = monitor.FetcherFunc(func(ctx context.Context, _ core.ProcessID) (core.LogSnapshot, error) {
				return c.GlobalLogs(ctx, logsLines)
			})
		} else {
			pid = core.ProcessID(args[0])
		}

		if logsOnce {
			ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
			defer cancel()
			snap, err := fetcher.Fetch(ctx, pid)
			if err != nil {
				return err
			}
			sink := newLineSink(out)
			sink.Replace(pid, classify(snap))
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return follow(ctx, fetcher, pid, out)
	},
}

func init() {
	logsCmd.Flags().BoolVar(&logsOnce, "once", false, "print the current logs and exit")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", client.DefaultLogLines, "number of lines to request")
	logsCmd.Flags().BoolVar(&logsGlobal, "global", false, "show the log shared by all services")
}

// follow prints new log lines of pid until ctx is cancelled.
func follow(ctx context.Context, fetcher monitor.Fetcher, pid core.ProcessID, out io.Writer) error {
	logger, closeLog, err := tuiLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	m := monitor.New(fetcher, newLineSink(out), interval, logger)
	defer m.Close()
	m.Expand(pid)
	<-ctx.Done()
	return nil
}

func classify(snap core.LogSnapshot) []monitor.Line {
	lines := make([]monitor.Line, len(snap))
	for i, text := range snap {
		lines[i] = monitor.Line{Text: text, Severity: core.Classify(text)}
	}
	return lines
}

var (
	lineError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	lineWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	lineInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	lineDebug   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	lineDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func styleLine(l monitor.Line) string {
	switch l.Severity {
	case core.SeverityError:
		return lineError.Render(l.Text)
	case core.SeverityWarning:
		return lineWarning.Render(l.Text)
	case core.SeverityInfo:
		return lineInfo.Render(l.Text)
	case core.SeverityDebug:
		return lineDebug.Render(l.Text)
	default:
		return l.Text
	}
}

// lineSink renders snapshots to a terminal stream. Each snapshot replaces
// the previous one, so only the lines past their overlap are printed.
type lineSink struct {
	mu   sync.Mutex
	out  io.Writer
	prev []string
}

func newLineSink(out io.Writer) *lineSink {
	return &lineSink{out: out}
}

func (s *lineSink) Replace(_ core.ProcessID, lines []monitor.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	for _, l := range lines[overlap(s.prev, texts):] {
		fmt.Fprintln(s.out, styleLine(l))
	}
	s.prev = texts
}

func (s *lineSink) Placeholder(_ core.ProcessID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, lineDim.Render("no logs available"))
}

func (s *lineSink) ScrollToBottom(core.ProcessID) {}

func (s *lineSink) Clear(core.ProcessID) {
	s.mu.Lock()
	s.prev = nil
	s.mu.Unlock()
}

// overlap returns the length of the longest suffix of prev that is a
// prefix of next.
func overlap(prev, next []string) int {
	for k := min(len(prev), len(next)); k > 0; k-- {
		if slices.Equal(prev[len(prev)-k:], next[:k]) {
			return k
		}
	}
	return 0
}
