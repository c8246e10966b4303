// Package journald reads recent journal entries for systemd units.
package journald

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/modoterra/nexus/pkg/core"
)

// Reader takes journal snapshots by running journalctl.
type Reader struct {
	bin    string
	user   bool
	logger *slog.Logger
}

// New creates a journal reader. When user is set, the user journal is read.
func New(user bool, logger *slog.Logger) *Reader {
	return &Reader{bin: "journalctl", user: user, logger: logger}
}

// journalArgs builds the journalctl arguments for the last n lines of unit.
func journalArgs(unit string, n int, user bool) []string {
	args := []string{"-u", unit, "-o", "cat", "-n", strconv.Itoa(n), "--no-pager"}
	if user {
		args = append([]string{"--user"}, args...)
	}
	return args
}

// Tail returns up to n of the most recent journal lines of unit, oldest first.
func (r *Reader) Tail(ctx context.Context, unit string, n int) (core.LogSnapshot, error) {
	if n <= 0 {
		n = 100
	}
	cmd := exec.CommandContext(ctx, r.bin, journalArgs(unit, n, r.user)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("journalctl %s: %s", unit, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("journalctl %s: %w", unit, err)
	}

	text := strings.TrimRight(string(out), "\n")
	if text == "" || text == "-- No entries --" {
		return core.LogSnapshot{}, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	r.logger.Debug("journal snapshot", "unit", unit, "lines", len(lines))
	return core.LogSnapshot(lines), nil
}
