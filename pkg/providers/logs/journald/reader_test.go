package journald

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modoterra/nexus/pkg/core"
)

func fakeJournal(t *testing.T, script string) *Reader {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "journalctl")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755))
	return &Reader{bin: bin, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestJournalArgs(t *testing.T) {
	require.Equal(t,
		[]string{"-u", "nginx.service", "-o", "cat", "-n", "50", "--no-pager"},
		journalArgs("nginx.service", 50, false))
	require.Equal(t, "--user", journalArgs("app.service", 10, true)[0])
}

func TestTail(t *testing.T) {
	r := fakeJournal(t, "echo one\necho two\necho three\n")
	snap, err := r.Tail(context.Background(), "app.service", 2)
	require.NoError(t, err)
	require.Equal(t, core.LogSnapshot{"two", "three"}, snap)
}

func TestTailNoEntries(t *testing.T) {
	r := fakeJournal(t, "echo '-- No entries --'\n")
	snap, err := r.Tail(context.Background(), "app.service", 10)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Empty(t, snap)
}

func TestTailFailure(t *testing.T) {
	r := fakeJournal(t, "echo 'unit not found' >&2\nexit 1\n")
	_, err := r.Tail(context.Background(), "ghost.service", 10)
	require.EqualError(t, err, "journalctl ghost.service: unit not found")
}
