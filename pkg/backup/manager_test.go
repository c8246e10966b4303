package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, c Compression) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(filepath.Join(t.TempDir(), "store"), c, 0, logger)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// touch moves a file's mtime past a backup's creation time without
// sleeping through the filesystem's timestamp granularity.
func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestCreateAndRestoreEachCodec(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZlib, CompressionGzip, CompressionXZ} {
		t.Run(string(c), func(t *testing.T) {
			m := newTestManager(t, c)
			src := t.TempDir()
			writeFiles(t, src, map[string]string{
				"README.md":       "hello",
				"cmd/app/main.go": "package main",
			})
			require.NoError(t, os.Symlink("README.md", filepath.Join(src, "LINK")))

			md, err := m.Create(context.Background(), "app", src, Options{})
			require.NoError(t, err)
			assert.Equal(t, TypeFull, md.Type)
			assert.Equal(t, StatusCompleted, md.Status)
			assert.Equal(t, c, md.Compression)
			assert.Equal(t, 2, md.Files)
			assert.Equal(t, int64(len("hello")+len("package main")), md.OriginalBytes)
			assert.Len(t, md.Checksum, 64)
			assert.NotNil(t, md.CompletedAt)
			assert.FileExists(t, filepath.Join(m.Dir(), "app", md.ID, "data.tar"+c.ext()))

			target := filepath.Join(t.TempDir(), "restored")
			_, err = m.Restore(context.Background(), "app", md.ID, target)
			require.NoError(t, err)
			assert.Equal(t, "hello", readFile(t, filepath.Join(target, "README.md")))
			assert.Equal(t, "package main", readFile(t, filepath.Join(target, "cmd", "app", "main.go")))
			link, err := os.Readlink(filepath.Join(target, "LINK"))
			require.NoError(t, err)
			assert.Equal(t, "README.md", link)
		})
	}
}

func TestRestoreReplacesTarget(t *testing.T) {
	m := newTestManager(t, CompressionGzip)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"keep.txt": "v1"})

	md, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)

	writeFiles(t, src, map[string]string{"keep.txt": "v2", "stray.txt": "x"})
	_, err = m.Restore(context.Background(), "app", md.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "v1", readFile(t, filepath.Join(src, "keep.txt")))
	assert.NoFileExists(t, filepath.Join(src, "stray.txt"))
}

func TestIncrementalChain(t *testing.T) {
	m := newTestManager(t, CompressionGzip)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"a.txt": "a1", "b.txt": "b1"})
	past := time.Now().Add(-time.Hour)
	touch(t, filepath.Join(src, "a.txt"), past)
	touch(t, filepath.Join(src, "b.txt"), past)

	full, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)

	writeFiles(t, src, map[string]string{"b.txt": "b2", "c.txt": "c1"})
	future := full.CreatedAt.Add(time.Second)
	touch(t, filepath.Join(src, "b.txt"), future)
	touch(t, filepath.Join(src, "c.txt"), future)

	inc, err := m.Create(context.Background(), "app", src, Options{Type: TypeIncremental})
	require.NoError(t, err)
	assert.Equal(t, full.ID, inc.Parent)
	assert.Equal(t, 2, inc.Files)

	target := filepath.Join(t.TempDir(), "out")
	_, err = m.Restore(context.Background(), "app", inc.ID, target)
	require.NoError(t, err)
	assert.Equal(t, "a1", readFile(t, filepath.Join(target, "a.txt")))
	assert.Equal(t, "b2", readFile(t, filepath.Join(target, "b.txt")))
	assert.Equal(t, "c1", readFile(t, filepath.Join(target, "c.txt")))

	err = m.Delete("app", full.ID)
	require.ErrorIs(t, err, ErrHasDependents)
	require.NoError(t, m.Delete("app", inc.ID))
	require.NoError(t, m.Delete("app", full.ID))
}

func TestIncrementalNeedsParent(t *testing.T) {
	m := newTestManager(t, CompressionGzip)
	_, err := m.Create(context.Background(), "app", t.TempDir(), Options{Type: TypeIncremental})
	require.ErrorIs(t, err, ErrNoParent)

	_, err = m.Create(context.Background(), "app", t.TempDir(), Options{Type: TypeIncremental, Parent: "backup_missing"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSkipsStoreInsideSource(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"main.go": "package main"})
	m := NewManager(filepath.Join(src, "backups"), CompressionGzip, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)
	second, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Files, second.Files)

	_, err = m.Restore(context.Background(), "app", first.ID, "")
	require.Error(t, err, "restoring over the store must be refused")
}

func TestCreateRejectsBadInput(t *testing.T) {
	m := newTestManager(t, CompressionGzip)

	_, err := m.Create(context.Background(), "../escape", t.TempDir(), Options{})
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = m.Create(context.Background(), "app", filepath.Join(t.TempDir(), "missing"), Options{})
	require.Error(t, err)

	_, err = m.Create(context.Background(), "app", t.TempDir(), Options{Type: "weekly"})
	require.Error(t, err)

	list, err := m.List("app")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateCancelledLeavesNothing(t *testing.T) {
	m := newTestManager(t, CompressionGzip)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Create(ctx, "app", src, Options{})
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(filepath.Join(m.Dir(), "app"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	logs, err := m.Logs(Filter{Project: "app"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	failed, err := m.Logs(Filter{Project: "app", Level: LevelError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, OutcomeFailed, failed[0].Status)
	assert.Equal(t, ActionCreate, failed[0].Action)
	assert.Contains(t, failed[0].Error, "context canceled")
}

func TestValidateDetectsCorruption(t *testing.T) {
	m := newTestManager(t, CompressionGzip)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"a.txt": "a"})
	md, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)

	_, err = m.Validate("app", md.ID)
	require.NoError(t, err)

	archive := filepath.Join(m.Dir(), "app", md.ID, md.archiveName())
	require.NoError(t, os.WriteFile(archive, []byte("garbage"), 0o644))
	_, err = m.Validate("app", md.ID)
	require.ErrorIs(t, err, ErrChecksum)

	_, err = m.Restore(context.Background(), "app", md.ID, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, ErrChecksum)

	require.NoError(t, os.Remove(archive))
	_, err = m.Validate("app", md.ID)
	require.ErrorContains(t, err, "archive not found")

	_, err = m.Validate("app", "backup_none")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	m := newTestManager(t, CompressionNone)
	src := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	var ids []string
	for i := range 3 {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		md, err := m.Create(context.Background(), "app", src, Options{Tags: map[string]string{"n": string(rune('a' + i))}})
		require.NoError(t, err)
		ids = append(ids, md.ID)
	}
	assert.Equal(t, "backup_app_20260301_120000", ids[0])

	list, err := m.List("app")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)
	assert.Equal(t, "c", list[0].Tags["n"])

	none, err := m.List("other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSameSecondIDsDiffer(t *testing.T) {
	m := newTestManager(t, CompressionNone)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	m.now = func() time.Time { return at }
	src := t.TempDir()

	a, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)
	b, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestConfigureKeepsExistingCodec(t *testing.T) {
	m := newTestManager(t, CompressionXZ)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"a.txt": "a"})
	md, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)

	m.Configure(m.Dir(), CompressionZlib, 9)
	next, err := m.Create(context.Background(), "app", src, Options{})
	require.NoError(t, err)
	assert.Equal(t, CompressionZlib, next.Compression)
	assert.Equal(t, 9, next.Level)

	target := filepath.Join(t.TempDir(), "out")
	_, err = m.Restore(context.Background(), "app", md.ID, target)
	require.NoError(t, err)
	assert.Equal(t, "a", readFile(t, filepath.Join(target, "a.txt")))
}
