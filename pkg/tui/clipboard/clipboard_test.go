package clipboard

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyUsesSystemClipboard(t *testing.T) {
	var got string
	var buf bytes.Buffer
	restore(t, func(s string) error { got = s; return nil }, &buf)

	require.NoError(t, Copy("hello"))
	require.Equal(t, "hello", got)
	require.Zero(t, buf.Len())
}

func TestCopyFallsBackToOSC52(t *testing.T) {
	var buf bytes.Buffer
	restore(t, func(string) error { return errors.New("no xclip") }, &buf)

	require.NoError(t, Copy("hello"))
	require.Contains(t, buf.String(), base64.StdEncoding.EncodeToString([]byte("hello")))
	require.Contains(t, buf.String(), "\x1b]52;")
}

func restore(t *testing.T, w func(string) error, out *bytes.Buffer) {
	t.Helper()
	prevWrite, prevOut := writeAll, fallback
	writeAll, fallback = w, out
	t.Cleanup(func() { writeAll, fallback = prevWrite, prevOut })
}
