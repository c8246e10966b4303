package daemon

import (
	"bufio"
	"io"
	"strings"
)

// scanLines calls fn for each line read from r, without trailing CR.
// It drains r on a scan error so the writer never blocks.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(strings.TrimRight(scanner.Text(), "\r"))
	}
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}
}
