// Package clipboard copies text to the system clipboard, falling back to
// the OSC 52 terminal escape when no clipboard utility is available.
package clipboard

import (
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"
)

var (
	writeAll           = clipboard.WriteAll
	fallback io.Writer = os.Stderr
)

// Copy places text on the clipboard.
func Copy(text string) error {
	if err := writeAll(text); err == nil {
		return nil
	}
	if _, err := osc52.New(text).WriteTo(fallback); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}
