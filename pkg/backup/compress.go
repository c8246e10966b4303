package backup

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// Compression selects the codec applied to backup archives.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZlib Compression = "zlib"
	CompressionGzip Compression = "gzip"
	CompressionXZ   Compression = "xz"
)

// ParseCompression maps a configuration value to a codec. Empty means gzip.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionGzip, nil
	case CompressionNone, CompressionZlib, CompressionGzip, CompressionXZ:
		return c, nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

func (c Compression) ext() string {
	switch c {
	case CompressionZlib:
		return ".zz"
	case CompressionGzip:
		return ".gz"
	case CompressionXZ:
		return ".xz"
	}
	return ""
}

// flateLevel maps 1-9 onto the deflate levels; 0 selects the default.
func flateLevel(level int) int {
	if level <= 0 || level > 9 {
		return flate.DefaultCompression
	}
	return level
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w. The level applies to zlib and gzip; xz uses its
// default preset.
func (c Compression) compressor(w io.Writer, level int) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionZlib:
		return zlib.NewWriterLevel(w, flateLevel(level))
	case CompressionGzip:
		return gzip.NewWriterLevel(w, flateLevel(level))
	case CompressionXZ:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("unknown compression %q", c)
}

func (c Compression) decompressor(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone, "":
		return io.NopCloser(r), nil
	case CompressionZlib:
		return zlib.NewReader(r)
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	}
	return nil, fmt.Errorf("unknown compression %q", c)
}
