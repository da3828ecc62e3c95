package pagevfs

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Decompressor unwraps a compressed index document stream.
//
// Only index documents are ever compressed; database files are served raw
// because ranged reads address uncompressed pages.
type Decompressor interface {
	// Name returns the decompressor identifier (for example, "gzip", "zstd", "noop").
	Name() string

	// Extension returns the file extension (for example, ".gz", ".zst", "").
	Extension() string

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// decompressorForPath selects a decompressor from the object name's
// extension. Unknown extensions pass through unchanged.
func decompressorForPath(p string) Decompressor {
	switch {
	case strings.HasSuffix(p, ".gz"):
		return NewGzipDecompressor()
	case strings.HasSuffix(p, ".zst"):
		return NewZstdDecompressor()
	default:
		return NewNoOpDecompressor()
	}
}

// -----------------------------------------------------------------------------
// Gzip Decompressor
// -----------------------------------------------------------------------------

// gzipDecompressor implements Decompressor for standard gzip streams.
type gzipDecompressor struct{}

// NewGzipDecompressor creates a gzip decompressor for .gz index documents.
func NewGzipDecompressor() Decompressor {
	return &gzipDecompressor{}
}

func (g *gzipDecompressor) Name() string {
	return "gzip"
}

func (g *gzipDecompressor) Extension() string {
	return ".gz"
}

func (g *gzipDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// Zstd Decompressor
// -----------------------------------------------------------------------------

// zstdDecompressor implements Decompressor for Zstandard streams.
type zstdDecompressor struct{}

// NewZstdDecompressor creates a zstd decompressor for .zst index documents.
func NewZstdDecompressor() Decompressor {
	return &zstdDecompressor{}
}

func (z *zstdDecompressor) Name() string {
	return "zstd"
}

func (z *zstdDecompressor) Extension() string {
	return ".zst"
}

func (z *zstdDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// NoOp Decompressor
// -----------------------------------------------------------------------------

// noopDecompressor implements Decompressor for uncompressed documents.
type noopDecompressor struct{}

// NewNoOpDecompressor creates a pass-through decompressor.
func NewNoOpDecompressor() Decompressor {
	return &noopDecompressor{}
}

func (n *noopDecompressor) Name() string {
	return "noop"
}

func (n *noopDecompressor) Extension() string {
	return ""
}

func (n *noopDecompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}
