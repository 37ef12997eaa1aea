package pak

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCompressor implements Compressor for the Zstd method. It pools
// encoders and decoders the same way the retrieval pack's own zstd codec
// wrapper does: klauspost/compress/zstd's encoders and decoders are
// explicitly designed to be reused across calls rather than recreated, and
// a .pak archive may compress many thousands of small blocks.
type zstdCompressor struct {
	encoders sync.Pool
	decoders sync.Pool
}

func newZstdCompressor() *zstdCompressor {
	c := &zstdCompressor{}
	c.encoders.New = func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("pak: failed to create zstd encoder: %v", err))
		}
		return enc
	}
	c.decoders.New = func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("pak: failed to create zstd decoder: %v", err))
		}
		return dec
	}
	return c
}

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *zstdCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	out, err := dec.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockDecompressionFailed, err)
	}
	if len(out) != uncompressedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, uncompressedSize, len(out))
	}
	return out, nil
}
