package pak

import "fmt"

// CompressionMethod names the compression algorithm a file's blocks were
// compressed with. "None" always maps to method index 0; everything else is
// resolved through the footer's compression-method name table (spec §6).
type CompressionMethod string

// Built-in compression methods. Oodle is listed for completeness (stock
// archives commonly use it) but requires an externally supplied codec, see
// RegisterOodle.
const (
	CompressionNone  CompressionMethod = "None"
	CompressionZlib  CompressionMethod = "Zlib"
	CompressionGzip  CompressionMethod = "Gzip"
	CompressionZstd  CompressionMethod = "Zstd"
	CompressionOodle CompressionMethod = "Oodle"
)

// Compressor is the narrow capability interface the codec depends on for
// payload compression, mirroring the Compressor/Decompressor split used
// throughout the retrieval pack's own blob-compression packages. The set of
// methods an archive can use is closed per-archive (the footer's name
// table), so a tagged lookup by CompressionMethod is all that is needed;
// there is no benefit to open-ended plugin discovery.
type Compressor interface {
	// Compress compresses data at the codec's default level (not the
	// fastest available level: output size is what stock tooling competes
	// on, and cross-implementation validators are sensitive to it).
	Compress(data []byte) ([]byte, error)
	// Decompress reverses Compress. The caller knows the exact
	// uncompressed length up front (from the entry's uncompressed size and
	// compression block size) and
	// passes it as a size hint so implementations can preallocate.
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
}

// CompressionRegistry maps compression method names to Compressor
// implementations. The zero value is not usable; construct one with
// NewCompressionRegistry.
type CompressionRegistry struct {
	codecs map[CompressionMethod]Compressor
}

// NewCompressionRegistry returns a registry pre-populated with the built-in
// codecs (None, Zlib, Gzip, Zstd). Oodle is registered but unusable until
// RegisterOodle supplies an implementation, since no portable Go Oodle
// binding exists.
func NewCompressionRegistry() *CompressionRegistry {
	return &CompressionRegistry{
		codecs: map[CompressionMethod]Compressor{
			CompressionNone:  noopCompressor{},
			CompressionZlib:  zlibCompressor{},
			CompressionGzip:  gzipCompressor{},
			CompressionZstd:  newZstdCompressor(),
			CompressionOodle: unavailableCompressor{method: CompressionOodle},
		},
	}
}

// Register installs or replaces the Compressor used for method.
func (r *CompressionRegistry) Register(method CompressionMethod, c Compressor) {
	r.codecs[method] = c
}

// Get looks up the Compressor for method.
func (r *CompressionRegistry) Get(method CompressionMethod) (Compressor, error) {
	c, ok := r.codecs[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompressionMethod, method)
	}
	return c, nil
}

// OodleFunc adapts a pair of external Oodle compress/decompress functions
// (typically cgo bindings to the proprietary RAD Game Tools library, which
// this package cannot depend on directly) into a Compressor.
type OodleFunc struct {
	CompressFn   func(data []byte) ([]byte, error)
	DecompressFn func(data []byte, uncompressedSize int) ([]byte, error)
}

func (f OodleFunc) Compress(data []byte) ([]byte, error) { return f.CompressFn(data) }
func (f OodleFunc) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	return f.DecompressFn(data, uncompressedSize)
}

// RegisterOodle wires an externally supplied Oodle codec into r, enabling
// reading and writing Oodle-compressed blocks.
func (r *CompressionRegistry) RegisterOodle(fn OodleFunc) {
	r.Register(CompressionOodle, fn)
}

// unavailableCompressor is installed for methods that are recognized by
// name but have no usable implementation without external wiring.
type unavailableCompressor struct{ method CompressionMethod }

func (u unavailableCompressor) Compress([]byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrCompressionUnavailable, u.method)
}

func (u unavailableCompressor) Decompress([]byte, int) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrCompressionUnavailable, u.method)
}

// noopCompressor backs CompressionNone: it bypasses compression entirely,
// the same behavior as the NoOp codec pattern used across the retrieval
// pack's own compression-codec packages.
type noopCompressor struct{}

func (noopCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (noopCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	if len(data) != uncompressedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, uncompressedSize, len(data))
	}
	return data, nil
}
