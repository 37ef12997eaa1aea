package pak

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// writerState tracks the Open -> WritingFiles -> Finalizing -> Closed
// lifecycle spec §4.4 assigns a Writer.
type writerState int

const (
	stateOpen writerState = iota
	stateWritingFiles
	stateFinalizing
	stateClosed
)

// Builder configures and constructs a Writer via chained options, the same
// shape the retrieval pack's config-builder packages use for multi-field
// setup that would otherwise need a constructor with a dozen positional
// arguments.
type Builder struct {
	version      Version
	sink         io.Writer
	mountPoint   string
	pathHashSeed uint64
	method       CompressionMethod
	key          []byte
	cipher       BlockCipher
	encryptIndex bool
	encryptFiles bool
	keyGUID      uuid.UUID
	compression  *CompressionRegistry
	logger       *zap.Logger
	err          error
}

// NewBuilder starts a Builder that writes to sink. Defaults: VersionLatest,
// no compression, no encryption, empty mount point (normalized to
// defaultMountPoint), path-hash seed 0.
func NewBuilder(sink io.Writer) *Builder {
	return &Builder{
		version:     VersionLatest,
		sink:        sink,
		method:      CompressionNone,
		cipher:      AESCipher,
		compression: NewCompressionRegistry(),
		logger:      zap.NewNop(),
	}
}

// Version sets the archive format version to write.
func (b *Builder) Version(v Version) *Builder {
	if !v.Valid() {
		b.err = fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
		return b
	}
	b.version = v
	return b
}

// Compression sets the single compression method applied to every
// non-empty file written through this Writer.
func (b *Builder) Compression(method CompressionMethod) *Builder {
	b.method = method
	return b
}

// CompressionRegistry overrides the default NewCompressionRegistry(), e.g.
// to register an Oodle codec via RegisterOodle before building.
func (b *Builder) CompressionRegistry(r *CompressionRegistry) *Builder {
	b.compression = r
	return b
}

// Encrypt enables encryption of both the index sections and file payloads
// using key and c. Stock .pak archives tie index and payload encryption to
// the same flag and key; a Writer that wants the index encrypted without
// the payloads can call EncryptIndexOnly instead.
func (b *Builder) Encrypt(key []byte, c BlockCipher) *Builder {
	b.key = key
	b.cipher = c
	b.encryptIndex = true
	b.encryptFiles = true
	return b
}

// EncryptIndexOnly enables index-section encryption without encrypting file
// payloads.
func (b *Builder) EncryptIndexOnly(key []byte, c BlockCipher) *Builder {
	b.key = key
	b.cipher = c
	b.encryptIndex = true
	return b
}

// EncryptionKeyGUID sets the footer's EncryptionKeyGUID (Version >= 7
// only). Defaults to uuid.Nil: callers who need archives to match a
// specific multi-key host's keychain must set this explicitly, since
// generating one at random here would make Writer's output nondeterministic
// across otherwise-identical runs.
func (b *Builder) EncryptionKeyGUID(id uuid.UUID) *Builder {
	b.keyGUID = id
	return b
}

// PathHashSeed overrides the default path-hash seed of 0. Archives produced
// by stock tooling seed the hash with derivePathHashSeed(archive filename);
// pass that through explicitly if matching a specific archive name matters.
func (b *Builder) PathHashSeed(seed uint64) *Builder {
	b.pathHashSeed = seed
	return b
}

// MountPoint sets the archive's mount point (spec §6); an empty value
// normalizes to defaultMountPoint.
func (b *Builder) MountPoint(m string) *Builder {
	b.mountPoint = m
	return b
}

// Logger attaches a zap logger for diagnostics.
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the accumulated options and returns a Writer ready to
// accept WriteFile/WriteFiles/DeleteFile calls.
func (b *Builder) Build() (*Writer, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.sink == nil {
		return nil, fmt.Errorf("pak: Builder requires a sink")
	}
	if (b.encryptIndex || b.encryptFiles) && len(b.key) == 0 {
		return nil, ErrKeyRequired
	}
	if b.encryptFiles && !b.version.HasCompressionEncryption() {
		return nil, fmt.Errorf("%w: payload encryption requires version >= %d", ErrFeatureUnsupported, VersionCompressionEncryption)
	}
	if b.encryptIndex && !b.version.SupportsIndexEncryption() {
		return nil, fmt.Errorf("%w: index encryption requires version >= %d", ErrFeatureUnsupported, VersionIndexEncryption)
	}

	mount, err := normalizeMountPoint(b.mountPoint)
	if err != nil {
		return nil, err
	}

	footer := Footer{
		Version:           b.version,
		EncryptionKeyGUID: b.keyGUID,
		EncryptedIndex:    b.encryptIndex,
	}

	var methodIndex uint8
	if b.method != CompressionNone {
		if !b.version.NamedCompressionMethods() {
			return nil, fmt.Errorf("%w: named compression methods require version >= %d", ErrFeatureUnsupported, VersionFNameBasedCompressionMethod)
		}
		methodIndex, err = footer.methodIndex(b.method)
		if err != nil {
			return nil, err
		}
		if _, err := b.compression.Get(b.method); err != nil {
			return nil, err
		}
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Writer{
		version:      b.version,
		sink:         b.sink,
		mountPoint:   mount,
		pathHashSeed: b.pathHashSeed,
		method:       b.method,
		methodIndex:  methodIndex,
		key:          b.key,
		cipher:       b.cipher,
		encryptIndex: b.encryptIndex,
		encryptFiles: b.encryptFiles,
		compression:  b.compression,
		footer:       footer,
		log:          log,
	}, nil
}

// FileInput is one file to write via WriteFiles.
type FileInput struct {
	Path string
	Data []byte
}

// Writer builds a .pak archive one file at a time and, on Close, writes the
// path-hash index, full directory index, primary index and footer. It is
// not safe for concurrent use by multiple goroutines (WriteFiles itself
// parallelizes internally; see its doc comment).
type Writer struct {
	mu    sync.Mutex
	state writerState

	version      Version
	sink         io.Writer
	offset       int64
	mountPoint   string
	pathHashSeed uint64

	method      CompressionMethod
	methodIndex uint8
	compression *CompressionRegistry

	key          []byte
	cipher       BlockCipher
	encryptIndex bool
	encryptFiles bool

	footer  Footer
	records []writerRecord
	deleted map[string]bool

	log *zap.Logger
}

type writerRecord struct {
	path  string
	entry Entry
}

// preparedFile is the CPU-bound result of compressing and (optionally)
// encrypting one file's payload, computed without touching the sink so it
// can run concurrently across files in WriteFiles.
type preparedFile struct {
	compressed       bool
	wireBlocks       [][]byte
	rawLens          []int
	uncompressedSize int64
	compressedSize   int64
	methodIndex      uint8
	payloadHash      [sha1Size]byte
	blockSizeNominal uint32
}

// WriteFile compresses, optionally encrypts, and writes one file's on-disk
// header followed by its payload to the archive. path is
// mount-relative; case is not significant (archives are looked up
// case-insensitively, spec §3), so it is stored and indexed lowercased.
func (w *Writer) WriteFile(path string, data []byte) error {
	return w.WriteFiles([]FileInput{{Path: path, Data: data}})
}

// WriteFiles is WriteFile for a batch: it compresses every input
// concurrently (via golang.org/x/sync/errgroup, one goroutine per file)
// and then commits them to the sink sequentially, in call order. This
// keeps archive layout deterministic (the sink only ever sees one
// ordering) while letting the CPU-bound compression step use multiple
// cores.
func (w *Writer) WriteFiles(inputs []FileInput) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateClosed || w.state == stateFinalizing {
		return ErrWriterFinalized
	}
	w.state = stateWritingFiles

	prepared := make([]preparedFile, len(inputs))
	var g errgroup.Group
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			p, err := w.prepareFile(in.Data)
			if err != nil {
				return fmt.Errorf("%s: %w", in.Path, err)
			}
			prepared[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, in := range inputs {
		if err := w.commitFile(strings.ToLower(in.Path), prepared[i]); err != nil {
			return fmt.Errorf("%s: %w", in.Path, err)
		}
	}
	return nil
}

// DeleteFile records a delete record for path: readers resolve it to
// InvalidLocation, masking the file from any lower-priority archive in the
// same mount. Requires Version.SupportsDeleteRecords.
func (w *Writer) DeleteFile(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.version.SupportsDeleteRecords() {
		return fmt.Errorf("%w: delete records require version >= %d", ErrFeatureUnsupported, VersionDeleteRecords)
	}
	if w.state == stateClosed || w.state == stateFinalizing {
		return ErrWriterFinalized
	}
	w.state = stateWritingFiles

	if w.deleted == nil {
		w.deleted = make(map[string]bool)
	}
	w.deleted[strings.ToLower(path)] = true
	return nil
}

// prepareFile compresses data into min(len(data), 64KiB) blocks (spec
// §4.4), encrypting and 16-byte-padding each block if the Writer was built
// with Encrypt. Empty files and files written with CompressionNone are
// stored as a single uncompressed (but still possibly encrypted) span.
func (w *Writer) prepareFile(data []byte) (preparedFile, error) {
	hash := sha1Sum(data)

	if w.method == CompressionNone || len(data) == 0 {
		wire := data
		if w.encryptFiles && len(data) > 0 {
			padded := make([]byte, align16(len(data)))
			copy(padded, data)
			ecbEncrypt(w.cipher, w.key, padded)
			wire = padded
		}
		return preparedFile{
			compressed:       false,
			wireBlocks:       [][]byte{wire},
			uncompressedSize: int64(len(data)),
			compressedSize:   int64(len(data)),
			payloadHash:      hash,
		}, nil
	}

	codec, err := w.compression.Get(w.method)
	if err != nil {
		return preparedFile{}, err
	}

	blockSize := 64 * 1024
	if len(data) < blockSize {
		blockSize = len(data)
	}

	var wireBlocks [][]byte
	var rawLens []int
	var compressedTotal int64
	for start := 0; start < len(data); start += blockSize {
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		comp, err := codec.Compress(data[start:end])
		if err != nil {
			return preparedFile{}, fmt.Errorf("compress block: %w", err)
		}
		rawLens = append(rawLens, len(comp))
		compressedTotal += int64(len(comp))

		wire := comp
		if w.encryptFiles {
			padded := make([]byte, align16(len(comp)))
			copy(padded, comp)
			ecbEncrypt(w.cipher, w.key, padded)
			wire = padded
		}
		wireBlocks = append(wireBlocks, wire)
	}

	return preparedFile{
		compressed:       true,
		wireBlocks:       wireBlocks,
		rawLens:          rawLens,
		uncompressedSize: int64(len(data)),
		compressedSize:   compressedTotal,
		methodIndex:      w.methodIndex,
		payloadHash:      hash,
		blockSizeNominal: uint32(blockSize),
	}, nil
}

// commitFile writes p's header and payload blocks to the sink at the
// Writer's current offset and appends the resulting Entry to w.records.
// Must be called sequentially (the caller holds w.mu and iterates inputs
// in order); concurrent calls would race on w.offset and interleave sink
// writes from different files.
func (w *Writer) commitFile(path string, p preparedFile) error {
	blockCount := len(p.rawLens)
	hdr := headerSize(w.version, blockCount, p.compressed, w.encryptFiles)

	entry := Entry{
		Offset:               w.offset,
		CompressedSize:       p.compressedSize,
		UncompressedSize:     p.uncompressedSize,
		Method:                p.methodIndex,
		Encrypted:             w.encryptFiles,
		PayloadHash:           p.payloadHash,
		CompressionBlockSize: p.blockSizeNominal,
	}

	if p.compressed {
		metaPos := blockOffsetBase(w.version, entry.Offset) + int64(hdr)
		entry.Blocks = make([]Block, len(p.rawLens))
		for i, l := range p.rawLens {
			entry.Blocks[i] = Block{Start: metaPos, End: metaPos + int64(l)}
			step := int64(l)
			if w.encryptFiles {
				step = int64(align16(l))
			}
			metaPos += step
		}
	}

	if err := entry.WriteFull(w.sink, w.version); err != nil {
		return err
	}
	w.offset += int64(hdr)

	for _, wire := range p.wireBlocks {
		if _, err := w.sink.Write(wire); err != nil {
			return err
		}
		w.offset += int64(len(wire))
	}

	w.records = append(w.records, writerRecord{path: path, entry: entry})
	return nil
}

// Close finalizes the archive: it builds the path-hash and full directory
// indexes (Version.SupportsPathHashIndex permitting), seals and writes
// them, then seals and writes the primary index and the footer, in that
// order (spec §4.2). Close is idempotent; calling it again after a
// successful Close is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateClosed {
		return nil
	}
	w.state = stateFinalizing

	sorted := append([]writerRecord(nil), w.records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].path < sorted[j].path })

	var blob bytes.Buffer
	var files []Entry
	locations := make(map[string]EntryLocation, len(sorted)+len(w.deleted))
	for _, rec := range sorted {
		e := rec.entry
		if e.Encodable(w.version) {
			off := uint32(blob.Len())
			if err := encodeEntry(&blob, w.version, e); err != nil {
				return fmt.Errorf("pak: encode entry %q: %w", rec.path, err)
			}
			locations[rec.path] = EncodedOffset(off)
		} else {
			idx := uint32(len(files))
			files = append(files, e)
			locations[rec.path] = ListIndex(idx)
			w.log.Debug("entry not encodable, placed in non-encodable files list", zap.String("path", rec.path))
		}
	}
	for path := range w.deleted {
		locations[path] = InvalidLocation
	}

	allPaths := make([]string, 0, len(locations))
	for p := range locations {
		allPaths = append(allPaths, p)
	}
	sort.Strings(allPaths)

	primary := PrimaryIndex{
		MountPoint:     w.mountPoint,
		PathHashSeed:   w.pathHashSeed,
		EncodedEntries: blob.Bytes(),
		Files:          files,
		EncodedCount:   int32(len(sorted) - len(files)),
	}

	if !w.version.SupportsPathHashIndex() {
		primary.LegacyPathIndex = make([]legacyPathEntry, 0, len(allPaths))
		for _, path := range allPaths {
			primary.LegacyPathIndex = append(primary.LegacyPathIndex, legacyPathEntry{Path: path, Location: locations[path]})
		}
	}

	if w.version.SupportsPathHashIndex() {
		var phi PathHashIndex
		for _, path := range allPaths {
			hash := pathHash(w.version, path, w.pathHashSeed)
			phi.Entries = append(phi.Entries, PathHashEntry{Hash: hash, Location: locations[path]})
		}

		fdi := FullDirectoryIndex{Directories: make(map[string]map[string]EntryLocation)}
		for _, path := range allPaths {
			dir, name := splitMountRelative(path)
			if fdi.Directories[dir] == nil {
				fdi.Directories[dir] = make(map[string]EntryLocation)
			}
			fdi.Directories[dir][name] = locations[path]
		}

		info, err := w.writeSealedSection(func(buf *bytes.Buffer) error { return writePathHashIndex(buf, phi) })
		if err != nil {
			return fmt.Errorf("pak: write path hash index: %w", err)
		}
		primary.PathHashIndexInfo = info

		info, err = w.writeSealedSection(func(buf *bytes.Buffer) error { return writeFullDirectoryIndex(buf, w.version, fdi) })
		if err != nil {
			return fmt.Errorf("pak: write full directory index: %w", err)
		}
		primary.FullDirectoryIndexInfo = info
	}

	var primaryBuf bytes.Buffer
	if err := writePrimaryIndex(&primaryBuf, w.version, primary); err != nil {
		return fmt.Errorf("pak: write primary index: %w", err)
	}
	sealed, digest, err := seal(primaryBuf.Bytes(), w.encryptIndex, w.cipher, w.key)
	if err != nil {
		return fmt.Errorf("pak: seal primary index: %w", err)
	}
	indexOffset := w.offset
	if _, err := w.sink.Write(sealed); err != nil {
		return err
	}
	w.offset += int64(len(sealed))

	w.footer.IndexOffset = indexOffset
	w.footer.IndexSize = int64(len(sealed))
	w.footer.IndexSHA1 = digest

	if err := WriteFooter(w.sink, w.footer); err != nil {
		return fmt.Errorf("pak: write footer: %w", err)
	}

	w.state = stateClosed
	return nil
}

// writeSealedSection serializes one index section via build, seals it
// (pad -> hash -> encrypt, per seal.go), writes it at the Writer's current
// offset, and returns the sectionInfo triplet the primary index records.
func (w *Writer) writeSealedSection(build func(*bytes.Buffer) error) (sectionInfo, error) {
	var buf bytes.Buffer
	if err := build(&buf); err != nil {
		return sectionInfo{}, err
	}
	sealed, digest, err := seal(buf.Bytes(), w.encryptIndex, w.cipher, w.key)
	if err != nil {
		return sectionInfo{}, err
	}
	offset := w.offset
	if _, err := w.sink.Write(sealed); err != nil {
		return sectionInfo{}, err
	}
	w.offset += int64(len(sealed))
	return sectionInfo{Present: true, Offset: offset, Size: int64(len(sealed)), SHA1: digest}, nil
}
