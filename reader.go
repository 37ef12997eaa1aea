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
)

// lockedReaderAt adapts an io.ReadSeeker into an io.ReaderAt by serializing
// every access behind mu: a .pak archive's underlying source is frequently
// a single os.File shared across concurrent Get calls, and ReadSeeker's
// seek-then-read pair is only atomic if nothing else can seek in between.
type lockedReaderAt struct {
	mu *sync.Mutex
	rs io.ReadSeeker
}

func (l *lockedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(l.rs, p)
}

// Reader opens and serves files out of a .pak archive. A Reader may be
// shared by multiple goroutines; every seek-then-read pair on the
// underlying source runs under one lock (lockedReaderAt), so reads from
// concurrent Get calls never interleave within a pair, the same
// seek-then-read discipline the teacher's MPQ reader uses around its own
// os.File.
type Reader struct {
	mu  sync.Mutex
	src io.ReadSeeker
	ra  *lockedReaderAt
	size int64

	footer  Footer
	primary PrimaryIndex
	phi     *PathHashIndex
	fdi     *FullDirectoryIndex
	legacy  []legacyPathEntry

	key     []byte
	keyring map[uuid.UUID][]byte
	cipher  BlockCipher

	compression *CompressionRegistry
	log         *zap.Logger
}

// ReaderOption configures Open.
type ReaderOption func(*Reader)

// WithKey supplies the single encryption key used for an encrypted index
// and/or encrypted file payloads. Required whenever the archive was built
// with encryption enabled and WithKeyring isn't used instead.
func WithKey(key []byte) ReaderOption {
	return func(r *Reader) { r.key = key }
}

// WithKeyring supplies a set of candidate keys keyed by the
// EncryptionKeyGUID a multi-key host might have used to seal this
// particular archive (spec §4.2, footer.EncryptionKeyGUID). Open resolves
// which key to use by looking up the footer's GUID in this map.
func WithKeyring(keys map[uuid.UUID][]byte) ReaderOption {
	return func(r *Reader) { r.keyring = keys }
}

// WithCipher overrides the default AESCipher block cipher, e.g. to plug in
// FallenDollCipher's caller-supplied implementation.
func WithCipher(c BlockCipher) ReaderOption {
	return func(r *Reader) { r.cipher = c }
}

// WithCompressionRegistry overrides the default NewCompressionRegistry(),
// e.g. to register an Oodle codec via RegisterOodle before opening.
func WithCompressionRegistry(reg *CompressionRegistry) ReaderOption {
	return func(r *Reader) { r.compression = reg }
}

// WithLogger attaches a zap logger for diagnostics: a primary-index parse
// retry and a path-hash or full directory index that could not be read are
// logged at Warn rather than surfaced as errors. PHI/FDI disagreements are
// reported as errors by VerifyIndex, not logged.
func WithLogger(log *zap.Logger) ReaderOption {
	return func(r *Reader) { r.log = log }
}

// Open discovers the footer, reads and validates the primary index (and the
// path-hash/full-directory indexes, if present), and returns a Reader ready
// to serve Get/Files calls. src must support both Seek and Read; Open finds
// its full length via Seek(0, io.SeekEnd), and every later read seeks to its
// own absolute offset first.
func Open(src io.ReadSeeker, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		src:         src,
		cipher:      AESCipher,
		compression: NewCompressionRegistry(),
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("pak: determine archive size: %w", err)
	}
	r.size = size
	r.ra = &lockedReaderAt{mu: &r.mu, rs: src}

	footer, err := DiscoverFooter(r.ra, size)
	if err != nil {
		return nil, err
	}
	r.footer = footer

	key, err := r.resolveKey()
	if err != nil && footer.EncryptedIndex {
		return nil, err
	}

	primary, err := readIndexSection(r, footer.IndexOffset, footer.IndexSize, footer.IndexSHA1, key, parsePrimaryIndex)
	if err != nil {
		r.log.Warn("primary index parse failed, retrying once", zap.Error(err))
		primary, err = readIndexSection(r, footer.IndexOffset, footer.IndexSize, footer.IndexSHA1, key, parsePrimaryIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPakIndex, err)
		}
	}
	r.primary = primary

	if !footer.Version.SupportsPathHashIndex() {
		r.legacy = primary.LegacyPathIndex
	}

	if primary.PathHashIndexInfo.Present {
		info := primary.PathHashIndexInfo
		phi, err := readIndexSection(r, info.Offset, info.Size, info.SHA1, key, func(br *bytes.Reader, _ Version) (PathHashIndex, error) {
			return parsePathHashIndex(br)
		})
		if err != nil {
			r.log.Warn("path-hash index unavailable, falling back to full directory index", zap.Error(err))
		} else {
			r.phi = &phi
		}
	}

	if primary.FullDirectoryIndexInfo.Present {
		info := primary.FullDirectoryIndexInfo
		fdi, err := readIndexSection(r, info.Offset, info.Size, info.SHA1, key, parseFullDirectoryIndex)
		if err != nil {
			r.log.Warn("full directory index unavailable, Files() will be unavailable", zap.Error(err))
		} else {
			r.fdi = &fdi
		}
	}

	return r, nil
}

// resolveKey picks the encryption key to use: the explicit WithKey value if
// set, otherwise a WithKeyring lookup by the footer's EncryptionKeyGUID.
func (r *Reader) resolveKey() ([]byte, error) {
	if r.key != nil {
		return r.key, nil
	}
	if r.keyring != nil {
		if k, ok := r.keyring[r.footer.EncryptionKeyGUID]; ok {
			return k, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyGUID, r.footer.EncryptionKeyGUID)
	}
	return nil, nil
}

// readIndexSection reads, unseals and parses one sealed index section
// (primary index, PHI, or FDI) at the given offset/size/expected-digest.
func readIndexSection[T any](r *Reader, offset, size int64, want [sha1Size]byte, key []byte, parse func(*bytes.Reader, Version) (T, error)) (T, error) {
	var zero T
	buf := make([]byte, size)
	if _, err := r.ra.ReadAt(buf, offset); err != nil {
		return zero, err
	}
	plain, err := unseal(buf, r.footer.EncryptedIndex, r.cipher, key, want)
	if err != nil {
		return zero, err
	}
	return parse(bytes.NewReader(plain), r.footer.Version)
}

// MountPoint returns the archive's mount point, as written by the writer
// (spec §6); paths returned by Files are relative to it.
func (r *Reader) MountPoint() string { return r.primary.MountPoint }

// Version reports the archive's on-disk format version.
func (r *Reader) Version() Version { return r.footer.Version }

// Files enumerates every non-deleted file's mount-relative path. It reads
// the full directory index when present (Version >= 10, spec §4.3) and the
// legacy flat path index for older archives. For a Version >= 10 archive
// whose FDI failed to parse it returns ErrFeatureUnsupported, since the
// path-hash index alone cannot recover original path strings.
func (r *Reader) Files() ([]string, error) {
	if r.fdi == nil {
		if r.legacy != nil {
			paths := make([]string, 0, len(r.legacy))
			for _, e := range r.legacy {
				if e.Location.IsInvalid() {
					continue // delete record
				}
				paths = append(paths, e.Path)
			}
			return paths, nil
		}
		return nil, fmt.Errorf("%w: archive has no full directory index, enumeration unavailable by path", ErrFeatureUnsupported)
	}

	dirs := make([]string, 0, len(r.fdi.Directories))
	for d := range r.fdi.Directories {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var paths []string
	for _, dir := range dirs {
		names := make([]string, 0, len(r.fdi.Directories[dir]))
		for n := range r.fdi.Directories[dir] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, name := range names {
			loc := r.fdi.Directories[dir][name]
			if loc.IsInvalid() {
				continue // delete record
			}
			paths = append(paths, joinMountRelative(dir, name))
		}
	}
	return paths, nil
}

func joinMountRelative(dir, name string) string {
	if dir == "/" {
		return name
	}
	return dir + name
}

// locate resolves path to its EntryLocation, preferring the path-hash index
// (O(1), spec §4.3) and falling back to a full directory index lookup when
// no PHI is present.
func (r *Reader) locate(path string) (EntryLocation, error) {
	path = strings.ToLower(path)

	if r.phi != nil {
		hash := pathHash(r.footer.Version, path, r.primary.PathHashSeed)
		if loc, ok := r.phi.Lookup(hash); ok {
			return loc, nil
		}
		return EntryLocation{}, ErrFileNotFound
	}

	if r.fdi != nil {
		dir, name := splitMountRelative(path)
		if files, ok := r.fdi.Directories[dir]; ok {
			if loc, ok := files[name]; ok {
				return loc, nil
			}
		}
		return EntryLocation{}, ErrFileNotFound
	}

	if r.legacy != nil {
		i := sort.Search(len(r.legacy), func(i int) bool { return r.legacy[i].Path >= path })
		if i < len(r.legacy) && r.legacy[i].Path == path {
			return r.legacy[i].Location, nil
		}
		return EntryLocation{}, ErrFileNotFound
	}

	return EntryLocation{}, fmt.Errorf("%w: archive has neither a path-hash index nor a full directory index", ErrFeatureUnsupported)
}

func splitMountRelative(path string) (dir, name string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "/", path
	}
	return path[:i+1], path[i+1:]
}

// Get reads and returns the decompressed, decrypted, hash-verified payload
// of the file at path (mount-relative, case-insensitive per spec §3).
func (r *Reader) Get(path string) ([]byte, error) {
	loc, err := r.locate(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	entry, err := r.primary.EntryAt(loc, r.footer.Version)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	key, err := r.resolveKey()
	if err != nil && entry.Encrypted {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	full, err := r.readFullHeader(entry, path)
	if err != nil {
		return nil, err
	}

	payload, err := r.readPayload(full, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	got := sha1Sum(payload)
	if got != full.PayloadHash {
		return nil, fmt.Errorf("%s: %w", path, ErrPayloadHashMismatch)
	}

	return payload, nil
}

// readFullHeader re-reads the authoritative on-disk header directly from
// the archive at entry.Offset. The index-resident Entry carries everything
// needed to locate and size the payload, but never the payload hash (spec
// §4.1); readFullHeader recovers that one extra field.
func (r *Reader) readFullHeader(entry Entry, path string) (Entry, error) {
	hdrLen := headerSize(r.footer.Version, len(entry.Blocks), entry.Compressed(), entry.Encrypted)
	buf := make([]byte, hdrLen)
	if _, err := r.ra.ReadAt(buf, entry.Offset); err != nil {
		return Entry{}, fmt.Errorf("%s: %w", path, err)
	}
	full, err := ReadEntryFull(bytes.NewReader(buf), r.footer.Version)
	if err != nil {
		return Entry{}, fmt.Errorf("%s: %w: %v", path, ErrCorruptPakIndex, err)
	}
	full.Blocks = entry.Blocks
	return full, nil
}

// readPayload reads every block of entry's payload, decrypting and
// decompressing each in turn, and concatenates them in order.
func (r *Reader) readPayload(entry Entry, key []byte) ([]byte, error) {
	hdrLen := headerSize(r.footer.Version, len(entry.Blocks), entry.Compressed(), entry.Encrypted)
	payloadStart := entry.Offset + int64(hdrLen)

	blocks := entry.Blocks
	if len(blocks) == 0 {
		blocks = []Block{{Start: payloadStart, End: payloadStart + entry.CompressedSize}}
	}

	var codec Compressor
	if entry.Compressed() {
		method, err := r.footer.methodName(entry.Method)
		if err != nil {
			return nil, err
		}
		codec, err = r.compression.Get(method)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, entry.UncompressedSize)
	remaining := entry.UncompressedSize
	blockSize := int64(entry.CompressionBlockSize)
	if blockSize == 0 {
		blockSize = remaining
	}

	for i, b := range blocks {
		abs := b
		if len(entry.Blocks) > 0 {
			abs = entry.AbsoluteBlock(r.footer.Version, i)
		}

		rawLen := abs.Size()
		diskLen := rawLen
		if entry.Encrypted {
			diskLen = int64(align16(int(rawLen)))
		}

		compressed := make([]byte, diskLen)
		if _, err := r.ra.ReadAt(compressed, abs.Start); err != nil {
			return nil, err
		}

		if entry.Encrypted {
			if key == nil {
				return nil, ErrKeyRequired
			}
			if diskLen%blockAlignment != 0 {
				return nil, fmt.Errorf("%w: block not aligned", ErrBlockDecryptionFailed)
			}
			ecbDecrypt(r.cipher, key, compressed)
			compressed = compressed[:rawLen]
		}

		uncompressedWant := blockSize
		if remaining < uncompressedWant {
			uncompressedWant = remaining
		}
		remaining -= uncompressedWant

		if !entry.Compressed() {
			out = append(out, compressed...)
			continue
		}

		plain, err := codec.Decompress(compressed, int(uncompressedWant))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlockDecompressionFailed, err)
		}
		out = append(out, plain...)
	}

	return out, nil
}

// VerifyIndex cross-checks the path-hash index against the full directory
// index (when both are present), reporting the first disagreement found.
// Section digests are checked once, by Open; this does not touch file
// payloads, whose SHA-1 is checked by Get.
func (r *Reader) VerifyIndex() error {
	if r.phi == nil || r.fdi == nil {
		return nil // nothing to cross-validate
	}

	for dir, files := range r.fdi.Directories {
		for name, wantLoc := range files {
			path := strings.ToLower(joinMountRelative(dir, name))
			hash := pathHash(r.footer.Version, path, r.primary.PathHashSeed)
			gotLoc, ok := r.phi.Lookup(hash)
			if !ok {
				return fmt.Errorf("%w: %q present in full directory index but missing from path-hash index", ErrCorruptPakIndex, path)
			}
			if gotLoc != wantLoc && !(gotLoc.IsInvalid() && wantLoc.IsInvalid()) {
				return fmt.Errorf("%w: %q resolves to different entries in path-hash vs full directory index", ErrCorruptPakIndex, path)
			}
		}
	}
	return nil
}

// HashList returns every non-deleted file's mount-relative path paired with
// its payload SHA-1, read straight out of each entry's on-disk header
// without touching the payload bytes themselves. This is the supplemented
// "hash-list" inspection mode from SPEC_FULL.md §4.8.
func (r *Reader) HashList() (map[string][20]byte, error) {
	paths, err := r.Files()
	if err != nil {
		return nil, err
	}

	out := make(map[string][20]byte, len(paths))
	for _, path := range paths {
		loc, err := r.locate(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		entry, err := r.primary.EntryAt(loc, r.footer.Version)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		full, err := r.readFullHeader(entry, path)
		if err != nil {
			return nil, err
		}
		out[path] = full.PayloadHash
	}
	return out, nil
}

// Info summarizes the archive for the "info" CLI subcommand (SPEC_FULL.md
// §4.8): version, mount point, file count, and which optional index
// sections were present.
type Info struct {
	Version               Version
	MountPoint            string
	FileCount             int
	EncryptedIndex        bool
	HasPathHashIndex      bool
	HasFullDirectoryIndex bool
	CompressionMethods    []CompressionMethod
}

// Info returns a summary of the opened archive.
func (r *Reader) Info() Info {
	return Info{
		Version:               r.footer.Version,
		MountPoint:            r.primary.MountPoint,
		FileCount:             int(r.primary.EncodedCount) + len(r.primary.Files),
		EncryptedIndex:        r.footer.EncryptedIndex,
		HasPathHashIndex:      r.phi != nil,
		HasFullDirectoryIndex: r.fdi != nil,
		CompressionMethods:    r.footer.CompressionMethods,
	}
}
