package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Block describes one compression unit of a file's payload: the byte range
// `[Start, End)` of its compressed bytes. Whether Start/End are absolute
// (from the start of the archive) or relative (from the start of the
// entry's on-disk record) depends on Version.RelativeChunkOffsets.
type Block struct {
	Start int64
	End   int64
}

// Size returns the number of compressed bytes the block occupies.
func (b Block) Size() int64 { return b.End - b.Start }

// Entry is the canonical in-memory representation of one file's metadata.
// It exists on the wire in three shapes (entry.go's three codecs): the
// full on-disk header written next to the payload, the index-resident form
// (same layout, hash zeroed), and the bit-packed encoded form carried
// inside the primary index. See spec §3 and §4.1.
type Entry struct {
	// Offset is the absolute byte offset of this entry's on-disk header.
	Offset int64

	CompressedSize   int64
	UncompressedSize int64

	// Method indexes into the archive's compression-method name table; 0
	// means the payload is stored uncompressed.
	Method uint8

	Encrypted bool
	Deleted   bool

	// PayloadHash is the SHA-1 of the uncompressed payload. Present only
	// in the on-disk full form; always zero in the index-resident form.
	PayloadHash [sha1Size]byte

	// Blocks is the block table. Empty for uncompressed entries. For a
	// single unencrypted compressed block it MAY be omitted on the wire
	// (see Encodable) because it is derivable from Offset/sizes.
	Blocks []Block

	// CompressionBlockSize is the nominal size, in bytes, of each block
	// before the final (possibly short) one. Per spec §4.4 this is
	// min(uncompressedSize, 64KiB), not always 64KiB.
	CompressionBlockSize uint32

	// Timestamp is only meaningful for VersionInitial archives.
	Timestamp int64
}

// Compressed reports whether the entry's payload is compressed at all.
func (e Entry) Compressed() bool { return e.Method != 0 }

// headerSize returns the exact byte length of the on-disk header (full or
// index-resident; both have identical length, only the hash bytes differ)
// for an entry with the given version, block count and flags. It does not
// need an Entry instance: header length depends only on these parameters,
// never on actual offset/size values, which is what makes it safe to
// compute before the payload is laid out.
func headerSize(v Version, blockCount int, compressed, encrypted bool) int {
	size := 8 + 8 + 8 // offset, compressed size, uncompressed size

	if v.HasCompressionEncryption() {
		if v.NamedCompressionMethods() {
			size++ // method: 1 byte
		} else {
			size += 4 // method: u32
		}
	}

	if v.HasTimestamp() {
		size += 8
	}

	size += sha1Size

	if compressed {
		size += 4 // block count
		size += blockCount * 16 // (start int64, end int64) per block
	}

	if v.HasCompressionEncryption() {
		size++ // encrypted: bool byte
	}

	if compressed {
		size += 4 // compression block size
	}

	_ = encrypted // kept for signature symmetry with encodability checks
	return size
}

// writeEntry serializes e's on-disk header to w. If index is true, the
// payload hash is zero-filled (the index-resident form never stores it);
// otherwise the real PayloadHash is written (the on-disk form next to the
// payload).
func writeEntry(w io.Writer, v Version, e Entry, index bool) error {
	if err := binary.Write(w, binary.LittleEndian, e.Offset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.CompressedSize); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.UncompressedSize); err != nil {
		return err
	}

	if v.HasCompressionEncryption() {
		if v.NamedCompressionMethods() {
			if err := binary.Write(w, binary.LittleEndian, e.Method); err != nil {
				return err
			}
		} else {
			if err := binary.Write(w, binary.LittleEndian, uint32(e.Method)); err != nil {
				return err
			}
		}
	}

	if v.HasTimestamp() {
		if err := binary.Write(w, binary.LittleEndian, e.Timestamp); err != nil {
			return err
		}
	}

	hash := e.PayloadHash
	if index {
		hash = [sha1Size]byte{}
	}
	if _, err := w.Write(hash[:]); err != nil {
		return err
	}

	if e.Compressed() {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Blocks))); err != nil {
			return err
		}
		for _, b := range e.Blocks {
			if err := binary.Write(w, binary.LittleEndian, b.Start); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, b.End); err != nil {
				return err
			}
		}
	}

	if v.HasCompressionEncryption() {
		var flag byte
		if e.Encrypted {
			flag = 1
		}
		if err := binary.Write(w, binary.LittleEndian, flag); err != nil {
			return err
		}
	}

	if e.Compressed() {
		if err := binary.Write(w, binary.LittleEndian, e.CompressionBlockSize); err != nil {
			return err
		}
	}

	return nil
}

// readEntry is the exact inverse of writeEntry.
func readEntry(r io.Reader, v Version) (Entry, error) {
	var e Entry

	if err := binary.Read(r, binary.LittleEndian, &e.Offset); err != nil {
		return Entry{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.CompressedSize); err != nil {
		return Entry{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.UncompressedSize); err != nil {
		return Entry{}, err
	}

	if v.HasCompressionEncryption() {
		if v.NamedCompressionMethods() {
			if err := binary.Read(r, binary.LittleEndian, &e.Method); err != nil {
				return Entry{}, err
			}
		} else {
			var m uint32
			if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
				return Entry{}, err
			}
			e.Method = uint8(m)
		}
	}

	if v.HasTimestamp() {
		if err := binary.Read(r, binary.LittleEndian, &e.Timestamp); err != nil {
			return Entry{}, err
		}
	}

	if _, err := io.ReadFull(r, e.PayloadHash[:]); err != nil {
		return Entry{}, err
	}

	if e.Compressed() {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return Entry{}, err
		}
		e.Blocks = make([]Block, count)
		for i := range e.Blocks {
			if err := binary.Read(r, binary.LittleEndian, &e.Blocks[i].Start); err != nil {
				return Entry{}, err
			}
			if err := binary.Read(r, binary.LittleEndian, &e.Blocks[i].End); err != nil {
				return Entry{}, err
			}
		}
	}

	if v.HasCompressionEncryption() {
		var flag byte
		if err := binary.Read(r, binary.LittleEndian, &flag); err != nil {
			return Entry{}, err
		}
		e.Encrypted = flag != 0
	}

	if e.Compressed() {
		if err := binary.Read(r, binary.LittleEndian, &e.CompressionBlockSize); err != nil {
			return Entry{}, err
		}
	}

	return e, nil
}

// WriteFull serializes e's full on-disk header (including its payload hash)
// to w, as written immediately before the file's payload bytes.
func (e Entry) WriteFull(w io.Writer, v Version) error { return writeEntry(w, v, e, false) }

// ReadEntryFull parses a full on-disk header from r.
func ReadEntryFull(r io.Reader, v Version) (Entry, error) { return readEntry(r, v) }

// WriteIndexRecord serializes e in its index-resident form: identical
// layout to WriteFull but with the payload hash zero-filled, since the
// primary index's non-encodable Files list never carries payload hashes.
func (e Entry) WriteIndexRecord(w io.Writer, v Version) error { return writeEntry(w, v, e, true) }

// ReadEntryIndexRecord parses an index-resident entry from r.
func ReadEntryIndexRecord(r io.Reader, v Version) (Entry, error) { return readEntry(r, v) }

// AbsoluteBlock returns block i's byte range as absolute offsets from the
// start of the archive, regardless of whether v stores block offsets
// relative to the entry (RelativeChunkOffsets) or absolute on the wire.
func (e Entry) AbsoluteBlock(v Version, i int) Block {
	b := e.Blocks[i]
	if v.RelativeChunkOffsets() {
		return Block{Start: e.Offset + b.Start, End: e.Offset + b.End}
	}
	return b
}

// blockOffsetBase returns the base offset block table entries are relative
// to, for version v and entry offset: 0 when the archive's format uses
// relative chunk offsets (>= VersionRelativeChunkOffsets), e.Offset
// otherwise. Getting this wrong makes every alignment and sentinel check in
// Encodable/encodeEntry/decodeEntry silently wrong (spec §9).
func blockOffsetBase(v Version, offset int64) int64 {
	if v.RelativeChunkOffsets() {
		return 0
	}
	return offset
}

// Encodable reports whether e can be represented in the primary index's
// bit-packed encoded form (spec §4.1's "Encodability"), as opposed to being
// pushed into the non-encodable Files list.
func (e Entry) Encodable(v Version) bool {
	if e.Method >= 64 || len(e.Blocks) >= 1<<16 {
		return false
	}

	hdr := headerSize(v, len(e.Blocks), e.Compressed(), e.Encrypted)
	base := blockOffsetBase(v, e.Offset)

	if !e.Compressed() {
		return true
	}

	if len(e.Blocks) == 0 {
		return false
	}

	first := e.Blocks[0]
	if first.Start != base+int64(hdr) {
		return false
	}

	for i := 0; i < len(e.Blocks)-1; i++ {
		gap := e.Blocks[i+1].Start - e.Blocks[i].Start
		want := e.Blocks[i].Size()
		if e.Encrypted {
			want = int64(align16(int(want)))
		}
		if gap != want {
			return false
		}
	}

	if len(e.Blocks) == 1 {
		last := e.Blocks[0]
		if last.Start+last.Size() != base+int64(hdr)+e.CompressedSize {
			return false
		}
	}

	return true
}

// blockSizeExponent packs a block size into the encoded header's 6-bit
// field as size/2048, or reports that the literal-size sentinel (0x3F) is
// required because the size is zero, not a multiple of 2048, or 63*2048 or
// larger.
func blockSizeExponent(size uint32) (exp uint8, literal bool) {
	if size == 0 || size%2048 != 0 {
		return 0x3F, true
	}
	v := size >> 11
	if v >= 0x3F {
		return 0x3F, true
	}
	return uint8(v), false
}

// blockSizeFromExponent is the inverse of blockSizeExponent for the
// non-literal case.
func blockSizeFromExponent(exp uint8) uint32 { return uint32(exp) << 11 }

// encodeEntry serializes e into the primary index's bit-packed encoded
// form, per spec §4.1. The caller must already have confirmed
// e.Encodable(v); encodeEntry does not re-check every precondition.
func encodeEntry(buf *bytes.Buffer, v Version, e Entry) error {
	var header uint32

	offsetFits := e.Offset >= 0 && e.Offset <= 0xFFFFFFFF
	uncompressedFits := e.UncompressedSize >= 0 && e.UncompressedSize <= 0xFFFFFFFF
	compressedFits := e.CompressedSize >= 0 && e.CompressedSize <= 0xFFFFFFFF

	if offsetFits {
		header |= 1 << 31
	}
	if uncompressedFits {
		header |= 1 << 30
	}
	if compressedFits {
		header |= 1 << 29
	}
	header |= uint32(e.Method&0x3F) << 23
	if e.Encrypted {
		header |= 1 << 22
	}
	header |= uint32(len(e.Blocks)&0xFFFF) << 6

	exp, literal := blockSizeExponent(e.CompressionBlockSize)
	header |= uint32(exp)

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return err
	}

	if literal {
		if err := binary.Write(buf, binary.LittleEndian, e.CompressionBlockSize); err != nil {
			return err
		}
	}

	if offsetFits {
		if err := binary.Write(buf, binary.LittleEndian, uint32(e.Offset)); err != nil {
			return err
		}
	} else {
		if err := binary.Write(buf, binary.LittleEndian, e.Offset); err != nil {
			return err
		}
	}

	if uncompressedFits {
		if err := binary.Write(buf, binary.LittleEndian, uint32(e.UncompressedSize)); err != nil {
			return err
		}
	} else {
		if err := binary.Write(buf, binary.LittleEndian, e.UncompressedSize); err != nil {
			return err
		}
	}

	if e.Compressed() {
		if compressedFits {
			if err := binary.Write(buf, binary.LittleEndian, uint32(e.CompressedSize)); err != nil {
				return err
			}
		} else {
			if err := binary.Write(buf, binary.LittleEndian, e.CompressedSize); err != nil {
				return err
			}
		}

		if len(e.Blocks) > 1 || (len(e.Blocks) == 1 && e.Encrypted) {
			for _, b := range e.Blocks {
				if err := binary.Write(buf, binary.LittleEndian, uint32(b.Size())); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// decodeEntry is the exact inverse of encodeEntry; it returns the decoded
// Entry (Deleted and PayloadHash are not recoverable from the encoded form
// alone and must be filled in by the caller from context).
func decodeEntry(r *bytes.Reader, v Version) (Entry, error) {
	var header uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return Entry{}, err
	}

	offsetFits := header&(1<<31) != 0
	uncompressedFits := header&(1<<30) != 0
	compressedFits := header&(1<<29) != 0
	method := uint8((header >> 23) & 0x3F)
	encrypted := header&(1<<22) != 0
	blockCount := int((header >> 6) & 0xFFFF)
	exp := uint8(header & 0x3F)

	var blockSize uint32
	if exp == 0x3F {
		if err := binary.Read(r, binary.LittleEndian, &blockSize); err != nil {
			return Entry{}, err
		}
	} else {
		blockSize = blockSizeFromExponent(exp)
	}

	var offset int64
	if offsetFits {
		var v32 uint32
		if err := binary.Read(r, binary.LittleEndian, &v32); err != nil {
			return Entry{}, err
		}
		offset = int64(v32)
	} else {
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return Entry{}, err
		}
	}

	var uncompressedSize int64
	if uncompressedFits {
		var v32 uint32
		if err := binary.Read(r, binary.LittleEndian, &v32); err != nil {
			return Entry{}, err
		}
		uncompressedSize = int64(v32)
	} else {
		if err := binary.Read(r, binary.LittleEndian, &uncompressedSize); err != nil {
			return Entry{}, err
		}
	}

	e := Entry{
		Offset:               offset,
		UncompressedSize:     uncompressedSize,
		CompressedSize:       uncompressedSize,
		Method:                method,
		Encrypted:             encrypted,
		CompressionBlockSize: blockSize,
	}

	if method != 0 {
		var compressedSize int64
		if compressedFits {
			var v32 uint32
			if err := binary.Read(r, binary.LittleEndian, &v32); err != nil {
				return Entry{}, err
			}
			compressedSize = int64(v32)
		} else {
			if err := binary.Read(r, binary.LittleEndian, &compressedSize); err != nil {
				return Entry{}, err
			}
		}
		e.CompressedSize = compressedSize

		hdr := headerSize(v, blockCount, true, encrypted)
		base := blockOffsetBase(v, offset)

		if blockCount > 1 || (blockCount == 1 && encrypted) {
			lens := make([]uint32, blockCount)
			for i := range lens {
				if err := binary.Read(r, binary.LittleEndian, &lens[i]); err != nil {
					return Entry{}, err
				}
			}
			start := base + int64(hdr)
			e.Blocks = make([]Block, blockCount)
			for i, l := range lens {
				end := start + int64(l)
				e.Blocks[i] = Block{Start: start, End: end}
				if encrypted {
					start += int64(align16(int(l)))
				} else {
					start = end
				}
			}
		} else if blockCount == 1 {
			start := base + int64(hdr)
			e.Blocks = []Block{{Start: start, End: start + compressedSize}}
		}
	}

	// The block layout above is reconstructed from the offset/blockOffsetBase
	// assumption alone (spec §9's cross-version subtlety); if that
	// reconstruction doesn't actually satisfy the same invariant encodeEntry
	// required before writing it, something upstream (a wrong version, a
	// corrupted offset) has been silently misread into a plausible-looking
	// but wrong Entry. Fail loudly instead.
	if !e.Encodable(v) {
		return Entry{}, fmt.Errorf("pak: entry at offset %d: %w", offset, ErrEncodeSentinelMismatch)
	}

	return e, nil
}

// encodedSize returns the exact number of bytes encodeEntry would write for
// e, without writing them to any caller-visible buffer.
func encodedSize(v Version, e Entry) (int, error) {
	var buf bytes.Buffer
	if err := encodeEntry(&buf, v, e); err != nil {
		return 0, fmt.Errorf("pak: size encoded entry: %w", err)
	}
	return buf.Len(), nil
}
