package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Footer is the trailing, fixed-format part of a .pak archive that a reader
// discovers first and uses to locate everything else. Its exact byte
// length is a pure function of Version (Version.FooterSize).
type Footer struct {
	Version Version

	// IndexOffset and IndexSize locate the primary index's bytes.
	IndexOffset int64
	IndexSize   int64

	// IndexSHA1 is the SHA-1 of the primary index's padded plaintext: taken
	// after zero-padding and before encryption (the seal order in seal.go),
	// not of the unpadded plaintext.
	IndexSHA1 [sha1Size]byte

	// EncryptionKeyGUID identifies which key was used, for hosts that
	// hold more than one. Only present for Version >= 7.
	EncryptionKeyGUID uuid.UUID

	// EncryptedIndex reports whether the primary/PHI/FDI sections are
	// encrypted. Only meaningful for Version >= 4.
	EncryptedIndex bool

	// CompressionMethods is the ordered name table; index 0 is implicitly
	// "None" and is never stored here. Index i (1-based) in an Entry's
	// Method field (i == 0 means none) resolves to CompressionMethods[i-1].
	CompressionMethods []CompressionMethod
}

// WriteFooter serializes f to w, using the field layout and size specified
// by f.Version (spec §6). The caller is responsible for having already
// written the index bytes the footer describes.
func WriteFooter(w io.Writer, f Footer) error {
	v := f.Version
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	if v.HasEncryptionKeyGUID() {
		guidBytes, err := f.EncryptionKeyGUID.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := w.Write(guidBytes); err != nil {
			return err
		}
	}

	if v.SupportsIndexEncryption() {
		var flag byte
		if f.EncryptedIndex {
			flag = 1
		}
		if err := binary.Write(w, binary.LittleEndian, flag); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(v)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.IndexOffset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.IndexSize); err != nil {
		return err
	}
	if _, err := w.Write(f.IndexSHA1[:]); err != nil {
		return err
	}

	if v.Frozen() {
		var reserved [frozenIndexReservedSize]byte
		if _, err := w.Write(reserved[:]); err != nil {
			return err
		}
	}

	slots := v.compressionNameSlots()
	for i := 0; i < slots; i++ {
		var name [compressionNameSlotSize]byte
		if i < len(f.CompressionMethods) {
			copy(name[:], f.CompressionMethods[i])
		}
		if _, err := w.Write(name[:]); err != nil {
			return err
		}
	}

	return nil
}

// ReadFooterAt reads and parses the footer for version v out of the last
// v.FooterSize() bytes of the archive represented by r, whose total length
// is size. It does not itself try other versions; DiscoverFooter does.
func ReadFooterAt(r io.ReaderAt, size int64, v Version) (Footer, error) {
	footerSize := int64(v.FooterSize())
	if footerSize > size {
		return Footer{}, fmt.Errorf("%w: archive shorter than footer", ErrCorruptPakIndex)
	}

	buf := make([]byte, footerSize)
	if _, err := r.ReadAt(buf, size-footerSize); err != nil {
		return Footer{}, err
	}

	return parseFooter(bytes.NewReader(buf), v)
}

func parseFooter(r *bytes.Reader, v Version) (Footer, error) {
	f := Footer{Version: v}

	if v.HasEncryptionKeyGUID() {
		var guidBytes [guidSize]byte
		if _, err := io.ReadFull(r, guidBytes[:]); err != nil {
			return Footer{}, err
		}
		id, err := uuid.FromBytes(guidBytes[:])
		if err != nil {
			return Footer{}, fmt.Errorf("%w: %v", ErrCorruptPakIndex, err)
		}
		f.EncryptionKeyGUID = id
	}

	if v.SupportsIndexEncryption() {
		var flag byte
		if err := binary.Read(r, binary.LittleEndian, &flag); err != nil {
			return Footer{}, err
		}
		f.EncryptedIndex = flag != 0
	}

	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return Footer{}, err
	}
	if gotMagic != magic {
		return Footer{}, ErrBadMagic
	}

	var gotVersion uint32
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return Footer{}, err
	}
	if Version(gotVersion) != v {
		return Footer{}, fmt.Errorf("%w: footer claims version %d, expected %d", ErrUnsupportedVersion, gotVersion, v)
	}

	if err := binary.Read(r, binary.LittleEndian, &f.IndexOffset); err != nil {
		return Footer{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.IndexSize); err != nil {
		return Footer{}, err
	}
	if f.IndexOffset < 0 || f.IndexSize < 0 {
		return Footer{}, fmt.Errorf("%w: negative index offset/size", ErrCorruptPakIndex)
	}
	if _, err := io.ReadFull(r, f.IndexSHA1[:]); err != nil {
		return Footer{}, err
	}

	if v.Frozen() {
		var reserved [frozenIndexReservedSize]byte
		if _, err := io.ReadFull(r, reserved[:]); err != nil {
			return Footer{}, err
		}
	}

	slots := v.compressionNameSlots()
	for i := 0; i < slots; i++ {
		var name [compressionNameSlotSize]byte
		if _, err := io.ReadFull(r, name[:]); err != nil {
			return Footer{}, err
		}
		end := bytes.IndexByte(name[:], 0)
		if end == 0 {
			break // empty slot terminates the table, per spec §6
		}
		if end < 0 {
			end = len(name)
		}
		f.CompressionMethods = append(f.CompressionMethods, CompressionMethod(name[:end]))
	}

	return f, nil
}

// DiscoverFooter tries versions from VersionLatest down to VersionInitial,
// returning the first one whose magic matches and whose offsets are
// in-bounds, per spec §4.2's read sequence. size is the total archive
// length in bytes.
func DiscoverFooter(r io.ReaderAt, size int64) (Footer, error) {
	var lastErr error
	for v := VersionLatest; v >= VersionInitial; v-- {
		f, err := ReadFooterAt(r, size, v)
		if err != nil {
			lastErr = err
			continue
		}
		if f.IndexOffset+f.IndexSize > size {
			lastErr = fmt.Errorf("%w: index extends past end of file", ErrCorruptPakIndex)
			continue
		}
		return f, nil
	}
	if lastErr == nil {
		lastErr = ErrBadMagic
	}
	return Footer{}, fmt.Errorf("%w: %v", ErrBadMagic, lastErr)
}

// methodIndex resolves a CompressionMethod to the 1-based index used by
// Entry.Method, registering it in f.CompressionMethods if not already
// present. Returns an error if the name table is full (spec allows up to 5
// slots).
func (f *Footer) methodIndex(m CompressionMethod) (uint8, error) {
	if m == CompressionNone {
		return 0, nil
	}
	for i, existing := range f.CompressionMethods {
		if existing == m {
			return uint8(i + 1), nil
		}
	}
	slots := f.Version.compressionNameSlots()
	if len(f.CompressionMethods) >= slots {
		return 0, fmt.Errorf("pak: compression method name table full (max %d slots)", slots)
	}
	f.CompressionMethods = append(f.CompressionMethods, m)
	return uint8(len(f.CompressionMethods)), nil
}

// methodName resolves an Entry.Method index back to its CompressionMethod
// name.
func (f *Footer) methodName(index uint8) (CompressionMethod, error) {
	if index == 0 {
		return CompressionNone, nil
	}
	i := int(index) - 1
	if i < 0 || i >= len(f.CompressionMethods) {
		return "", fmt.Errorf("%w: index %d", ErrUnknownCompressionMethod, index)
	}
	return f.CompressionMethods[i], nil
}
