package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// locationKind tags which variant of the EntryLocation sum type is present
// on the wire.
type locationKind uint8

const (
	locationEncodedOffset locationKind = iota
	locationListIndex
	locationInvalid
)

// EntryLocation points at where an Entry's metadata actually lives: an
// offset into the primary index's encoded-entries blob, an index into its
// non-encodable Files list, or nowhere at all (a delete record).
type EntryLocation struct {
	kind  locationKind
	value uint32
}

// EncodedOffset constructs an EntryLocation pointing into the encoded
// blob.
func EncodedOffset(off uint32) EntryLocation { return EntryLocation{kind: locationEncodedOffset, value: off} }

// ListIndex constructs an EntryLocation pointing into the non-encodable
// Files list.
func ListIndex(i uint32) EntryLocation { return EntryLocation{kind: locationListIndex, value: i} }

// InvalidLocation is the location of a delete record.
var InvalidLocation = EntryLocation{kind: locationInvalid}

// IsInvalid reports whether loc marks a delete record.
func (loc EntryLocation) IsInvalid() bool { return loc.kind == locationInvalid }

func writeEntryLocation(w io.Writer, loc EntryLocation) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(loc.kind)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, loc.value)
}

func readEntryLocation(r io.Reader) (EntryLocation, error) {
	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return EntryLocation{}, err
	}
	var value uint32
	if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
		return EntryLocation{}, err
	}
	if kind > uint8(locationInvalid) {
		return EntryLocation{}, fmt.Errorf("%w: unknown entry location kind %d", ErrCorruptPakIndex, kind)
	}
	return EntryLocation{kind: locationKind(kind), value: value}, nil
}

// sectionInfo is the optional `{offset, size, sha1}` triplet the primary
// index carries for the path-hash index and the full directory index.
type sectionInfo struct {
	Present bool
	Offset  int64
	Size    int64
	SHA1    [sha1Size]byte
}

func writeSectionInfo(w io.Writer, s sectionInfo) error {
	var present byte
	if s.Present {
		present = 1
	}
	if err := binary.Write(w, binary.LittleEndian, present); err != nil {
		return err
	}
	if !s.Present {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, s.Offset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Size); err != nil {
		return err
	}
	_, err := w.Write(s.SHA1[:])
	return err
}

func readSectionInfo(r io.Reader) (sectionInfo, error) {
	var present byte
	if err := binary.Read(r, binary.LittleEndian, &present); err != nil {
		return sectionInfo{}, err
	}
	var s sectionInfo
	s.Present = present != 0
	if !s.Present {
		return s, nil
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Offset); err != nil {
		return sectionInfo{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Size); err != nil {
		return sectionInfo{}, err
	}
	if _, err := io.ReadFull(r, s.SHA1[:]); err != nil {
		return sectionInfo{}, err
	}
	return s, nil
}

// legacyPathEntry is one record of the flat path index carried by archives
// older than VersionPathHashIndex, which predate the path-hash/full-directory
// index split: a plain `path -> location` list, sorted the same way the PHI
// and FDI would be, since nothing else in a pre-v10 primary index can
// recover a path string from an Entry.
type legacyPathEntry struct {
	Path     string
	Location EntryLocation
}

func writeLegacyPathIndex(w io.Writer, v Version, entries []legacyPathEntry) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeString(w, v, e.Path); err != nil {
			return err
		}
		if err := writeEntryLocation(w, e.Location); err != nil {
			return err
		}
	}
	return nil
}

func parseLegacyPathIndex(r *bytes.Reader, v Version) ([]legacyPathEntry, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]legacyPathEntry, count)
	for i := range entries {
		path, err := readString(r, v)
		if err != nil {
			return nil, err
		}
		loc, err := readEntryLocation(r)
		if err != nil {
			return nil, err
		}
		entries[i] = legacyPathEntry{Path: path, Location: loc}
	}
	return entries, nil
}

// PrimaryIndex is the small top-level metadata block the footer points at.
// Its EncodedEntries blob and Files list together hold every Entry in the
// archive; PathHashIndex and FullDirectoryIndex are optional accelerants
// built from the same data (spec §3, §4.2), available for Version >=
// VersionPathHashIndex. Earlier versions carry LegacyPathIndex instead,
// since they have no other way to resolve a path string to its Entry.
type PrimaryIndex struct {
	MountPoint   string
	PathHashSeed uint64

	PathHashIndexInfo      sectionInfo
	FullDirectoryIndexInfo sectionInfo

	// LegacyPathIndex is populated only for Version < VersionPathHashIndex:
	// a flat, path-sorted `path -> location` list standing in for the PHI
	// and FDI those versions don't carry.
	LegacyPathIndex []legacyPathEntry

	// EncodedEntries is the bit-packed blob of encodable entries (entry.go).
	EncodedEntries []byte

	// Files holds entries that did not qualify for the encoded form
	// (entry.Encodable returned false); EntryLocation.ListIndex indexes
	// into this slice in index-resident form (entry.go's writeEntry with
	// index=true).
	Files []Entry

	// EncodedCount is the number of entries represented in EncodedEntries.
	// The wire's entry count field is EncodedCount + len(Files); callers
	// building a fresh index set this explicitly (writer.go), callers
	// parsing one get it back out of the wire count.
	EncodedCount int32
}

// EntryAt resolves loc to its Entry, decoding from the encoded blob or
// indexing into Files as needed.
func (p *PrimaryIndex) EntryAt(loc EntryLocation, v Version) (Entry, error) {
	switch loc.kind {
	case locationEncodedOffset:
		if int(loc.value) >= len(p.EncodedEntries) {
			return Entry{}, fmt.Errorf("%w: encoded offset out of range", ErrCorruptPakIndex)
		}
		r := bytes.NewReader(p.EncodedEntries[loc.value:])
		return decodeEntry(r, v)
	case locationListIndex:
		if int(loc.value) >= len(p.Files) {
			return Entry{}, fmt.Errorf("%w: list index out of range", ErrCorruptPakIndex)
		}
		return p.Files[loc.value], nil
	default:
		return Entry{}, fmt.Errorf("%w: entry is a delete record", ErrFileNotFound)
	}
}

// writePrimaryIndex serializes the scalar layout spec §4.2 describes:
// mount point, entry count, seed, the two optional section-info
// triplets, the encoded-entries blob, and the non-encodable Files list.
func writePrimaryIndex(w io.Writer, v Version, p PrimaryIndex) error {
	if err := writeString(w, v, p.MountPoint); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, p.EncodedCount+int32(len(p.Files))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, p.PathHashSeed); err != nil {
		return err
	}

	if v.SupportsPathHashIndex() {
		if err := writeSectionInfo(w, p.PathHashIndexInfo); err != nil {
			return err
		}
		if err := writeSectionInfo(w, p.FullDirectoryIndexInfo); err != nil {
			return err
		}
	} else {
		if err := writeLegacyPathIndex(w, v, p.LegacyPathIndex); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.EncodedEntries))); err != nil {
		return err
	}
	if _, err := w.Write(p.EncodedEntries); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(p.Files))); err != nil {
		return err
	}
	for _, e := range p.Files {
		if err := e.WriteIndexRecord(w, v); err != nil {
			return err
		}
	}

	return nil
}

func parsePrimaryIndex(r *bytes.Reader, v Version) (PrimaryIndex, error) {
	var p PrimaryIndex

	mount, err := readString(r, v)
	if err != nil {
		return PrimaryIndex{}, err
	}
	if len(mount) > 65535 {
		return PrimaryIndex{}, ErrMountPointTooLong
	}
	p.MountPoint = mount

	var entryCount int32
	if err := binary.Read(r, binary.LittleEndian, &entryCount); err != nil {
		return PrimaryIndex{}, err
	}
	if entryCount < 0 {
		return PrimaryIndex{}, ErrInvalidEntryCount
	}

	if err := binary.Read(r, binary.LittleEndian, &p.PathHashSeed); err != nil {
		return PrimaryIndex{}, err
	}

	if v.SupportsPathHashIndex() {
		if p.PathHashIndexInfo, err = readSectionInfo(r); err != nil {
			return PrimaryIndex{}, err
		}
		if p.FullDirectoryIndexInfo, err = readSectionInfo(r); err != nil {
			return PrimaryIndex{}, err
		}
	} else {
		if p.LegacyPathIndex, err = parseLegacyPathIndex(r, v); err != nil {
			return PrimaryIndex{}, err
		}
	}

	var encodedLen uint32
	if err := binary.Read(r, binary.LittleEndian, &encodedLen); err != nil {
		return PrimaryIndex{}, err
	}
	p.EncodedEntries = make([]byte, encodedLen)
	if _, err := io.ReadFull(r, p.EncodedEntries); err != nil {
		return PrimaryIndex{}, err
	}

	var fileCount int32
	if err := binary.Read(r, binary.LittleEndian, &fileCount); err != nil {
		return PrimaryIndex{}, err
	}
	if fileCount < 0 {
		return PrimaryIndex{}, ErrInvalidEntryCount
	}
	p.Files = make([]Entry, fileCount)
	for i := range p.Files {
		e, err := ReadEntryIndexRecord(r, v)
		if err != nil {
			return PrimaryIndex{}, err
		}
		p.Files[i] = e
	}
	p.EncodedCount = entryCount - fileCount

	return p, nil
}

// PathHashEntry is one record of the path-hash index: a path hash paired
// with where its Entry lives.
type PathHashEntry struct {
	Hash     uint64
	Location EntryLocation
}

// PathHashIndex is the `fnv64 -> entry_location` accelerant, built for
// O(1) lookup without needing the original path string at read time.
type PathHashIndex struct {
	Entries []PathHashEntry

	byHash map[uint64]EntryLocation // lazily built by Lookup
}

// Lookup resolves hash to its EntryLocation.
func (p *PathHashIndex) Lookup(hash uint64) (EntryLocation, bool) {
	if p.byHash == nil {
		p.byHash = make(map[uint64]EntryLocation, len(p.Entries))
		for _, e := range p.Entries {
			p.byHash[e.Hash] = e.Location
		}
	}
	loc, ok := p.byHash[hash]
	return loc, ok
}

func writePathHashIndex(w io.Writer, idx PathHashIndex) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(idx.Entries))); err != nil {
		return err
	}
	for _, e := range idx.Entries {
		if err := binary.Write(w, binary.LittleEndian, e.Hash); err != nil {
			return err
		}
		if err := writeEntryLocation(w, e.Location); err != nil {
			return err
		}
	}
	return nil
}

func parsePathHashIndex(r *bytes.Reader) (PathHashIndex, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return PathHashIndex{}, err
	}
	idx := PathHashIndex{Entries: make([]PathHashEntry, count)}
	for i := range idx.Entries {
		if err := binary.Read(r, binary.LittleEndian, &idx.Entries[i].Hash); err != nil {
			return PathHashIndex{}, err
		}
		loc, err := readEntryLocation(r)
		if err != nil {
			return PathHashIndex{}, err
		}
		idx.Entries[i].Location = loc
	}
	return idx, nil
}

// FullDirectoryIndex is the nested `directory -> filename -> location` map
// that supports enumeration (spec GLOSSARY, FDI). Directory paths are
// mount-relative and end with '/'; the root directory is "/".
type FullDirectoryIndex struct {
	Directories map[string]map[string]EntryLocation
}

func writeFullDirectoryIndex(w io.Writer, v Version, idx FullDirectoryIndex) error {
	dirs := make([]string, 0, len(idx.Directories))
	for d := range idx.Directories {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	if err := binary.Write(w, binary.LittleEndian, uint32(len(dirs))); err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := writeString(w, v, dir); err != nil {
			return err
		}
		files := idx.Directories[dir]
		names := make([]string, 0, len(files))
		for n := range files {
			names = append(names, n)
		}
		sort.Strings(names)

		if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
			return err
		}
		for _, name := range names {
			if err := writeString(w, v, name); err != nil {
				return err
			}
			if err := writeEntryLocation(w, files[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseFullDirectoryIndex(r *bytes.Reader, v Version) (FullDirectoryIndex, error) {
	var dirCount uint32
	if err := binary.Read(r, binary.LittleEndian, &dirCount); err != nil {
		return FullDirectoryIndex{}, err
	}
	idx := FullDirectoryIndex{Directories: make(map[string]map[string]EntryLocation, dirCount)}
	for i := uint32(0); i < dirCount; i++ {
		dir, err := readString(r, v)
		if err != nil {
			return FullDirectoryIndex{}, err
		}
		var fileCount uint32
		if err := binary.Read(r, binary.LittleEndian, &fileCount); err != nil {
			return FullDirectoryIndex{}, err
		}
		files := make(map[string]EntryLocation, fileCount)
		for j := uint32(0); j < fileCount; j++ {
			name, err := readString(r, v)
			if err != nil {
				return FullDirectoryIndex{}, err
			}
			loc, err := readEntryLocation(r)
			if err != nil {
				return FullDirectoryIndex{}, err
			}
			files[name] = loc
		}
		idx.Directories[dir] = files
	}
	return idx, nil
}
