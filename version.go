package pak

// Version identifies a revision of the .pak archive format. Each revision
// enables a feature cumulatively; a reader must know the version before it
// can know the shape of the footer or the entry records that follow it.
type Version uint32

// Supported archive versions, in the order the reference engine tooling
// introduced them. Version 0 is reserved and never produced on disk.
const (
	VersionInitial            Version = 1  // first shipped format; entries carry a timestamp
	VersionNoTimestamps       Version = 2  // timestamp field removed from entries
	VersionCompressionEncryption Version = 3 // per-entry compression/encryption fields added
	VersionIndexEncryption    Version = 4  // the index itself may be encrypted
	VersionRelativeChunkOffsets Version = 5 // block offsets in the entry header are relative to the entry
	VersionDeleteRecords      Version = 6  // delete records (patch archives)
	VersionEncryptionKeyGUID Version = 7  // footer carries the encryption key's GUID
	VersionFNameBasedCompressionMethod Version = 8  // compression method stored as a name-table index (8A)
	VersionFrozenIndex        Version = 9  // index is frozen; archive is read-only
	VersionPathHashIndex      Version = 10 // path-hash index and full directory index introduced
	VersionFNV64BugFix        Version = 11 // path hashing bug fixed (see primitives.go)

	// VersionLatest is the newest version this package can write.
	VersionLatest = VersionFNV64BugFix
)

// compressionNameSlots returns how many fixed-width compression-method name
// slots the footer carries for v, or 0 if the version predates the name
// table (compression methods are then identified by a small integer only
// understood by the engine itself, which this package does not emit).
func (v Version) compressionNameSlots() int {
	switch {
	case v >= VersionPathHashIndex:
		return 5
	case v >= VersionFNameBasedCompressionMethod:
		return 4
	default:
		return 0
	}
}

// HasTimestamp reports whether on-disk entries in archives of version v
// carry a timestamp field.
func (v Version) HasTimestamp() bool { return v == VersionInitial }

// HasCompressionEncryption reports whether entries carry explicit
// compression and encryption fields (as opposed to always being stored raw).
func (v Version) HasCompressionEncryption() bool { return v >= VersionCompressionEncryption }

// SupportsIndexEncryption reports whether the index sections may be
// encrypted.
func (v Version) SupportsIndexEncryption() bool { return v >= VersionIndexEncryption }

// RelativeChunkOffsets reports whether an entry's block table stores offsets
// relative to the entry (true) or absolute from the start of the archive
// (false, versions < 5).
func (v Version) RelativeChunkOffsets() bool { return v >= VersionRelativeChunkOffsets }

// SupportsDeleteRecords reports whether delete records (used by patch
// archives to mask files from lower-priority archives) are representable.
func (v Version) SupportsDeleteRecords() bool { return v >= VersionDeleteRecords }

// HasEncryptionKeyGUID reports whether the footer carries the GUID of the
// encryption key used, letting a multi-key host pick the right key.
func (v Version) HasEncryptionKeyGUID() bool { return v >= VersionEncryptionKeyGUID }

// NamedCompressionMethods reports whether compression methods are resolved
// through the footer's name table rather than a fixed built-in enum.
func (v Version) NamedCompressionMethods() bool { return v >= VersionFNameBasedCompressionMethod }

// Frozen reports whether the version freezes the index as read-only
// (version 9 exactly, per the spec).
func (v Version) Frozen() bool { return v == VersionFrozenIndex }

// SupportsPathHashIndex reports whether the archive carries a path-hash
// index and full directory index alongside the primary index.
func (v Version) SupportsPathHashIndex() bool { return v >= VersionPathHashIndex }

// FNV64BugFixed reports whether path hashing uses the corrected FNV-1a-64
// constants (true) or must replicate the legacy swapped-constant bug
// (false). See primitives.go for both variants.
func (v Version) FNV64BugFixed() bool { return v >= VersionFNV64BugFix }

// FooterSize returns the exact trailing byte count of the footer for
// version v. This is the sole entry point for reading: a reader seeks to
// (fileSize - FooterSize(v)) and validates the magic before trusting
// anything else.
func (v Version) FooterSize() int {
	size := magicSize + versionSize + indexOffsetSize + indexSizeSize + sha1Size
	if v.HasEncryptionKeyGUID() {
		size += guidSize
	}
	if v.SupportsIndexEncryption() {
		size += encryptedIndexFlagSize
	}
	if v.Frozen() {
		size += frozenIndexReservedSize
	}
	size += v.compressionNameSlots() * compressionNameSlotSize
	return size
}

// Valid reports whether v is a version this package recognizes at all
// (readable or writable).
func (v Version) Valid() bool {
	return v >= VersionInitial && v <= VersionLatest
}
