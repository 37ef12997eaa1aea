package pak

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryLocationRoundTrip(t *testing.T) {
	for _, loc := range []EntryLocation{EncodedOffset(42), ListIndex(7), InvalidLocation} {
		var buf bytes.Buffer
		require.NoError(t, writeEntryLocation(&buf, loc))

		got, err := readEntryLocation(&buf)
		require.NoError(t, err)
		assert.Equal(t, loc, got)
	}
}

func TestEntryLocationInvalidKindRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0, 0, 0, 0})
	_, err := readEntryLocation(&buf)
	assert.ErrorIs(t, err, ErrCorruptPakIndex)
}

func TestSectionInfoRoundTrip(t *testing.T) {
	s := sectionInfo{Present: true, Offset: 100, Size: 200, SHA1: sha1Sum([]byte("x"))}
	var buf bytes.Buffer
	require.NoError(t, writeSectionInfo(&buf, s))

	got, err := readSectionInfo(&buf)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSectionInfoAbsentSkipsFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSectionInfo(&buf, sectionInfo{}))
	assert.Equal(t, 1, buf.Len())

	got, err := readSectionInfo(&buf)
	require.NoError(t, err)
	assert.False(t, got.Present)
}

func TestPrimaryIndexRoundTrip(t *testing.T) {
	v := VersionPathHashIndex
	var blob bytes.Buffer
	e := Entry{Offset: 0, Method: 0, CompressedSize: 4, UncompressedSize: 4}
	require.NoError(t, encodeEntry(&blob, v, e))

	p := PrimaryIndex{
		MountPoint:     "../../../Game/Content/",
		PathHashSeed:   0xDEADBEEF,
		EncodedEntries: blob.Bytes(),
		EncodedCount:   1,
		Files: []Entry{
			{Offset: 100, Method: 0, CompressedSize: 8, UncompressedSize: 8},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writePrimaryIndex(&buf, v, p))

	got, err := parsePrimaryIndex(bytes.NewReader(buf.Bytes()), v)
	require.NoError(t, err)

	assert.Equal(t, p.MountPoint, got.MountPoint)
	assert.Equal(t, p.PathHashSeed, got.PathHashSeed)
	assert.Equal(t, p.EncodedEntries, got.EncodedEntries)
	assert.Equal(t, p.EncodedCount, got.EncodedCount)
	require.Len(t, got.Files, 1)
	assert.Equal(t, p.Files[0].Offset, got.Files[0].Offset)
}

func TestPrimaryIndexEntryAtResolvesEachLocationKind(t *testing.T) {
	v := VersionLatest
	var blob bytes.Buffer
	e := Entry{Offset: 0, Method: 0, CompressedSize: 4, UncompressedSize: 4}
	require.NoError(t, encodeEntry(&blob, v, e))

	p := PrimaryIndex{
		EncodedEntries: blob.Bytes(),
		Files:          []Entry{{Offset: 99}},
	}

	got, err := p.EntryAt(EncodedOffset(0), v)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.UncompressedSize)

	got, err = p.EntryAt(ListIndex(0), v)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Offset)

	_, err = p.EntryAt(InvalidLocation, v)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestPathHashIndexLookup(t *testing.T) {
	idx := PathHashIndex{Entries: []PathHashEntry{
		{Hash: 1, Location: EncodedOffset(0)},
		{Hash: 2, Location: ListIndex(1)},
	}}

	loc, ok := idx.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, EncodedOffset(0), loc)

	_, ok = idx.Lookup(999)
	assert.False(t, ok)
}

func TestPathHashIndexRoundTrip(t *testing.T) {
	idx := PathHashIndex{Entries: []PathHashEntry{
		{Hash: 0x1122334455667788, Location: EncodedOffset(10)},
		{Hash: 0, Location: InvalidLocation},
	}}

	var buf bytes.Buffer
	require.NoError(t, writePathHashIndex(&buf, idx))

	got, err := parsePathHashIndex(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, idx.Entries, got.Entries)
}

func TestFullDirectoryIndexRoundTrip(t *testing.T) {
	v := VersionLatest
	idx := FullDirectoryIndex{Directories: map[string]map[string]EntryLocation{
		"/": {"readme.txt": EncodedOffset(0)},
		"textures/": {
			"brick.uasset": EncodedOffset(16),
			"old.uasset":   InvalidLocation,
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, writeFullDirectoryIndex(&buf, v, idx))

	got, err := parseFullDirectoryIndex(bytes.NewReader(buf.Bytes()), v)
	require.NoError(t, err)
	assert.Equal(t, idx.Directories, got.Directories)
}
