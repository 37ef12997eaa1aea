package pak

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive writes files to a fresh archive in sorted-path order, so
// that repeated calls with the same input are byte-identical regardless of
// the random iteration order Go gives map[string][]byte.
func buildArchive(t *testing.T, configure func(*Builder), files map[string][]byte) []byte {
	t.Helper()
	var sink bytes.Buffer
	b := NewBuilder(&sink)
	if configure != nil {
		configure(b)
	}
	w, err := b.Build()
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		require.NoError(t, w.WriteFile(path, files[path]))
	}
	require.NoError(t, w.Close())
	return sink.Bytes()
}

func TestWriteReadRoundTripBasic(t *testing.T) {
	files := map[string][]byte{
		"readme.txt":          []byte("hello pak"),
		"textures/brick.bin":  bytes.Repeat([]byte{0xAB}, 100),
		"config/settings.ini": []byte("[core]\nfoo=bar\n"),
	}

	archive := buildArchive(t, nil, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)

	for path, want := range files {
		got, err := r.Get(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	paths, err := r.Files()
	require.NoError(t, err)
	assert.Len(t, paths, len(files))
}

func TestWriteReadMultiBlockZlib(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 4000) // > 64KiB
	files := map[string][]byte{"big/payload.bin": data}

	archive := buildArchive(t, func(b *Builder) { b.Compression(CompressionZlib) }, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)

	got, err := r.Get("big/payload.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSingleSmallBlockUsesActualSizeNotNominal64KiB(t *testing.T) {
	data := []byte("a small file, well under the 64KiB nominal block size")
	var sink bytes.Buffer
	w, err := NewBuilder(&sink).Compression(CompressionZlib).Build()
	require.NoError(t, err)
	require.NoError(t, w.WriteFile("small.bin", data))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(sink.Bytes()))
	require.NoError(t, err)

	loc, err := r.locate("small.bin")
	require.NoError(t, err)
	entry, err := r.primary.EntryAt(loc, r.footer.Version)
	require.NoError(t, err)
	full, err := r.readFullHeader(entry, "small.bin")
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)), full.CompressionBlockSize)

	got, err := r.Get("small.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEncryptedIndexAndPayloadRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, 32)
	files := map[string][]byte{
		"secret/plans.txt": []byte("the launch is at dawn"),
	}

	archive := buildArchive(t, func(b *Builder) { b.Encrypt(key, AESCipher) }, files)

	r, err := Open(bytes.NewReader(archive), WithKey(key))
	require.NoError(t, err)
	got, err := r.Get("secret/plans.txt")
	require.NoError(t, err)
	assert.Equal(t, files["secret/plans.txt"], got)

	_, err = Open(bytes.NewReader(archive))
	assert.Error(t, err, "opening an encrypted-index archive without a key must fail")
}

func TestManyFilesListedInLexicographicOrder(t *testing.T) {
	files := make(map[string][]byte, 1000)
	for i := 0; i < 1000; i++ {
		files[fmt.Sprintf("data/file_%04d.bin", i)] = []byte(fmt.Sprintf("payload %d", i))
	}

	archive := buildArchive(t, nil, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)

	paths, err := r.Files()
	require.NoError(t, err)
	require.Len(t, paths, 1000)
	for i := 1; i < len(paths); i++ {
		assert.Less(t, paths[i-1], paths[i], "Files() must be sorted")
	}

	got, err := r.Get("data/file_0500.bin")
	require.NoError(t, err)
	assert.Equal(t, files["data/file_0500.bin"], got)
}

func TestLegacyVersionUsesFlatPathIndex(t *testing.T) {
	files := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"dir/b.txt": []byte("bravo"),
	}
	archive := buildArchive(t, func(b *Builder) { b.Version(VersionDeleteRecords) }, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)
	assert.Nil(t, r.phi)
	assert.Nil(t, r.fdi)
	assert.NotNil(t, r.legacy)

	paths, err := r.Files()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt"}, paths)

	got, err := r.Get("dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, files["dir/b.txt"], got)

	_, err = r.Get("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestCrossVersionRoundTrip(t *testing.T) {
	files := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"dir/b.txt": []byte("bravo"),
	}

	for v := VersionInitial; v <= VersionLatest; v++ {
		v := v
		t.Run(fmt.Sprintf("v%d", v), func(t *testing.T) {
			archive := buildArchive(t, func(b *Builder) { b.Version(v) }, files)

			r, err := Open(bytes.NewReader(archive))
			require.NoError(t, err)
			require.Equal(t, v, r.Version())

			for path, want := range files {
				got, err := r.Get(path)
				require.NoError(t, err, path)
				assert.Equal(t, want, got, path)
			}
		})
	}
}

func TestDeterministicDoubleWrite(t *testing.T) {
	files := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"b/c.txt":   []byte("bravo charlie"),
		"empty.txt": {},
	}

	first := buildArchive(t, nil, files)
	second := buildArchive(t, nil, files)
	assert.Equal(t, first, second, "identical input must produce byte-identical archives")
}

func TestPayloadHashMismatchDetected(t *testing.T) {
	archive := buildArchive(t, nil, map[string][]byte{"a.txt": []byte("alpha")})

	// Flip a payload byte without touching any header or index bytes.
	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)
	loc, err := r.locate("a.txt")
	require.NoError(t, err)
	entry, err := r.primary.EntryAt(loc, r.footer.Version)
	require.NoError(t, err)
	full, err := r.readFullHeader(entry, "a.txt")
	require.NoError(t, err)
	hdrLen := headerSize(r.footer.Version, len(full.Blocks), full.Compressed(), full.Encrypted)

	tampered := append([]byte(nil), archive...)
	tampered[full.Offset+int64(hdrLen)] ^= 0xFF

	r2, err := Open(bytes.NewReader(tampered))
	require.NoError(t, err)
	_, err = r2.Get("a.txt")
	assert.ErrorIs(t, err, ErrPayloadHashMismatch)
}

func TestDeleteRecordMasksFile(t *testing.T) {
	var sink bytes.Buffer
	w, err := NewBuilder(&sink).Version(VersionLatest).Build()
	require.NoError(t, err)
	require.NoError(t, w.WriteFile("a.txt", []byte("alpha")))
	require.NoError(t, w.DeleteFile("b.txt"))
	require.NoError(t, w.Close())

	r, err := Open(bytes.NewReader(sink.Bytes()))
	require.NoError(t, err)

	_, err = r.Get("b.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	paths, err := r.Files()
	require.NoError(t, err)
	assert.NotContains(t, paths, "b.txt")
}

func TestVerifyIndexAgreesAcrossPHIAndFDI(t *testing.T) {
	files := map[string][]byte{
		"a.txt":   []byte("alpha"),
		"b/c.txt": []byte("bravo"),
	}
	archive := buildArchive(t, nil, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)
	assert.NoError(t, r.VerifyIndex())
}

func TestHashListMatchesGet(t *testing.T) {
	files := map[string][]byte{"a.txt": []byte("alpha"), "b.txt": []byte("bravo")}
	archive := buildArchive(t, nil, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)

	hashes, err := r.HashList()
	require.NoError(t, err)
	for path, data := range files {
		assert.Equal(t, sha1Sum(data), hashes[path])
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	archive := buildArchive(t, nil, map[string][]byte{"Textures/Brick.uasset": []byte("x")})

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)

	got, err := r.Get("textures/brick.UASSET")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestInfoReflectsArchiveContents(t *testing.T) {
	files := map[string][]byte{"a.txt": []byte("alpha"), "b.txt": []byte("bravo")}
	archive := buildArchive(t, func(b *Builder) { b.Compression(CompressionZstd) }, files)

	r, err := Open(bytes.NewReader(archive))
	require.NoError(t, err)

	info := r.Info()
	assert.Equal(t, VersionLatest, info.Version)
	assert.Equal(t, 2, info.FileCount)
	assert.True(t, info.HasPathHashIndex)
	assert.True(t, info.HasFullDirectoryIndex)
}
