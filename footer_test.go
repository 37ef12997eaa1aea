package pak

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFooterWriteReadRoundTrip(t *testing.T) {
	for _, v := range []Version{VersionInitial, VersionIndexEncryption, VersionEncryptionKeyGUID, VersionFrozenIndex, VersionPathHashIndex, VersionLatest} {
		f := Footer{
			Version:           v,
			IndexOffset:       4096,
			IndexSize:         512,
			IndexSHA1:         sha1Sum([]byte("index")),
			EncryptionKeyGUID: uuid.New(),
			EncryptedIndex:    v.SupportsIndexEncryption(),
		}
		if v.NamedCompressionMethods() {
			f.CompressionMethods = []CompressionMethod{CompressionZlib, CompressionZstd}
		}

		var buf bytes.Buffer
		require.NoError(t, WriteFooter(&buf, f), "version %d", v)
		assert.Equal(t, v.FooterSize(), buf.Len(), "version %d footer size mismatch", v)

		got, err := parseFooter(bytes.NewReader(buf.Bytes()), v)
		require.NoError(t, err, "version %d", v)

		assert.Equal(t, f.IndexOffset, got.IndexOffset)
		assert.Equal(t, f.IndexSize, got.IndexSize)
		assert.Equal(t, f.IndexSHA1, got.IndexSHA1)
		if v.HasEncryptionKeyGUID() {
			assert.Equal(t, f.EncryptionKeyGUID, got.EncryptionKeyGUID)
		}
		if v.SupportsIndexEncryption() {
			assert.Equal(t, f.EncryptedIndex, got.EncryptedIndex)
		}
		assert.Equal(t, f.CompressionMethods, got.CompressionMethods)
	}
}

func TestDiscoverFooterPicksHighestMatchingVersion(t *testing.T) {
	f := Footer{Version: VersionCompressionEncryption, IndexOffset: 0, IndexSize: 0, IndexSHA1: sha1Sum(nil)}

	var buf bytes.Buffer
	require.NoError(t, WriteFooter(&buf, f))

	got, err := DiscoverFooter(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, VersionCompressionEncryption, got.Version)
}

func TestDiscoverFooterRejectsGarbage(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xAB}, 4096)
	_, err := DiscoverFooter(bytes.NewReader(garbage), int64(len(garbage)))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestMethodIndexRoundTrip(t *testing.T) {
	f := Footer{Version: VersionLatest}

	idx1, err := f.methodIndex(CompressionZlib)
	require.NoError(t, err)
	idx2, err := f.methodIndex(CompressionZlib)
	require.NoError(t, err)
	assert.Equal(t, idx1, idx2, "resolving the same method twice must return the same slot")

	name, err := f.methodName(idx1)
	require.NoError(t, err)
	assert.Equal(t, CompressionZlib, name)

	idxNone, err := f.methodIndex(CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), idxNone)
}

func TestMethodIndexTableFull(t *testing.T) {
	f := Footer{Version: VersionPathHashIndex}
	methods := []CompressionMethod{"M1", "M2", "M3", "M4", "M5"}
	for _, m := range methods {
		_, err := f.methodIndex(m)
		require.NoError(t, err)
	}
	_, err := f.methodIndex("M6")
	assert.Error(t, err)
}
