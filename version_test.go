package pak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionValid(t *testing.T) {
	assert.True(t, VersionInitial.Valid())
	assert.True(t, VersionLatest.Valid())
	assert.False(t, Version(0).Valid())
	assert.False(t, (VersionLatest + 1).Valid())
}

func TestVersionFeatureGatesCumulative(t *testing.T) {
	assert.False(t, VersionInitial.HasCompressionEncryption())
	assert.True(t, VersionCompressionEncryption.HasCompressionEncryption())
	assert.True(t, VersionLatest.HasCompressionEncryption())

	assert.False(t, VersionCompressionEncryption.RelativeChunkOffsets())
	assert.True(t, VersionRelativeChunkOffsets.RelativeChunkOffsets())

	assert.False(t, VersionIndexEncryption.SupportsPathHashIndex())
	assert.True(t, VersionPathHashIndex.SupportsPathHashIndex())
}

func TestVersionFrozenExactlyVersion9(t *testing.T) {
	assert.True(t, VersionFrozenIndex.Frozen())
	assert.False(t, VersionPathHashIndex.Frozen())
	assert.False(t, VersionDeleteRecords.Frozen())
}

// Version 9 alone carries the frozen-index reserved bytes, so its footer is
// larger than version 10's; with those bytes set aside, the footer never
// shrinks from one version to the next.
func TestFooterSizeGrowsMonotonically(t *testing.T) {
	prev := 0
	for v := VersionInitial; v <= VersionLatest; v++ {
		size := v.FooterSize()
		if v.Frozen() {
			size -= frozenIndexReservedSize
		}
		assert.GreaterOrEqual(t, size, prev, "version %d footer shrank", v)
		prev = size
	}
}

func TestCompressionNameSlots(t *testing.T) {
	assert.Equal(t, 0, VersionCompressionEncryption.compressionNameSlots())
	assert.Equal(t, 4, VersionFNameBasedCompressionMethod.compressionNameSlots())
	assert.Equal(t, 5, VersionPathHashIndex.compressionNameSlots())
}
