package pak

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadStringRoundTrip(t *testing.T) {
	for _, v := range []Version{VersionInitial, VersionNoTimestamps, VersionFNV64BugFix} {
		var buf strings.Builder
		require.NoError(t, writeString(&buf, v, "hello world"))

		got, err := readString(strings.NewReader(buf.String()), v)
		require.NoError(t, err)
		assert.Equal(t, "hello world", got)
	}
}

func TestWriteReadEmptyString(t *testing.T) {
	for _, v := range []Version{VersionInitial, VersionFNV64BugFix} {
		var buf strings.Builder
		require.NoError(t, writeString(&buf, v, ""))

		got, err := readString(strings.NewReader(buf.String()), v)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	}
}

func TestNormalizeMountPoint(t *testing.T) {
	got, err := normalizeMountPoint("")
	require.NoError(t, err)
	assert.Equal(t, defaultMountPoint, got)

	got, err = normalizeMountPoint("../../../MyGame/Content")
	require.NoError(t, err)
	assert.Equal(t, "../../../MyGame/Content/", got)

	got, err = normalizeMountPoint("../../../MyGame/Content/")
	require.NoError(t, err)
	assert.Equal(t, "../../../MyGame/Content/", got)
}

func TestNormalizeMountPointTooLong(t *testing.T) {
	_, err := normalizeMountPoint(strings.Repeat("a", 65536))
	assert.ErrorIs(t, err, ErrMountPointTooLong)
}

// readString itself has no length cap: only the mount point is bounded by
// spec, and that bound is enforced by parsePrimaryIndex, not readString.
func TestReadStringAllowsLongNonMountPointStrings(t *testing.T) {
	long := strings.Repeat("a", 100000)
	var buf strings.Builder
	require.NoError(t, writeString(&buf, VersionFNV64BugFix, long))

	got, err := readString(strings.NewReader(buf.String()), VersionFNV64BugFix)
	require.NoError(t, err)
	assert.Equal(t, long, got)
}
