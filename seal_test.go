package pak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTripUnencrypted(t *testing.T) {
	plain := []byte("primary index bytes")
	sealed, digest, err := seal(plain, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, plain, sealed)

	got, err := unseal(append([]byte(nil), sealed...), false, nil, nil, digest)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSealUnsealRoundTripEncrypted(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plain := []byte("primary index bytes that aren't 16-byte aligned")
	sealed, digest, err := seal(plain, true, AESCipher, key)
	require.NoError(t, err)
	assert.Equal(t, 0, len(sealed)%blockAlignment)

	got, err := unseal(append([]byte(nil), sealed...), true, AESCipher, key, digest)
	require.NoError(t, err)
	assert.Equal(t, plain, got[:len(plain)])
}

func TestSealRequiresKeyWhenEncrypting(t *testing.T) {
	_, _, err := seal([]byte("data"), true, AESCipher, nil)
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestUnsealDetectsTamperedDigest(t *testing.T) {
	plain := []byte("data")
	sealed, digest, err := seal(plain, false, nil, nil)
	require.NoError(t, err)
	digest[0] ^= 0xFF

	_, err = unseal(sealed, false, nil, nil, digest)
	assert.ErrorIs(t, err, ErrIndexHashMismatch)
}
