package pak

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECBEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	plain := []byte("0123456789abcdef0123456789abcdef") // exactly 2 blocks
	padded := make([]byte, align16(len(plain)))
	copy(padded, plain)

	buf := append([]byte(nil), padded...)
	ecbEncrypt(AESCipher, key, buf)
	assert.NotEqual(t, padded, buf, "ciphertext should not equal the plaintext")

	ecbDecrypt(AESCipher, key, buf)
	assert.Equal(t, padded, buf)
}

func TestFallenDollCipherPanicsUntilSupplied(t *testing.T) {
	var block [blockAlignment]byte
	assert.Panics(t, func() { FallenDollCipher.EncryptBlock(nil, &block) })
	assert.Panics(t, func() { FallenDollCipher.DecryptBlock(nil, &block) })
}

func TestAESCipherKeySize(t *testing.T) {
	require.Equal(t, 32, AESCipher.KeySize())
}
