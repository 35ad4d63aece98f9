package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	plaintext := "ya29.a0AfH6SMBx-access-token-material"
	blob, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, blob)

	decrypted, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	blob1, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	blob2, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	// Same plaintext must never produce the same blob twice.
	assert.NotEqual(t, blob1, blob2)
}

func TestEmptyStringIsAbsentSecret(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	blob, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, blob)

	plaintext, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestDecryptTamperedBlob(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	blob, err := c.Encrypt("secret")
	require.NoError(t, err)

	sealed, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	// Flip one bit in the ciphertext portion.
	sealed[len(sealed)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(sealed)

	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrCiphertextInvalid)
}

func TestDecryptWithWrongKey(t *testing.T) {
	c1, err := New(testKey(t))
	require.NoError(t, err)
	c2, err := New(testKey(t))
	require.NoError(t, err)

	blob, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(blob)
	assert.ErrorIs(t, err, ErrCiphertextInvalid)
}

func TestDecryptGarbage(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	for _, blob := range []string{
		"not base64 at all!!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
	} {
		_, err := c.Decrypt(blob)
		assert.ErrorIs(t, err, ErrCiphertextInvalid, "blob %q", blob)
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrKeyNotConfigured)

	_, err = New(make([]byte, 16))
	assert.ErrorIs(t, err, ErrKeyNotConfigured)

	_, err = New(make([]byte, 64))
	assert.ErrorIs(t, err, ErrKeyNotConfigured)
}
