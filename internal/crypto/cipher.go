package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// Cipher wraps a single symmetric key and encrypts/decrypts opaque secret
// strings with AES-256-GCM. The key is supplied once at construction; there
// is no key rotation here.
//
// Blob layout: base64(nonce || ciphertext). The blob carries no meaning
// outside this package.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a raw 32-byte key. A missing or wrongly sized
// key returns ErrKeyNotConfigured; callers treat this as fatal at startup.
func New(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return nil, ErrKeyNotConfigured
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeyNotConfigured, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotConfigured, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotConfigured, err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
//
// The empty string is the absence of a secret, not data: it maps to the
// empty blob without invoking the cipher.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", ErrKeyNotConfigured
	}
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. The empty blob decrypts to the
// explicit absent secret ("", nil). Any blob that fails decoding or
// authentication returns ErrCiphertextInvalid.
func (c *Cipher) Decrypt(blob string) (string, error) {
	if c == nil || c.aead == nil {
		return "", ErrKeyNotConfigured
	}
	if blob == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) <= nonceSize {
		return "", fmt.Errorf("%w: blob too short", ErrCiphertextInvalid)
	}

	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}

	return string(plaintext), nil
}
