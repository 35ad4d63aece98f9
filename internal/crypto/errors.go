package crypto

import "errors"

var (
	// ErrKeyNotConfigured is returned when no encryption key was supplied.
	// This is fatal misconfiguration, not a retryable condition; startup
	// validation should have caught it.
	ErrKeyNotConfigured = errors.New("encryption key not configured")

	// ErrCiphertextInvalid is returned when a blob fails authentication or
	// cannot be decoded. Tampering and corruption both land here; it is
	// never silently ignored.
	ErrCiphertextInvalid = errors.New("ciphertext invalid or tampered")
)
