// Package crypto provides the cipher service behind the passvault vault.
//
// A passphrase is stretched with PBKDF2-HMAC-SHA256 into a 256-bit key which
// is used once, with a fresh nonce, for AES-256-GCM authenticated encryption.
//
// # Example Usage
//
//	// Seal an arbitrary JSON-serialisable value under a passphrase
//	blob, err := crypto.EncryptPayload(payload, []byte("passphrase"))
//
//	// Open it again
//	var out Payload
//	err = crypto.DecryptPayload(blob, []byte("passphrase"), &out)
//
//	// Verify a login attempt without keeping the passphrase around
//	ok := crypto.VerifyPassword([]byte("passphrase"), crypto.HashPassword([]byte("passphrase")))
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and AEAD parameters.
const (
	// PBKDF2Iterations is the PBKDF2-HMAC-SHA256 iteration count.
	PBKDF2Iterations = 100000

	// SaltLength is the length of the per-blob random salt in bytes.
	SaltLength = 16

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates the authentication tag did not verify.
	// A wrong passphrase and a corrupted or tampered blob both end up here;
	// GCM cannot tell them apart.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// DeriveKey stretches a passphrase into a 256-bit AES key using
// PBKDF2-HMAC-SHA256 with PBKDF2Iterations rounds.
//
// The salt should be SaltLength bytes of cryptographically secure random data.
// The returned key is only ever used for AES-GCM.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeyLength, sha256.New)
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A cryptographically secure random 12-byte nonce is generated for every call.
// The authentication tag is appended to the ciphertext. No associated data is used.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM and verifies its tag.
//
// Returns ErrInvalidKeyLength, ErrInvalidNonceLength, ErrCiphertextTooShort,
// or ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
