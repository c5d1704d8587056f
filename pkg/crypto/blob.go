package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// headerLength is the fixed salt||nonce prefix of every sealed blob.
const headerLength = SaltLength + NonceLength

// EncryptPayload serialises payload to JSON and seals it under passphrase.
//
// Every call draws a fresh salt and a fresh nonce, so two calls with the same
// payload and passphrase never produce the same blob. The result is
// base64(salt || nonce || ciphertext+tag) using standard encoding.
func EncryptPayload(payload any, passphrase []byte) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to marshal payload: %w", err)
	}
	defer SecureWipe(plaintext)

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	defer SecureWipe(key)

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, headerLength+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptPayload opens a blob produced by EncryptPayload and unmarshals the
// plaintext JSON into out.
//
// Malformed encoding, a truncated blob, a wrong passphrase and a tampered blob
// all return ErrDecryptionFailed so callers can report them uniformly.
func DecryptPayload(blob string, passphrase []byte, out any) error {
	// Strict rejects non-zero padding bits, so every token has exactly one
	// spelling.
	raw, err := base64.StdEncoding.Strict().DecodeString(blob)
	if err != nil {
		return ErrDecryptionFailed
	}
	if len(raw) < headerLength+TagLength {
		return ErrDecryptionFailed
	}

	salt := raw[:SaltLength]
	nonce := raw[SaltLength:headerLength]
	ciphertext := raw[headerLength:]

	key := DeriveKey(passphrase, salt)
	defer SecureWipe(key)

	plaintext, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		return ErrDecryptionFailed
	}
	defer SecureWipe(plaintext)

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("crypto: failed to unmarshal payload: %w", err)
	}
	return nil
}

// HashPassword returns the base64 SHA-256 digest of passphrase.
// It is only a login verifier and is never used as key material.
func HashPassword(passphrase []byte) string {
	sum := sha256.Sum256(passphrase)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyPassword reports whether passphrase hashes to verifier, comparing in
// constant time.
func VerifyPassword(passphrase []byte, verifier string) bool {
	got := HashPassword(passphrase)
	return subtle.ConstantTimeCompare([]byte(got), []byte(verifier)) == 1
}
