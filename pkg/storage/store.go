// Package storage provides the key-value persistence slots behind the vault.
//
// A vault needs exactly two slots: the master password verifier and the
// encrypted vault blob. Writes have overwrite semantics; there is no
// versioning and no append log.
package storage

import (
	"context"
	"errors"
)

// Slot keys used by the vault.
const (
	KeyMasterPasswordHash = "masterPasswordHash"
	KeyEncryptedData      = "encryptedData"
)

// File and directory permissions for on-disk backends.
const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// Errors
var (
	ErrNotFound         = errors.New("storage: key not found")
	ErrInvalidKey       = errors.New("storage: invalid key")
	ErrClosed           = errors.New("storage: store is closed")
	ErrInsufficientDisk = errors.New("storage: insufficient disk space")
)

// Store is a small key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the store.
	Close() error
}

// Exists reports whether key is present in s.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// validateKey rejects keys that could escape a FileStore directory or
// collide with its temp files.
func validateKey(key string) error {
	if key == "" || len(key) > 128 {
		return ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return ErrInvalidKey
		}
	}
	return nil
}
