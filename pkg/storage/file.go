package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MinDiskSpaceBytes is the free space a FileStore requires before writing.
const MinDiskSpaceBytes = 1024 * 1024

var (
	_ Store  = (*FileStore)(nil)
	_ Locker = (*FileStore)(nil)
)

// FileStore keeps each key in its own file inside a private directory.
// Writes go to a temp file that is renamed over the target, so a failed
// write never leaves a truncated value behind.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates the directory if needed and returns a FileStore
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

// Lock takes the directory's advisory lock file, shared with every other
// FileStore (in any process) rooted at the same directory.
func (f *FileStore) Lock(ctx context.Context) (func(), error) {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return lockFile(ctx, f.path(lockFileName))
}

// Get reads the file for key.
func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to read %s: %w", key, err)
	}
	return data, nil
}

// Set atomically replaces the file for key.
func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.checkDiskSpaceForWrite(len(value)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, f.path(key)); err != nil {
		return fmt.Errorf("storage: failed to replace %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (f *FileStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: failed to delete %s: %w", key, err)
	}
	return nil
}

// Close marks the store closed.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 // Total bytes
	Free      uint64 // Free bytes
	Available uint64 // Bytes available to unprivileged users
	UsedPct   int    // Percentage used
}

// checkDiskSpaceForWrite verifies there is room for dataSize bytes plus a
// safety margin. A failing stat call is not treated as fatal.
func (f *FileStore) checkDiskSpaceForWrite(dataSize int) error {
	info, err := f.CheckDiskSpace()
	if err != nil {
		return nil
	}
	if info.Available < uint64(dataSize)+MinDiskSpaceBytes {
		return fmt.Errorf("%w: %d bytes available", ErrInsufficientDisk, info.Available)
	}
	return nil
}
