package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidSnapshot is returned when a snapshot names a file that is not
// part of an audit log.
var ErrInvalidSnapshot = errors.New("audit: invalid snapshot file name")

// Snapshot returns the raw log files and chain state under dir, keyed by
// file name. A missing directory yields an empty snapshot.
func Snapshot(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return files, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !isSnapshotFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", e.Name(), err)
		}
		files[e.Name()] = data
	}
	return files, nil
}

// RestoreSnapshot replaces the audit log under dir with files. Existing log
// files not present in the snapshot are removed so the chain stays intact.
func RestoreSnapshot(dir string, files map[string][]byte) error {
	for name := range files {
		if !isSnapshotFile(name) {
			return fmt.Errorf("%w: %q", ErrInvalidSnapshot, name)
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("audit: failed to create %s: %w", dir, err)
	}

	existing, err := Snapshot(dir)
	if err != nil {
		return err
	}
	for name := range existing {
		if _, keep := files[name]; keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("audit: failed to remove %s: %w", name, err)
		}
	}

	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			return fmt.Errorf("audit: failed to write %s: %w", name, err)
		}
	}
	return nil
}

func isSnapshotFile(name string) bool {
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return false
	}
	return name == metaFileName || strings.HasSuffix(name, logExt)
}
