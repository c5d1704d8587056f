package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := newTestLogger(t)
	for i := 0; i < 3; i++ {
		if err := src.LogSuccess(OpRecordAdd, "rec"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	files, err := Snapshot(src.Dir())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, ok := files[metaFileName]; !ok {
		t.Errorf("snapshot is missing %s", metaFileName)
	}

	dst := t.TempDir()
	// A stray log that must not survive the restore.
	if err := os.WriteFile(filepath.Join(dst, "1999-01.jsonl"), []byte("{}\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := RestoreSnapshot(dst, files); err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "1999-01.jsonl")); !os.IsNotExist(err) {
		t.Error("stale log file should be removed")
	}

	restored := NewLogger(dst, SourceCLI)
	if err := restored.SetKey([]byte("CorrectHorse1")); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	result, err := restored.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 3 {
		t.Errorf("Verify = %+v, want 3 valid records", result)
	}
}

func TestSnapshotMissingDir(t *testing.T) {
	files, err := Snapshot(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected empty snapshot, got %d files", len(files))
	}
}

func TestRestoreSnapshotRejectsPaths(t *testing.T) {
	tests := []string{"../escape.jsonl", "sub/2024-01.jsonl", "notes.txt"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			err := RestoreSnapshot(t.TempDir(), map[string][]byte{name: []byte("x")})
			if !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("error = %v, want ErrInvalidSnapshot", err)
			}
		})
	}
}
