package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := NewLogger(t.TempDir(), SourceCLI)
	if err := l.SetKey([]byte("CorrectHorse1")); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	return l
}

func readLines(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir, "")

	if l.Dir() != dir {
		t.Errorf("Dir() = %s, want %s", l.Dir(), dir)
	}
	if l.source != SourceCLI {
		t.Errorf("default source = %s, want %s", l.source, SourceCLI)
	}
	if l.prevHash != genesisHash {
		t.Errorf("prevHash = %s, want %s", l.prevHash, genesisHash)
	}
	if l.sessionID == "" {
		t.Error("expected non-empty sessionID")
	}
}

func TestLogWithoutKey(t *testing.T) {
	l := NewLogger(t.TempDir(), SourceCLI)
	if err := l.LogSuccess(OpVaultUnlock, ""); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("LogSuccess() error = %v, want %v", err, ErrKeyNotSet)
	}
	if _, err := l.Verify(); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("Verify() error = %v, want %v", err, ErrKeyNotSet)
	}
}

func TestLogSuccessWritesChainedEvent(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogSuccess(OpRecordAdd, "0190c1d2-record-id"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	lines := readLines(t, l.Dir())
	var e Event
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}

	if e.Version != 1 {
		t.Errorf("version = %d, want 1", e.Version)
	}
	if e.Operation != OpRecordAdd {
		t.Errorf("op = %s, want %s", e.Operation, OpRecordAdd)
	}
	if e.Result != ResultSuccess {
		t.Errorf("result = %s, want %s", e.Result, ResultSuccess)
	}
	if e.Chain.Sequence != 1 || e.Chain.PrevHash != genesisHash {
		t.Errorf("chain = %+v, want seq 1 from genesis", e.Chain)
	}
	if e.Chain.HMAC == "" {
		t.Error("expected non-empty HMAC")
	}
	if e.Subject == "" || e.Subject == "0190c1d2-record-id" {
		t.Errorf("subject should be an HMAC, got %q", e.Subject)
	}
	if strings.Contains(lines[0], "0190c1d2-record-id") {
		t.Error("record id leaked into the log in clear")
	}
}

func TestLogErrorAndDenied(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogError(OpRecordUpdate, "id", errors.New("boom")); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}
	if err := l.LogDenied(OpVaultUnlockFailed, ""); err != nil {
		t.Fatalf("LogDenied failed: %v", err)
	}

	events, err := l.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// newest first
	if events[0].Result != ResultDenied || events[0].Subject != "" {
		t.Errorf("unexpected denied event: %+v", events[0])
	}
	if events[1].Result != ResultError || events[1].Error != "boom" {
		t.Errorf("unexpected error event: %+v", events[1])
	}
}

func TestVerifyValidChain(t *testing.T) {
	l := newTestLogger(t)
	for _, op := range []string{OpVaultSetup, OpCategoryAdd, OpRecordAdd, OpRecordDelete, OpVaultLock} {
		if err := l.LogSuccess(op, "x"); err != nil {
			t.Fatalf("LogSuccess(%s) failed: %v", op, err)
		}
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 || result.RecordsVerified != 5 {
		t.Errorf("records = %d/%d, want 5/5", result.RecordsVerified, result.RecordsTotal)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(lines []string) []string
	}{
		{"edited result", func(lines []string) []string {
			lines[1] = strings.Replace(lines[1], `"result":"success"`, `"result":"error"`, 1)
			return lines
		}},
		{"deleted line", func(lines []string) []string {
			return append(lines[:1], lines[2:]...)
		}},
		{"reordered lines", func(lines []string) []string {
			lines[0], lines[1] = lines[1], lines[0]
			return lines
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLogger(t)
			for i := 0; i < 3; i++ {
				if err := l.LogSuccess(OpRecordAdd, "id"); err != nil {
					t.Fatalf("LogSuccess failed: %v", err)
				}
			}

			files, _ := filepath.Glob(filepath.Join(l.Dir(), "*.jsonl"))
			lines := tt.mutate(readLines(t, l.Dir()))
			if err := os.WriteFile(files[0], []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
				t.Fatalf("rewrite failed: %v", err)
			}

			result, err := l.Verify()
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if result.Valid {
				t.Error("expected tampering to be detected")
			}
			if len(result.Errors) == 0 {
				t.Error("expected verification errors")
			}
		})
	}
}

func TestVerifyWrongKey(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogSuccess(OpVaultSetup, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	other := NewLogger(l.Dir(), SourceCLI)
	if err := other.SetKey([]byte("WrongHorse1")); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	result, err := other.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("chain verified under the wrong key")
	}
}

func TestChainResumesAcrossLoggers(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogSuccess(OpVaultSetup, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	// A second process picks up where the first stopped.
	next := NewLogger(l.Dir(), SourceMCP)
	if err := next.SetKey([]byte("CorrectHorse1")); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if err := next.LogSuccess(OpVaultUnlock, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	result, err := next.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 2 {
		t.Errorf("result = %+v, want valid chain of 2", result)
	}

	events, _ := next.ListEvents(1, time.Time{})
	if len(events) != 1 || events[0].Source != SourceMCP {
		t.Errorf("latest event = %+v, want source %s", events, SourceMCP)
	}
}

func TestListEventsFilters(t *testing.T) {
	l := newTestLogger(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}

	for i := 0; i < 4; i++ {
		if err := l.LogSuccess(OpRecordAdd, ""); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		limit int
		since time.Time
		want  int
	}{
		{"all", 0, time.Time{}, 4},
		{"limit", 2, time.Time{}, 2},
		{"since", 0, base.Add(3 * time.Hour), 2},
		{"since and limit", 1, base.Add(2 * time.Hour), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := l.ListEvents(tt.limit, tt.since)
			if err != nil {
				t.Fatalf("ListEvents failed: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestClearKey(t *testing.T) {
	l := newTestLogger(t)
	l.ClearKey()
	if err := l.LogSuccess(OpVaultLock, ""); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("LogSuccess() after ClearKey error = %v, want %v", err, ErrKeyNotSet)
	}
}

func TestLogFilePermissions(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogSuccess(OpVaultSetup, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(l.Dir(), "*"))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			t.Fatalf("stat failed: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("%s has mode %o, want 0600", filepath.Base(f), perm)
		}
	}
}
