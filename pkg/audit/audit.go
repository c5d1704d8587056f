// Package audit provides an append-only, HMAC-chained log of vault operations.
//
// Every event carries the HMAC of the previous one, so deleting, reordering or
// editing a line breaks the chain and is reported by Verify. The HMAC key is
// derived from the master passphrase, so the log can only be written and
// verified while the vault is unlocked.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Operations recorded in the log.
const (
	OpVaultSetup        = "vault.setup"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"
	OpVaultIdleLock     = "vault.idle_lock"

	OpRecordAdd    = "record.add"
	OpRecordUpdate = "record.update"
	OpRecordDelete = "record.delete"

	OpCategoryAdd    = "category.add"
	OpCategoryDelete = "category.delete"
)

// Sources identify which front end drove the operation.
const (
	SourceCLI   = "cli"
	SourceShell = "shell"
	SourceMCP   = "mcp"
)

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	schemaVersion = 1
	genesisHash   = "genesis"
	metaFileName  = "audit.meta"
	logExt        = ".jsonl"
	hkdfInfo      = "passvault-audit-v1"
)

// ErrKeyNotSet is returned when the logger is used before SetKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single line of the audit log.
type Event struct {
	Version   int       `json:"v"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Operation string    `json:"op"`
	Source    string    `json:"source"`
	SessionID string    `json:"session_id"`

	// Subject is the HMAC of the record id or category name the event is
	// about. Plain identifiers never reach the log.
	Subject string `json:"subject,omitempty"`

	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
	Chain  Chain  `json:"chain"`
}

// Chain links an event to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// VerifyResult contains the results of chain verification.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends events to monthly YYYY-MM.jsonl files under dir.
// It is safe for concurrent use.
type Logger struct {
	dir       string
	source    string
	sessionID string
	now       func() time.Time

	mu       sync.Mutex
	key      []byte
	sequence int64
	prevHash string
}

// NewLogger creates a logger writing under dir. Nothing is written until
// SetKey has been called.
func NewLogger(dir, source string) *Logger {
	if source == "" {
		source = SourceCLI
	}
	return &Logger{
		dir:       dir,
		source:    source,
		sessionID: uuid.NewString(),
		now:       time.Now,
		prevHash:  genesisHash,
	}
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// SetKey derives the chain key from the master passphrase with HKDF-SHA256
// and resumes the chain from the last saved state.
func (l *Logger) SetKey(passphrase []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, passphrase, nil, []byte(hkdfInfo)), key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.wipeKey()
	l.key = key

	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesisHash
	}
	return nil
}

// ClearKey forgets the chain key. Subsequent Log calls fail with ErrKeyNotSet.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wipeKey()
}

func (l *Logger) wipeKey() {
	for i := range l.key {
		l.key[i] = 0
	}
	l.key = nil
}

// Log appends one event. subject may be empty.
func (l *Logger) Log(op, subject, result string, opErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	event := Event{
		Version:   schemaVersion,
		ID:        newEventID(),
		Timestamp: l.now().UTC(),
		Operation: op,
		Source:    l.source,
		SessionID: l.sessionID,
		Result:    result,
	}
	if subject != "" {
		event.Subject = l.mac([]byte("subject|" + subject))
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(recordData(&event))

	if err := l.appendEvent(&event); err != nil {
		return err
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC

	return l.saveChainState()
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, subject string) error {
	return l.Log(op, subject, ResultSuccess, nil)
}

// LogError records a failed operation.
func (l *Logger) LogError(op, subject string, err error) error {
	return l.Log(op, subject, ResultError, err)
}

// LogDenied records an operation refused for lack of authority, such as a
// wrong passphrase.
func (l *Logger) LogDenied(op, subject string) error {
	return l.Log(op, subject, ResultDenied, nil)
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.key)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the canonical byte form covered by an event's HMAC.
func recordData(e *Event) []byte {
	return []byte(strings.Join([]string{
		fmt.Sprint(e.Version),
		e.ID,
		e.Timestamp.Format(time.RFC3339Nano),
		e.Operation,
		e.Source,
		e.SessionID,
		e.Subject,
		e.Result,
		e.Error,
		fmt.Sprint(e.Chain.Sequence),
		e.Chain.PrevHash,
	}, "|"))
}

func (l *Logger) appendEvent(e *Event) error {
	name := filepath.Join(l.dir, e.Timestamp.Format("2006-01")+logExt)
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, metaFileName))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// Verify walks every log file in chronological order and checks sequence
// numbers, chain links and HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, RecordsTotal: len(events)}
	expectedPrev := genesisHash
	var expectedSeq int64 = 1

	for i := range events {
		e := &events[i]
		ok := true
		if e.Chain.Sequence != expectedSeq {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at event %s: expected %d, got %d", e.ID, expectedSeq, e.Chain.Sequence))
		}
		if e.Chain.PrevHash != expectedPrev {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at event %s", e.ID))
		}
		if !hmac.Equal([]byte(e.Chain.HMAC), []byte(l.mac(recordData(e)))) {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at event %s: possible tampering", e.ID))
		}
		if ok {
			result.RecordsVerified++
		} else {
			result.Valid = false
		}
		expectedPrev = e.Chain.HMAC
		expectedSeq = e.Chain.Sequence + 1
	}

	return result, nil
}

// ListEvents returns events newest first. A zero limit returns everything and
// a zero since disables the time filter. It does not need the chain key.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if !since.IsZero() && events[i].Timestamp.Before(since) {
			continue
		}
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*"+logExt))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		fileEvents, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

// newEventID returns a time-ordered UUIDv7, falling back to a random UUID.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
