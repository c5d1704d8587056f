// Package vault implements the passvault vault store.
//
// A Vault owns the two persistence slots (the master password verifier and
// the encrypted vault blob) and hands out Sessions. A Session holds the
// decrypted records and categories while unlocked and wipes them on Lock or
// after an idle timeout.
package vault

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/forest6511/passvault/pkg/audit"
	"github.com/forest6511/passvault/pkg/crypto"
	"github.com/forest6511/passvault/pkg/storage"
)

// Defaults.
const (
	MinPasswordLength  = 8
	DefaultIdleTimeout = 5 * time.Minute
)

// Errors
var (
	ErrWeakPassword        = errors.New("vault: master password is too short")
	ErrAuthentication      = errors.New("vault: invalid master password")
	ErrVaultLocked         = errors.New("vault: vault is locked")
	ErrVaultNotFound       = errors.New("vault: vault not found")
	ErrVaultAlreadyExists  = errors.New("vault: vault already exists")
	ErrProtectedCategory   = errors.New("vault: the fallback category cannot be deleted")
	ErrCategoryNotFound    = errors.New("vault: category not found")
	ErrCategoryNameInvalid = errors.New("vault: invalid category name")
	ErrRecordNameRequired  = errors.New("vault: record name is required")
	ErrVaultConflict       = errors.New("vault: vault was replaced under a different password; unlock again")

	// ErrDecryptionFailed is crypto.ErrDecryptionFailed, re-exported so
	// callers of this package can match it without importing crypto.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
)

// Vault is the entry point to a stored vault. It is safe for concurrent use.
type Vault struct {
	store             storage.Store
	log               *zap.SugaredLogger
	audit             *audit.Logger
	idleTimeout       time.Duration
	minPasswordLength int
	now               func() time.Time

	// writeMu serializes read-modify-write cycles on the store among this
	// Vault's sessions. Other processes are kept out by the store's lock.
	writeMu sync.Mutex

	mu             sync.Mutex
	failedAttempts []time.Time
	failedDropped  int
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the structured logger. Secrets are never logged.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(v *Vault) {
		if log != nil {
			v.log = log
		}
	}
}

// WithAudit enables the audit log.
func WithAudit(l *audit.Logger) Option {
	return func(v *Vault) { v.audit = l }
}

// WithIdleTimeout sets how long a session may stay unused before it locks
// itself. Zero disables the idle lock.
func WithIdleTimeout(d time.Duration) Option {
	return func(v *Vault) {
		if d >= 0 {
			v.idleTimeout = d
		}
	}
}

// WithMinPasswordLength overrides the minimum master password length.
// Values below MinPasswordLength are ignored.
func WithMinPasswordLength(n int) Option {
	return func(v *Vault) {
		if n >= MinPasswordLength {
			v.minPasswordLength = n
		}
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

// New creates a Vault over store.
func New(store storage.Store, opts ...Option) *Vault {
	v := &Vault{
		store:             store,
		log:               zap.NewNop().Sugar(),
		idleTimeout:       DefaultIdleTimeout,
		minPasswordLength: MinPasswordLength,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AuditLogger returns the audit logger, or nil when auditing is off.
func (v *Vault) AuditLogger() *audit.Logger {
	return v.audit
}

// IsInitialized reports whether a master password verifier has been stored.
func (v *Vault) IsInitialized(ctx context.Context) (bool, error) {
	ok, err := storage.Exists(ctx, v.store, storage.KeyMasterPasswordHash)
	if err != nil {
		return false, fmt.Errorf("vault: failed to check verifier: %w", err)
	}
	return ok, nil
}

// Setup initialises a new vault with an empty record list and the default
// categories, and returns an unlocked session.
//
// A password shorter than the minimum length fails with ErrWeakPassword
// before anything is written.
func (v *Vault) Setup(ctx context.Context, password string) (*Session, error) {
	if utf8.RuneCountInString(password) < v.minPasswordLength {
		return nil, ErrWeakPassword
	}

	s := v.newSession([]byte(password), newVaultData())

	// The check and both writes happen under one lock so that concurrent
	// setups cannot each pass the check and overwrite one another.
	err := v.exclusive(ctx, func() error {
		initialized, err := v.IsInitialized(ctx)
		if err != nil {
			return err
		}
		if initialized {
			return ErrVaultAlreadyExists
		}

		// The blob goes first so that a vault is never considered
		// initialised without data to unlock.
		if err := s.writeLocked(ctx, s.data); err != nil {
			return err
		}
		verifier := crypto.HashPassword([]byte(password))
		if err := v.store.Set(ctx, storage.KeyMasterPasswordHash, []byte(verifier)); err != nil {
			return fmt.Errorf("vault: failed to store verifier: %w", err)
		}
		return nil
	})
	if err != nil {
		s.wipe()
		return nil, err
	}

	v.startAudit(s.passphrase)
	v.auditLog(audit.OpVaultSetup, "", nil)
	v.log.Infow("vault initialized")

	s.armIdleTimer()
	return s, nil
}

// Login checks password against the stored verifier, decrypts the vault and
// returns an unlocked session.
//
// A mismatch fails with ErrAuthentication. There is no retry counter or
// lockout. A blob that fails to decrypt fails with ErrDecryptionFailed.
func (v *Vault) Login(ctx context.Context, password string) (*Session, error) {
	s := v.newSession([]byte(password), nil)

	// Read the verifier and the blob as one pair, never halfway through a
	// setup or restore.
	err := v.exclusive(ctx, func() error {
		verifier, err := v.store.Get(ctx, storage.KeyMasterPasswordHash)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrVaultNotFound
		}
		if err != nil {
			return fmt.Errorf("vault: failed to read verifier: %w", err)
		}
		if !crypto.VerifyPassword(s.passphrase, string(verifier)) {
			return ErrAuthentication
		}
		return s.reloadLocked(ctx)
	})
	if err != nil {
		s.wipe()
		if errors.Is(err, ErrAuthentication) {
			v.recordFailedAttempt()
		}
		return nil, err
	}

	v.startAudit(s.passphrase)
	v.flushFailedAttempts()
	v.auditLog(audit.OpVaultUnlock, "", nil)
	v.log.Infow("vault unlocked", "records", len(s.data.Passwords))

	s.armIdleTimer()
	return s, nil
}

// maxRecordedFailures caps the failed-attempt timestamps kept between
// unlocks. Older attempts are only counted.
const maxRecordedFailures = 20

func (v *Vault) recordFailedAttempt() {
	v.mu.Lock()
	v.failedAttempts = append(v.failedAttempts, v.now().UTC())
	if len(v.failedAttempts) > maxRecordedFailures {
		drop := len(v.failedAttempts) - maxRecordedFailures
		v.failedAttempts = append(v.failedAttempts[:0], v.failedAttempts[drop:]...)
		v.failedDropped += drop
	}
	n := len(v.failedAttempts) + v.failedDropped
	v.mu.Unlock()
	v.log.Warnw("unlock failed", "attempts_since_last_unlock", n)
}

// exclusive runs fn while no other session of v, and no other process
// sharing the store, can write the slots.
func (v *Vault) exclusive(ctx context.Context, fn func() error) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return storage.WithLock(ctx, v.store, fn)
}

// flushFailedAttempts writes the failed attempts seen since the last unlock
// to the audit log, which could not record them while its key was unknown.
// Attempts beyond the retained window are summarised in one event.
func (v *Vault) flushFailedAttempts() {
	v.mu.Lock()
	attempts, dropped := v.failedAttempts, v.failedDropped
	v.failedAttempts, v.failedDropped = nil, 0
	v.mu.Unlock()

	if v.audit == nil {
		return
	}
	var errs []error
	if dropped > 0 {
		errs = append(errs, fmt.Errorf("%d earlier attempts not individually recorded", dropped))
	}
	for _, at := range attempts {
		errs = append(errs, fmt.Errorf("attempted at %s", at.Format(time.RFC3339)))
	}
	for _, err := range errs {
		if logErr := v.audit.Log(audit.OpVaultUnlockFailed, "", audit.ResultDenied, err); logErr != nil {
			v.log.Warnw("failed to write audit event", "op", audit.OpVaultUnlockFailed, "error", logErr)
		}
	}
}

func (v *Vault) startAudit(passphrase []byte) {
	if v.audit == nil {
		return
	}
	if err := v.audit.SetKey(passphrase); err != nil {
		v.log.Warnw("failed to initialize audit logger", "error", err)
	}
}

// auditLog is best-effort: a failed audit write is logged and never fails
// the vault operation.
func (v *Vault) auditLog(op, subject string, opErr error) {
	if v.audit == nil {
		return
	}
	var err error
	if opErr != nil {
		err = v.audit.LogError(op, subject, opErr)
	} else {
		err = v.audit.LogSuccess(op, subject)
	}
	if err != nil {
		v.log.Warnw("failed to write audit event", "op", op, "error", err)
	}
}

// PasswordStrength represents the strength level of a master password.
type PasswordStrength int

const (
	PasswordWeak PasswordStrength = iota
	PasswordFair
	PasswordGood
	PasswordStrong
)

// String returns a human-readable representation of password strength
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PasswordValidationResult contains the result of master password validation.
type PasswordValidationResult struct {
	Valid    bool             // Whether password meets the minimum length
	Strength PasswordStrength // Estimated strength
	Warnings []string         // Suggestions for improvement (not errors)
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[^A-Za-z0-9\s]`)
)

// ValidateMasterPassword checks a candidate master password. Only the length
// is a hard requirement; complexity produces warnings.
func ValidateMasterPassword(password string) *PasswordValidationResult {
	result := &PasswordValidationResult{Valid: true}
	length := utf8.RuneCountInString(password)

	if length < MinPasswordLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return result
	}

	complexity := 0
	for _, re := range []*regexp.Regexp{upperRe, lowerRe, digitRe, specialRe} {
		if re.MatchString(password) {
			complexity++
		}
	}

	if complexity < 2 {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if length < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}

	switch {
	case complexity >= 3 && length >= 16:
		result.Strength = PasswordStrong
	case complexity >= 2 && length >= 12:
		result.Strength = PasswordGood
	case complexity >= 2 || length >= 12:
		result.Strength = PasswordFair
	default:
		result.Strength = PasswordWeak
	}

	return result
}
