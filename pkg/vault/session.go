package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/passvault/pkg/audit"
	"github.com/forest6511/passvault/pkg/crypto"
	"github.com/forest6511/passvault/pkg/storage"
)

// Session is an unlocked view of a vault. It is created by Vault.Setup or
// Vault.Login and stays usable until Lock is called or it sits idle for
// longer than the configured timeout. After that every operation fails with
// ErrVaultLocked.
//
// All methods are safe for concurrent use. Mutations and persistence are
// serialised, within a session and across sessions sharing the same store,
// so overlapping calls never lose an update.
type Session struct {
	v *Vault

	mu         sync.RWMutex
	passphrase []byte
	data       *vaultData // nil once locked
	base       []byte     // stored blob data was decrypted from or written as
	idleLocked bool

	timerMu sync.Mutex
	timer   *time.Timer
	gen     uint64

	done     chan struct{}
	doneOnce sync.Once
}

func (v *Vault) newSession(passphrase []byte, data *vaultData) *Session {
	return &Session{
		v:          v,
		passphrase: passphrase,
		data:       data,
		done:       make(chan struct{}),
	}
}

// Done is closed when the session locks, explicitly or on idle timeout.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsLocked reports whether the session has been locked.
func (s *Session) IsLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data == nil
}

// IdleLocked reports whether the session was locked by the idle timer.
func (s *Session) IdleLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idleLocked
}

// Lock wipes the decrypted vault and the passphrase and stops the idle
// timer. It is idempotent.
func (s *Session) Lock() {
	s.lock(audit.OpVaultLock)
}

func (s *Session) lock(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked(op)
}

func (s *Session) lockLocked(op string) {
	if s.data == nil {
		return
	}
	s.stopIdleTimer()
	s.v.auditLog(op, "", nil)
	if s.v.audit != nil {
		s.v.audit.ClearKey()
	}
	s.wipe()
	s.idleLocked = op == audit.OpVaultIdleLock
	s.v.log.Infow("vault locked", "idle", s.idleLocked)
}

// wipe drops the plaintext state. The passphrase bytes are overwritten;
// record strings are released for collection.
func (s *Session) wipe() {
	crypto.SecureWipe(s.passphrase)
	s.passphrase = nil
	s.data = nil
	s.base = nil
	s.doneOnce.Do(func() { close(s.done) })
}

// Touch records user activity and restarts the idle timer. Every session
// operation does this itself; Touch is for activity the session cannot see,
// such as keystrokes in an interactive shell.
func (s *Session) Touch() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return
	}
	s.armIdleTimer()
}

// armIdleTimer cancels any pending idle lock and schedules a new one.
// Callers hold s.mu, in either mode.
func (s *Session) armIdleTimer() {
	if s.v.idleTimeout <= 0 {
		return
	}
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.v.idleTimeout, func() { s.idleExpired(gen) })
}

func (s *Session) stopIdleTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// idleExpired runs on the timer goroutine. A timer that fired while an
// operation was re-arming it carries a stale generation and is ignored.
func (s *Session) idleExpired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timerMu.Lock()
	stale := gen != s.gen
	s.timerMu.Unlock()
	if stale {
		return
	}
	s.lockLocked(audit.OpVaultIdleLock)
}

// Records returns a copy of all records, newest first.
func (s *Session) Records() ([]CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrVaultLocked
	}
	s.armIdleTimer()

	out := make([]CredentialRecord, len(s.data.Passwords))
	copy(out, s.data.Passwords)
	return out, nil
}

// Record returns a copy of the record with the given id.
func (s *Session) Record(id string) (*CredentialRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, false, ErrVaultLocked
	}
	s.armIdleTimer()

	i := s.data.indexOf(id)
	if i < 0 {
		return nil, false, nil
	}
	r := s.data.Passwords[i]
	return &r, true, nil
}

// Categories returns a copy of the category set in order.
func (s *Session) Categories() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrVaultLocked
	}
	s.armIdleTimer()

	out := make([]string, len(s.data.Categories))
	copy(out, s.data.Categories)
	return out, nil
}

// Search returns the records whose name, website, username or category
// contains query, ignoring case, in vault order. A category of "" or "All"
// disables the category filter.
func (s *Session) Search(query, category string) ([]CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrVaultLocked
	}
	s.armIdleTimer()

	q := strings.ToLower(strings.TrimSpace(query))
	out := []CredentialRecord{}
	for i := range s.data.Passwords {
		if s.data.Passwords[i].matches(q, category) {
			out = append(out, s.data.Passwords[i])
		}
	}
	return out, nil
}

// AddRecord creates a record at the front of the list and persists the vault.
func (s *Session) AddRecord(ctx context.Context, in RecordInput) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrVaultLocked
	}
	s.armIdleTimer()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrRecordNameRequired
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("vault: failed to generate record id: %w", err)
	}

	now := s.v.now().UTC()
	rec := CredentialRecord{
		ID:           id.String(),
		Name:         name,
		Website:      strings.TrimSpace(in.Website),
		Username:     in.Username,
		Password:     in.Password,
		Notes:        in.Notes,
		CreatedDate:  now,
		LastModified: now,
	}

	err = s.commit(ctx, func(next *vaultData) error {
		category, err := next.resolveCategory(in.Category)
		if err != nil {
			return err
		}
		rec.Category = category
		next.Passwords = append([]CredentialRecord{rec}, next.Passwords...)
		return nil
	})
	if err != nil {
		if !isInputError(err) {
			s.v.auditLog(audit.OpRecordAdd, rec.ID, err)
		}
		return nil, err
	}
	s.v.auditLog(audit.OpRecordAdd, rec.ID, nil)
	s.v.log.Debugw("record added", "id", rec.ID)

	return &rec, nil
}

// UpdateRecord merges patch into the record with the given id, bumps its
// lastModified time and persists the vault. An unknown id is a silent no-op:
// the returned record is nil and nothing is written.
func (s *Session) UpdateRecord(ctx context.Context, id string, patch RecordPatch) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrVaultLocked
	}
	s.armIdleTimer()

	var out *CredentialRecord
	err := s.commit(ctx, func(next *vaultData) error {
		i := next.indexOf(id)
		if i < 0 {
			return errNoChange
		}
		if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
			return ErrRecordNameRequired
		}
		rec := &next.Passwords[i]
		if patch.Category != nil {
			category, err := next.resolveCategory(*patch.Category)
			if err != nil {
				return err
			}
			rec.Category = category
		}
		rec.apply(patch)
		rec.LastModified = s.v.now().UTC()

		r := *rec
		out = &r
		return nil
	})
	if err != nil {
		if !isInputError(err) {
			s.v.auditLog(audit.OpRecordUpdate, id, err)
		}
		return nil, err
	}
	if out != nil {
		s.v.auditLog(audit.OpRecordUpdate, id, nil)
	}
	return out, nil
}

// DeleteRecord removes the record with the given id if present and persists
// the vault either way. It reports whether a record was removed.
func (s *Session) DeleteRecord(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return false, ErrVaultLocked
	}
	s.armIdleTimer()

	removed := false
	err := s.commit(ctx, func(next *vaultData) error {
		if i := next.indexOf(id); i >= 0 {
			next.Passwords = append(next.Passwords[:i], next.Passwords[i+1:]...)
			removed = true
		}
		return nil
	})
	if err != nil {
		s.v.auditLog(audit.OpRecordDelete, id, err)
		return false, err
	}
	if removed {
		s.v.auditLog(audit.OpRecordDelete, id, nil)
	}
	return removed, nil
}

// AddCategory appends a category and persists the vault. Adding a name that
// already exists does nothing.
func (s *Session) AddCategory(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrVaultLocked
	}
	s.armIdleTimer()

	name, err := CleanCategoryName(name)
	if err != nil {
		return err
	}

	added := false
	err = s.commit(ctx, func(next *vaultData) error {
		if next.hasCategory(name) {
			return errNoChange
		}
		next.Categories = append(next.Categories, name)
		added = true
		return nil
	})
	if err != nil {
		s.v.auditLog(audit.OpCategoryAdd, name, err)
		return err
	}
	if added {
		s.v.auditLog(audit.OpCategoryAdd, name, nil)
	}
	return nil
}

// DeleteCategory moves every record in name to the fallback category,
// removes name and persists the vault. Deleting the fallback category fails
// with ErrProtectedCategory.
func (s *Session) DeleteCategory(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrVaultLocked
	}
	s.armIdleTimer()

	name = strings.TrimSpace(name)
	if name == FallbackCategory {
		return ErrProtectedCategory
	}

	err := s.commit(ctx, func(next *vaultData) error {
		now := s.v.now().UTC()
		for i := range next.Passwords {
			if next.Passwords[i].Category == name {
				next.Passwords[i].Category = FallbackCategory
				next.Passwords[i].LastModified = now
			}
		}
		cats := next.Categories[:0]
		for _, c := range next.Categories {
			if c != name {
				cats = append(cats, c)
			}
		}
		next.Categories = cats
		return nil
	})
	if err != nil {
		s.v.auditLog(audit.OpCategoryDelete, name, err)
		return err
	}
	s.v.auditLog(audit.OpCategoryDelete, name, nil)
	return nil
}

// Persist encrypts the current vault and overwrites the encryptedData slot.
// Changes saved by other sessions since this one last read the slot are
// picked up first, never overwritten.
func (s *Session) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrVaultLocked
	}
	s.armIdleTimer()
	return s.commit(ctx, func(*vaultData) error { return nil })
}

// errNoChange aborts a commit without writing.
var errNoChange = errors.New("vault: no change")

// isInputError reports validation failures, which are not audited.
func isInputError(err error) bool {
	return errors.Is(err, ErrRecordNameRequired) || errors.Is(err, ErrCategoryNotFound)
}

// commit applies change to a copy of the latest stored vault and writes the
// result. The store is held exclusively from the read to the write, so
// sessions sharing a vault, in this process or another, never drop each
// other's saves. change must not keep next when it fails.
func (s *Session) commit(ctx context.Context, change func(next *vaultData) error) error {
	err := s.v.exclusive(ctx, func() error {
		if err := s.refreshLocked(ctx); err != nil {
			return err
		}
		next := s.data.clone()
		if err := change(next); err != nil {
			return err
		}
		return s.writeLocked(ctx, next)
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// refreshLocked adopts the stored vault when another writer replaced the
// blob this session last read or wrote. A blob this session cannot decrypt,
// or a vault deleted underneath it, is ErrVaultConflict.
func (s *Session) refreshLocked(ctx context.Context) error {
	blob, err := s.v.store.Get(ctx, storage.KeyEncryptedData)
	if errors.Is(err, storage.ErrNotFound) {
		if s.base == nil {
			return nil
		}
		return ErrVaultConflict
	}
	if err != nil {
		return fmt.Errorf("vault: failed to read vault: %w", err)
	}
	if bytes.Equal(blob, s.base) {
		return nil
	}

	var d vaultData
	if err := crypto.DecryptPayload(string(blob), s.passphrase, &d); err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return ErrVaultConflict
		}
		return err
	}
	d.normalize()
	s.data = &d
	s.base = blob
	s.v.log.Debugw("vault changed by another writer, reloaded", "records", len(d.Passwords))
	return nil
}

// writeLocked encrypts next and writes it to the slot. The in-memory state
// is replaced only after the write succeeds, and nothing is written when
// encryption fails, so a failure leaves both copies as they were.
func (s *Session) writeLocked(ctx context.Context, next *vaultData) error {
	blob, err := crypto.EncryptPayload(next, s.passphrase)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt vault: %w", err)
	}
	if err := s.v.store.Set(ctx, storage.KeyEncryptedData, []byte(blob)); err != nil {
		return fmt.Errorf("vault: failed to write vault: %w", err)
	}
	s.data = next
	s.base = []byte(blob)
	return nil
}

// Reload replaces the in-memory vault with the persisted one. An absent slot
// yields an empty vault with the default categories.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrVaultLocked
	}
	s.armIdleTimer()
	return s.reloadLocked(ctx)
}

func (s *Session) reloadLocked(ctx context.Context) error {
	blob, err := s.v.store.Get(ctx, storage.KeyEncryptedData)
	if errors.Is(err, storage.ErrNotFound) {
		s.data = newVaultData()
		s.base = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: failed to read vault: %w", err)
	}

	var d vaultData
	if err := crypto.DecryptPayload(string(blob), s.passphrase, &d); err != nil {
		return err
	}
	d.normalize()
	s.data = &d
	s.base = blob
	return nil
}
