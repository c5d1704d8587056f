// Package backup provides vault backup and restore functionality.
//
// A backup holds the two vault slots exactly as stored, so the vault blob
// stays sealed under the master password inside a second, outer layer:
//   - AES-256-GCM over the payload, keyed from a password or a key file
//   - a fresh backup salt per file, never the vault's own
//   - HMAC-SHA256 over header and ciphertext for tamper detection
//
// File layout: magic | header length | header JSON | ciphertext length |
// nonce||ciphertext | HMAC.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/forest6511/passvault/pkg/audit"
	"github.com/forest6511/passvault/pkg/storage"
)

// BackupOptions configures the backup operation.
type BackupOptions struct {
	// IncludeAudit includes the audit log files under AuditDir.
	IncludeAudit bool
	AuditDir     string
	// Password for encryption.
	Password []byte
	// KeyFile path for encryption key (overrides Password).
	KeyFile string
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	// Overwrite replaces an existing vault in the target store.
	Overwrite bool
	// DryRun previews restore without making changes.
	DryRun bool
	// WithAudit restores audit logs into AuditDir (replacing existing ones).
	WithAudit bool
	AuditDir  string
	// Password for decryption.
	Password []byte
	// KeyFile path for decryption key (overrides Password).
	KeyFile string
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	// Replaced is set when an existing vault was overwritten.
	Replaced bool
	// AuditRestored indicates if audit logs were restored.
	AuditRestored bool
	// DryRun indicates this was a dry run.
	DryRun    bool
	CreatedAt time.Time
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	Valid         bool
	Version       int
	CreatedAt     time.Time
	IncludesAudit bool
	// Error is set if verification failed.
	Error string
}

// Backup writes an encrypted backup of the vault held in store to w.
func Backup(ctx context.Context, w io.Writer, store storage.Store, opts BackupOptions) error {
	if w == nil {
		return errors.New("backup: output writer is required")
	}

	sl, err := sealerForBackup(opts.Password, opts.KeyFile)
	if err != nil {
		return err
	}
	defer sl.wipe()

	// both slots are read as one pair
	var payload *Payload
	err = storage.WithLock(ctx, store, func() error {
		payload, err = collectVaultData(ctx, store, opts)
		return err
	})
	if err != nil {
		return err
	}
	ciphertext, err := sl.seal(payload)
	if err != nil {
		return err
	}

	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      time.Now().UTC(),
		EncryptionMode: sl.mode,
		KDFParams:      sl.kdf,
		IncludesAudit:  opts.IncludeAudit,
		ChecksumAlgo:   "sha256",
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	if err := writeUint32(&buf, uint32(len(ciphertext))); err != nil {
		return err
	}
	buf.Write(ciphertext)

	mac := sl.sign(buf.Bytes())
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("backup: failed to write backup: %w", err)
	}
	if _, err := w.Write(mac); err != nil {
		return fmt.Errorf("backup: failed to write HMAC: %w", err)
	}
	return nil
}

// Restore verifies the backup at backupPath and writes its slots into store.
func Restore(ctx context.Context, backupPath string, store storage.Store, opts RestoreOptions) (*RestoreResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup file: %w", err)
	}

	header, payload, err := verifyAndDecrypt(data, opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		AuditRestored: header.IncludesAudit && opts.WithAudit,
		DryRun:        opts.DryRun,
		CreatedAt:     header.CreatedAt,
	}

	// Held against vault sessions saving into the same store.
	err = storage.WithLock(ctx, store, func() error {
		exists, err := storage.Exists(ctx, store, storage.KeyMasterPasswordHash)
		if err != nil {
			return fmt.Errorf("backup: failed to inspect target: %w", err)
		}
		if exists && !opts.Overwrite {
			return ErrVaultExists
		}
		result.Replaced = exists
		if opts.DryRun {
			return nil
		}
		return writeSlots(ctx, store, payload)
	})
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return result, nil
	}

	if result.AuditRestored {
		if err := audit.RestoreSnapshot(opts.AuditDir, payload.AuditFiles); err != nil {
			return nil, fmt.Errorf("backup: failed to restore audit log: %w", err)
		}
	}
	return result, nil
}

// Verify checks the integrity of the backup at backupPath. Verification
// failures are reported in the result, not as an error.
func Verify(backupPath string, password []byte, keyFile string) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	header, _, err := verifyAndDecrypt(data, password, keyFile)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		IncludesAudit: header.IncludesAudit,
	}, nil
}

func collectVaultData(ctx context.Context, store storage.Store, opts BackupOptions) (*Payload, error) {
	verifier, err := store.Get(ctx, storage.KeyMasterPasswordHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read verifier: %w", err)
	}

	blob, err := store.Get(ctx, storage.KeyEncryptedData)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("backup: failed to read vault data: %w", err)
	}

	payload := &Payload{
		MasterPasswordHash: string(verifier),
		EncryptedData:      string(blob),
	}

	if opts.IncludeAudit {
		files, err := audit.Snapshot(opts.AuditDir)
		if err != nil {
			return nil, err
		}
		payload.AuditFiles = files
	}
	return payload, nil
}

// writeSlots replaces both slots, blob before verifier as in vault setup.
// When the verifier write fails the previous blob is put back, or the slot
// removed if there was none, so the store never pairs one vault's blob with
// another's verifier.
func writeSlots(ctx context.Context, store storage.Store, p *Payload) error {
	prev, err := store.Get(ctx, storage.KeyEncryptedData)
	hadBlob := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("backup: failed to read vault data: %w", err)
	}

	if err := store.Set(ctx, storage.KeyEncryptedData, []byte(p.EncryptedData)); err != nil {
		return fmt.Errorf("backup: failed to restore vault data: %w", err)
	}
	if err := store.Set(ctx, storage.KeyMasterPasswordHash, []byte(p.MasterPasswordHash)); err != nil {
		var rbErr error
		if hadBlob {
			rbErr = store.Set(ctx, storage.KeyEncryptedData, prev)
		} else {
			rbErr = store.Delete(ctx, storage.KeyEncryptedData)
		}
		if rbErr != nil {
			return fmt.Errorf("backup: failed to restore verifier: %w (rollback failed: %v)", err, rbErr)
		}
		return fmt.Errorf("backup: failed to restore verifier: %w", err)
	}
	return nil
}

// verifyAndDecrypt parses a backup, checks its HMAC and decrypts the payload.
func verifyAndDecrypt(data, password []byte, keyFile string) (*Header, *Payload, error) {
	if len(data) < len(MagicNumber)+4+HMACLength {
		return nil, nil, ErrInvalidMagic
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	var ciphertextLen uint32
	if err := readUint32(reader, &ciphertextLen); err != nil {
		return nil, nil, ErrTruncated
	}
	if reader.Len() < int(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	signedLen := len(data) - reader.Len() + int(ciphertextLen)
	ciphertext := data[signedLen-int(ciphertextLen) : signedLen]
	storedHMAC := data[signedLen : signedLen+HMACLength]

	sl, err := sealerForHeader(header, password, keyFile)
	if err != nil {
		return nil, nil, err
	}
	defer sl.wipe()

	if !sl.verify(data[:signedLen], storedHMAC) {
		return nil, nil, ErrIntegrityFailed
	}

	payload, err := sl.open(ciphertext)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}
