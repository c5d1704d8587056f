package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forest6511/passvault/pkg/audit"
	"github.com/forest6511/passvault/pkg/crypto"
	"github.com/forest6511/passvault/pkg/storage"
	"github.com/forest6511/passvault/pkg/vault"
)

const testPassword = "CorrectHorse1"

// testVault sets up a vault with one record and returns its store and
// audit directory.
func testVault(t *testing.T) (storage.Store, string) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	auditDir := t.TempDir()

	v := vault.New(store,
		vault.WithIdleTimeout(0),
		vault.WithAudit(audit.NewLogger(auditDir, audit.SourceCLI)))
	s, err := v.Setup(ctx, testPassword)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer s.Lock()

	if _, err := s.AddRecord(ctx, vault.RecordInput{Name: "GitHub", Username: "octo", Password: "hunter22"}); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	return store, auditDir
}

func writeBackup(t *testing.T, store storage.Store, opts BackupOptions) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Backup(context.Background(), &buf, store, opts); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vault.pvbk")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestSealerForBackup(t *testing.T) {
	a, err := sealerForBackup([]byte("test-password-123"), "")
	if err != nil {
		t.Fatalf("sealerForBackup failed: %v", err)
	}
	defer a.wipe()
	b, err := sealerForBackup([]byte("test-password-123"), "")
	if err != nil {
		t.Fatalf("sealerForBackup failed: %v", err)
	}
	defer b.wipe()

	if a.mode != EncryptionModePassword || len(a.kdf.Salt) != SaltLength {
		t.Errorf("mode = %q, salt length = %d", a.mode, len(a.kdf.Salt))
	}
	if bytes.Equal(a.kdf.Salt, b.kdf.Salt) {
		t.Error("two backups share a salt")
	}
	if len(a.enc) != KeyLength || len(a.mac) != KeyLength || bytes.Equal(a.enc, a.mac) {
		t.Error("encryption and MAC keys must be distinct 32-byte keys")
	}

	// the header's salt rebuilds the same keys
	again, err := sealerForHeader(&Header{EncryptionMode: a.mode, KDFParams: a.kdf}, []byte("test-password-123"), "")
	if err != nil {
		t.Fatalf("sealerForHeader failed: %v", err)
	}
	defer again.wipe()
	if !bytes.Equal(a.enc, again.enc) || !bytes.Equal(a.mac, again.mac) {
		t.Error("sealerForHeader derived different keys")
	}

	if _, err := sealerForBackup(nil, ""); err == nil {
		t.Error("expected error without password or key file")
	}
	if _, err := sealerForHeader(&Header{EncryptionMode: a.mode, KDFParams: a.kdf}, nil, ""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("error = %v, want ErrEmptyPassword", err)
	}
	if _, err := sealerForHeader(&Header{EncryptionMode: EncryptionModeKey}, []byte("pw"), ""); err == nil {
		t.Error("expected error for key-file header without a key file")
	}
}

func TestSealerSealOpen(t *testing.T) {
	sl, err := sealerForBackup([]byte("test-password-123"), "")
	if err != nil {
		t.Fatalf("sealerForBackup failed: %v", err)
	}
	defer sl.wipe()

	in := &Payload{MasterPasswordHash: "verifier", EncryptedData: "blob"}
	sealed, err := sl.seal(in)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	out, err := sl.open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if out.MasterPasswordHash != in.MasterPasswordHash || out.EncryptedData != in.EncryptedData {
		t.Errorf("open = %+v, want %+v", out, in)
	}

	for _, bad := range [][]byte{nil, []byte("short"), sealed[:len(sealed)-1]} {
		if _, err := sl.open(bad); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("open(%d bytes) error = %v, want ErrDecryptionFailed", len(bad), err)
		}
	}

	signed := []byte("header and ciphertext")
	mac := sl.sign(signed)
	if len(mac) != HMACLength || !sl.verify(signed, mac) {
		t.Error("sign/verify mismatch")
	}
	if sl.verify([]byte("header and ciphertexT"), mac) {
		t.Error("verify accepted altered data")
	}
}

func TestWriteReadHeader(t *testing.T) {
	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		EncryptionMode: EncryptionModePassword,
		KDFParams:      &KDFParams{Salt: []byte("salt"), Iterations: crypto.PBKDF2Iterations},
		IncludesAudit:  true,
		ChecksumAlgo:   "sha256",
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if !got.CreatedAt.Equal(header.CreatedAt) || got.EncryptionMode != header.EncryptionMode ||
		!got.IncludesAudit || got.KDFParams.Iterations != crypto.PBKDF2Iterations {
		t.Errorf("header mismatch: %+v", got)
	}
}

func TestReadHeader_Invalid(t *testing.T) {
	var future bytes.Buffer
	if err := WriteHeader(&future, &Header{Version: FormatVersion + 1}); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "wrong magic", data: []byte("NOTMAGIC\x00\x00\x00\x02{}"), wantErr: ErrInvalidMagic},
		{name: "future version", data: future.Bytes(), wantErr: ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := ReadHeader(bytes.NewReader(MagicNumber[:])); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.key")
	if err := GenerateKeyFile(path); err != nil {
		t.Fatalf("GenerateKeyFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file permissions = %o, want 600", info.Mode().Perm())
	}
	before, _ := os.ReadFile(path)
	if len(before) != KeyLength {
		t.Errorf("key length = %d, want %d", len(before), KeyLength)
	}

	// an existing key file is never replaced
	if err := GenerateKeyFile(path); err == nil {
		t.Error("expected error generating over an existing key file")
	}
	if after, _ := os.ReadFile(path); !bytes.Equal(before, after) {
		t.Error("existing key file was modified")
	}

	sl, err := keyFileSealer(path)
	if err != nil {
		t.Fatalf("keyFileSealer failed: %v", err)
	}
	sl.wipe()
	if sl.mode != EncryptionModeKey || sl.kdf != nil {
		t.Errorf("mode = %q, kdf = %+v", sl.mode, sl.kdf)
	}

	short := filepath.Join(t.TempDir(), "short.key")
	if err := os.WriteFile(short, []byte("too short"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := keyFileSealer(short); !errors.Is(err, ErrInvalidKeyFile) {
		t.Errorf("error = %v, want ErrInvalidKeyFile", err)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := testVault(t)
	path := writeBackup(t, src, BackupOptions{Password: []byte(testPassword)})

	dst := storage.NewMemoryStore()
	result, err := Restore(ctx, path, dst, RestoreOptions{Password: []byte(testPassword)})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if result.Replaced || result.DryRun {
		t.Errorf("unexpected result %+v", result)
	}

	for _, key := range []string{storage.KeyMasterPasswordHash, storage.KeyEncryptedData} {
		want, _ := src.Get(ctx, key)
		got, err := dst.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", key, err)
		}
		if !bytes.Equal(want, got) {
			t.Errorf("slot %s differs after restore", key)
		}
	}

	s, err := vault.New(dst, vault.WithIdleTimeout(0)).Login(ctx, testPassword)
	if err != nil {
		t.Fatalf("Login on restored vault failed: %v", err)
	}
	defer s.Lock()
	records, err := s.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 || records[0].Name != "GitHub" {
		t.Errorf("restored records = %+v", records)
	}
}

func TestBackupRestore_WithKeyFile(t *testing.T) {
	ctx := context.Background()
	src, _ := testVault(t)
	keyFile := filepath.Join(t.TempDir(), "backup.key")
	if err := GenerateKeyFile(keyFile); err != nil {
		t.Fatalf("GenerateKeyFile failed: %v", err)
	}
	path := writeBackup(t, src, BackupOptions{KeyFile: keyFile})

	// A password cannot open a key-file backup.
	if _, err := Restore(ctx, path, storage.NewMemoryStore(), RestoreOptions{Password: []byte(testPassword)}); err == nil {
		t.Error("expected error restoring key-file backup with a password")
	}

	if _, err := Restore(ctx, path, storage.NewMemoryStore(), RestoreOptions{KeyFile: keyFile}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
}

func TestRestore_ExistingVault(t *testing.T) {
	ctx := context.Background()
	src, _ := testVault(t)
	path := writeBackup(t, src, BackupOptions{Password: []byte(testPassword)})

	dst, _ := testVault(t)
	before, _ := dst.Get(ctx, storage.KeyEncryptedData)

	_, err := Restore(ctx, path, dst, RestoreOptions{Password: []byte(testPassword)})
	if !errors.Is(err, ErrVaultExists) {
		t.Fatalf("error = %v, want ErrVaultExists", err)
	}

	// dry run reports the replacement but writes nothing
	result, err := Restore(ctx, path, dst, RestoreOptions{Password: []byte(testPassword), Overwrite: true, DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !result.Replaced || !result.DryRun {
		t.Errorf("unexpected result %+v", result)
	}
	after, _ := dst.Get(ctx, storage.KeyEncryptedData)
	if !bytes.Equal(before, after) {
		t.Error("dry run modified the store")
	}

	if _, err := Restore(ctx, path, dst, RestoreOptions{Password: []byte(testPassword), Overwrite: true}); err != nil {
		t.Fatalf("Restore with overwrite failed: %v", err)
	}
	want, _ := src.Get(ctx, storage.KeyEncryptedData)
	got, _ := dst.Get(ctx, storage.KeyEncryptedData)
	if !bytes.Equal(want, got) {
		t.Error("overwrite did not replace vault data")
	}
}

func TestBackup_WithAudit(t *testing.T) {
	ctx := context.Background()
	src, auditDir := testVault(t)
	path := writeBackup(t, src, BackupOptions{
		Password:     []byte(testPassword),
		IncludeAudit: true,
		AuditDir:     auditDir,
	})

	restoredAudit := t.TempDir()
	result, err := Restore(ctx, path, storage.NewMemoryStore(), RestoreOptions{
		Password:  []byte(testPassword),
		WithAudit: true,
		AuditDir:  restoredAudit,
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !result.AuditRestored {
		t.Fatal("expected audit logs to be restored")
	}

	l := audit.NewLogger(restoredAudit, audit.SourceCLI)
	if err := l.SetKey([]byte(testPassword)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	vr, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !vr.Valid || vr.RecordsTotal == 0 {
		t.Errorf("restored audit log = %+v", vr)
	}
}

func TestVerify(t *testing.T) {
	src, _ := testVault(t)
	path := writeBackup(t, src, BackupOptions{Password: []byte(testPassword)})

	result, err := Verify(path, []byte(testPassword), "")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.Version != FormatVersion {
		t.Errorf("Verify = %+v", result)
	}

	result, _ = Verify(path, []byte("WrongHorse1"), "")
	if result.Valid {
		t.Error("wrong password should not verify")
	}

	result, _ = Verify(filepath.Join(t.TempDir(), "missing"), []byte(testPassword), "")
	if result.Valid || result.Error == "" {
		t.Error("missing file should not verify")
	}
}

func TestVerify_Tampered(t *testing.T) {
	src, _ := testVault(t)
	path := writeBackup(t, src, BackupOptions{Password: []byte(testPassword)})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name: "flipped ciphertext byte",
			mutate: func(b []byte) []byte {
				b[len(b)-HMACLength-1] ^= 0xff
				return b
			},
			wantErr: ErrIntegrityFailed,
		},
		{
			name: "truncated",
			mutate: func(b []byte) []byte {
				return b[:len(b)-HMACLength-4]
			},
			wantErr: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(append([]byte{}, data...))
			_, _, err := verifyAndDecrypt(mutated, []byte(testPassword), "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackup_Errors(t *testing.T) {
	ctx := context.Background()
	src, _ := testVault(t)

	if err := Backup(ctx, nil, src, BackupOptions{Password: []byte(testPassword)}); err == nil {
		t.Error("expected error for nil writer")
	}
	if err := Backup(ctx, &bytes.Buffer{}, src, BackupOptions{}); err == nil {
		t.Error("expected error without password or key file")
	}
	err := Backup(ctx, &bytes.Buffer{}, storage.NewMemoryStore(), BackupOptions{Password: []byte(testPassword)})
	if !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("error = %v, want ErrVaultNotFound", err)
	}
}

// verifierFailStore fails writes to the verifier slot.
type verifierFailStore struct {
	storage.Store
}

func (f verifierFailStore) Set(ctx context.Context, key string, value []byte) error {
	if key == storage.KeyMasterPasswordHash {
		return storage.ErrInsufficientDisk
	}
	return f.Store.Set(ctx, key, value)
}

func TestRestore_RollsBackBlobWhenVerifierFails(t *testing.T) {
	ctx := context.Background()
	src, _ := testVault(t)
	path := writeBackup(t, src, BackupOptions{Password: []byte(testPassword)})

	t.Run("empty target", func(t *testing.T) {
		dst := storage.NewMemoryStore()
		_, err := Restore(ctx, path, verifierFailStore{dst}, RestoreOptions{Password: []byte(testPassword)})
		if !errors.Is(err, storage.ErrInsufficientDisk) {
			t.Fatalf("error = %v, want ErrInsufficientDisk", err)
		}
		if _, err := dst.Get(ctx, storage.KeyEncryptedData); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("blob slot left behind: %v", err)
		}
	})

	t.Run("existing vault", func(t *testing.T) {
		dst, _ := testVault(t)
		before, _ := dst.Get(ctx, storage.KeyEncryptedData)

		_, err := Restore(ctx, path, verifierFailStore{dst}, RestoreOptions{Password: []byte(testPassword), Overwrite: true})
		if !errors.Is(err, storage.ErrInsufficientDisk) {
			t.Fatalf("error = %v, want ErrInsufficientDisk", err)
		}
		after, _ := dst.Get(ctx, storage.KeyEncryptedData)
		if !bytes.Equal(before, after) {
			t.Error("blob slot not rolled back")
		}

		// the untouched vault still unlocks
		s, err := vault.New(dst, vault.WithIdleTimeout(0)).Login(ctx, testPassword)
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		s.Lock()
	})
}
