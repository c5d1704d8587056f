package backup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/passvault/pkg/crypto"
)

const (
	// SaltLength is the length of the per-backup password salt.
	SaltLength = 32
	// HMACLength is the length of the trailing file MAC.
	HMACLength = sha256.Size
	// KeyLength is the length of a key file and of each derived key.
	KeyLength = 32
)

// HKDF info strings. Changing them breaks every existing backup.
const (
	hkdfInfoEncryption = "passvault-backup-encryption"
	hkdfInfoMAC        = "passvault-backup-mac"
)

// sealer holds the keys guarding one backup file. enc seals the slot
// payload; mac signs everything in the file before the trailing MAC.
type sealer struct {
	enc, mac []byte
	mode     EncryptionMode
	kdf      *KDFParams // password mode only
}

// sealerForBackup picks the keys for a new backup. A key file wins over a
// password, and a password is stretched with a fresh salt.
func sealerForBackup(password []byte, keyFile string) (*sealer, error) {
	if keyFile != "" {
		return keyFileSealer(keyFile)
	}
	if len(password) == 0 {
		return nil, errors.New("backup: password or key file is required")
	}
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: failed to generate salt: %w", err)
	}
	return passwordSealer(password, salt)
}

// sealerForHeader rebuilds the keys an existing backup was written with.
func sealerForHeader(h *Header, password []byte, keyFile string) (*sealer, error) {
	switch {
	case keyFile != "":
		return keyFileSealer(keyFile)
	case h.EncryptionMode == EncryptionModePassword && h.KDFParams != nil:
		return passwordSealer(password, h.KDFParams.Salt)
	default:
		return nil, errors.New("backup: cannot determine decryption key")
	}
}

func passwordSealer(password, salt []byte) (*sealer, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	master := crypto.DeriveKey(password, salt)
	defer crypto.SecureWipe(master)

	s, err := expandKeys(master)
	if err != nil {
		return nil, err
	}
	s.mode = EncryptionModePassword
	s.kdf = &KDFParams{Salt: salt, Iterations: crypto.PBKDF2Iterations}
	return s, nil
}

func keyFileSealer(path string) (*sealer, error) {
	raw, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(raw)

	s, err := expandKeys(raw)
	if err != nil {
		return nil, err
	}
	s.mode = EncryptionModeKey
	return s, nil
}

// expandKeys derives the independent encryption and MAC keys from secret
// with HKDF-SHA256.
func expandKeys(secret []byte) (*sealer, error) {
	s := &sealer{}
	for _, k := range []struct {
		dst  *[]byte
		info string
	}{
		{&s.enc, hkdfInfoEncryption},
		{&s.mac, hkdfInfoMAC},
	} {
		key := make([]byte, KeyLength)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(k.info)), key); err != nil {
			s.wipe()
			return nil, fmt.Errorf("backup: failed to derive %s key: %w", k.info, err)
		}
		*k.dst = key
	}
	return s, nil
}

func (s *sealer) wipe() {
	crypto.SecureWipe(s.enc)
	crypto.SecureWipe(s.mac)
}

// seal encodes the slots and encrypts them as nonce||ciphertext.
func (s *sealer) seal(p *Payload) ([]byte, error) {
	plain, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plain)

	ciphertext, nonce, err := crypto.Encrypt(s.enc, plain)
	if err != nil {
		return nil, fmt.Errorf("backup: encryption failed: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

// open reverses seal. Any authentication failure is ErrDecryptionFailed.
func (s *sealer) open(sealed []byte) (*Payload, error) {
	if len(sealed) < crypto.NonceLength {
		return nil, ErrDecryptionFailed
	}
	plain, err := crypto.Decrypt(s.enc, sealed[crypto.NonceLength:], sealed[:crypto.NonceLength])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer crypto.SecureWipe(plain)
	return DecodePayload(plain)
}

func (s *sealer) sign(signed []byte) []byte {
	h := hmac.New(sha256.New, s.mac)
	h.Write(signed)
	return h.Sum(nil)
}

func (s *sealer) verify(signed, mac []byte) bool {
	return hmac.Equal(s.sign(signed), mac)
}

func readKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read key file: %w", err)
	}
	if len(key) != KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}

// GenerateKeyFile writes a new random key to path, which must not exist.
func GenerateKeyFile(path string) error {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("backup: failed to generate key: %w", err)
	}
	defer crypto.SecureWipe(key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("backup: failed to create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("backup: failed to write key file: %w", err)
	}
	return f.Close()
}
