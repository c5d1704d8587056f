package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MagicNumber starts every backup file: "PVLT_BKP".
var MagicNumber = [8]byte{'P', 'V', 'L', 'T', '_', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

// maxHeaderLen bounds the header read from an untrusted file.
const maxHeaderLen = 1024 * 1024

// EncryptionMode specifies how the backup is encrypted.
type EncryptionMode string

const (
	// EncryptionModePassword derives the keys from a password.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a separate key file.
	EncryptionModeKey EncryptionMode = "key"
)

// KDFParams records how the password was stretched.
type KDFParams struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
}

// Header contains backup file metadata. It is authenticated but not
// encrypted.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDFParams      *KDFParams     `json:"kdf_params,omitempty"` // nil if EncryptionModeKey
	IncludesAudit  bool           `json:"includes_audit"`
	ChecksumAlgo   string         `json:"checksum_algorithm"`
}

// Payload is the encrypted part of a backup: the two vault slots as stored,
// plus the audit log files when requested.
type Payload struct {
	MasterPasswordHash string            `json:"masterPasswordHash"`
	EncryptedData      string            `json:"encryptedData"`
	AuditFiles         map[string][]byte `json:"audit_files,omitempty"`
}

// WriteHeader writes the magic number and header to the writer.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}

	if err := writeUint32(w, uint32(len(headerJSON))); err != nil {
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header from the reader.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("backup: failed to read magic number: %w", err)
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := readUint32(r, &headerLen); err != nil {
		return nil, fmt.Errorf("backup: failed to read header length: %w", err)
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("backup: failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}

// EncodePayload encodes the payload to JSON bytes.
func EncodePayload(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes JSON bytes to a payload.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}

func writeUint32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.BigEndian, v); err != nil {
		return fmt.Errorf("backup: failed to write length: %w", err)
	}
	return nil
}

func readUint32(r io.Reader, v *uint32) error {
	return binary.Read(r, binary.BigEndian, v)
}
