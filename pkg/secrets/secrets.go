package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	version   = "v1"
	keyLength = 32 // AES-256
	tagLength = 16 // GCM auth tag
)

// DecryptionError covers unsupported versions, malformed tokens and auth-tag
// mismatches. Callers must not distinguish further; the credentials are
// unusable either way.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

// Service encrypts and decrypts JSON-serializable values with AES-256-GCM.
type Service struct {
	aead cipher.AEAD
}

// NewService builds a Service from a 256-bit key supplied out of band. The
// key is held in memory only and never logged.
func NewService(key []byte) (*Service, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &Service{aead: aead}, nil
}

// Encrypt serializes value as JSON and seals it with a fresh random IV.
// Output format: "v1:<b64 iv>:<b64 tag>:<b64 ciphertext>".
func (s *Service) Encrypt(value any) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}

	iv := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := s.aead.Seal(nil, iv, plaintext, nil)
	body := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		version,
		enc.EncodeToString(iv),
		enc.EncodeToString(tag),
		enc.EncodeToString(body),
	}, ":"), nil
}

// DecryptInto opens a token produced by Encrypt and unmarshals the plaintext
// into out. Any failure returns *DecryptionError.
func (s *Service) DecryptInto(token string, out any) error {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return &DecryptionError{Reason: "malformed token"}
	}
	if parts[0] != version {
		return &DecryptionError{Reason: fmt.Sprintf("unsupported version %q", parts[0])}
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[1])
	if err != nil {
		return &DecryptionError{Reason: "malformed IV"}
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil {
		return &DecryptionError{Reason: "malformed auth tag"}
	}
	body, err := enc.DecodeString(parts[3])
	if err != nil {
		return &DecryptionError{Reason: "malformed ciphertext"}
	}
	if len(iv) != s.aead.NonceSize() || len(tag) != tagLength {
		return &DecryptionError{Reason: "malformed token"}
	}

	plaintext, err := s.aead.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return &DecryptionError{Reason: "authentication failed"}
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return &DecryptionError{Reason: "invalid plaintext encoding"}
	}
	return nil
}

// Decrypt is a typed convenience wrapper around DecryptInto.
func Decrypt[T any](s *Service, token string) (T, error) {
	var out T
	if err := s.DecryptInto(token, &out); err != nil {
		return out, err
	}
	return out, nil
}
