package password

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	scheme         = "pbkdf2-sha256"
	hashVersion    = "v1"
	iterations     = 100000
	keyLength      = 32
	randomSaltSize = 16
	passwordLength = 20
	minPepperSize  = 16
)

// Service derives and verifies platform passwords. The pepper and app name
// are injected at construction; nothing is read from the environment here.
type Service struct {
	pepper  string
	appName string
}

// NewService validates the pepper and builds the service.
func NewService(pepper, appName string) (*Service, error) {
	if len(pepper) < minPepperSize {
		return nil, fmt.Errorf("password pepper must be at least %d characters", minPepperSize)
	}
	if appName == "" {
		return nil, fmt.Errorf("app name is required")
	}
	return &Service{pepper: pepper, appName: appName}, nil
}

// storeSalt derives the per-store salt. Domains are case-insensitive, so the
// input is lowercased before keying.
func (s *Service) storeSalt(storeDomain string) []byte {
	mac := hmac.New(sha256.New, []byte(s.pepper))
	mac.Write([]byte(strings.ToLower(storeDomain)))
	return mac.Sum(nil)
}

// Generate returns the deterministic 20-character platform password for one
// external identity at one store. Same inputs, same output, on any replica
// sharing the pepper.
func (s *Service) Generate(storeDomain, userIdpID string) string {
	input := fmt.Sprintf("%s:%s:%s", userIdpID, s.pepper, s.appName)
	dk := pbkdf2.Key([]byte(input), s.storeSalt(storeDomain), iterations, keyLength, sha256.New)

	encoded := base64.StdEncoding.EncodeToString(dk)
	encoded = strings.ReplaceAll(encoded, "+", "A")
	encoded = strings.ReplaceAll(encoded, "/", "B")
	encoded = strings.TrimRight(encoded, "=")
	return encoded[:passwordLength]
}

// Hash produces a storage-grade hash with a fresh random salt:
// $pbkdf2-sha256$v1$<iterations>$<b64 randomSalt>$<b64 hash>.
func (s *Service) Hash(password, storeDomain string) (string, error) {
	randomSalt := make([]byte, randomSaltSize)
	if _, err := rand.Read(randomSalt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	dk := s.derive(password, storeDomain, randomSalt, iterations)

	enc := base64.StdEncoding
	return fmt.Sprintf("$%s$%s$%d$%s$%s",
		scheme, hashVersion, iterations,
		enc.EncodeToString(randomSalt), enc.EncodeToString(dk)), nil
}

// Verify recomputes the hash with the stored parameters and compares in
// constant time.
func (s *Service) Verify(password, encoded, storeDomain string) bool {
	parts := strings.Split(encoded, "$")
	// Leading "$" yields an empty first element.
	if len(parts) != 6 || parts[0] != "" || parts[1] != scheme || parts[2] != hashVersion {
		return false
	}
	iter, err := strconv.Atoi(parts[3])
	if err != nil || iter <= 0 {
		return false
	}
	enc := base64.StdEncoding
	randomSalt, err := enc.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := s.derive(password, storeDomain, randomSalt, iter)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (s *Service) derive(password, storeDomain string, randomSalt []byte, iter int) []byte {
	salt := make([]byte, 0, len(randomSalt)+sha256.Size)
	salt = append(salt, randomSalt...)
	salt = append(salt, s.storeSalt(storeDomain)...)
	return pbkdf2.Key([]byte(password), salt, iter, keyLength, sha256.New)
}
