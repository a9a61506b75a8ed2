// Package cryptox seals durable record values at rest and fingerprints
// credentials for logging.
package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrOpen is returned when sealed data is malformed or fails authentication.
var ErrOpen = errors.New("cryptox: cannot open sealed value")

// Sealer encrypts and decrypts string values stored in the durable record.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Plain is the identity Sealer used when no record key is configured.
type Plain struct{}

func (Plain) Seal(plaintext string) (string, error) { return plaintext, nil }
func (Plain) Open(sealed string) (string, error)    { return sealed, nil }

// RecordSealer seals values with XChaCha20-Poly1305. The output format is
// base64url([24-byte nonce][ciphertext][16-byte tag]).
type RecordSealer struct {
	aead cipher.AEAD
}

// NewRecordSealer derives a 32-byte key from keyMaterial using SHA-256.
func NewRecordSealer(keyMaterial []byte) (*RecordSealer, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("cryptox: empty key material")
	}

	key := sha256.Sum256(keyMaterial)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &RecordSealer{aead: aead}, nil
}

// LoadRecordSealer reads key material from path. Surrounding whitespace is
// ignored so keys written with a trailing newline still match.
func LoadRecordSealer(path string) (*RecordSealer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record key file: %w", err)
	}
	return NewRecordSealer([]byte(strings.TrimSpace(string(data))))
}

func (s *RecordSealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *RecordSealer) Open(sealed string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrOpen
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize+s.aead.Overhead() {
		return "", ErrOpen
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrOpen
	}
	return string(plaintext), nil
}
