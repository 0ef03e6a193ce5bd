// Package crypto seals secret fields (provider credentials) before they are
// written to the database, using AES-256-GCM with an HKDF-derived key.
//
// Sealed values look like "sealed:v1:<base64(nonce+ciphertext)>". The purpose
// string is bound as additional data, so a value sealed for one column cannot
// be opened as another.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "sealed:v1:"

// ErrEmptySecret is returned when no master secret is configured.
var ErrEmptySecret = errors.New("crypto: master secret is empty")

// Sealer encrypts and decrypts string fields. Safe for concurrent use.
type Sealer struct {
	gcm     cipher.AEAD
	purpose []byte
}

// NewSealer derives an AES-256 key for purpose from masterSecret.
func NewSealer(masterSecret []byte, purpose string) (*Sealer, error) {
	if len(masterSecret) == 0 {
		return nil, ErrEmptySecret
	}
	kdf := hkdf.New(sha256.New, masterSecret, []byte("bosun-field-sealing"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: HKDF derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Sealer{gcm: gcm, purpose: []byte(purpose)}, nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	out := s.gcm.Seal(nonce, nonce, []byte(plaintext), s.purpose)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged so rows written before sealing was enabled still load.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid base64: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(data) < n {
		return "", errors.New("crypto: ciphertext too short")
	}
	plaintext, err := s.gcm.Open(nil, data[:n], data[n:], s.purpose)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether a stored value carries the sealed prefix.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
