// Package secrets seals hub credentials so community strings are never
// stored in the clear. Sealed values are nonce-prefixed secretbox
// ciphertexts, base64-encoded with a format prefix so pre-sealing rows
// can still be read back.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:"

// Sealer encrypts and decrypts short credential strings with a
// process-local symmetric key
type Sealer struct {
	key [32]byte
}

// NewSealer creates a sealer from a 32-byte key
func NewSealer(key [32]byte) *Sealer {
	return &Sealer{key: key}
}

// LoadOrCreateKey reads the key file, generating one on first run
func LoadOrCreateKey(path string) ([32]byte, error) {
	var key [32]byte

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != len(key) {
			return key, fmt.Errorf("key file %s: expected %d bytes, got %d", path, len(key), len(data))
		}
		copy(key[:], data)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return key, fmt.Errorf("read key file: %w", err)
	}

	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return key, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0600); err != nil {
		return key, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// Seal encrypts a credential for storage
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored credential. Values without the sealed prefix
// are returned as-is: rows written before sealing was introduced hold
// plaintext communities.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed credential: %w", err)
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("sealed credential too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("credential does not open with current key")
	}
	return string(plaintext), nil
}
