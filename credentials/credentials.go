// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credentials provides the two cryptographic primitives the service
// needs: AEAD symmetric encryption for tenant database passwords and one-way
// hashing for API keys and user passwords.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ciphertextVersion is the format version byte prepended to every
// ciphertext. Reserved for key rotation.
const ciphertextVersion = 0x01

// DefaultBcryptCost is the work factor for user password hashing.
const DefaultBcryptCost = 12

// ErrUnavailableCredential is the sentinel returned when a stored ciphertext
// cannot be decrypted. Callers log it and continue with an empty password so
// the surrounding pool creation fails predictably instead of crashing.
var ErrUnavailableCredential = fmt.Errorf("credential unavailable: ciphertext cannot be decrypted")

// Store wraps the process encryption key and hashing parameters.
type Store struct {
	aead       cipher.AEAD
	bcryptCost int
}

// Options configures a Store.
type Options struct {
	// Key is the base64-encoded 32-byte AES key (ENCRYPTION_KEY).
	Key string

	// BcryptCost overrides the user-password hashing work factor.
	BcryptCost int
}

// NewStore creates a credential store from the process encryption key.
func NewStore(opts Options) (*Store, error) {
	key, err := base64.StdEncoding.DecodeString(opts.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AEAD: %w", err)
	}

	cost := opts.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}

	return &Store{aead: aead, bcryptCost: cost}, nil
}

// Encrypt seals plaintext as version || nonce || ciphertext || tag and
// encodes the result as base64 for text-column storage.
func (s *Store) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, 1+len(nonce)+len(sealed))
	out = append(out, ciphertextVersion)
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure (bad base64,
// unknown version, truncated payload, tag mismatch) returns
// ErrUnavailableCredential rather than the underlying error, so callers have
// a single sentinel to branch on.
func (s *Store) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrUnavailableCredential
	}
	if len(raw) < 1+s.aead.NonceSize() {
		return "", ErrUnavailableCredential
	}
	if raw[0] != ciphertextVersion {
		return "", ErrUnavailableCredential
	}

	nonce := raw[1 : 1+s.aead.NonceSize()]
	sealed := raw[1+s.aead.NonceSize():]

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrUnavailableCredential
	}

	return string(plaintext), nil
}

// HashAPIKey returns the hex-encoded SHA-256 digest of the full API key
// secret. Uniform over the whole secret and safe for indexed storage.
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashPassword hashes a user password with bcrypt.
func (s *Store) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
