// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth persists the job service bearer token encrypted at rest.
//
// The token is sealed with XChaCha20-Poly1305 under a random 256-bit key
// kept in a separate 0600 key file. Both files live in ~/.billdash by
// default.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeranaias/billdash/internal/util"
)

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

var (
	// ErrNoToken indicates no token has been stored.
	ErrNoToken = errors.New("not logged in: run 'billdash login'")
	// ErrInvalidCiphertext indicates the stored token is not in the expected format.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates the key does not match the stored token.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// ZeroBytes zeros key material.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// TokenStore reads and writes the encrypted token file.
type TokenStore struct {
	mu        sync.Mutex
	tokenPath string
	keyPath   string
}

// DefaultTokenPath returns ~/.billdash/token.
func DefaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".billdash", "token"), nil
}

// NewTokenStore creates a store for tokenPath. The key lives next to it
// as tokenPath + ".key". An empty path selects the default location.
func NewTokenStore(tokenPath string) (*TokenStore, error) {
	if tokenPath == "" {
		p, err := DefaultTokenPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine token path: %w", err)
		}
		tokenPath = p
	}
	return &TokenStore{tokenPath: tokenPath, keyPath: tokenPath + ".key"}, nil
}

// Path returns the token file path.
func (s *TokenStore) Path() string { return s.tokenPath }

// Save encrypts and stores token.
func (s *TokenStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("refusing to store an empty token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}
	defer ZeroBytes(key)

	sealed, err := seal(key, []byte(token))
	if err != nil {
		return err
	}
	return util.AtomicWriteFileWithDir(s.tokenPath, []byte(sealed), 0600, 0700)
}

// Load returns the stored token, or ErrNoToken.
func (s *TokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	key, err := os.ReadFile(s.keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token key: %w", err)
	}
	defer ZeroBytes(key)

	plain, err := open(key, strings.TrimSpace(string(data)))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Clear removes the stored token and its key.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{s.tokenPath, s.keyPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func (s *TokenStore) loadOrCreateKey() ([]byte, error) {
	key, err := os.ReadFile(s.keyPath)
	if err == nil && len(key) == chacha20poly1305.KeySize {
		return key, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read token key: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(s.keyPath, key, 0600, 0700); err != nil {
		ZeroBytes(key)
		return nil, fmt.Errorf("write token key: %w", err)
	}
	return key, nil
}

func seal(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func open(key []byte, value string) ([]byte, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return nil, ErrInvalidCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
