// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *TokenStore {
	t.Helper()
	s, err := NewTokenStore(filepath.Join(t.TempDir(), "billdash", "token"))
	require.NoError(t, err)
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Save("eyJhbGciOi.secret.token"))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi.secret.token", got)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), EncryptedPrefix))
	assert.NotContains(t, string(raw), "secret")
}

func TestSaveReusesKey(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("one"))
	key1, err := os.ReadFile(s.keyPath)
	require.NoError(t, err)

	require.NoError(t, s.Save("two"))
	key2, err := os.ReadFile(s.keyPath)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "two", got)
}

func TestLoadWithoutToken(t *testing.T) {
	s := newStore(t)
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestLoadTampered(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("token"))

	require.NoError(t, os.WriteFile(s.Path(), []byte("plaintext"), 0600))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := seal(make([]byte, 32), []byte("token"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte(other), 0600))
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestClear(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("token"))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSaveRejectsEmpty(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.Save("  "))
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	s := newStore(t)
	require.NoError(t, s.Save("token"))

	for _, p := range []string{s.Path(), s.keyPath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), p)
	}
}
