package util

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.Len(t, key, 64)
	})

	t.Run("generates unique keys", func(t *testing.T) {
		k1, _ := GenerateKey()
		k2, _ := GenerateKey()
		assert.NotEqual(t, k1, k2)
	})
}

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	gcm, err := ParseKey(key)
	require.NoError(t, err)

	t.Run("round trips arbitrary strings", func(t *testing.T) {
		inputs := []string{"", "x", "plex-token-123", strings.Repeat("a", 4096), "\x00\xff\xfe", "한국어"}
		for _, in := range inputs {
			ct, err := Seal(gcm, in)
			require.NoError(t, err)
			pt, err := Open(gcm, ct)
			require.NoError(t, err)
			assert.Equal(t, in, pt)
		}
	})

	t.Run("ciphertext does not contain plaintext", func(t *testing.T) {
		ct, err := Seal(gcm, "plex-token-123")
		require.NoError(t, err)
		assert.NotContains(t, ct, "plex-token-123")
	})

	t.Run("same plaintext encrypts differently", func(t *testing.T) {
		ct1, _ := Seal(gcm, "same")
		ct2, _ := Seal(gcm, "same")
		assert.NotEqual(t, ct1, ct2)
	})

	t.Run("foreign key fails with ErrInvalidCiphertext", func(t *testing.T) {
		other, _ := GenerateKey()
		otherGCM, err := ParseKey(other)
		require.NoError(t, err)
		ct, _ := Seal(gcm, "secret")
		_, err = Open(otherGCM, ct)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("tampered ciphertext fails with ErrInvalidCiphertext", func(t *testing.T) {
		ct, _ := Seal(gcm, "secret")
		raw, err := base64.StdEncoding.DecodeString(ct)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01
		_, err = Open(gcm, base64.StdEncoding.EncodeToString(raw))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("bad encoding and truncation fail the same way", func(t *testing.T) {
		for _, bad := range []string{"not-base64!!", "", base64.StdEncoding.EncodeToString([]byte("short"))} {
			_, err := Open(gcm, bad)
			assert.ErrorIs(t, err, ErrInvalidCiphertext)
		}
	})

	t.Run("invalid key is rejected", func(t *testing.T) {
		_, err := ParseKey("abcd")
		assert.ErrorIs(t, err, ErrInvalidKey)
		_, err = ParseKey(strings.Repeat("zz", 32))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
