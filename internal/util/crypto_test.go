package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenFingerprint(t *testing.T) {
	t.Run("returns 12 character hex prefix", func(t *testing.T) {
		fp := TokenFingerprint("plex-token")
		assert.Len(t, fp, 12)
	})

	t.Run("same input produces same fingerprint", func(t *testing.T) {
		assert.Equal(t, TokenFingerprint("plex-token"), TokenFingerprint("plex-token"))
	})

	t.Run("different input produces different fingerprint", func(t *testing.T) {
		assert.NotEqual(t, TokenFingerprint("token-1"), TokenFingerprint("token-2"))
	})

	t.Run("never contains the token", func(t *testing.T) {
		assert.NotContains(t, TokenFingerprint("abcdefabcdef"), "abcdefabcdef")
	})

	t.Run("empty token has empty fingerprint", func(t *testing.T) {
		assert.Empty(t, TokenFingerprint(""))
	})
}

func TestMaskCode(t *testing.T) {
	assert.Equal(t, "****", MaskCode("AB"))
	assert.Equal(t, "****", MaskCode("ABCD"))
	assert.Equal(t, "ABCD-****", MaskCode("ABCDEFGH"))
}
