package util

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("returns base64url without padding", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)

		decoded, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		assert.Len(t, decoded, tokenBytes)
		assert.NotContains(t, token, "=")
		assert.NotContains(t, token, "+")
		assert.NotContains(t, token, "/")
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := GenerateToken()
			require.NoError(t, err)
			assert.False(t, seen[token], "duplicate token generated")
			seen[token] = true
		}
	})
}

func TestHashToken(t *testing.T) {
	t.Run("is deterministic under one secret", func(t *testing.T) {
		assert.Equal(t, HashToken("k1", "abc"), HashToken("k1", "abc"))
	})

	t.Run("differs per input", func(t *testing.T) {
		assert.NotEqual(t, HashToken("k1", "abc"), HashToken("k1", "abd"))
	})

	t.Run("differs per secret", func(t *testing.T) {
		assert.NotEqual(t, HashToken("k1", "abc"), HashToken("k2", "abc"))
	})

	t.Run("returns hex sha256", func(t *testing.T) {
		assert.Len(t, HashToken("k1", "abc"), 64)
	})
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("same", "same"))
	assert.False(t, ConstantTimeEqual("same", "other"))
	assert.False(t, ConstantTimeEqual("same", "sam"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "abcdefgh****", MaskToken("abcdefghijklmnop"))
}
