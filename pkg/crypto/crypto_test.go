package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpaqueToken(t *testing.T) {
	token, err := NewOpaqueToken("rst_", 32)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "rst_"))
	// 32 random bytes, base64url without padding
	assert.Len(t, token, 4+43)

	other, err := NewOpaqueToken("rst_", 32)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashToken(t *testing.T) {
	h := HashToken("rst_abc")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashToken("rst_abc"))
	assert.NotEqual(t, h, HashToken("rst_abd"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, VerifyPassword("correct horse battery staple", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("correct horse battery staple", "not a hash"))
}

func TestTokensEqual(t *testing.T) {
	assert.True(t, TokensEqual("rst_abc", "rst_abc"))
	assert.False(t, TokensEqual("rst_abc", "rst_abd"))
	assert.False(t, TokensEqual("rst_abc", "rst_ab"))
}
