package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	signed, err := tokens.GenerateToken("table-1")
	require.NoError(t, err)

	claims, err := tokens.ParseToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "table-1", claims.Observer)
	assert.Equal(t, "table-1", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
}

func TestParseTokenRejects(t *testing.T) {
	signed, err := NewTokens("secret", time.Hour).GenerateToken("table-1")
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).ParseToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokens("secret", time.Hour).ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewTokens("secret", -time.Minute).GenerateToken("table-1")
	require.NoError(t, err)
	_, err = NewTokens("secret", 0).ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
