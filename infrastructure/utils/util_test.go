package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionToken(t *testing.T) {
	raw, err := GenerateSessionToken("user-1", "org-1", "admin", "dev-secret", time.Hour)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return []byte("dev-secret"), nil })
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "org-1", claims["org_id"])
	assert.Equal(t, "admin", claims["role"])
}

func TestGenerateSessionToken_Expired(t *testing.T) {
	raw, err := GenerateSessionToken("user-1", "org-1", "", "dev-secret", -time.Minute)
	require.NoError(t, err)

	_, err = jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return []byte("dev-secret"), nil })
	require.Error(t, err)
}
