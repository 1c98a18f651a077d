package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	secret := []byte("secret")
	token, err := GenerateToken("alice", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.UserID)
	require.Equal(t, "alice", claims.Subject)

	_, err = ParseToken(token, []byte("other"))
	require.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("secret")
	token, err := GenerateToken("alice", secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(token, secret)
	require.Error(t, err)
}

func TestParseRejectsOtherSigningMethod(t *testing.T) {
	claims := Claims{UserID: "alice", RegisteredClaims: jwtlib.RegisteredClaims{
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseToken(token, []byte("secret"))
	require.Error(t, err)
}

func TestGenerateRequiresUser(t *testing.T) {
	_, err := GenerateToken("", []byte("secret"), time.Hour)
	require.Error(t, err)
}
