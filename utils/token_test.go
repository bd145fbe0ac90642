package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	token, err := GenerateToken("secret", "user-1", "MEMBER", "access", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "MEMBER", claims.Role)
	require.Equal(t, "access", claims.Kind)
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()
	token, err := GenerateToken("secret", "user-1", "MEMBER", "access", time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("other-secret", token)
	require.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()
	token, err := GenerateToken("secret", "user-1", "MEMBER", "access", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("secret", token)
	require.Error(t, err)
}

func TestGenerateETag_StableAndQuoted(t *testing.T) {
	t.Parallel()
	id := primitive.NewObjectID()
	at := time.Now()

	first := GenerateETag(id, at)
	require.Equal(t, first, GenerateETag(id, at))
	require.NotEqual(t, first, GenerateETag(id, at.Add(time.Second)))
	require.Regexp(t, `^".+"$`, first)
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, CheckPassword(hash, "correct horse battery staple"))
	require.False(t, CheckPassword(hash, "wrong password"))
}
