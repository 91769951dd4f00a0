package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgon2RoundTrip(t *testing.T) {
	hash, err := HashArgon2("s3cret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := VerifyArgon2("s3cret", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyArgon2("s3cret!", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArgon2SaltsDiffer(t *testing.T) {
	a, err := HashArgon2("same")
	require.NoError(t, err)
	b, err := HashArgon2("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyArgon2RejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$***$aGFzaA",
	} {
		_, err := VerifyArgon2("x", encoded)
		require.ErrorIs(t, err, ErrInvalidHash, encoded)
	}
}

func TestGenerateBase64Secret(t *testing.T) {
	s, err := GenerateBase64Secret(32)
	require.NoError(t, err)
	require.Len(t, s, 43)
	require.NotContains(t, s, "=")
}

func TestSHA256Hex(t *testing.T) {
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", SHA256Hex("hello"))
}
