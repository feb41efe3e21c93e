package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_ShortSecret(t *testing.T) {
	_, err := NewIssuer([]byte("short"))
	assert.Error(t, err)
}

func TestSignInVerify(t *testing.T) {
	iss := newIssuer(t)

	id, err := iss.SignIn()
	require.NoError(t, err)
	require.NotEmpty(t, id.UserID)

	got, err := iss.Verify(id.Token)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	other, err := iss.SignIn()
	require.NoError(t, err)
	assert.NotEqual(t, id.UserID, other.UserID, "each sign in yields a new identity")
}

func TestVerify_Rejects(t *testing.T) {
	iss := newIssuer(t)
	other, err := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	foreign, err := other.SignIn()
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: "someone-else", Subject: "u1",
	}).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: issuerName,
	}).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not-a-token",
		"other secret": foreign.Token,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestLoadOrSignIn(t *testing.T) {
	iss := newIssuer(t)
	path := filepath.Join(t.TempDir(), "docket", "identity.json")

	first, err := iss.LoadOrSignIn(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := iss.LoadOrSignIn(path)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, again.UserID, "stored identity is reused")

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0600))
	fresh, err := iss.LoadOrSignIn(path)
	require.NoError(t, err)
	assert.NotEqual(t, first.UserID, fresh.UserID)
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	s1, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Len(t, s1, 32)

	s2, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	require.NoError(t, os.WriteFile(path, []byte("zz"), 0600))
	_, err = LoadOrCreateSecret(path)
	assert.Error(t, err)
}
