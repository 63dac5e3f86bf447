package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvIsReadOnEveryCall(t *testing.T) {
	src := Env("LEARNCHAT_TEST_TOKEN")

	t.Setenv("LEARNCHAT_TEST_TOKEN", "first")
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", token)

	t.Setenv("LEARNCHAT_TEST_TOKEN", "second")
	token, err = src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", token)

	t.Setenv("LEARNCHAT_TEST_TOKEN", "  ")
	_, err = src.Token(context.Background())
	require.True(t, errors.Is(err, ErrNoToken))
}

func TestFileIsReadOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("abc\n"), 0600))

	src := File(path)
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	require.NoError(t, os.WriteFile(path, []byte("rotated"), 0600))
	token, err = src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rotated", token)

	_, err = File(filepath.Join(t.TempDir(), "missing")).Token(context.Background())
	require.Error(t, err)
}

func TestFirstOf(t *testing.T) {
	t.Setenv("LEARNCHAT_TEST_EMPTY", "")
	src := FirstOf(Env("LEARNCHAT_TEST_EMPTY"), nil, Static("fallback"))
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fallback", token)

	_, err = FirstOf(Static("")).Token(context.Background())
	require.True(t, errors.Is(err, ErrNoToken))
}

func TestMintVerifyRoundTrip(t *testing.T) {
	token, err := Mint("secret", "ada", []string{RoleStudent}, time.Hour)
	require.NoError(t, err)

	claims, err := Verify("secret", token)
	require.NoError(t, err)
	require.Equal(t, "ada", claims.Username)
	require.True(t, claims.HasRole(RoleStudent))
	require.False(t, claims.HasRole(RoleAdmin))

	_, err = Verify("other-secret", token)
	require.True(t, errors.Is(err, ErrInvalidToken))

	exp, err := Expiry(token)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, err := Mint("secret", "ada", nil, -time.Minute)
	require.NoError(t, err)
	_, err = Verify("secret", token)
	require.True(t, errors.Is(err, ErrInvalidToken))
}
