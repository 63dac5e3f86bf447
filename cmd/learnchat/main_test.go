package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"LearnChat/internal/config"
	"LearnChat/internal/credentials"
	"LearnChat/internal/store"

	"github.com/stretchr/testify/require"
)

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	cmd := newTokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--secret", "dev-secret", "--user", "ada", "--role", "teacher", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	claims, err := credentials.Verify("dev-secret", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "ada", claims.Username)
	require.True(t, claims.HasRole(credentials.RoleTeacher))
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "")
	cmd := newTokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--user", "ada"})
	require.Error(t, cmd.Execute())
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	_, err = db.Record(context.Background(), store.Exchange{
		Username: "ada",
		Provider: "echo",
		Message:  "what is   entropy?",
		Response: "You asked: what is entropy?",
		Duration: 15 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cmd := newHistoryCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--db", path})
	require.NoError(t, cmd.Execute())

	require.Contains(t, out.String(), "ada")
	require.Contains(t, out.String(), "what is entropy?")
	require.Contains(t, out.String(), "answered")
}

func TestHistoryCommandEmpty(t *testing.T) {
	cmd := newHistoryCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "empty.db")})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "No exchanges recorded.")
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "")
	cmd := newServeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--provider", config.ProviderEcho})
	require.ErrorContains(t, cmd.Execute(), "RELAY_JWT_SECRET")
}

func TestTokenSourcePrefersFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "token")
	require.NoError(t, writeFile(file, "from-file\n"))
	t.Setenv("TEST_LEARNCHAT_TOKEN", "from-env")

	src := tokenSource(config.Config{TokenFile: file, TokenEnv: "TEST_LEARNCHAT_TOKEN"})
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from-file", token)

	src = tokenSource(config.Config{TokenFile: filepath.Join(dir, "missing"), TokenEnv: "TEST_LEARNCHAT_TOKEN"})
	token, err = src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "from-env", token)
}

func TestSplitOrigins(t *testing.T) {
	require.Equal(t, []string{"https://a.example", "https://b.example"}, splitOrigins(" https://a.example, ,https://b.example "))
	require.Nil(t, splitOrigins(""))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
