package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	first, err := db.Record(ctx, Exchange{
		RequestID: "req-1",
		Username:  "ada",
		Provider:  "echo",
		Message:   "what is a loop?",
		Response:  "You asked: what is a loop?",
		Duration:  120 * time.Millisecond,
	})
	require.NoError(t, err)

	second, err := db.Record(ctx, Exchange{
		RequestID: "req-2",
		Username:  "grace",
		Provider:  "ollama",
		Message:   "hi",
		Error:     "failed to send request: connection refused",
	})
	require.NoError(t, err)
	require.Greater(t, second, first)

	all, err := db.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "req-2", all[0].RequestID, "newest first")
	require.Contains(t, all[0].Error, "connection refused")

	ada, err := db.Recent(ctx, "ada", 10)
	require.NoError(t, err)
	require.Len(t, ada, 1)
	require.Equal(t, 120*time.Millisecond, ada[0].Duration)
	require.False(t, ada[0].CreatedAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := db.Record(ctx, Exchange{Username: "ada", Message: "q", Response: "a", Cached: i%2 == 0})
		require.NoError(t, err)
	}

	got, err := db.Recent(ctx, "ada", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].Cached)
}

func TestUserCount(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	for _, u := range []string{"ada", "grace", "ada"} {
		_, err := db.Record(ctx, Exchange{Username: u, Message: "q"})
		require.NoError(t, err)
	}

	n, err := db.UserCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, db.Ping(ctx))
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Record(ctx, Exchange{Username: "ada", Message: "persist me"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "persist me", got[0].Message)
}
