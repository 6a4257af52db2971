package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/jrsteele09/go-oidc-testapp/sessions/sqlstore"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T, maxAge time.Duration) *sqlstore.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "sessions.db")
	store, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, dsn, maxAge)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SQLite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := newSQLiteStore(t, time.Hour).WithClock(func() time.Time { return now })

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)

	s := sessions.New("session-1", now)
	s.CodeVerifier = "abc"
	require.NoError(t, store.Upsert(ctx, s))

	got, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, "abc", got.CodeVerifier)
	require.False(t, got.IsAuthenticated())

	t.Run("upsert replaces", func(t *testing.T) {
		got.ClearPendingLogin()
		got.SetTokens(sessions.Tokens{
			AccessToken: "tok1",
			IDToken:     "id1",
			Claims:      map[string]any{"sub": "user-1"},
			ExpiresAt:   now.Add(time.Hour),
		})
		require.NoError(t, store.Upsert(ctx, got))

		again, err := store.Get(ctx, "session-1")
		require.NoError(t, err)
		require.Equal(t, "tok1", again.AccessToken)
		require.Empty(t, again.CodeVerifier)
		require.Equal(t, "user-1", again.Claims["sub"])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "session-1"))
		require.NoError(t, store.Delete(ctx, "session-1"))
		_, err := store.Get(ctx, "session-1")
		require.ErrorIs(t, err, errors.ErrSessionNotFound)
	})

	t.Run("expired rows are not returned", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, sessions.New("old", now)))
		require.NoError(t, store.Upsert(ctx, sessions.New("older", now)))

		now = now.Add(2 * time.Hour)
		_, err := store.Get(ctx, "old")
		require.ErrorIs(t, err, errors.ErrSessionNotFound)

		removed, err := store.DeleteExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), removed)
	})
}

func TestOpen_Errors(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "postgres", "whatever", 0)
	require.Error(t, err)

	_, err = sqlstore.Open(context.Background(), sqlstore.DriverMySQL, "not a dsn", 0)
	require.Error(t, err)
}
