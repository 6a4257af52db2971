package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/jrsteele09/go-oidc-testapp/sessions/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := redisstore.New(client, "", time.Hour)

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)

	s := sessions.New("session-1", time.Now())
	s.SetTokens(sessions.Tokens{
		AccessToken:  "tok1",
		RefreshToken: "ref1",
		IDToken:      "id1",
		Claims:       map[string]any{"email": "testuser@haiintel.local"},
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, store.Upsert(ctx, s))
	require.True(t, mr.Exists(redisstore.DefaultPrefix+"session-1"))
	require.Equal(t, time.Hour, mr.TTL(redisstore.DefaultPrefix+"session-1"))

	got, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, "tok1", got.AccessToken)
	require.Equal(t, "ref1", got.RefreshToken)
	require.Equal(t, "testuser@haiintel.local", got.Claims["email"])

	t.Run("ttl expiry", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)
		_, err := store.Get(ctx, "session-1")
		require.ErrorIs(t, err, errors.ErrSessionNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, s))
		require.NoError(t, store.Delete(ctx, "session-1"))
		require.False(t, mr.Exists(redisstore.DefaultPrefix+"session-1"))
	})

	t.Run("corrupt value", func(t *testing.T) {
		require.NoError(t, mr.Set(redisstore.DefaultPrefix+"bad", "{"))
		_, err := store.Get(ctx, "bad")
		require.Error(t, err)
		require.NotErrorIs(t, err, errors.ErrSessionNotFound)
	})
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	addr := mr.Addr()

	store, err := redisstore.Dial(context.Background(), addr, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	mr.Close()
	_, err = redisstore.Dial(context.Background(), addr, time.Minute)
	require.Error(t, err)
}
