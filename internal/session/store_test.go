package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-auth/internal/redis"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client, 0), mr
}

// failingCache fails selected operations to exercise fallback behavior
type failingCache struct {
	inner   Cache
	failGet map[string]bool
}

func (f *failingCache) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet[key] {
		return "", false, errors.New("cache unavailable")
	}
	return f.inner.Get(ctx, key)
}

func (f *failingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *failingCache) Del(ctx context.Context, key string) error {
	return f.inner.Del(ctx, key)
}

func TestStore_RefreshTokenRoundTrip(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetRefreshToken(ctx, "access-1", "refresh-1"))

	// keys are namespaced, not raw tokens
	assert.True(t, mr.Exists("refresh-access-1"))

	rt, found, err := store.GetRefreshToken(ctx, "access-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "refresh-1", rt)

	require.NoError(t, store.DelRefreshToken(ctx, "access-1"))

	_, found, err = store.GetRefreshToken(ctx, "access-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_UserRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	user := User{Name: "bob", Email: "bob@example.com"}
	require.NoError(t, store.SetUser(ctx, "access-1", user))

	got, found, err := store.GetUser(ctx, "access-1", false)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, user, *got)

	require.NoError(t, store.DelUser(ctx, "access-1"))
	_, found, err = store.GetUser(ctx, "access-1", false)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_GetUser_ResolvesAlias(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	userC := User{Name: "stale", Email: "stale@example.com"}
	userS := User{Name: "fresh", Email: "fresh@example.com"}
	require.NoError(t, store.SetUser(ctx, "client-token", userC))
	require.NoError(t, store.SetUser(ctx, "server-token", userS))
	require.NoError(t, store.SetAlias(ctx, "client-token", "server-token"))

	t.Run("alias resolved", func(t *testing.T) {
		got, found, err := store.GetUser(ctx, "client-token", true)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, userS, *got)
	})

	t.Run("alias ignored when not requested", func(t *testing.T) {
		got, found, err := store.GetUser(ctx, "client-token", false)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, userC, *got)
	})

	t.Run("no alias falls through to token", func(t *testing.T) {
		got, found, err := store.GetUser(ctx, "server-token", true)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, userS, *got)
	})
}

func TestStore_GetUser_AliasFailureFallsBack(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cache := &failingCache{
		inner:   client,
		failGet: map[string]bool{"alias-client-token": true},
	}
	store := New(cache, 0)
	ctx := context.Background()

	user := User{Name: "bob", Email: "bob@example.com"}
	require.NoError(t, store.SetUser(ctx, "client-token", user))

	// alias lookup fails but the user stored under the original token is returned
	got, found, err := store.GetUser(ctx, "client-token", true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, user, *got)
}

func TestStore_GetUser_UndecodableValueIsAbsent(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("user-access-1", "{not json"))

	got, found, err := store.GetUser(ctx, "access-1", false)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestStore_AliasOverwrite(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetAlias(ctx, "client-token", "server-1"))
	require.NoError(t, store.SetAlias(ctx, "client-token", "server-2"))

	serverToken, found, err := store.GetAlias(ctx, "client-token")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "server-2", serverToken)

	require.NoError(t, store.DelAlias(ctx, "client-token"))
	_, found, err = store.GetAlias(ctx, "client-token")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := New(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SetRefreshToken(ctx, "access-1", "refresh-1"))
	assert.Equal(t, time.Hour, mr.TTL("refresh-access-1"))

	mr.FastForward(2 * time.Hour)
	_, found, err := store.GetRefreshToken(ctx, "access-1")
	require.NoError(t, err)
	assert.False(t, found)
}
