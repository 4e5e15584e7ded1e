package cache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-scheduler/internal/registry"
	"github.com/tinywideclouds/go-push-scheduler/internal/storage/cache"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRedis(t *testing.T) (context.Context, *miniredis.Miniredis, *cache.RedisClient) {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := cache.NewRedisClient(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return ctx, mr, client
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := cache.NewRedisClient(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestRedisStore_Lifecycle(t *testing.T) {
	ctx, mr, client := setupRedis(t)
	store := cache.NewRedisStore(client, "", newTestLogger())

	sub := push.Subscription{
		ID: "sub-1",
		Endpoint: push.Endpoint{
			URL:  "https://fcm.googleapis.com/fcm/send/abc-123",
			Keys: push.Keys{P256dh: "BNc...", Auth: "tBH..."},
		},
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.Put(ctx, sub))
	assert.NotEmpty(t, mr.HGet(cache.DefaultHashKey, "sub-1"))

	got, err := store.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "sub-1"))
	require.NoError(t, store.Delete(ctx, "sub-1"), "deleting twice is not an error")

	_, err = store.Get(ctx, "sub-1")
	assert.ErrorIs(t, err, push.ErrSubscriptionNotFound)
}

func TestRedisStore_ListSkipsCorruptEntries(t *testing.T) {
	ctx, mr, client := setupRedis(t)
	store := cache.NewRedisStore(client, "test:subs", newTestLogger())

	require.NoError(t, store.Put(ctx, push.Subscription{ID: "a"}))
	require.NoError(t, store.Put(ctx, push.Subscription{ID: "b"}))
	mr.HSet("test:subs", "broken", "{not json")

	subs, err := store.List(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

// A registry backed by Redis keeps its subscriptions across a new Registry instance.
func TestRedisStore_SurvivesRegistryRestart(t *testing.T) {
	ctx, _, client := setupRedis(t)

	first := registry.New(cache.NewRedisStore(client, "", newTestLogger()), newTestLogger())
	id, err := first.Add(ctx, push.Endpoint{URL: "https://push.example.com/persist"})
	require.NoError(t, err)

	second := registry.New(cache.NewRedisStore(client, "", newTestLogger()), newTestLogger())
	ep, err := second.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://push.example.com/persist", ep.URL)
}

func TestCachedStore_WithRedis(t *testing.T) {
	ctx, mr, client := setupRedis(t)
	store := cache.NewCachedStore(registry.NewMemoryStore(), client, time.Minute, newTestLogger())

	sub := push.Subscription{ID: "sub-9", Endpoint: push.Endpoint{URL: "https://push.example.com/9"}}
	require.NoError(t, store.Put(ctx, sub))

	_, err := store.Get(ctx, "sub-9")
	require.NoError(t, err)
	assert.True(t, mr.Exists("push:subscription:sub-9"), "Get should populate the cache")

	require.NoError(t, store.Delete(ctx, "sub-9"))
	assert.True(t, mr.Exists("push:subscription:sub-9"), "Delete should leave a tombstone")
	assert.Equal(t, time.Minute, mr.TTL("push:subscription:sub-9"))

	_, err = store.Get(ctx, "sub-9")
	assert.ErrorIs(t, err, push.ErrSubscriptionNotFound)
}
