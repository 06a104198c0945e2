package intent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedis connects to REDIS_TEST_URL or skips.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStorage_KeysAreSessionScoped(t *testing.T) {
	a := NewRedisStorage(nil, "sess-a", time.Hour)
	b := NewRedisStorage(nil, "sess-b", time.Hour)

	assert.Equal(t, "pending-intent:sess-a:"+StorageKey, a.key(StorageKey))
	assert.NotEqual(t, a.key(StorageKey), b.key(StorageKey))
}

func TestRedisStorage_SameSessionSurvivesRestart(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	session := uuid.NewString()

	first := NewRedisStorage(rdb, session, time.Minute)
	t.Cleanup(func() { _ = first.Delete(ctx, StorageKey) })
	require.NoError(t, first.Set(ctx, StorageKey, "payload"))

	reopened := NewRedisStorage(rdb, session, time.Minute)
	v, ok, err := reopened.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", v)

	ttl, err := rdb.TTL(ctx, first.key(StorageKey)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisStorage_OtherSessionSeesNothing(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	owner := NewRedisStorage(rdb, uuid.NewString(), time.Minute)
	t.Cleanup(func() { _ = owner.Delete(ctx, StorageKey) })
	require.NoError(t, owner.Set(ctx, StorageKey, "payload"))

	other := NewRedisStorage(rdb, uuid.NewString(), time.Minute)
	v, ok, err := other.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)

	// deleting from the other session leaves the owner's record alone
	require.NoError(t, other.Delete(ctx, StorageKey))
	_, ok, err = owner.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStorage_StoreRoundTrip(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	session := uuid.NewString()
	storage := NewRedisStorage(rdb, session, time.Minute)
	t.Cleanup(func() { _ = storage.Delete(ctx, StorageKey) })

	newTestStore(storage, baseTime).Save(ctx, sampleIntent(baseTime))

	got, ok := newTestStore(NewRedisStorage(rdb, session, time.Minute), baseTime).Load(ctx)
	require.True(t, ok)
	assert.Equal(t, sampleIntent(baseTime), *got)

	_, ok = newTestStore(NewRedisStorage(rdb, uuid.NewString(), time.Minute), baseTime).Load(ctx)
	assert.False(t, ok)
}
