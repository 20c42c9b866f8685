package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)

func TestRedisCache_SetAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rc, err := NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), 0, time.Minute)
	require.NoError(t, err)
	defer rc.Close()

	ctx := context.Background()
	key := G2PCacheKey("integration-test")

	require.NoError(t, rc.Set(ctx, key, []string{"T", "EH1", "S", "T"}))

	var got []string
	require.NoError(t, rc.Get(ctx, key, &got))
	assert.Equal(t, []string{"T", "EH1", "S", "T"}, got)

	require.NoError(t, rc.Delete(ctx, key))
	assert.ErrorIs(t, rc.Get(ctx, key, &got), ErrNotFound)
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	mc := NewMemoryCache(0)
	ctx := context.Background()

	type TestData struct {
		ID   string
		Name string
	}

	require.NoError(t, mc.Set(ctx, "test:key", TestData{ID: "123", Name: "test"}))

	var retrieved TestData
	require.NoError(t, mc.Get(ctx, "test:key", &retrieved))
	assert.Equal(t, TestData{ID: "123", Name: "test"}, retrieved)
}

func TestMemoryCache_Delete(t *testing.T) {
	mc := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "test:key", "value"))
	require.NoError(t, mc.Delete(ctx, "test:key"))

	exists, err := mc.Exists(ctx, "test:key")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_NotFound(t *testing.T) {
	mc := NewMemoryCache(0)

	var v string
	err := mc.Get(context.Background(), "missing", &v)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc := NewMemoryCache(0)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.SetWithTTL(ctx, "k", 1, time.Minute))

	exists, _ := mc.Exists(ctx, "k")
	assert.True(t, exists)

	now = now.Add(2 * time.Minute)

	exists, _ = mc.Exists(ctx, "k")
	assert.False(t, exists)
}

func TestCacheKey_String(t *testing.T) {
	key := CacheKey{Prefix: "attempt", ID: "123"}
	assert.Equal(t, "attempt:123", key.String())
}

func TestG2PCacheKey(t *testing.T) {
	assert.Equal(t, "g2p:rabbit", G2PCacheKey("Rabbit"))
}

func TestAttemptCacheKey(t *testing.T) {
	key := AttemptCacheKey("attempt-456")
	assert.Equal(t, "attempt:attempt-456", key)
}

func TestChatActiveCacheKey(t *testing.T) {
	key := ChatActiveCacheKey(123456)
	assert.Equal(t, "chat:active:123456", key)
}

func TestChatSentenceCacheKey(t *testing.T) {
	assert.Equal(t, "chat:sentence:42", ChatSentenceCacheKey(42))
}
