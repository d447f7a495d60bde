package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/encodis/encodis/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupMiniRedisPickerStore(t *testing.T) (*miniredis.Miniredis, *RedisPickerStore) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, newRedisPickerStoreFromClient(client)
}

func TestRedisPickerStore_PutGet(t *testing.T) {
	mr, s := setupMiniRedisPickerStore(t)
	defer mr.Close()

	snap := model.PickerSnapshot{
		Key:       "abc123",
		Files:     []string{"/in/a.mkv", "/in/b.mkv"},
		ExpiresAt: time.Now().Add(model.PickerSnapshotTTL),
	}
	require.NoError(t, s.Put(context.Background(), snap))

	got, err := s.Get(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, []string{"/in/a.mkv", "/in/b.mkv"}, got.Files)
}

func TestRedisPickerStore_GetMissing(t *testing.T) {
	mr, s := setupMiniRedisPickerStore(t)
	defer mr.Close()

	_, err := s.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisPickerStore_ExpiresAfterTTL(t *testing.T) {
	mr, s := setupMiniRedisPickerStore(t)
	defer mr.Close()

	snap := model.PickerSnapshot{
		Key:       "ttl-key",
		Files:     []string{"/in/a.mkv"},
		ExpiresAt: time.Now().Add(100 * time.Millisecond),
	}
	require.NoError(t, s.Put(context.Background(), snap))

	_, err := s.Get(context.Background(), "ttl-key")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)

	_, err = s.Get(context.Background(), "ttl-key")
	require.ErrorIs(t, err, ErrNotFound)
}
