package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/encodis/encodis/internal/model"
	"github.com/redis/go-redis/v9"
)

const pickerKeyPrefix = "picker:"

// RedisPickerStore stores PickerSnapshots with a Redis-native TTL: an expired
// key is simply gone by the time Get runs, so no background sweep is needed.
type RedisPickerStore struct {
	client *redis.Client
}

// RedisConfig configures the Redis connection used by RedisPickerStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisPickerStore dials addr and verifies connectivity with a Ping.
func NewRedisPickerStore(cfg RedisConfig) (*RedisPickerStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisPickerStore{client: client}, nil
}

// newRedisPickerStoreFromClient wraps an already-constructed client, used by
// tests against a miniredis instance.
func newRedisPickerStoreFromClient(client *redis.Client) *RedisPickerStore {
	return &RedisPickerStore{client: client}
}

func (s *RedisPickerStore) Put(ctx context.Context, snapshot model.PickerSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ttl := time.Until(snapshot.ExpiresAt)
	if ttl <= 0 {
		ttl = model.PickerSnapshotTTL
	}
	return s.client.Set(ctx, pickerKeyPrefix+snapshot.Key, data, ttl).Err()
}

func (s *RedisPickerStore) Get(ctx context.Context, key string) (*model.PickerSnapshot, error) {
	val, err := s.client.Get(ctx, pickerKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap model.PickerSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *RedisPickerStore) Close() error {
	return s.client.Close()
}

var _ PickerStore = (*RedisPickerStore)(nil)
