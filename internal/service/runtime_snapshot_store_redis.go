package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisRuntimeSnapshotStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRuntimeSnapshotStore(client redis.UniversalClient, prefix string) *RedisRuntimeSnapshotStore {
	if prefix == "" {
		prefix = "feature_flag_runtime"
	}
	return &RedisRuntimeSnapshotStore{client: client, prefix: prefix}
}

func (s *RedisRuntimeSnapshotStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	val, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisRuntimeSnapshotStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	dataKey := s.dataKey(key)
	allIndex := s.allIndexKey()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, value, ttl)
	pipe.SAdd(ctx, allIndex, dataKey)
	pipe.Expire(ctx, allIndex, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRuntimeSnapshotStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	allIndex := s.allIndexKey()
	keys, err := s.client.SMembers(ctx, allIndex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, allIndex)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRuntimeSnapshotStore) dataKey(key string) string {
	return fmt.Sprintf("%s:data:%s", s.prefix, key)
}

func (s *RedisRuntimeSnapshotStore) allIndexKey() string {
	return fmt.Sprintf("%s:index:all", s.prefix)
}
