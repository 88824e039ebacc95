package service

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// RuntimeSnapshotStore holds encoded runtime snapshots that replicas can
// share. Stores are caches: a miss or an error falls back to the database.
type RuntimeSnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

type NoopRuntimeSnapshotStore struct{}

func NewNoopRuntimeSnapshotStore() *NoopRuntimeSnapshotStore {
	return &NoopRuntimeSnapshotStore{}
}

func (s *NoopRuntimeSnapshotStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *NoopRuntimeSnapshotStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (s *NoopRuntimeSnapshotStore) InvalidateAll(context.Context) error {
	return nil
}

// InMemoryRuntimeSnapshotStore is the single-node store.
type InMemoryRuntimeSnapshotStore struct {
	cache *ttlcache.Cache[string, []byte]
}

func NewInMemoryRuntimeSnapshotStore() *InMemoryRuntimeSnapshotStore {
	return &InMemoryRuntimeSnapshotStore{
		cache: ttlcache.New[string, []byte](
			ttlcache.WithDisableTouchOnHit[string, []byte](),
			ttlcache.WithCapacity[string, []byte](64),
		),
	}
}

func (s *InMemoryRuntimeSnapshotStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return append([]byte(nil), item.Value()...), true, nil
}

func (s *InMemoryRuntimeSnapshotStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (s *InMemoryRuntimeSnapshotStore) InvalidateAll(context.Context) error {
	s.cache.DeleteAll()
	return nil
}
