package service

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateReplay     IdempotencyState = "replay"
	IdempotencyStateConflict   IdempotencyState = "conflict"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
)

type CachedHTTPResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyBeginResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore remembers the outcome of a write keyed by the client's
// Idempotency-Key. Begin claims a key; Complete records the response to
// replay; Abandon releases a claim whose request failed so a retry can run.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error
	Abandon(ctx context.Context, scope, key, fingerprint string) error
}

type idempotencyEntry struct {
	fingerprint string
	response    *CachedHTTPResponse
}

// InMemoryIdempotencyStore serves a single replica.
type InMemoryIdempotencyStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, idempotencyEntry]
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		cache: ttlcache.New[string, idempotencyEntry](
			ttlcache.WithDisableTouchOnHit[string, idempotencyEntry](),
			ttlcache.WithCapacity[string, idempotencyEntry](10000),
		),
	}
}

func idempotencyCacheKey(scope, key string) string { return scope + ":" + key }

func (s *InMemoryIdempotencyStore) Begin(_ context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempotencyCacheKey(scope, key)
	item := s.cache.Get(k)
	if item == nil || item.IsExpired() {
		s.cache.Set(k, idempotencyEntry{fingerprint: fingerprint}, ttl)
		return IdempotencyBeginResult{State: IdempotencyStateNew}, nil
	}
	entry := item.Value()
	switch {
	case entry.fingerprint != fingerprint:
		return IdempotencyBeginResult{State: IdempotencyStateConflict}, nil
	case entry.response == nil:
		return IdempotencyBeginResult{State: IdempotencyStateInProgress}, nil
	default:
		cached := *entry.response
		cached.Body = append([]byte(nil), cached.Body...)
		return IdempotencyBeginResult{State: IdempotencyStateReplay, Cached: &cached}, nil
	}
}

func (s *InMemoryIdempotencyStore) Complete(_ context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempotencyCacheKey(scope, key)
	item := s.cache.Get(k)
	if item == nil || item.Value().fingerprint != fingerprint {
		return nil
	}
	response.Body = append([]byte(nil), response.Body...)
	s.cache.Set(k, idempotencyEntry{fingerprint: fingerprint, response: &response}, ttl)
	return nil
}

func (s *InMemoryIdempotencyStore) Abandon(_ context.Context, scope, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempotencyCacheKey(scope, key)
	if item := s.cache.Get(k); item != nil && item.Value().fingerprint == fingerprint && item.Value().response == nil {
		s.cache.Delete(k)
	}
	return nil
}
