package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store in process memory with per-key TTL. Suitable
// for single-process deployments and tests; state is lost on restart, which
// only forces users to restart their login flow.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, []byte]
}

// NewMemoryStore creates a memory store and starts its expiration janitor.
// Touch-on-hit is disabled so a Get never extends a key's lifetime, matching
// redis GET semantics.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

// Set stores the JSON-serialized value with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state value: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(key, data, ttl)
	return nil
}

// Get reads without deleting.
func (s *MemoryStore) Get(_ context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	item := s.cache.Get(key)
	s.mu.Unlock()
	if item == nil {
		return false, nil
	}
	return true, unmarshalInto(item.Value(), out)
}

// Consume reads and deletes under one lock so two concurrent callbacks can
// never both validate the same state token.
func (s *MemoryStore) Consume(_ context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	item := s.cache.Get(key)
	if item == nil {
		s.mu.Unlock()
		return false, nil
	}
	data := item.Value()
	s.cache.Delete(key)
	s.mu.Unlock()
	return true, unmarshalInto(data, out)
}

// Delete removes the key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(key)
	return nil
}

// Close stops the expiration janitor.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
