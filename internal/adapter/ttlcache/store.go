package ttlcache

import (
	"context"
	"time"
)

// Store adapts a byte-valued Cache to the cache port.
type Store struct {
	c *Cache[[]byte]
}

// NewStore creates a byte-valued cache sized by payload length.
func NewStore(cfg Config, opts ...Option[[]byte]) *Store {
	opts = append([]Option[[]byte]{WithSizeFunc(func(b []byte) int { return len(b) })}, opts...)
	return &Store{c: New(cfg, opts...)}
}

// Cache returns the underlying TTL cache.
func (s *Store) Cache() *Cache[[]byte] { return s.c }

// Get retrieves a value from the cache.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	return v, ok, nil
}

// Set stores a value in the cache with the given TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the cache.
func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Delete(key)
	return nil
}

// Serve runs the periodic sweep until ctx is cancelled.
func (s *Store) Serve(ctx context.Context) error {
	return s.c.Serve(ctx)
}
