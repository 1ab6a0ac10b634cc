// Package tiered combines the in-process response cache with a shared remote cache.
package tiered

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/orgdash/dashboard-worker/internal/port/cache"
)

// headerLen is the size of the expiry stamp prepended to every L2 value.
const headerLen = 8

// Cache layers an L1 (in-process) cache over an L2 (shared) cache.
// Get checks L1 first, then L2, backfilling L1 on an L2 hit.
// L2 read failures degrade to a miss so a flaky remote never fails a request.
//
// L2 values carry their absolute expiry, so an entry written by one replica
// is never served by another past the TTL it was written with, whatever the
// remote store's own retention is.
type Cache struct {
	l1     cache.Cache
	l2     cache.Cache
	l1TTL  time.Duration
	logger *slog.Logger
	clock  clockwork.Clock
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used to stamp and check L2 expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates a tiered cache. l1TTL caps how long an L2 backfill lives in L1;
// the backfill never outlives the entry's remaining L2 lifetime.
func New(l1, l2 cache.Cache, l1TTL time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{l1: l1, l2: l2, l1TTL: l1TTL, logger: logger, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get checks L1, then L2.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	raw, found, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	val, expiresAt, ok := decode(raw)
	if !ok {
		c.logger.Warn("l2 cache entry malformed, ignoring", "key", key)
		return nil, false, nil
	}
	now := c.clock.Now()
	if now.After(expiresAt) {
		return nil, false, nil
	}
	if ttl := min(c.l1TTL, expiresAt.Sub(now)); ttl > 0 {
		_ = c.l1.Set(ctx, key, val, ttl)
	}
	return val, true, nil
}

// Set writes L1 then L2. An L2 failure is returned after L1 has been written.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, encode(value, c.clock.Now().Add(ttl)), ttl); err != nil {
		return fmt.Errorf("l2 set: %w", err)
	}
	return nil
}

// Delete removes key from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		return fmt.Errorf("l2 delete: %w", err)
	}
	return nil
}

// encode prefixes value with expiresAt as big-endian Unix nanoseconds.
func encode(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, headerLen+len(value))
	binary.BigEndian.PutUint64(out, uint64(expiresAt.UnixNano())) //nolint:gosec // post-1970 timestamps
	copy(out[headerLen:], value)
	return out
}

func decode(raw []byte) ([]byte, time.Time, bool) {
	if len(raw) < headerLen {
		return nil, time.Time{}, false
	}
	ns := int64(binary.BigEndian.Uint64(raw[:headerLen])) //nolint:gosec // written by encode
	return raw[headerLen:], time.Unix(0, ns), true
}
