// Package ttlcache implements a bounded in-process cache with per-entry expiry
// and a periodic sweep.
//
// Entries are evicted in insertion order when the entry bound is reached on
// Set, and by soonest expiry when a sweep finds the cache under memory
// pressure. Reads never promote an entry.
package ttlcache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Config bounds the cache. Zero fields take the defaults from DefaultConfig.
type Config struct {
	MaxEntries     int
	MaxBytes       int64
	SweepInterval  time.Duration
	SizeMultiplier int
	TargetRatio    float64
	SweepFraction  float64
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     1000,
		MaxBytes:       50 << 20,
		SweepInterval:  30 * time.Second,
		SizeMultiplier: 1,
		TargetRatio:    0.8,
		SweepFraction:  0.1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SizeMultiplier <= 0 {
		c.SizeMultiplier = d.SizeMultiplier
	}
	if c.TargetRatio <= 0 || c.TargetRatio > 1 {
		c.TargetRatio = d.TargetRatio
	}
	if c.SweepFraction <= 0 || c.SweepFraction > 1 {
		c.SweepFraction = d.SweepFraction
	}
	return c
}

// Observer receives cache events. Implementations must not call back into the cache.
type Observer interface {
	Hit()
	Miss()
	Expired(n int)
	Evicted(n int)
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock sets the time source.
func WithClock[V any](clock clockwork.Clock) Option[V] {
	return func(c *Cache[V]) { c.clock = clock }
}

// WithSizeFunc sets the payload size estimator. The default estimates the
// length of the JSON encoding.
func WithSizeFunc[V any](fn func(V) int) Option[V] {
	return func(c *Cache[V]) { c.sizeOf = fn }
}

// WithLogger sets the logger used by sweeps.
func WithLogger[V any](l *slog.Logger) Option[V] {
	return func(c *Cache[V]) { c.log = l }
}

// WithObserver registers an event observer.
func WithObserver[V any](o Observer) Option[V] {
	return func(c *Cache[V]) { c.obs = o }
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	size      int64
}

// expired uses a strict comparison: an entry whose expiry equals now is still valid.
func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries        int   `json:"entries"`
	EstimatedBytes int64 `json:"estimatedBytes"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Expirations    int64 `json:"expirations"`
	Evictions      int64 `json:"evictions"`
	Sweeps         int64 `json:"sweeps"`
}

// SweepStats describes the work done by one Sweep.
type SweepStats struct {
	Expired        int
	Evicted        int
	Remaining      int
	EstimatedBytes int64
}

// Cache is a TTL cache safe for concurrent use.
type Cache[V any] struct {
	cfg    Config
	clock  clockwork.Clock
	sizeOf func(V) int
	log    *slog.Logger
	obs    Observer

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, entry[V]]
	bytes   int64
	stats   Stats
}

// New creates a Cache with the given bounds.
func New[V any](cfg Config, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		cfg:     cfg.withDefaults(),
		clock:   clockwork.NewRealClock(),
		sizeOf:  jsonSize[V],
		log:     slog.Default(),
		entries: orderedmap.New[string, entry[V]](),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func jsonSize[V any](v V) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// Get returns the value stored under key. An expired entry is removed and
// reported absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries.Get(key)
	if ok && e.expired(c.clock.Now()) {
		c.removeLocked(key, e)
		c.stats.Expirations++
		ok = false
	}
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if c.obs != nil {
		if ok {
			c.obs.Hit()
		} else {
			c.obs.Miss()
		}
	}
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key until now+ttl, replacing any existing entry.
// A new key arriving at capacity first evicts the oldest inserted entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	size := int64(c.sizeOf(value)) * int64(c.cfg.SizeMultiplier)

	c.mu.Lock()
	evicted := 0
	if old, exists := c.entries.Get(key); exists {
		c.bytes -= old.size
	} else if c.entries.Len() >= c.cfg.MaxEntries {
		if oldest := c.entries.Oldest(); oldest != nil {
			c.removeLocked(oldest.Key, oldest.Value)
			c.stats.Evictions++
			evicted = 1
		}
	}
	c.entries.Set(key, entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl), size: size})
	c.bytes += size
	c.mu.Unlock()

	if evicted > 0 && c.obs != nil {
		c.obs.Evicted(evicted)
	}
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	if e, ok := c.entries.Get(key); ok {
		c.removeLocked(key, e)
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired entries not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	s.EstimatedBytes = c.bytes
	return s
}

func (c *Cache[V]) removeLocked(key string, e entry[V]) {
	c.entries.Delete(key)
	c.bytes -= e.size
}

type victim struct {
	key       string
	expiresAt time.Time
}

// Sweep removes expired entries and, if the cache is still at its entry bound
// or over its byte bound, evicts a bounded share of the remaining entries,
// soonest-expiring first.
func (c *Cache[V]) Sweep() SweepStats {
	c.mu.Lock()
	now := c.clock.Now()

	var expired []string
	live := make([]victim, 0, c.entries.Len())
	var liveBytes int64
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.expired(now) {
			expired = append(expired, pair.Key)
			continue
		}
		live = append(live, victim{key: pair.Key, expiresAt: pair.Value.expiresAt})
		liveBytes += pair.Value.size
	}
	for _, k := range expired {
		e, _ := c.entries.Get(k)
		c.removeLocked(k, e)
	}

	evictCount := c.pressureEvictions(len(live), liveBytes)
	if evictCount > 0 {
		slices.SortStableFunc(live, func(a, b victim) int {
			return a.expiresAt.Compare(b.expiresAt)
		})
		for _, v := range live[:evictCount] {
			e, _ := c.entries.Get(v.key)
			liveBytes -= e.size
			c.removeLocked(v.key, e)
		}
	}

	c.stats.Expirations += int64(len(expired))
	c.stats.Evictions += int64(evictCount)
	c.stats.Sweeps++
	st := SweepStats{
		Expired:        len(expired),
		Evicted:        evictCount,
		Remaining:      c.entries.Len(),
		EstimatedBytes: liveBytes,
	}
	c.mu.Unlock()

	if c.obs != nil {
		if st.Expired > 0 {
			c.obs.Expired(st.Expired)
		}
		if st.Evicted > 0 {
			c.obs.Evicted(st.Evicted)
		}
	}
	if st.Expired > 0 || st.Evicted > 0 {
		c.log.Debug("cache sweep",
			"expired", st.Expired,
			"evicted", st.Evicted,
			"remaining", st.Remaining,
			"estimated_bytes", st.EstimatedBytes,
		)
	}
	return st
}

// pressureEvictions returns how many live entries a sweep should evict.
// Count pressure starts at MaxEntries rather than above it because Set never
// lets the count exceed MaxEntries, so a full cache is the pressured state.
func (c *Cache[V]) pressureEvictions(count int, bytes int64) int {
	overCount := count >= c.cfg.MaxEntries
	overBytes := bytes > c.cfg.MaxBytes
	if count == 0 || (!overCount && !overBytes) {
		return 0
	}

	n := int(c.cfg.SweepFraction * float64(count))
	if overCount {
		toTarget := count - int(c.cfg.TargetRatio*float64(c.cfg.MaxEntries))
		n = min(n, toTarget)
	}
	return min(max(n, 1), count)
}

// Serve sweeps every SweepInterval until ctx is cancelled.
func (c *Cache[V]) Serve(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			c.Sweep()
		}
	}
}
