package ttlcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestCache(t *testing.T, cfg Config, opts ...Option[string]) (*Cache[string], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]Option[string]{WithClock[string](clock)}, opts...)
	return New(cfg, opts...), clock
}

func TestGetExpiresAfterTTL(t *testing.T) {
	c, clock := newTestCache(t, Config{})

	c.Set("k", "v", 100*time.Millisecond)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get() = %q, %v; want v, true", v, ok)
	}

	// Expiry is strict: exactly at expiresAt the entry is still valid.
	clock.Advance(100 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired at its exact expiry time")
	}

	clock.Advance(time.Millisecond)
	if v, ok := c.Get("k"); ok {
		t.Fatalf("Get() after expiry = %q, want miss", v)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, expired entry not removed on read", c.Len())
	}
	if s := c.Stats(); s.Expirations != 1 || s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestSetOverwrites(t *testing.T) {
	c, _ := newTestCache(t, Config{})

	c.Set("k", "v1", time.Minute)
	c.Set("k", "v2", time.Minute)

	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Fatalf("Get() = %q, %v; want v2", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestSetOverwriteExtendsTTL(t *testing.T) {
	c, clock := newTestCache(t, Config{})

	c.Set("k", "v1", time.Second)
	clock.Advance(900 * time.Millisecond)
	c.Set("k", "v2", time.Second)
	clock.Advance(900 * time.Millisecond)

	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Fatalf("Get() = %q, %v; want v2 within the new TTL", v, ok)
	}
}

func TestSetEvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxEntries: 3})

	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k, time.Minute)
	}
	// Reads do not promote.
	c.Get("a")
	c.Set("d", "d", time.Minute)

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if v, ok := c.Get("d"); !ok || v != "d" {
		t.Errorf("new key not retrievable: %q, %v", v, ok)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest inserted key a should have been evicted")
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
}

func TestSetOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxEntries: 2})

	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)
	c.Set("a", "3", time.Minute)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("overwrite evicted an unrelated entry")
	}

	// a keeps its original insertion position, so it is still the oldest.
	c.Set("c", "4", time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted as the oldest inserted key")
	}
}

func TestDeleteMissingKey(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	c.Delete("missing")

	c.Set("k", "v", time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Delete")
	}
	if s := c.Stats(); s.EstimatedBytes != 0 {
		t.Errorf("EstimatedBytes = %d after deleting everything", s.EstimatedBytes)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(t, Config{})

	const n = 10
	for i := range n {
		ttl := 10 * time.Second
		if i%2 == 0 {
			ttl = 50 * time.Millisecond
		}
		c.Set(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i), ttl)
	}
	clock.Advance(100 * time.Millisecond)

	st := c.Sweep()
	if st.Expired != n/2 || st.Evicted != 0 || st.Remaining != n/2 {
		t.Fatalf("Sweep() = %+v", st)
	}
	if c.Len() != n/2 {
		t.Fatalf("Len() = %d, want %d", c.Len(), n/2)
	}
	for i := range n {
		v, ok := c.Get(fmt.Sprintf("k%d", i))
		if i%2 == 0 && ok {
			t.Errorf("k%d should have expired", i)
		}
		if i%2 == 1 && (!ok || v != fmt.Sprintf("v%d", i)) {
			t.Errorf("k%d = %q, %v; live entry affected by sweep", i, v, ok)
		}
	}
}

func TestSweepEvictsSoonestExpiringUnderCountPressure(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxEntries: 10, TargetRatio: 0.8, SweepFraction: 0.5})

	// k0 lives longest, k9 expires soonest.
	for i := range 10 {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Duration(20-i)*time.Second)
	}

	// min(10 - 8, 10 * 0.5) = 2
	st := c.Sweep()
	if st.Evicted != 2 {
		t.Fatalf("Evicted = %d, want 2", st.Evicted)
	}
	for _, k := range []string{"k8", "k9"} {
		if _, ok := c.Get(k); ok {
			t.Errorf("%s expires soonest and should have been evicted", k)
		}
	}
	if _, ok := c.Get("k0"); !ok {
		t.Error("k0 should survive")
	}
}

func TestSweepEvictionIsBoundedByFraction(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxEntries: 20, TargetRatio: 0.5, SweepFraction: 0.1})

	for i := range 20 {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Minute)
	}

	// min(20 - 10, 20 * 0.1) = 2
	if st := c.Sweep(); st.Evicted != 2 {
		t.Fatalf("Evicted = %d, want 2", st.Evicted)
	}
}

func TestSweepEvictsUnderBytePressure(t *testing.T) {
	c, _ := newTestCache(t,
		Config{MaxEntries: 100, MaxBytes: 10, SweepFraction: 0.4},
		WithSizeFunc(func(s string) int { return len(s) }),
	)

	for i := range 5 {
		c.Set(fmt.Sprintf("k%d", i), "abcd", time.Duration(i+1)*time.Second)
	}

	st := c.Sweep()
	if st.Evicted != 2 || st.EstimatedBytes != 12 {
		t.Fatalf("first Sweep() = %+v, want 2 evicted and 12 bytes left", st)
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("k0 expires soonest and should have been evicted")
	}

	// Still over the byte bound.
	st = c.Sweep()
	if st.Evicted != 1 || st.EstimatedBytes != 8 {
		t.Fatalf("second Sweep() = %+v, want 1 evicted and 8 bytes left", st)
	}

	if st = c.Sweep(); st.Evicted != 0 {
		t.Fatalf("third Sweep() evicted %d under the bound", st.Evicted)
	}
}

func TestSizeMultiplier(t *testing.T) {
	c, _ := newTestCache(t,
		Config{SizeMultiplier: 2},
		WithSizeFunc(func(s string) int { return len(s) }),
	)
	c.Set("k", "abc", time.Minute)

	if got := c.Stats().EstimatedBytes; got != 6 {
		t.Errorf("EstimatedBytes = %d, want 6", got)
	}
}

func TestDefaultSizeIsJSONLength(t *testing.T) {
	c := New[map[string]int](Config{}, WithClock[map[string]int](clockwork.NewFakeClock()))
	c.Set("dashboard:abc123:{}", map[string]int{"total": 5}, 30*time.Second)

	if got := c.Stats().EstimatedBytes; got != int64(len(`{"total":5}`)) {
		t.Errorf("EstimatedBytes = %d", got)
	}
	if v, ok := c.Get("dashboard:abc123:{}"); !ok || v["total"] != 5 {
		t.Errorf("Get() = %v, %v", v, ok)
	}
}

type recordingObserver struct {
	hits, misses int
	expired      chan int
	evicted      int
}

func (o *recordingObserver) Hit()          { o.hits++ }
func (o *recordingObserver) Miss()         { o.misses++ }
func (o *recordingObserver) Expired(n int) { o.expired <- n }
func (o *recordingObserver) Evicted(n int) { o.evicted += n }

func TestServeSweepsOnInterval(t *testing.T) {
	obs := &recordingObserver{expired: make(chan int, 1)}
	c, clock := newTestCache(t, Config{SweepInterval: 30 * time.Second}, WithObserver[string](obs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("sweeper never started its ticker: %v", err)
	}

	c.Set("short", "v", time.Second)
	c.Set("long", "v", time.Hour)
	clock.Advance(30 * time.Second)

	select {
	case n := <-obs.expired:
		if n != 1 {
			t.Errorf("expired = %d, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run after the interval elapsed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
