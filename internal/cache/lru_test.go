package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := NewCache(cfg)
	c.SetClock(clock.now)
	return c, clock
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 10, DefaultTTL: time.Minute})

	c.Set("k", "v", 0)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTTLExpiry(t *testing.T) {
	c, clock := newTestCache(Config{MaxSize: 10, DefaultTTL: time.Minute})

	c.Set("k", "v", 10*time.Second)

	clock.advance(9 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	clock.advance(time.Second)
	_, ok = c.Get("k")
	require.False(t, ok, "entry at exactly expires-at is a miss")
	assert.Zero(t, c.Len(), "expired entry is removed on get")
}

func TestLRUEvictionOrder(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 3, DefaultTTL: time.Minute})

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", 4, 0)

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok, "least-recently-used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
}

func TestCapacityNeverExceeded(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 5, DefaultTTL: time.Minute})

	for i := 0; i < 50; i++ {
		c.Set(string(rune('a'+i%26))+string(rune('0'+i/26)), i, 0)
		require.LessOrEqual(t, c.Len(), 5)
	}
}

func TestMemoryCapEviction(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 1000, DefaultTTL: time.Minute, MaxMemoryBytes: 300})

	big := make([]byte, 100)
	c.Set("a", big, 0)
	c.Set("b", big, 0)
	c.Set("c", big, 0)
	c.Set("d", big, 0)

	assert.LessOrEqual(t, c.Bytes(), int64(300))
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestUpdateInPlaceKeepsSingleEntry(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 10, DefaultTTL: time.Minute})

	c.Set("k", "v1", 0)
	c.Set("k", "v2", 0)

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(Config{MaxSize: 10, DefaultTTL: time.Minute})

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	clock.advance(2 * time.Second)
	removed := c.Cleanup()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestDeleteAndHas(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 10, DefaultTTL: time.Minute})

	c.Set("k", "v", 0)
	require.True(t, c.Has("k"))
	require.True(t, c.Delete("k"))
	require.False(t, c.Has("k"))
	require.False(t, c.Delete("k"))
}

func TestEvictOldest(t *testing.T) {
	c, _ := newTestCache(Config{MaxSize: 10, DefaultTTL: time.Minute})

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)
	_, _ = c.Get("a") // promote

	evicted := c.EvictOldest(2)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a")
	assert.True(t, ok, "most recently used survives")
}
