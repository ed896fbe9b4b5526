package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	return New(zerolog.Nop(), WithClock(clock.now)), clock
}

func TestUnconfiguredKeyAlwaysAllowed(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i < 100; i++ {
		res := l.Check("never-configured")
		require.True(t, res.Allowed)
	}
}

func TestHardCapNoOffByOne(t *testing.T) {
	l, _ := newTestLimiter(t)
	l.ConfigureKey(KeyConfig{
		Name:        "api",
		MaxRequests: 5,
		Window:      time.Second,
	})

	for i := 0; i < 5; i++ {
		res := l.Check("api")
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		require.False(t, res.Burst)
	}

	res := l.Check("api")
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonRateLimitExceeded, res.Reason)
}

func TestBurstThenBlock(t *testing.T) {
	l, _ := newTestLimiter(t)
	l.ConfigureKey(KeyConfig{
		Name:          "chat",
		MaxRequests:   5,
		Window:        time.Second,
		BurstFraction: 0.4,
	})

	// 5 base + floor(5*0.4)=2 burst = 7 allowed, 8th denied.
	for i := 0; i < 5; i++ {
		res := l.Check("chat")
		require.True(t, res.Allowed)
		require.False(t, res.Burst)
	}
	for i := 0; i < 2; i++ {
		res := l.Check("chat")
		require.True(t, res.Allowed)
		require.True(t, res.Burst)
	}

	res := l.Check("chat")
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonRateLimitExceeded, res.Reason)

	stats := l.Stats()
	assert.Equal(t, int64(7), stats.Allowed)
	assert.Equal(t, int64(1), stats.Denied)
	assert.Equal(t, int64(2), stats.BurstAllowed)
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(t)
	l.ConfigureKey(KeyConfig{
		Name:        "api",
		MaxRequests: 2,
		Window:      time.Second,
	})

	require.True(t, l.Check("api").Allowed)
	require.True(t, l.Check("api").Allowed)
	require.False(t, l.Check("api").Allowed)

	clock.advance(1100 * time.Millisecond)

	require.True(t, l.Check("api").Allowed)
}

func TestProviderCoordination(t *testing.T) {
	l, _ := newTestLimiter(t)
	l.ConfigureProvider(ProviderConfig{
		Name:        "etherscan",
		MaxRequests: 3,
		Window:      time.Second,
	})
	l.ConfigureKey(KeyConfig{
		Name:        "tools:get_gas_prices",
		MaxRequests: 10,
		Window:      time.Second,
		Provider:    "etherscan",
	})
	l.ConfigureKey(KeyConfig{
		Name:        "tools:get_token_balance",
		MaxRequests: 10,
		Window:      time.Second,
		Provider:    "etherscan",
	})

	require.True(t, l.Check("tools:get_gas_prices").Allowed)
	require.True(t, l.Check("tools:get_token_balance").Allowed)
	require.True(t, l.Check("tools:get_gas_prices").Allowed)

	// Provider window full; both keys still have per-key headroom.
	res := l.Check("tools:get_token_balance")
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonProviderLimitExceeded, res.Reason)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.ProviderBlocks)
}

func TestProviderDenialDoesNotConsumeKeyBudget(t *testing.T) {
	l, clock := newTestLimiter(t)
	l.ConfigureProvider(ProviderConfig{Name: "p", MaxRequests: 1, Window: time.Second})
	l.ConfigureKey(KeyConfig{
		Name:        "k",
		MaxRequests: 2,
		Window:      time.Minute,
		Provider:    "p",
	})

	require.True(t, l.Check("k").Allowed)
	require.False(t, l.Check("k").Allowed)

	clock.advance(1100 * time.Millisecond)

	// The provider window has reset; the denied attempt above must not
	// have consumed key budget.
	require.True(t, l.Check("k").Allowed)
}

func TestWaitSucceedsAfterReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New(zerolog.Nop(), WithClock(clock.now), WithPollInterval(time.Millisecond))
	l.ConfigureKey(KeyConfig{Name: "k", MaxRequests: 1, Window: 5 * time.Millisecond})

	require.True(t, l.Check("k").Allowed)

	done := make(chan error, 1)
	go func() {
		done <- l.Wait(context.Background(), "k", time.Second)
	}()

	// Advance virtual time past the window so the next poll succeeds.
	time.Sleep(5 * time.Millisecond)
	clock.advance(10 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestWaitTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New(zerolog.Nop(), WithClock(clock.now), WithPollInterval(time.Millisecond))
	l.ConfigureKey(KeyConfig{Name: "k", MaxRequests: 1, Window: time.Hour})

	require.True(t, l.Check("k").Allowed)

	done := make(chan error, 1)
	go func() {
		done <- l.Wait(context.Background(), "k", 10*time.Millisecond)
	}()

	// Push the virtual clock past the deadline; the key stays exhausted
	// for an hour so the next poll must time out.
	time.Sleep(5 * time.Millisecond)
	clock.advance(time.Minute)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrWaitTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestCleanupBoundsHistory(t *testing.T) {
	l, clock := newTestLimiter(t)
	l.ConfigureKey(KeyConfig{Name: "k", MaxRequests: 1000, Window: 2 * time.Hour})

	for i := 0; i < 10; i++ {
		require.True(t, l.Check("k").Allowed)
	}

	clock.advance(90 * time.Minute)
	l.Cleanup()

	l.mu.Lock()
	n := len(l.keys["k"].history)
	l.mu.Unlock()
	assert.Zero(t, n, "entries older than maxAge should be dropped")
}
