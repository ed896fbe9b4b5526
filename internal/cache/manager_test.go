package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(cfg ManagerConfig) (*Manager, *fakeClock) {
	// Weekend timestamp so time_based namespaces are outside market hours
	// unless a test opts in.
	clock := &fakeClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)} // Saturday
	m := NewManager(cfg, zerolog.Nop(), WithManagerClock(clock.now))
	return m, clock
}

func TestManagerRoundTrip(t *testing.T) {
	m, _ := newTestManager(ManagerConfig{})

	require.True(t, m.Set(NamespaceGasPrices, "ethereum", map[string]any{"standard": 15}, nil))
	got, ok := m.Get(NamespaceGasPrices, "ethereum")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"standard": 15}, got)
}

func TestNamespacesAreIsolated(t *testing.T) {
	m, _ := newTestManager(ManagerConfig{})

	m.Set(NamespaceGasPrices, "k", "gas", nil)
	m.Set(NamespaceCryptoPrices, "k", "price", nil)

	got, _ := m.Get(NamespaceGasPrices, "k")
	assert.Equal(t, "gas", got)
	got, _ = m.Get(NamespaceCryptoPrices, "k")
	assert.Equal(t, "price", got)
}

func TestUnknownNamespaceLazilyCreated(t *testing.T) {
	m, _ := newTestManager(ManagerConfig{})

	require.True(t, m.Set("custom_ns", "k", "v", nil))
	got, ok := m.Get("custom_ns", "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestNamespaceBoundEnforced(t *testing.T) {
	m, _ := newTestManager(ManagerConfig{MaxNamespaces: 6})

	// Five well-known namespaces exist; one slot remains.
	require.True(t, m.Set("extra_one", "k", "v", nil))
	require.False(t, m.Set("extra_two", "k", "v", nil))
}

func TestConditionalStrategyRefusesEmpties(t *testing.T) {
	m, _ := newTestManager(ManagerConfig{})
	require.NoError(t, m.Register(NamespaceConfig{
		Name:       "search_results",
		MaxSize:    100,
		DefaultTTL: time.Minute,
		Priority:   PriorityLow,
		Strategy:   StrategyCondition,
	}))

	assert.False(t, m.Set("search_results", "a", nil, nil))
	assert.False(t, m.Set("search_results", "b", "", nil))
	assert.False(t, m.Set("search_results", "c", map[string]any{}, nil))
	assert.False(t, m.Set("search_results", "d", []any{}, nil))
	assert.True(t, m.Set("search_results", "e", "value", nil))
}

func TestTimeBasedHalvesTTLWhenVolatile(t *testing.T) {
	m, clock := newTestManager(ManagerConfig{})

	// crypto_prices default TTL is 1 minute; volatile halves it to 30s.
	m.Set(NamespaceCryptoPrices, "BTC", 97000.0, &SetOptions{Volatile: true})

	clock.advance(29 * time.Second)
	_, ok := m.Get(NamespaceCryptoPrices, "BTC")
	require.True(t, ok)

	clock.advance(2 * time.Second)
	_, ok = m.Get(NamespaceCryptoPrices, "BTC")
	require.False(t, ok)
}

func TestTimeBasedHalvesTTLDuringMarketHours(t *testing.T) {
	m, clock := newTestManager(ManagerConfig{})
	// Tuesday 15:00 UTC is inside the market-hours window.
	clock.t = time.Date(2024, 6, 4, 15, 0, 0, 0, time.UTC)

	m.Set(NamespaceCryptoPrices, "ETH", 3500.0, nil)

	clock.advance(31 * time.Second)
	_, ok := m.Get(NamespaceCryptoPrices, "ETH")
	require.False(t, ok, "market hours should halve the 1m default TTL")
}

func TestUserBasedCapsBalanceTTL(t *testing.T) {
	m, clock := newTestManager(ManagerConfig{})

	// Premium doubles 30s to 60s, but balance namespaces cap at 30s.
	m.Set(NamespaceTokenBalances, "0xabc", "100 ETH", &SetOptions{UserTier: "premium"})

	clock.advance(31 * time.Second)
	_, ok := m.Get(NamespaceTokenBalances, "0xabc")
	require.False(t, ok)
}

func TestFrequencyStrategy(t *testing.T) {
	m, clock := newTestManager(ManagerConfig{})
	require.NoError(t, m.Register(NamespaceConfig{
		Name:       "hot_data",
		MaxSize:    100,
		DefaultTTL: time.Minute,
		Priority:   PriorityMedium,
		Strategy:   StrategyFrequency,
	}))

	// Never-before-seen key: TTL halved to 30s.
	m.Set("hot_data", "cold", "v", nil)
	clock.advance(31 * time.Second)
	_, ok := m.Get("hot_data", "cold")
	require.False(t, ok)

	// Drive the access count over the threshold, then re-set: TTL doubled.
	m.Set("hot_data", "hot", "v", nil)
	for i := 0; i < 12; i++ {
		m.Get("hot_data", "hot")
	}
	m.Set("hot_data", "hot", "v", nil)
	clock.advance(90 * time.Second)
	_, ok = m.Get("hot_data", "hot")
	require.True(t, ok, "frequently accessed key should get doubled TTL")
}

func TestGlobalEvictionHitsLowPriorityFirst(t *testing.T) {
	m, _ := newTestManager(ManagerConfig{GlobalMaxEntries: 20})

	for i := 0; i < 10; i++ {
		m.Set(NamespaceGasPrices, strconv.Itoa(i), i, nil)
	}
	for i := 0; i < 15; i++ {
		m.Set(NamespaceAPIResponses, strconv.Itoa(i), i, nil)
	}

	assert.LessOrEqual(t, m.TotalEntries(), 20)
	// High-priority namespace untouched; low-priority one paid.
	assert.Equal(t, 10, m.caches[NamespaceGasPrices].Len())
	assert.Less(t, m.caches[NamespaceAPIResponses].Len(), 15)
}
