package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
)

// Priority orders namespaces for global eviction: lower priorities are
// evicted from first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// Strategy selects the TTL/admission policy applied at set and get time.
type Strategy string

const (
	StrategyLRU       Strategy = "lru"
	StrategyTimeBased Strategy = "time_based"
	StrategyFrequency Strategy = "frequency_based"
	StrategyUserBased Strategy = "user_based"
	StrategyCondition Strategy = "conditional"
)

// NamespaceConfig configures one cache namespace.
type NamespaceConfig struct {
	Name           string
	MaxSize        int
	DefaultTTL     time.Duration
	MaxMemoryBytes int64
	Priority       Priority
	Strategy       Strategy
}

// Well-known namespace names. Their defaults are part of the product
// behavior (price data expires fast, API responses linger).
const (
	NamespaceGasPrices      = "gas_prices"
	NamespaceCryptoPrices   = "crypto_prices"
	NamespaceTokenBalances  = "token_balances"
	NamespaceAPIResponses   = "api_responses"
	NamespaceAccessTracking = "access_tracking"
)

func wellKnownNamespaces() []NamespaceConfig {
	return []NamespaceConfig{
		{Name: NamespaceGasPrices, MaxSize: 500, DefaultTTL: 5 * time.Minute, Priority: PriorityHigh, Strategy: StrategyTimeBased},
		{Name: NamespaceCryptoPrices, MaxSize: 1000, DefaultTTL: time.Minute, Priority: PriorityHigh, Strategy: StrategyTimeBased},
		{Name: NamespaceTokenBalances, MaxSize: 1000, DefaultTTL: 30 * time.Second, Priority: PriorityMedium, Strategy: StrategyUserBased},
		{Name: NamespaceAPIResponses, MaxSize: 2000, DefaultTTL: 10 * time.Minute, Priority: PriorityLow, Strategy: StrategyLRU},
		{Name: NamespaceAccessTracking, MaxSize: 5000, DefaultTTL: time.Hour, Priority: PriorityLow, Strategy: StrategyLRU},
	}
}

// frequentAccessThreshold is the access count above which frequency_based
// namespaces double their TTL.
const frequentAccessThreshold = 10

// balanceTTLCap bounds user_based TTLs for balance-like namespaces.
const balanceTTLCap = 30 * time.Second

// Recorder receives hit/miss observations. Satisfied by
// monitoring.Collector; a nil Recorder disables recording.
type Recorder interface {
	RecordCacheHit(namespace string)
	RecordCacheMiss(namespace string)
}

// ManagerConfig bounds the manager as a whole.
type ManagerConfig struct {
	MaxNamespaces    int
	GlobalMaxEntries int
	GlobalMaxBytes   int64
}

// SetOptions carries per-set strategy inputs.
type SetOptions struct {
	TTL      time.Duration // 0 uses the namespace default
	UserTier string        // "premium" doubles TTL under user_based
	Volatile bool          // halves TTL under time_based
}

// Manager routes cache operations by namespace, applies strategies, and
// enforces combined entry/memory caps with priority-ordered eviction.
type Manager struct {
	mu      sync.RWMutex
	caches  map[string]*Cache
	configs map[string]NamespaceConfig

	cfg      ManagerConfig
	recorder Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder attaches a hit/miss recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithManagerClock injects a clock shared by all namespaces.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager pre-populated with the well-known
// namespaces.
func NewManager(cfg ManagerConfig, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	if cfg.MaxNamespaces <= 0 {
		cfg.MaxNamespaces = 16
	}
	if cfg.GlobalMaxEntries <= 0 {
		cfg.GlobalMaxEntries = 10000
	}

	m := &Manager{
		caches:  make(map[string]*Cache),
		configs: make(map[string]NamespaceConfig),
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, ns := range wellKnownNamespaces() {
		m.register(ns)
	}
	return m
}

func (m *Manager) register(cfg NamespaceConfig) *Cache {
	c := NewCache(Config{
		MaxSize:        cfg.MaxSize,
		DefaultTTL:     cfg.DefaultTTL,
		MaxMemoryBytes: cfg.MaxMemoryBytes,
	})
	c.SetClock(m.now)
	m.caches[cfg.Name] = c
	m.configs[cfg.Name] = cfg
	return c
}

// Register adds a namespace with explicit configuration. Fails once the
// namespace bound is reached.
func (m *Manager) Register(cfg NamespaceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.caches[cfg.Name]; ok {
		return nil
	}
	if len(m.caches) >= m.cfg.MaxNamespaces {
		return apperrors.Newf(apperrors.CodeConfiguration, "namespace limit reached (%d)", m.cfg.MaxNamespaces)
	}
	m.register(cfg)
	return nil
}

// namespace returns the cache for name, lazily creating unknown namespaces
// with conservative defaults while under the bound.
func (m *Manager) namespace(name string) (*Cache, NamespaceConfig, bool) {
	m.mu.RLock()
	c, ok := m.caches[name]
	cfg := m.configs[name]
	m.mu.RUnlock()
	if ok {
		return c, cfg, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.caches[name]; ok {
		return c, m.configs[name], true
	}
	if len(m.caches) >= m.cfg.MaxNamespaces {
		return nil, NamespaceConfig{}, false
	}
	cfg = NamespaceConfig{
		Name:       name,
		MaxSize:    500,
		DefaultTTL: 5 * time.Minute,
		Priority:   PriorityLow,
		Strategy:   StrategyLRU,
	}
	return m.register(cfg), cfg, true
}

// Get returns the live value for (namespace, key). Access counts feed the
// frequency strategy via the access_tracking namespace.
func (m *Manager) Get(namespace, key string) (any, bool) {
	c, cfg, ok := m.namespace(namespace)
	if !ok {
		return nil, false
	}

	value, hit := c.Get(key)
	if hit {
		if m.recorder != nil {
			m.recorder.RecordCacheHit(namespace)
		}
	} else if m.recorder != nil {
		m.recorder.RecordCacheMiss(namespace)
	}

	if cfg.Name != NamespaceAccessTracking {
		m.trackAccess(namespace, key)
	}
	return value, hit
}

// Set stores (namespace, key, value) after applying the namespace's
// strategy. Returns false when the strategy refuses the value (conditional
// namespaces do not cache empties) or the namespace bound is reached.
func (m *Manager) Set(namespace, key string, value any, opts *SetOptions) bool {
	c, cfg, ok := m.namespace(namespace)
	if !ok {
		return false
	}
	if opts == nil {
		opts = &SetOptions{}
	}

	if cfg.Strategy == StrategyCondition && isEmptyValue(value) {
		return false
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}
	ttl = m.adjustTTL(cfg, namespace, key, ttl, opts)

	c.Set(key, value, ttl)
	m.evictGlobalIfNeeded()
	return true
}

// adjustTTL applies the strategy-specific TTL scaling.
func (m *Manager) adjustTTL(cfg NamespaceConfig, namespace, key string, ttl time.Duration, opts *SetOptions) time.Duration {
	switch cfg.Strategy {
	case StrategyTimeBased:
		if opts.Volatile || isMarketHours(m.now()) {
			ttl /= 2
		}

	case StrategyFrequency:
		switch count := m.accessCount(namespace, key); {
		case count > frequentAccessThreshold:
			ttl *= 2
		case count == 0:
			ttl /= 2
		}

	case StrategyUserBased:
		if opts.UserTier == "premium" {
			ttl *= 2
		}
		if strings.Contains(namespace, "balance") && ttl > balanceTTLCap {
			ttl = balanceTTLCap
		}
	}

	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Delete removes (namespace, key).
func (m *Manager) Delete(namespace, key string) bool {
	m.mu.RLock()
	c, ok := m.caches[namespace]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Delete(key)
}

// Has reports liveness without promoting.
func (m *Manager) Has(namespace, key string) bool {
	m.mu.RLock()
	c, ok := m.caches[namespace]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Has(key)
}

// Clear empties one namespace.
func (m *Manager) Clear(namespace string) {
	m.mu.RLock()
	c, ok := m.caches[namespace]
	m.mu.RUnlock()
	if ok {
		c.Clear()
	}
}

// CleanupAll removes expired entries from every namespace and returns the
// total removed.
func (m *Manager) CleanupAll() int {
	m.mu.RLock()
	caches := make([]*Cache, 0, len(m.caches))
	for _, c := range m.caches {
		caches = append(caches, c)
	}
	m.mu.RUnlock()

	total := 0
	for _, c := range caches {
		total += c.Cleanup()
	}
	return total
}

// TotalEntries returns the combined live entry count.
func (m *Manager) TotalEntries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, c := range m.caches {
		total += c.Len()
	}
	return total
}

// TotalBytes returns the combined approximate memory.
func (m *Manager) TotalBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, c := range m.caches {
		total += c.Bytes()
	}
	return total
}

// evictGlobalIfNeeded walks namespaces in ascending priority order,
// evicting ~10% of each until combined limits are met.
func (m *Manager) evictGlobalIfNeeded() {
	over := func() bool {
		if m.TotalEntries() > m.cfg.GlobalMaxEntries {
			return true
		}
		return m.cfg.GlobalMaxBytes > 0 && m.TotalBytes() > m.cfg.GlobalMaxBytes
	}
	if !over() {
		return
	}

	m.mu.RLock()
	ordered := make([]NamespaceConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		ordered = append(ordered, cfg)
	}
	m.mu.RUnlock()

	// Ascending priority: low-priority namespaces pay first.
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Priority < ordered[i].Priority {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, cfg := range ordered {
		m.mu.RLock()
		c := m.caches[cfg.Name]
		m.mu.RUnlock()
		if c == nil {
			continue
		}

		n := c.Len()
		if n == 0 {
			continue
		}
		batch := (n + 9) / 10 // ceil(10%)
		evicted := c.EvictOldest(batch)
		m.logger.Debug().
			Str("namespace", cfg.Name).
			Int("evicted", evicted).
			Msg("Global eviction pass")

		if !over() {
			return
		}
	}
}

func (m *Manager) trackAccess(namespace, key string) {
	m.mu.RLock()
	tracker := m.caches[NamespaceAccessTracking]
	m.mu.RUnlock()
	if tracker == nil {
		return
	}

	trackKey := namespace + ":" + key
	count := int64(0)
	if v, ok := tracker.Get(trackKey); ok {
		if n, ok := v.(int64); ok {
			count = n
		}
	}
	tracker.Set(trackKey, count+1, 0)
}

func (m *Manager) accessCount(namespace, key string) int64 {
	m.mu.RLock()
	tracker := m.caches[NamespaceAccessTracking]
	m.mu.RUnlock()
	if tracker == nil {
		return 0
	}

	if v, ok := tracker.Get(namespace + ":" + key); ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

// isMarketHours reports whether now falls in the high-volatility window
// (weekdays 13:30-20:00 UTC, US market hours) where price TTLs are halved.
func isMarketHours(now time.Time) bool {
	utc := now.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := utc.Hour()*60 + utc.Minute()
	return minutes >= 13*60+30 && minutes < 20*60
}

// isEmptyValue reports whether a value is not worth caching: nil, empty
// string, empty map or empty slice.
func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}
