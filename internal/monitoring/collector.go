package monitoring

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Histogram bucket upper bounds in milliseconds; the final bucket is +Inf.
var histogramBucketsMs = []int64{10, 50, 100, 200, 500, 1000, 2000, 5000}

const (
	errorRingSize      = 100
	responseWindowSize = 1000
)

// ErrorRecord is one entry in the recent-errors ring buffer.
type ErrorRecord struct {
	Time     time.Time `json:"time"`
	Code     string    `json:"code"`
	Endpoint string    `json:"endpoint"`
	Message  string    `json:"message"`
}

// ProviderStats accumulates external-API call statistics per provider.
type ProviderStats struct {
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures"`
	TotalMs  int64 `json:"totalMs"`
	MinMs    int64 `json:"minMs"`
	MaxMs    int64 `json:"maxMs"`
}

// Collector is the process-wide metrics collector: counters, a recent-error
// ring, per-provider API stats, and a rolling response-time window with
// fixed histogram buckets. All methods are safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	startTime time.Time

	requestsTotal    int64
	requestsByMethod map[string]int64
	requestsByPath   map[string]int64
	requestsByClass  map[string]int64 // "2xx", "4xx", "5xx"

	errorsTotal    int64
	errorsByCode   map[string]int64
	errorsByPath   map[string]int64
	recentErrors   [errorRingSize]ErrorRecord
	recentErrorPos int
	recentErrorLen int

	rateLimitExceeded int64

	cacheHits   map[string]int64
	cacheMisses map[string]int64

	providers map[string]*ProviderStats

	responseTimes []int64 // rolling window, ms
	bucketCounts  []int64 // len(histogramBucketsMs)+1, last is +Inf
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:        time.Now(),
		requestsByMethod: make(map[string]int64),
		requestsByPath:   make(map[string]int64),
		requestsByClass:  make(map[string]int64),
		errorsByCode:     make(map[string]int64),
		errorsByPath:     make(map[string]int64),
		cacheHits:        make(map[string]int64),
		cacheMisses:      make(map[string]int64),
		providers:        make(map[string]*ProviderStats),
		responseTimes:    make([]int64, 0, responseWindowSize),
		bucketCounts:     make([]int64, len(histogramBucketsMs)+1),
	}
}

// RecordRequest counts one handled request.
func (c *Collector) RecordRequest(method, endpoint string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsTotal++
	c.requestsByMethod[method]++
	c.requestsByPath[endpoint]++

	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	c.requestsByClass[class]++
}

// RecordError counts one error and appends it to the ring buffer.
func (c *Collector) RecordError(code, endpoint, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errorsTotal++
	c.errorsByCode[code]++
	if endpoint != "" {
		c.errorsByPath[endpoint]++
	}

	c.recentErrors[c.recentErrorPos] = ErrorRecord{
		Time:     time.Now(),
		Code:     code,
		Endpoint: endpoint,
		Message:  message,
	}
	c.recentErrorPos = (c.recentErrorPos + 1) % errorRingSize
	if c.recentErrorLen < errorRingSize {
		c.recentErrorLen++
	}

	ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordRateLimitExceeded counts one rate-limiter denial.
func (c *Collector) RecordRateLimitExceeded() {
	c.mu.Lock()
	c.rateLimitExceeded++
	c.mu.Unlock()
}

// RecordCacheHit counts a hit in the given namespace.
func (c *Collector) RecordCacheHit(namespace string) {
	c.mu.Lock()
	c.cacheHits[namespace]++
	c.mu.Unlock()
	CacheOps.WithLabelValues(namespace, "hit").Inc()
}

// RecordCacheMiss counts a miss in the given namespace.
func (c *Collector) RecordCacheMiss(namespace string) {
	c.mu.Lock()
	c.cacheMisses[namespace]++
	c.mu.Unlock()
	CacheOps.WithLabelValues(namespace, "miss").Inc()
}

// RecordAPICall accumulates one external-API call for a provider.
func (c *Collector) RecordAPICall(provider string, duration time.Duration, failed bool) {
	ms := duration.Milliseconds()

	c.mu.Lock()
	defer c.mu.Unlock()

	ps := c.providers[provider]
	if ps == nil {
		ps = &ProviderStats{MinMs: ms}
		c.providers[provider] = ps
	}
	ps.Calls++
	if failed {
		ps.Failures++
	}
	ps.TotalMs += ms
	if ms < ps.MinMs || ps.Calls == 1 {
		ps.MinMs = ms
	}
	if ms > ps.MaxMs {
		ps.MaxMs = ms
	}
}

// RecordResponseTime adds a sample to the rolling window and histogram.
func (c *Collector) RecordResponseTime(duration time.Duration) {
	ms := duration.Milliseconds()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.responseTimes) >= responseWindowSize {
		// Drop the oldest sample to keep the window bounded.
		c.responseTimes = c.responseTimes[1:]
	}
	c.responseTimes = append(c.responseTimes, ms)

	idx := len(histogramBucketsMs) // +Inf
	for i, bound := range histogramBucketsMs {
		if ms <= bound {
			idx = i
			break
		}
	}
	c.bucketCounts[idx]++
}

// percentile computes the p-th percentile (0-100) of the rolling window by
// sort-and-index. Caller must hold the lock.
func (c *Collector) percentile(p float64) int64 {
	n := len(c.responseTimes)
	if n == 0 {
		return 0
	}
	sorted := make([]int64, n)
	copy(sorted, c.responseTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(n) * p / 100)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Snapshot is a point-in-time copy of all collected metrics.
type Snapshot struct {
	UptimeSeconds     float64                   `json:"uptimeSeconds"`
	RequestsTotal     int64                     `json:"requestsTotal"`
	RequestsByMethod  map[string]int64          `json:"requestsByMethod"`
	RequestsByPath    map[string]int64          `json:"requestsByEndpoint"`
	RequestsByClass   map[string]int64          `json:"requestsByStatusClass"`
	ErrorsTotal       int64                     `json:"errorsTotal"`
	ErrorsByCode      map[string]int64          `json:"errorsByCode"`
	ErrorsByPath      map[string]int64          `json:"errorsByEndpoint"`
	RecentErrors      []ErrorRecord             `json:"recentErrors"`
	RateLimitExceeded int64                     `json:"rateLimitExceeded"`
	CacheHits         map[string]int64          `json:"cacheHits"`
	CacheMisses       map[string]int64          `json:"cacheMisses"`
	Providers         map[string]ProviderStats  `json:"externalProviders"`
	ResponseP50Ms     int64                     `json:"responseP50Ms"`
	ResponseP95Ms     int64                     `json:"responseP95Ms"`
	ResponseP99Ms     int64                     `json:"responseP99Ms"`
	HistogramBuckets  map[string]int64          `json:"histogramBuckets"`
}

// Snapshot returns a copy of the current metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds:     time.Since(c.startTime).Seconds(),
		RequestsTotal:     c.requestsTotal,
		RequestsByMethod:  copyCounts(c.requestsByMethod),
		RequestsByPath:    copyCounts(c.requestsByPath),
		RequestsByClass:   copyCounts(c.requestsByClass),
		ErrorsTotal:       c.errorsTotal,
		ErrorsByCode:      copyCounts(c.errorsByCode),
		ErrorsByPath:      copyCounts(c.errorsByPath),
		RateLimitExceeded: c.rateLimitExceeded,
		CacheHits:         copyCounts(c.cacheHits),
		CacheMisses:       copyCounts(c.cacheMisses),
		Providers:         make(map[string]ProviderStats, len(c.providers)),
		ResponseP50Ms:     c.percentile(50),
		ResponseP95Ms:     c.percentile(95),
		ResponseP99Ms:     c.percentile(99),
		HistogramBuckets:  make(map[string]int64, len(c.bucketCounts)),
	}

	// Ring buffer oldest-first.
	for i := 0; i < c.recentErrorLen; i++ {
		pos := (c.recentErrorPos - c.recentErrorLen + i + errorRingSize) % errorRingSize
		snap.RecentErrors = append(snap.RecentErrors, c.recentErrors[pos])
	}

	for name, ps := range c.providers {
		snap.Providers[name] = *ps
	}

	for i, bound := range histogramBucketsMs {
		snap.HistogramBuckets[msBucketLabel(bound)] = c.bucketCounts[i]
	}
	snap.HistogramBuckets["+Inf"] = c.bucketCounts[len(histogramBucketsMs)]

	return snap
}

func msBucketLabel(bound int64) string {
	return "le_" + strconv.FormatInt(bound, 10) + "ms"
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StartSummary periodically logs a one-line metrics summary until ctx is
// cancelled.
func (c *Collector) StartSummary(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	go func() {
		defer RecoverPanic(logger, "metricsSummary", nil)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := c.Snapshot()
				logger.Info().
					Int64("requests_total", snap.RequestsTotal).
					Int64("errors_total", snap.ErrorsTotal).
					Int64("rate_limit_exceeded", snap.RateLimitExceeded).
					Int64("response_p50_ms", snap.ResponseP50Ms).
					Int64("response_p95_ms", snap.ResponseP95Ms).
					Int64("response_p99_ms", snap.ResponseP99Ms).
					Msg("Metrics summary")
			case <-ctx.Done():
				return
			}
		}
	}()
}
