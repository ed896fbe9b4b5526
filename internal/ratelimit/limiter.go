// Package ratelimit implements the shared sliding-window rate limiter.
// Keys are configured individually; keys carrying a provider label are
// additionally coordinated against that provider's global window so many
// keys cannot collectively overrun one upstream.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrWaitTimeout is returned by Wait when the deadline elapses before the
// key admits a request.
var ErrWaitTimeout = errors.New("rate limit wait timed out")

// Denial reasons surfaced in Result.Reason.
const (
	ReasonRateLimitExceeded     = "rate_limit_exceeded"
	ReasonProviderLimitExceeded = "provider_limit_exceeded"
)

// Priority orders keys for observability; the limiter itself treats all
// keys equally.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// KeyConfig configures one rate-limit key.
type KeyConfig struct {
	Name          string
	MaxRequests   int
	Window        time.Duration
	BurstFraction float64 // in [0,1]; 0 means hard cap
	Provider      string  // optional upstream provider label
	Priority      Priority
}

// ProviderConfig caps the combined traffic of every key labeled with the
// provider.
type ProviderConfig struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// Result is the outcome of a single admission check. Denials are results,
// not errors; callers degrade gracefully or Wait.
type Result struct {
	Allowed    bool
	Burst      bool // allowed only because of the burst allowance
	Reason     string
	Remaining  int
	RetryAfter time.Duration
}

type keyState struct {
	cfg     KeyConfig
	history []time.Time
}

type providerState struct {
	cfg     ProviderConfig
	history []time.Time
}

// Stats are cumulative limiter counters.
type Stats struct {
	Allowed        int64
	Denied         int64
	BurstAllowed   int64
	ProviderBlocks int64
}

// Limiter is the shared rate limiter. A single mutex serializes checks so
// concurrent callers observe at most one denial per actually-exceeded
// window.
type Limiter struct {
	mu        sync.Mutex
	keys      map[string]*keyState
	providers map[string]*providerState
	stats     Stats

	pollInterval time.Duration
	maxAge       time.Duration
	lastCleanup  time.Time

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock, used by tests to control window expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPollInterval overrides the Wait polling interval (default 100ms).
func WithPollInterval(d time.Duration) Option {
	return func(l *Limiter) { l.pollInterval = d }
}

// New creates a Limiter with no configured keys. Unconfigured keys are
// always allowed.
func New(logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		keys:         make(map[string]*keyState),
		providers:    make(map[string]*providerState),
		pollInterval: 100 * time.Millisecond,
		maxAge:       time.Hour,
		now:          time.Now,
		logger:       logger.With().Str("component", "ratelimit").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.now()
	return l
}

// ConfigureKey registers or replaces a key configuration. Existing history
// is preserved so reconfiguration does not reset the window.
func (l *Limiter) ConfigureKey(cfg KeyConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ks, ok := l.keys[cfg.Name]; ok {
		ks.cfg = cfg
		return
	}
	l.keys[cfg.Name] = &keyState{cfg: cfg}
}

// ConfigureProvider registers or replaces a provider-wide cap.
func (l *Limiter) ConfigureProvider(cfg ProviderConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ps, ok := l.providers[cfg.Name]; ok {
		ps.cfg = cfg
		return
	}
	l.providers[cfg.Name] = &providerState{cfg: cfg}
}

// Check performs one admission check against key. On allow, the request is
// recorded in the key history and, when labeled, the provider history.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanup(now)

	ks, ok := l.keys[key]
	if !ok {
		// Keys never configured are always allowed.
		l.stats.Allowed++
		return Result{Allowed: true}
	}

	ks.history = prune(ks.history, now.Add(-ks.cfg.Window))
	inWindow := len(ks.history)

	baseCap := ks.cfg.MaxRequests
	burstCap := int(float64(baseCap) * (1 + ks.cfg.BurstFraction))

	var burst bool
	switch {
	case inWindow+1 <= baseCap:
		// Within the base allowance.
	case ks.cfg.BurstFraction > 0 && inWindow+1 <= burstCap:
		burst = true
	default:
		l.stats.Denied++
		return Result{
			Reason:     ReasonRateLimitExceeded,
			RetryAfter: l.retryAfter(ks.history, ks.cfg.Window, now),
		}
	}

	// Provider-level coordination, checked before recording.
	if ks.cfg.Provider != "" {
		if ps, ok := l.providers[ks.cfg.Provider]; ok {
			ps.history = prune(ps.history, now.Add(-ps.cfg.Window))
			if len(ps.history) >= ps.cfg.MaxRequests {
				l.stats.Denied++
				l.stats.ProviderBlocks++
				return Result{
					Reason:     ReasonProviderLimitExceeded,
					RetryAfter: l.retryAfter(ps.history, ps.cfg.Window, now),
				}
			}
			ps.history = append(ps.history, now)
		}
	}

	ks.history = append(ks.history, now)
	l.stats.Allowed++
	if burst {
		l.stats.BurstAllowed++
	}

	remaining := burstCap - len(ks.history)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Burst: burst, Remaining: remaining}
}

// Wait polls Check until the key admits a request or maxWait elapses.
// Between polls it sleeps min(pollInterval, timeUntilReset).
func (l *Limiter) Wait(ctx context.Context, key string, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)

	for {
		res := l.Check(key)
		if res.Allowed {
			return nil
		}

		now := l.now()
		if !now.Before(deadline) {
			return ErrWaitTimeout
		}

		sleep := l.pollInterval
		if res.RetryAfter > 0 && res.RetryAfter < sleep {
			sleep = res.RetryAfter
		}
		if remaining := deadline.Sub(now); sleep > remaining {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Cleanup drops history entries older than maxAge from every key and
// provider to bound memory.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanupLocked(l.now())
}

// Stats returns cumulative counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// maybeCleanup runs the opportunistic sweep at most once per maxAge/4.
// Caller must hold the lock.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < l.maxAge/4 {
		return
	}
	l.cleanupLocked(now)
}

func (l *Limiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-l.maxAge)
	for _, ks := range l.keys {
		ks.history = prune(ks.history, cutoff)
	}
	for _, ps := range l.providers {
		ps.history = prune(ps.history, cutoff)
	}
	l.lastCleanup = now
}

// retryAfter estimates when the oldest in-window entry ages out.
func (l *Limiter) retryAfter(history []time.Time, window time.Duration, now time.Time) time.Duration {
	if len(history) == 0 {
		return 0
	}
	d := history[0].Add(window).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// prune returns history with every entry at or before cutoff removed.
// History is append-only so the slice is sorted ascending.
func prune(history []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return history
	}
	return append(history[:0], history[i:]...)
}
