// Package conversation owns per-session state: the chronological message
// log, tool-result memoization, and the manager that drives the two-phase
// LLM/tool loop for each user turn.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/types"
)

const (
	defaultSessionTimeout = 30 * time.Minute
	defaultSweepInterval  = 5 * time.Minute
	defaultMaxToolResults = 50
	defaultToolResultTTL  = 2 * time.Minute
)

// memoEntry is one memoized tool result, keyed by (tool, paramJSON).
type memoEntry struct {
	result   types.ToolResult
	storedAt time.Time
}

// Session is one conversation. The message log is append-only between
// trims; all access goes through the session mutex.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Messages     []types.Message

	mu        sync.Mutex
	memo      map[string]memoEntry
	memoOrder []string // FIFO eviction order
}

// Store holds sessions keyed by id. The map lock is held only for
// lookup/insert; per-session work runs under the session's own mutex so
// different sessions proceed concurrently.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout       time.Duration
	toolResultTTL time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock injects a clock for sweeper tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithSessionTimeout overrides the idle timeout.
func WithSessionTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// WithToolResultTTL overrides the memoized-result TTL the sweeper uses.
// Must match the manager's ToolResultTTL so the sweeper and lookups agree
// on the expiry horizon.
func WithToolResultTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.toolResultTTL = d }
}

// NewStore creates an empty session store.
func NewStore(logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		timeout:       defaultSessionTimeout,
		toolResultTTL: defaultToolResultTTL,
		logger:        logger.With().Str("component", "sessions").Logger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session for id, creating it when absent. An
// empty id gets a fresh uuid.
func (s *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; ok {
		return sess
	}
	now := s.now()
	sess = &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		memo:         make(map[string]memoEntry),
	}
	s.sessions[id] = sess
	monitoring.ActiveSessions.Set(float64(len(s.sessions)))
	s.logger.Debug().Str("session_id", id).Msg("Session created")
	return sess
}

// Get returns the session for id if present.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	monitoring.ActiveSessions.Set(float64(len(s.sessions)))
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// TotalMessages returns the combined message count across sessions.
func (s *Store) TotalMessages() int {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	total := 0
	for _, sess := range sessions {
		sess.mu.Lock()
		total += len(sess.Messages)
		sess.mu.Unlock()
	}
	return total
}

// Sweep removes sessions idle longer than the timeout and returns how
// many were destroyed. Surviving sessions get their expired memoized tool
// results purged. Disconnected clients keep their session until the
// sweeper claims it, so reconnects can resume.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.LastActivity)
		if idle <= s.timeout {
			sess.expireMemoLocked(now, s.toolResultTTL)
		}
		sess.mu.Unlock()
		if idle > s.timeout {
			delete(s.sessions, id)
			removed++
			s.logger.Info().
				Str("session_id", id).
				Dur("idle", idle).
				Msg("Session expired")
		}
	}
	if removed > 0 {
		monitoring.ActiveSessions.Set(float64(len(s.sessions)))
	}
	return removed
}

// StartSweeper runs Sweep on a ticker until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Touch updates the session's last-activity time.
func (sess *Session) Touch(now time.Time) {
	sess.mu.Lock()
	sess.LastActivity = now
	sess.mu.Unlock()
}

// Append adds a message to the session log.
func (sess *Session) Append(msg types.Message) {
	sess.mu.Lock()
	sess.Messages = append(sess.Messages, msg)
	sess.mu.Unlock()
}

// Snapshot returns a copy of the message log.
func (sess *Session) Snapshot() []types.Message {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]types.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out
}

// expireMemoLocked drops memo entries past their TTL. Caller holds the
// session mutex.
func (sess *Session) expireMemoLocked(now time.Time, ttl time.Duration) {
	if len(sess.memo) == 0 {
		return
	}
	kept := sess.memoOrder[:0]
	for _, key := range sess.memoOrder {
		entry, ok := sess.memo[key]
		if !ok {
			continue
		}
		if now.Sub(entry.storedAt) > ttl {
			delete(sess.memo, key)
			continue
		}
		kept = append(kept, key)
	}
	sess.memoOrder = kept
}

// memoGet returns a fresh memoized result for key, if any.
func (sess *Session) memoGet(key string, now time.Time, ttl time.Duration) (types.ToolResult, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, ok := sess.memo[key]
	if !ok || now.Sub(entry.storedAt) > ttl {
		return types.ToolResult{}, false
	}
	return entry.result, true
}

// memoPut stores a successful result, evicting the oldest entry once the
// bound is reached.
func (sess *Session) memoPut(key string, result types.ToolResult, now time.Time, maxEntries int) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if _, exists := sess.memo[key]; !exists {
		for len(sess.memoOrder) >= maxEntries {
			oldest := sess.memoOrder[0]
			sess.memoOrder = sess.memoOrder[1:]
			delete(sess.memo, oldest)
		}
		sess.memoOrder = append(sess.memoOrder, key)
	}
	sess.memo[key] = memoEntry{result: result, storedAt: now}
}
