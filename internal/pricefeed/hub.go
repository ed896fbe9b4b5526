package pricefeed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/types"
	"github.com/adred-codev/ai-gateway/internal/workerpool"
)

const defaultMaxSubscriptionsPerClient = 20

// SendFunc delivers one outbound frame to a client. It must not block;
// the server layer backs it with the per-connection send queue.
type SendFunc func(frame any)

// Frame shapes for the price side of the wire protocol.
type (
	SubscriptionFrame struct {
		Type      string   `json:"type"`
		Symbols   []string `json:"symbols"`
		Added     []string `json:"added,omitempty"`
		Removed   []string `json:"removed,omitempty"`
		Timestamp int64    `json:"timestamp"`
	}

	PriceUpdateFrame struct {
		Type      string         `json:"type"`
		Symbol    string         `json:"symbol"`
		Data      map[string]any `json:"data"`
		Initial   bool           `json:"initial,omitempty"`
		Timestamp int64          `json:"timestamp"`
	}

	ConnectionStatusFrame struct {
		Type      string `json:"type"`
		Symbol    string `json:"symbol"`
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}
)

// Hub maintains the bidirectional subscription index and fans upstream
// updates out to subscribed clients.
type Hub struct {
	feed   Feed
	pool   *workerpool.Pool
	logger zerolog.Logger

	mu                  sync.RWMutex
	clients             map[string]SendFunc
	clientSubscriptions map[string]map[string]bool // client -> symbols
	symbolSubscribers   map[string]map[string]bool // symbol -> clients

	maxPerClient int
	now          func() time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxSubscriptions overrides the per-client subscription cap.
func WithMaxSubscriptions(n int) HubOption {
	return func(h *Hub) { h.maxPerClient = n }
}

// WithHubClock injects a clock for frame timestamps in tests.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub wires the hub to its feed. pool may be nil; fan-out then runs
// inline.
func NewHub(feed Feed, pool *workerpool.Pool, logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		feed:                feed,
		pool:                pool,
		logger:              logger.With().Str("component", "pricehub").Logger(),
		clients:             make(map[string]SendFunc),
		clientSubscriptions: make(map[string]map[string]bool),
		symbolSubscribers:   make(map[string]map[string]bool),
		maxPerClient:        defaultMaxSubscriptionsPerClient,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client connection to the hub.
func (h *Hub) Register(clientID string, send SendFunc) {
	h.mu.Lock()
	h.clients[clientID] = send
	h.mu.Unlock()
}

// Subscribe adds symbols for a client, opening upstream subscriptions for
// symbols nobody watched before, and sends the initial snapshot plus the
// confirmation frame.
func (h *Hub) Subscribe(ctx context.Context, clientID string, symbols []string) error {
	valid := h.normalize(symbols)
	if len(valid) == 0 {
		return apperrors.New(apperrors.CodeValidation, "No valid symbols")
	}

	h.mu.Lock()
	subs := h.clientSubscriptions[clientID]
	if subs == nil {
		subs = make(map[string]bool)
		h.clientSubscriptions[clientID] = subs
	}

	var added []string
	for _, symbol := range valid {
		if !subs[symbol] {
			added = append(added, symbol)
		}
	}
	if len(subs)+len(added) > h.maxPerClient {
		if len(subs) == 0 {
			delete(h.clientSubscriptions, clientID)
		}
		h.mu.Unlock()
		return apperrors.Newf(apperrors.CodeValidation,
			"Subscription limit exceeded (max %d symbols)", h.maxPerClient)
	}

	var newUpstream []string
	for _, symbol := range added {
		subs[symbol] = true
		watchers := h.symbolSubscribers[symbol]
		if watchers == nil {
			watchers = make(map[string]bool)
			h.symbolSubscribers[symbol] = watchers
			newUpstream = append(newUpstream, symbol)
		}
		watchers[clientID] = true
	}
	send := h.clients[clientID]
	current := setToSorted(subs)
	h.mu.Unlock()

	for _, symbol := range newUpstream {
		sym := symbol
		if err := h.feed.Subscribe(sym, func(update Update) {
			h.HandleUpdate(sym, update)
		}); err != nil {
			h.logger.Error().Str("symbol", sym).Err(err).Msg("Upstream subscribe failed")
		}
	}

	// Initial snapshot per newly added symbol. Fetching may hit upstream,
	// so it runs on the worker pool to keep the read pump responsive.
	if send != nil {
		for _, symbol := range added {
			sym := symbol
			fetch := func() {
				data, err := h.feed.CurrentPrice(ctx, sym)
				if err != nil {
					h.logger.Warn().Str("symbol", sym).Err(err).Msg("Initial price unavailable")
					return
				}
				send(PriceUpdateFrame{
					Type:      types.FramePriceUpdate,
					Symbol:    sym,
					Data:      data,
					Initial:   true,
					Timestamp: h.now().UnixMilli(),
				})
			}
			if h.pool != nil {
				h.pool.Submit(fetch)
			} else {
				fetch()
			}
		}
		send(SubscriptionFrame{
			Type:      types.FrameSubscriptionConfirmed,
			Symbols:   current,
			Added:     added,
			Timestamp: h.now().UnixMilli(),
		})
	}
	return nil
}

// Unsubscribe removes symbols for a client, closing upstream
// subscriptions that lost their last watcher.
func (h *Hub) Unsubscribe(clientID string, symbols []string) error {
	valid := h.normalize(symbols)
	if len(valid) == 0 {
		return apperrors.New(apperrors.CodeValidation, "No valid symbols")
	}

	h.mu.Lock()
	subs := h.clientSubscriptions[clientID]
	var removed []string
	var orphaned []string
	for _, symbol := range valid {
		if subs == nil || !subs[symbol] {
			continue
		}
		delete(subs, symbol)
		removed = append(removed, symbol)

		watchers := h.symbolSubscribers[symbol]
		delete(watchers, clientID)
		if len(watchers) == 0 {
			delete(h.symbolSubscribers, symbol)
			orphaned = append(orphaned, symbol)
		}
	}
	if subs != nil && len(subs) == 0 {
		delete(h.clientSubscriptions, clientID)
		subs = nil
	}
	send := h.clients[clientID]
	current := setToSorted(subs)
	h.mu.Unlock()

	for _, symbol := range orphaned {
		if err := h.feed.Unsubscribe(symbol); err != nil {
			h.logger.Warn().Str("symbol", symbol).Err(err).Msg("Upstream unsubscribe failed")
		}
	}

	if send != nil {
		send(SubscriptionFrame{
			Type:      types.FrameUnsubscriptionConfirmed,
			Symbols:   current,
			Removed:   removed,
			Timestamp: h.now().UnixMilli(),
		})
	}
	return nil
}

// Subscriptions returns the client's current symbols, sorted.
func (h *Hub) Subscriptions(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return setToSorted(h.clientSubscriptions[clientID])
}

// HandleUpdate fans one upstream event out to every subscriber of the
// symbol. Per-symbol ordering is preserved by running the fan-out inline
// in the feed's delivery goroutine; only the per-client enqueue happens
// through the send funcs.
func (h *Hub) HandleUpdate(symbol string, update Update) {
	h.mu.RLock()
	watchers := h.symbolSubscribers[symbol]
	sends := make([]SendFunc, 0, len(watchers))
	for clientID := range watchers {
		if send, ok := h.clients[clientID]; ok {
			sends = append(sends, send)
		}
	}
	h.mu.RUnlock()
	if len(sends) == 0 {
		return
	}

	var frame any
	switch update.Type {
	case "price_update":
		frame = PriceUpdateFrame{
			Type:      types.FramePriceUpdate,
			Symbol:    symbol,
			Data:      update.Data,
			Timestamp: h.now().UnixMilli(),
		}
		monitoring.PriceUpdatesFanned.Add(float64(len(sends)))
	case "connection":
		frame = ConnectionStatusFrame{
			Type:      types.FrameConnectionStatus,
			Symbol:    symbol,
			Status:    update.Status,
			Timestamp: h.now().UnixMilli(),
		}
	default:
		return
	}

	for _, send := range sends {
		send(frame)
	}
}

// Disconnect removes a client from every index and cancels upstream
// subscriptions that are now orphaned.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	subs := h.clientSubscriptions[clientID]
	delete(h.clientSubscriptions, clientID)
	delete(h.clients, clientID)

	var orphaned []string
	for symbol := range subs {
		watchers := h.symbolSubscribers[symbol]
		delete(watchers, clientID)
		if len(watchers) == 0 {
			delete(h.symbolSubscribers, symbol)
			orphaned = append(orphaned, symbol)
		}
	}
	h.mu.Unlock()

	for _, symbol := range orphaned {
		if err := h.feed.Unsubscribe(symbol); err != nil {
			h.logger.Warn().Str("symbol", symbol).Err(err).Msg("Upstream unsubscribe failed")
		}
	}
}

// normalize upper-cases and filters to feed-supported symbols.
func (h *Hub) normalize(symbols []string) []string {
	var valid []string
	seen := make(map[string]bool)
	for _, s := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(s))
		if symbol == "" || seen[symbol] || !h.feed.Supported(symbol) {
			continue
		}
		seen[symbol] = true
		valid = append(valid, symbol)
	}
	return valid
}

func setToSorted(set map[string]bool) []string {
	if len(set) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
