// Package pricefeed streams market data to WebSocket clients. A Feed
// delivers per-symbol updates from upstream (NATS in production); the Hub
// keeps the bidirectional client/symbol subscription index and fans
// updates out to subscribers.
package pricefeed

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
)

// Update is one upstream event for a symbol.
type Update struct {
	Type   string         `json:"type"` // price_update, connection, error
	Symbol string         `json:"symbol"`
	Data   map[string]any `json:"data,omitempty"`
	Status string         `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Feed is the upstream price source consumed by the Hub.
type Feed interface {
	// Subscribe opens the upstream stream for symbol; handler runs for
	// every update until Unsubscribe.
	Subscribe(symbol string, handler func(Update)) error
	Unsubscribe(symbol string) error
	// CurrentPrice returns the latest known price payload for symbol.
	CurrentPrice(ctx context.Context, symbol string) (map[string]any, error)
	Supported(symbol string) bool
	Close()
}

// SupportedSymbols is the tradable set served by the feed.
var SupportedSymbols = []string{"BTC", "ETH", "USDC", "USDT", "SOL", "MATIC", "LINK", "UNI"}

func isSupported(symbol string) bool {
	for _, s := range SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// NATSFeed consumes per-symbol subjects ("prices.<SYMBOL>") from a NATS
// cluster and remembers the latest payload per symbol for initial
// snapshots.
type NATSFeed struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	latest map[string]map[string]any
}

// NATSFeedConfig configures the upstream connection.
type NATSFeedConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATSFeed connects to NATS with reconnect handling.
func NewNATSFeed(cfg NATSFeedConfig, logger zerolog.Logger) (*NATSFeed, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	f := &NATSFeed{
		logger: logger.With().Str("component", "pricefeed").Logger(),
		subs:   make(map[string]*nats.Subscription),
		latest: make(map[string]map[string]any),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			f.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			f.logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			f.logger.Error().Err(err).Msg("NATS error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeNetwork, "failed to connect to NATS")
	}
	f.conn = conn
	f.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to NATS")
	return f, nil
}

func subjectFor(symbol string) string {
	return "prices." + symbol
}

// Subscribe opens the per-symbol subject. Messages that fail to parse
// are logged and dropped.
func (f *NATSFeed) Subscribe(symbol string, handler func(Update)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.subs[symbol]; exists {
		return nil
	}

	sub, err := f.conn.Subscribe(subjectFor(symbol), func(msg *nats.Msg) {
		var update Update
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			f.logger.Warn().
				Str("symbol", symbol).
				Err(err).
				Msg("Dropping unparseable feed message")
			return
		}
		if update.Symbol == "" {
			update.Symbol = symbol
		}
		if update.Type == "price_update" && update.Data != nil {
			f.mu.Lock()
			f.latest[symbol] = update.Data
			f.mu.Unlock()
		}
		handler(update)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeNetwork, "failed to subscribe to price subject")
	}

	f.subs[symbol] = sub
	f.logger.Debug().Str("symbol", symbol).Msg("Upstream subscription opened")
	return nil
}

func (f *NATSFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, exists := f.subs[symbol]
	if !exists {
		return nil
	}
	delete(f.subs, symbol)
	if err := sub.Unsubscribe(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNetwork, "failed to unsubscribe from price subject")
	}
	f.logger.Debug().Str("symbol", symbol).Msg("Upstream subscription closed")
	return nil
}

// CurrentPrice serves the latest streamed payload; before the first
// stream message it asks the price service directly via request/reply.
func (f *NATSFeed) CurrentPrice(ctx context.Context, symbol string) (map[string]any, error) {
	f.mu.Lock()
	data, ok := f.latest[symbol]
	f.mu.Unlock()
	if ok {
		return data, nil
	}

	msg, err := f.conn.RequestWithContext(ctx, "prices.current."+symbol, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeNetwork, "current price request failed")
	}
	var payload map[string]any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "malformed current price payload")
	}
	return payload, nil
}

func (f *NATSFeed) Supported(symbol string) bool {
	return isSupported(strings.ToUpper(symbol))
}

// Close drops every subscription and the connection.
func (f *NATSFeed) Close() {
	f.mu.Lock()
	for symbol, sub := range f.subs {
		if err := sub.Unsubscribe(); err != nil {
			f.logger.Warn().Str("symbol", symbol).Err(err).Msg("Unsubscribe failed during close")
		}
	}
	f.subs = make(map[string]*nats.Subscription)
	f.mu.Unlock()

	if f.conn != nil {
		f.conn.Close()
	}
}
