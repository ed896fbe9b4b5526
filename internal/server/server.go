// Package server is the WebSocket front door: it accepts connections,
// runs the per-connection read/write pumps, and routes inbound frames to
// the conversation manager and the price hub.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/conversation"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/pricefeed"
	"github.com/adred-codev/ai-gateway/internal/types"
	"github.com/adred-codev/ai-gateway/internal/workerpool"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer. Pongs count.
	pongWait = 30 * time.Second

	defaultPingInterval    = (pongWait * 9) / 10
	defaultMaxConnections  = 1000
	defaultSendQueueSize   = 256
	defaultInboundPerSec   = 10
	defaultInboundBurst    = 100
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the server's network and connection settings.
type Config struct {
	Addr           string
	MaxConnections int
	SendQueueSize  int
	PingInterval   time.Duration
	InboundPerSec  float64 // sustained inbound frame rate per connection
	InboundBurst   int
	CORSOrigin     string
	Version        string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.InboundPerSec <= 0 {
		c.InboundPerSec = defaultInboundPerSec
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = defaultInboundBurst
	}
}

// Server accepts WebSocket connections and owns their lifecycle.
type Server struct {
	cfg       Config
	logger    zerolog.Logger
	manager   *conversation.Manager
	hub       *pricefeed.Hub
	collector *monitoring.Collector
	pool      *workerpool.Pool

	httpServer *http.Server

	clients        sync.Map // clientID -> *Client
	clientCount    int64
	connectionsSem chan struct{}
	shuttingDown   int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the server to its collaborators. pool may be nil; message
// processing then runs on plain goroutines.
func New(cfg Config, manager *conversation.Manager, hub *pricefeed.Hub,
	collector *monitoring.Collector, pool *workerpool.Pool, logger zerolog.Logger) *Server {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:            cfg,
		logger:         logger.With().Str("component", "server").Logger(),
		manager:        manager,
		hub:            hub,
		collector:      collector,
		pool:           pool,
		connectionsSem: make(chan struct{}, cfg.MaxConnections),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins serving HTTP and WebSocket traffic. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.Handle("/metrics/prom", monitoring.PromHandler())

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.withCommon(mux),
	}

	s.logger.Info().
		Str("addr", s.cfg.Addr).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Server listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// withCommon records request metrics and applies the CORS origin.
func (s *Server) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.collector != nil && r.URL.Path != "/ws" {
			s.collector.RecordRequest(r.Method, r.URL.Path, rec.status)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handleWebSocket upgrades the connection and starts the pumps. At the
// connection cap new handshakes are rejected with 503; existing
// connections are unaffected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.connectionsSem <- struct{}{}:
	default:
		s.logger.Warn().
			Int64("current_connections", atomic.LoadInt64(&s.clientCount)).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected: at capacity")
		monitoring.ConnectionsRejected.Inc()
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connectionsSem
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := s.registerClient(conn)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readPump(c)
	}()
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()
}

// registerClient creates the client record, registers it with the price
// hub, and sends CONNECTION_ESTABLISHED carrying the fresh session id.
func (s *Server) registerClient(conn net.Conn) *Client {
	c := newClient(conn, s.cfg.SendQueueSize, s.cfg.InboundPerSec, s.cfg.InboundBurst)

	s.clients.Store(c.id, c)
	atomic.AddInt64(&s.clientCount, 1)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Set(float64(atomic.LoadInt64(&s.clientCount)))

	s.hub.Register(c.id, func(frame any) { s.enqueue(c, frame) })

	s.enqueue(c, establishedFrame{
		Type:      types.FrameConnectionEstablished,
		SessionID: c.sessionID,
		Timestamp: time.Now().UnixMilli(),
	})

	s.logger.Info().
		Str("client_id", c.id).
		Str("session_id", c.sessionID).
		Int64("connections", atomic.LoadInt64(&s.clientCount)).
		Msg("Client connected")
	return c
}

// disconnectClient tears the connection down once: hub cleanup, client
// map removal, socket close. The session survives for the idle sweeper
// so a reconnect can resume the conversation.
func (s *Server) disconnectClient(c *Client) {
	c.closeOnce.Do(func() {
		s.hub.Disconnect(c.id)
		s.clients.Delete(c.id)
		close(c.done)
		c.conn.Close()
		<-s.connectionsSem

		atomic.AddInt64(&s.clientCount, -1)
		monitoring.ConnectionsActive.Set(float64(atomic.LoadInt64(&s.clientCount)))

		s.logger.Info().
			Str("client_id", c.id).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("Client disconnected")
	})
}

// enqueue marshals a frame onto the client's send queue without
// blocking. A full queue drops the frame; the write pump and heartbeat
// will catch a genuinely dead client.
func (s *Server) enqueue(c *Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", c.id).Msg("Frame marshal failed")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
		monitoring.MessagesSent.Inc()
	default:
		atomic.AddInt64(&c.droppedFrames, 1)
		s.logger.Warn().
			Str("client_id", c.id).
			Int64("dropped", atomic.LoadInt64(&c.droppedFrames)).
			Msg("Send queue full, frame dropped")
	}
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int64 {
	return atomic.LoadInt64(&s.clientCount)
}

// Shutdown stops accepting connections, closes existing ones, and waits
// for the pumps to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.cancel()

	s.clients.Range(func(_, value any) bool {
		if c, ok := value.(*Client); ok {
			s.disconnectClient(c)
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timed out waiting for connection pumps")
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
