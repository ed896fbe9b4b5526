package server

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/adred-codev/ai-gateway/internal/monitoring"
)

// Client is one WebSocket connection. The send channel is the single
// write path; the write pump is the only goroutine touching the socket's
// write side.
type Client struct {
	id        string
	sessionID string
	conn      net.Conn
	send      chan []byte
	done      chan struct{} // closed once on disconnect; send is never closed
	closeOnce sync.Once

	// Inbound flood protection. Sustained rate with a burst allowance so
	// legitimate bursts pass while a runaway client gets throttled.
	limiter *rate.Limiter

	connectedAt   time.Time
	droppedFrames int64
}

func newClient(conn net.Conn, queueSize int, perSec float64, burst int) *Client {
	return &Client{
		id:          uuid.NewString(),
		sessionID:   uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
		connectedAt: time.Now(),
	}
}

// readPump reads frames from the socket until error or close. Handling
// runs inline so a connection's frames are processed strictly in order.
func (s *Server) readPump(c *Client) {
	defer monitoring.RecoverPanic(s.logger, "readPump", map[string]any{
		"client_id": c.id,
	})
	defer s.disconnectClient(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			monitoring.MessagesReceived.Inc()
			if !c.limiter.Allow() {
				monitoring.RateLimitedFrames.Inc()
				if s.collector != nil {
					s.collector.RecordRateLimitExceeded()
				}
				s.sendRateLimited(c)
				continue
			}
			s.handleFrame(c, msg)
		case ws.OpPong:
			// Deadline already extended above.
		case ws.OpClose:
			return
		}
	}
}

// writePump drains the send queue, batching queued frames into one
// flush, and keeps the connection alive with periodic pings.
func (s *Server) writePump(c *Client) {
	defer monitoring.RecoverPanic(s.logger, "writePump", map[string]any{
		"client_id": c.id,
	})

	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.disconnectClient(c)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
				s.logger.Debug().Err(err).Str("client_id", c.id).Msg("Write failed")
				return
			}

			// Batch whatever else is queued into the same flush.
			n := len(c.send)
			for i := 0; i < n; i++ {
				message = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
					s.logger.Debug().Err(err).Str("client_id", c.id).Msg("Write failed")
					return
				}
			}
			if err := writer.Flush(); err != nil {
				s.logger.Debug().Err(err).Str("client_id", c.id).Msg("Flush failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Str("client_id", c.id).Msg("Ping failed")
				return
			}

		case <-c.done:
			wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
			return

		case <-s.ctx.Done():
			wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
			return
		}
	}
}
