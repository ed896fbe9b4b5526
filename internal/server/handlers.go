package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/types"
)

// Outbound frame envelopes.
type (
	establishedFrame struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
		Timestamp int64  `json:"timestamp"`
	}

	pongFrame struct {
		Type      string `json:"type"`
		ID        string `json:"id,omitempty"`
		Timestamp int64  `json:"timestamp"`
	}

	assistantFrame struct {
		Type      string        `json:"type"`
		Message   types.Message `json:"message"`
		Timestamp int64         `json:"timestamp"`
	}

	subscriptionListFrame struct {
		Type      string   `json:"type"`
		Symbols   []string `json:"symbols"`
		Timestamp int64    `json:"timestamp"`
	}

	errorFrame struct {
		Type      string             `json:"type"`
		ID        string             `json:"id,omitempty"`
		Error     types.ErrorPayload `json:"error"`
		Timestamp int64              `json:"timestamp"`
	}
)

// handleFrame routes one inbound frame. Malformed or unknown frames get
// an ERROR frame back; the connection always stays open.
func (s *Server) handleFrame(c *Client, data []byte) {
	var frame types.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn().Str("client_id", c.id).Err(err).Msg("Client sent invalid JSON")
		s.sendError(c, "", apperrors.New(apperrors.CodeValidation, "Malformed JSON frame"))
		return
	}

	switch frame.Type {
	case types.FramePing:
		s.enqueue(c, pongFrame{
			Type:      types.FramePong,
			ID:        frame.ID,
			Timestamp: time.Now().UnixMilli(),
		})

	case types.FrameUserMessage:
		if strings.TrimSpace(frame.Content) == "" {
			s.sendError(c, frame.ID, apperrors.New(apperrors.CodeValidation, "Message content is empty"))
			return
		}
		// processMessage blocks on LLM and tool calls; running it inline
		// keeps this connection's frames strictly ordered, which the
		// protocol requires. Other connections proceed on their own
		// goroutines.
		reply := s.manager.ProcessMessage(s.ctx, c.sessionID, frame.Content, nil)
		s.enqueue(c, assistantFrame{
			Type:      types.FrameAssistantMessage,
			Message:   reply,
			Timestamp: time.Now().UnixMilli(),
		})

	case types.FrameSubscribe:
		if err := s.hub.Subscribe(s.ctx, c.id, frame.Symbols); err != nil {
			s.sendError(c, frame.ID, err)
		}

	case types.FrameUnsubscribe:
		if err := s.hub.Unsubscribe(c.id, frame.Symbols); err != nil {
			s.sendError(c, frame.ID, err)
		}

	case types.FrameGetSubscriptions:
		s.enqueue(c, subscriptionListFrame{
			Type:      types.FrameSubscriptionList,
			Symbols:   s.hub.Subscriptions(c.id),
			Timestamp: time.Now().UnixMilli(),
		})

	default:
		s.sendError(c, frame.ID, apperrors.Newf(apperrors.CodeValidation,
			"Unknown message type: %s", frame.Type))
	}
}

// sendError shapes an error into an ERROR frame. Taxonomy errors carry
// their own message; anything else degrades to the canonical phrase so
// raw detail never reaches the client.
func (s *Server) sendError(c *Client, id string, err error) {
	code := apperrors.CodeOf(err)
	message := apperrors.UserMessage(code)
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		message = ae.Message
	}

	if s.collector != nil {
		s.collector.RecordError(string(code), "/ws", message)
	}

	now := time.Now().UnixMilli()
	s.enqueue(c, errorFrame{
		Type: types.FrameError,
		ID:   id,
		Error: types.ErrorPayload{
			Message:    message,
			Code:       string(code),
			StatusCode: apperrors.StatusOf(err),
			Timestamp:  now,
		},
		Timestamp: now,
	})
}

// sendRateLimited tells a flooding client why its frames are dropped.
func (s *Server) sendRateLimited(c *Client) {
	s.logger.Warn().Str("client_id", c.id).Msg("Client rate limited")
	s.sendError(c, "", apperrors.New(apperrors.CodeRateLimit,
		"Too many messages, please slow down"))
}
