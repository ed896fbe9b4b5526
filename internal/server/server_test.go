package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ai-gateway/internal/conversation"
	"github.com/adred-codev/ai-gateway/internal/llm"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/pricefeed"
	"github.com/adred-codev/ai-gateway/internal/tools"
	"github.com/adred-codev/ai-gateway/internal/types"
)

// stubFeed is a no-op upstream for hub wiring in handler tests.
type stubFeed struct{}

func (stubFeed) Subscribe(string, func(pricefeed.Update)) error { return nil }
func (stubFeed) Unsubscribe(string) error                       { return nil }
func (stubFeed) CurrentPrice(_ context.Context, symbol string) (map[string]any, error) {
	return map[string]any{"symbol": symbol, "price": 1.0}, nil
}
func (stubFeed) Supported(symbol string) bool {
	for _, s := range pricefeed.SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}
func (stubFeed) Close() {}

func newTestServer(t *testing.T, mock *llm.MockAdapter) *Server {
	t.Helper()

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterDefaults(registry, tools.StaticUpstream{}, nil))
	executor := tools.NewExecutor(registry, nil, nil, zerolog.Nop())
	store := conversation.NewStore(zerolog.Nop())
	manager := conversation.NewManager(store, mock, registry, executor,
		conversation.ManagerConfig{}, zerolog.Nop())
	hub := pricefeed.NewHub(stubFeed{}, nil, zerolog.Nop())

	return New(Config{MaxConnections: 2}, manager, hub,
		monitoring.NewCollector(), nil, zerolog.Nop())
}

// testClient builds a client without a socket; handleFrame only touches
// the send queue.
func testClient(s *Server) *Client {
	c := &Client{
		id:        "test-client",
		sessionID: "test-session",
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	s.hub.Register(c.id, func(frame any) { s.enqueue(c, frame) })
	return c
}

func drainFrames(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data := <-c.send:
			var frame map[string]any
			require.NoError(t, json.Unmarshal(data, &frame))
			out = append(out, frame)
		default:
			return out
		}
	}
}

func TestPingPongOrdering(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	c := testClient(s)

	for _, id := range []string{"p1", "p2", "p3"} {
		s.handleFrame(c, []byte(`{"type":"PING","id":"`+id+`"}`))
	}

	frames := drainFrames(t, c)
	require.Len(t, frames, 3)
	for i, id := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, types.FramePong, frames[i]["type"])
		assert.Equal(t, id, frames[i]["id"])
		assert.NotZero(t, frames[i]["timestamp"])
	}
}

func TestMalformedJSONKeepsConnectionUsable(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	c := testClient(s)

	s.handleFrame(c, []byte(`{not json`))
	s.handleFrame(c, []byte(`{"type":"PING","id":"after"}`))

	frames := drainFrames(t, c)
	require.Len(t, frames, 2)
	assert.Equal(t, types.FrameError, frames[0]["type"])
	errBody := frames[0]["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
	assert.Equal(t, types.FramePong, frames[1]["type"])
}

func TestUnknownFrameType(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	c := testClient(s)

	s.handleFrame(c, []byte(`{"type":"BOGUS","id":"x1"}`))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	errBody := frames[0]["error"].(map[string]any)
	assert.Contains(t, errBody["message"], "Unknown message type: BOGUS")
	assert.Equal(t, "x1", frames[0]["id"])
}

func TestUserMessageYieldsAssistantFrame(t *testing.T) {
	mock := llm.NewMockAdapter()
	mock.QueueResponse(&llm.Response{Content: "Hi there."})
	s := newTestServer(t, mock)
	c := testClient(s)

	s.handleFrame(c, []byte(`{"type":"USER_MESSAGE","content":"hello"}`))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.FrameAssistantMessage, frames[0]["type"])
	msg := frames[0]["message"].(map[string]any)
	assert.Equal(t, "Hi there.", msg["content"])
	assert.Equal(t, "assistant", msg["role"])
}

func TestEmptyUserMessageRejected(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	c := testClient(s)

	s.handleFrame(c, []byte(`{"type":"USER_MESSAGE","content":"   "}`))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, types.FrameError, frames[0]["type"])
}

func TestSubscribeErrorsSurfaceAsErrorFrames(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	c := testClient(s)

	s.handleFrame(c, []byte(`{"type":"SUBSCRIBE","id":"s1","symbols":["FAKECOIN"]}`))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	errBody := frames[0]["error"].(map[string]any)
	assert.Equal(t, "No valid symbols", errBody["message"])
	assert.Equal(t, float64(400), errBody["statusCode"])
}

func TestSubscriptionListRoundTrip(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	c := testClient(s)

	s.handleFrame(c, []byte(`{"type":"SUBSCRIBE","symbols":["BTC","ETH"]}`))
	s.handleFrame(c, []byte(`{"type":"GET_SUBSCRIPTIONS"}`))

	frames := drainFrames(t, c)
	var list map[string]any
	for _, f := range frames {
		if f["type"] == types.FrameSubscriptionList {
			list = f
		}
	}
	require.NotNil(t, list, "expected a subscription_list frame")
	symbols := list["symbols"].([]any)
	assert.ElementsMatch(t, []any{"BTC", "ETH"}, symbols)
}

func TestHandshakeRejectedAtCapacity(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())

	// Occupy every connection slot.
	s.connectionsSem <- struct{}{}
	s.connectionsSem <- struct{}{}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws", nil)
	s.handleWebSocket(rec, req)

	assert.Equal(t, 503, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpointShape(t *testing.T) {
	s := newTestServer(t, llm.NewMockAdapter())
	s.collector.RecordRequest("GET", "/health", 200)

	rec := httptest.NewRecorder()
	s.handleMetrics(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	for _, key := range []string{"uptime", "system", "server", "websocket", "conversations"} {
		assert.Contains(t, data, key)
	}
	wsData := data["websocket"].(map[string]any)
	assert.Equal(t, float64(2), wsData["maxConnections"])
}
