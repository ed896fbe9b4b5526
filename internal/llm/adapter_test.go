package llm

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/types"
)

func TestSanitizeToolCallsDropsMalformed(t *testing.T) {
	calls := []types.ToolCall{
		{ID: "1", Name: "get_gas_prices", Parameters: map[string]any{"network": "ethereum"}},
		{ID: "", Name: "get_gas_prices", Parameters: map[string]any{}},
		{ID: "3", Name: "", Parameters: map[string]any{}},
		{ID: "4", Name: "get_crypto_price", Parameters: nil},
		{ID: "5", Name: "get_crypto_price", Parameters: map[string]any{"symbol": "BTC"}},
	}

	valid := sanitizeToolCalls(calls, zerolog.Nop())

	require.Len(t, valid, 2)
	assert.Equal(t, "1", valid[0].ID)
	assert.Equal(t, "5", valid[1].ID)
}

func TestEncodeOpenAIMessages(t *testing.T) {
	req := Request{
		SystemPrompt: "You are a helpful assistant.",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "what are gas prices?"},
			{Role: types.RoleAssistant, Content: "", ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "get_gas_prices", Parameters: map[string]any{"network": "ethereum"}},
			}},
			{Role: types.RoleTool, Content: `{"standard":15}`, ToolName: "get_gas_prices", ToolCallID: "call_1"},
		},
	}

	msgs := encodeOpenAIMessages(req)

	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)

	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	assert.JSONEq(t, `{"network":"ethereum"}`, msgs[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
}

func TestDecodeOpenAIToolCallsBadArguments(t *testing.T) {
	calls := decodeOpenAIToolCalls([]openai.ToolCall{
		{ID: "a", Function: openai.FunctionCall{Name: "get_gas_prices", Arguments: "not json"}},
	}, zerolog.Nop())

	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Parameters, "bad arguments decode to nil so the seam drops them")
	assert.Empty(t, sanitizeToolCalls(calls, zerolog.Nop()))
}

func TestEncodeAnthropicMessagesShape(t *testing.T) {
	msgs := encodeAnthropicMessages([]types.Message{
		{Role: types.RoleUser, Content: "check my balance"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
			{ID: "tu_1", Name: "get_token_balance", Parameters: map[string]any{"address": "0x0"}},
		}},
		{Role: types.RoleTool, Content: `{"balance":"1.2 ETH"}`, ToolCallID: "tu_1"},
		{Role: types.RoleAssistant, Content: "You hold 1.2 ETH."},
	})

	// user, assistant(tool_use), user(tool_result), assistant(text)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
	assert.Equal(t, "assistant", string(msgs[3].Role))
}

func TestMockAdapterScriptsReplies(t *testing.T) {
	m := NewMockAdapter()
	m.QueueResponse(&Response{ToolCalls: []types.ToolCall{{ID: "1", Name: "get_gas_prices", Parameters: map[string]any{}}}})
	m.QueueError(apperrors.New(apperrors.CodeLLM, "provider down"))

	resp, err := m.Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)

	_, err = m.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeLLM, apperrors.CodeOf(err))

	// Queue exhausted: canned response.
	resp, err = m.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, 3, m.CallCount())
}
