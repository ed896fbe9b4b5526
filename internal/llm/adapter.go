// Package llm abstracts the chat-completion providers behind a single
// Adapter interface. Each adapter translates the session's message log and
// the registered tool schemas into the provider's wire format and maps the
// provider's reply back into assistant text plus validated tool calls.
package llm

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/types"
)

// ToolDefinition describes one tool advertised to the model. InputSchema
// is a JSON-Schema object (type/properties/required).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one chat-completion call. FollowUp marks the second phase of
// a tool round trip, where the message log already contains tool results
// and the model should produce the final answer.
type Request struct {
	SessionID    string
	SystemPrompt string
	Messages     []types.Message
	Tools        []ToolDefinition
	FollowUp     bool
	MaxTokens    int
	Temperature  float32
}

// Response is the provider-independent completion result.
type Response struct {
	Content   string
	ToolCalls []types.ToolCall
}

// Adapter is a chat-completion provider. Implementations must return
// apperrors values so the conversation layer can classify failures.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// sanitizeToolCalls drops malformed tool calls at the provider seam: a
// call without an id or name, or with non-object arguments, is logged and
// discarded instead of reaching the executor.
func sanitizeToolCalls(calls []types.ToolCall, logger zerolog.Logger) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	valid := make([]types.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" || call.Name == "" || call.Parameters == nil {
			logger.Warn().
				Str("tool_call_id", call.ID).
				Str("tool", call.Name).
				Msg("Dropping malformed tool call from model response")
			continue
		}
		valid = append(valid, call)
	}
	return valid
}
