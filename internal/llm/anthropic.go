package llm

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/types"
)

// messagesClient is the subset of the Anthropic SDK used by the adapter,
// satisfied by *sdk.MessageService and by mocks in tests.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicAdapter implements Adapter on top of the Claude Messages API.
type AnthropicAdapter struct {
	msg    messagesClient
	model  string
	logger zerolog.Logger
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// NewAnthropicAdapter builds an adapter from config.
func NewAnthropicAdapter(cfg AnthropicConfig, logger zerolog.Logger) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(sdk.ModelClaudeSonnet4_5_20250929)
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicAdapter{
		msg:    &client.Messages,
		model:  cfg.Model,
		logger: logger.With().Str("component", "llm").Str("provider", "anthropic").Logger(),
	}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete issues one Messages.New call and translates the reply.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if tools := encodeAnthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err)
	}
	return decodeAnthropicMessage(msg, a.logger), nil
}

// encodeAnthropicMessages maps the session log onto the Messages API
// shape. Tool results travel inside user messages; tool_use blocks ride
// on the assistant message that requested them.
func encodeAnthropicMessages(messages []types.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleTool:
			isError := m.Error != nil
			out = append(out, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, isError),
			))

		case types.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Parameters, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))

		default:
			if m.Content == "" {
				continue
			}
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out
}

func encodeAnthropicTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
	}
	return tools
}

func decodeAnthropicMessage(msg *sdk.Message, logger zerolog.Logger) *Response {
	resp := &Response{}
	var calls []types.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if resp.Content != "" && block.Text != "" {
				resp.Content += "\n"
			}
			resp.Content += block.Text
		case "tool_use":
			var params map[string]any
			if err := json.Unmarshal(block.Input, &params); err != nil {
				logger.Warn().
					Str("tool", block.Name).
					Err(err).
					Msg("Tool call arguments are not a JSON object")
				params = nil
			}
			calls = append(calls, types.ToolCall{
				ID:         block.ID,
				Name:       block.Name,
				Parameters: params,
			})
		}
	}
	resp.ToolCalls = sanitizeToolCalls(calls, logger)
	return resp
}

func (a *AnthropicAdapter) wrapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return apperrors.Wrap(err, apperrors.CodeRateLimit, "anthropic rate limited")
		}
		return apperrors.Wrap(err, apperrors.CodeLLM, "anthropic request failed")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeNetwork, "anthropic request timed out")
	}
	return apperrors.Wrap(err, apperrors.CodeLLM, "anthropic request failed")
}
