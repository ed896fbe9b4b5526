package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/types"
)

// OpenAIAdapter implements Adapter on top of the OpenAI chat-completions
// API (or any compatible endpoint via BaseURL).
type OpenAIAdapter struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the default endpoint
	Model   string
}

// NewOpenAIAdapter builds an adapter from config.
func NewOpenAIAdapter(cfg OpenAIConfig, logger zerolog.Logger) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With().Str("component", "llm").Str("provider", "openai").Logger(),
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete issues one chat completion and translates the reply.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: encodeOpenAIMessages(req),
		Tools:    encodeOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, a.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.CodeLLM, "provider returned no choices")
	}

	choice := resp.Choices[0].Message
	return &Response{
		Content:   choice.Content,
		ToolCalls: sanitizeToolCalls(decodeOpenAIToolCalls(choice.ToolCalls, a.logger), a.logger),
	}, nil
}

func encodeOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.ToolName,
				ToolCallID: m.ToolCallID,
			})

		case types.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, call := range m.ToolCalls {
				args, err := json.Marshal(call.Parameters)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					Type: openai.ToolTypeFunction,
					ID:   call.ID,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)

		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		}
	}
	return out
}

func encodeOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return tools
}

func decodeOpenAIToolCalls(calls []openai.ToolCall, logger zerolog.Logger) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, call := range calls {
		var params map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
			logger.Warn().
				Str("tool", call.Function.Name).
				Err(err).
				Msg("Tool call arguments are not a JSON object")
			params = nil
		}
		out = append(out, types.ToolCall{
			ID:         call.ID,
			Name:       call.Function.Name,
			Parameters: params,
		})
	}
	return out
}

// wrapError maps provider failures onto the gateway error taxonomy.
// Rate limiting keeps its own code so the caller can surface retry
// guidance; everything else is an upstream LLM failure.
func (a *OpenAIAdapter) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return apperrors.Wrap(err, apperrors.CodeRateLimit, "openai rate limited")
		}
		return apperrors.Wrap(err, apperrors.CodeLLM, "openai request failed")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeNetwork, "openai request timed out")
	}
	return apperrors.Wrap(err, apperrors.CodeLLM, "openai request failed")
}
