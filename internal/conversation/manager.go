package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/intents"
	"github.com/adred-codev/ai-gateway/internal/llm"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/tools"
	"github.com/adred-codev/ai-gateway/internal/types"
)

const defaultMaxHistoryLength = 50

// ManagerConfig bounds one conversation manager.
type ManagerConfig struct {
	MaxHistoryLength int
	ToolResultTTL    time.Duration
	MaxToolResults   int
	MaxTokens        int
	Temperature      float32
}

// Manager drives a user turn end to end: history assembly, the first LLM
// call, tool fan-out with memoization, the follow-up call, intent
// generation and the final assistant message.
type Manager struct {
	store     *Store
	adapter   llm.Adapter
	registry  *tools.Registry
	executor  *tools.Executor
	collector *monitoring.Collector
	logger    zerolog.Logger
	cfg       ManagerConfig
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock injects a clock for memoization tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithCollector attaches the metrics collector.
func WithCollector(c *monitoring.Collector) ManagerOption {
	return func(m *Manager) { m.collector = c }
}

// NewManager wires a conversation manager.
func NewManager(store *Store, adapter llm.Adapter, registry *tools.Registry, executor *tools.Executor, cfg ManagerConfig, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	if cfg.MaxHistoryLength <= 0 {
		cfg.MaxHistoryLength = defaultMaxHistoryLength
	}
	if cfg.ToolResultTTL <= 0 {
		cfg.ToolResultTTL = defaultToolResultTTL
	}
	if cfg.MaxToolResults <= 0 {
		cfg.MaxToolResults = defaultMaxToolResults
	}
	m := &Manager{
		store:    store,
		adapter:  adapter,
		registry: registry,
		executor: executor,
		logger:   logger.With().Str("component", "conversation").Logger(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the session store for the server layer.
func (m *Manager) Store() *Store { return m.store }

// ProcessMessage runs one user turn and always returns an assistant
// message; failures surface as an error-path assistant message with a
// retryable flag and suggestions, never as a raw error to the client.
func (m *Manager) ProcessMessage(ctx context.Context, sessionID, userText string, externalHistory []types.Message) types.Message {
	start := m.now()
	sess := m.store.GetOrCreate(sessionID)
	sess.Touch(start)

	userMsg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleUser,
		Content:   userText,
		Timestamp: start.UnixMilli(),
	}
	sess.Append(userMsg)

	hints := classifyIntent(userText)
	catalog := m.registry.Catalog()
	systemPrompt := buildSystemPrompt(catalog)

	input := m.buildInput(sess, externalHistory)
	first, err := m.adapter.Complete(ctx, llm.Request{
		SessionID:    sess.ID,
		SystemPrompt: systemPrompt,
		Messages:     input,
		Tools:        catalog,
		MaxTokens:    m.cfg.MaxTokens,
		Temperature:  m.cfg.Temperature,
	})
	if err != nil {
		monitoring.LLMRequests.WithLabelValues(m.adapter.Name(), "error").Inc()
		return m.errorMessage(sess, err)
	}
	monitoring.LLMRequests.WithLabelValues(m.adapter.Name(), "success").Inc()

	finalContent := first.Content
	var toolResults []types.ToolResult
	var toolNames []string

	if len(first.ToolCalls) > 0 {
		sess.Append(types.Message{
			ID:        uuid.NewString(),
			Role:      types.RoleAssistant,
			Content:   first.Content,
			Timestamp: m.now().UnixMilli(),
			ToolCalls: first.ToolCalls,
		})

		for _, call := range first.ToolCalls {
			result := m.executeMemoized(ctx, sess, call)
			toolResults = append(toolResults, result)
			toolNames = append(toolNames, call.Name)

			content, merr := json.Marshal(result.Result)
			if merr != nil || !result.Success {
				content, _ = json.Marshal(map[string]any{
					"error":     result.Error,
					"errorCode": result.ErrorCode,
				})
			}
			sess.Append(types.Message{
				ID:         uuid.NewString(),
				Role:       types.RoleTool,
				Content:    string(content),
				Timestamp:  m.now().UnixMilli(),
				ToolName:   result.ToolName,
				ToolCallID: call.ID,
			})
		}

		second, err := m.adapter.Complete(ctx, llm.Request{
			SessionID:    sess.ID,
			SystemPrompt: systemPrompt,
			Messages:     m.buildInput(sess, externalHistory),
			Tools:        catalog,
			FollowUp:     true,
			MaxTokens:    m.cfg.MaxTokens,
			Temperature:  m.cfg.Temperature,
		})
		if err != nil {
			monitoring.LLMRequests.WithLabelValues(m.adapter.Name(), "error").Inc()
			return m.errorMessage(sess, err)
		}
		monitoring.LLMRequests.WithLabelValues(m.adapter.Name(), "success").Inc()
		finalContent = second.Content
	}

	uiIntents := intents.Generate(toolResults, userText, finalContent)

	assistant := types.Message{
		ID:          uuid.NewString(),
		Role:        types.RoleAssistant,
		Content:     finalContent,
		Timestamp:   m.now().UnixMilli(),
		UIIntents:   uiIntents,
		ToolResults: toolResults,
		Context: map[string]any{
			"intent":     hints,
			"tools_used": toolNames,
		},
	}
	if len(toolResults) > 0 {
		assistant.Formatted = formatToolResults(toolResults)
	}
	sess.Append(assistant)
	m.trimSession(sess)

	if m.collector != nil {
		m.collector.RecordResponseTime(m.now().Sub(start))
	}
	return assistant
}

// buildInput assembles the LLM message list per the merge/trim rules.
func (m *Manager) buildInput(sess *Session, external []types.Message) []types.Message {
	merged := mergeHistory(sess.Snapshot(), external)
	return trimHistory(merged, m.cfg.MaxHistoryLength)
}

// trimSession enforces the at-rest history bound on the session log.
func (m *Manager) trimSession(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Messages = trimHistory(sess.Messages, m.cfg.MaxHistoryLength)
}

// executeMemoized consults the session's memo before hitting the
// executor; only successful results are memoized.
func (m *Manager) executeMemoized(ctx context.Context, sess *Session, call types.ToolCall) types.ToolResult {
	paramJSON, _ := json.Marshal(call.Parameters)
	key := call.Name + ":" + string(paramJSON)
	now := m.now()

	if cached, ok := sess.memoGet(key, now, m.cfg.ToolResultTTL); ok {
		cached.FromCache = true
		cached.DataFreshness = "cached"
		m.logger.Debug().
			Str("session_id", sess.ID).
			Str("tool", call.Name).
			Msg("Tool result served from session memo")
		return cached
	}

	result := m.executor.Execute(ctx, call.Name, call.Parameters)
	if result.Success {
		sess.memoPut(key, result, now, m.cfg.MaxToolResults)
	}
	return result
}

// errorMessage is the conversation error path: classify, log, and append
// a canonical user-facing assistant message. Raw detail stays in logs.
func (m *Manager) errorMessage(sess *Session, err error) types.Message {
	class := apperrors.Classify(err)
	event := m.logger.Error()
	if class.Severity == apperrors.SeverityWarn {
		event = m.logger.Warn()
	}
	event.
		Str("session_id", sess.ID).
		Str("category", string(class.Category)).
		Err(err).
		Msg("Conversation turn failed")

	monitoring.ErrorsTotal.WithLabelValues(string(class.Category)).Inc()
	if m.collector != nil {
		m.collector.RecordError(string(class.Category), "conversation", err.Error())
	}

	msg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Content:   apperrors.UserMessage(class.Category),
		Timestamp: m.now().UnixMilli(),
		Error: &types.MessageError{
			Code:        string(class.Category),
			Retryable:   class.Recoverable,
			Suggestions: apperrors.Suggestions(class.Category),
		},
	}
	sess.Append(msg)
	m.trimSession(sess)
	return msg
}

// classifyIntent is the advisory keyword classifier from step 4. It never
// gates tool availability.
func classifyIntent(userText string) map[string]any {
	lower := strings.ToLower(userText)
	type class struct {
		primary  string
		keywords []string
		tools    []string
	}
	classes := []class{
		{"gas_inquiry", []string{"gas", "fee"}, []string{"get_gas_prices"}},
		{"price_inquiry", []string{"price", "worth", "how much"}, []string{"get_crypto_price"}},
		{"lending_inquiry", []string{"lend", "apy", "yield", "borrow"}, []string{"get_lending_rates"}},
		{"balance_inquiry", []string{"balance", "portfolio", "wallet", "holdings"}, []string{"get_token_balance"}},
	}

	for _, c := range classes {
		matches := 0
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				matches++
			}
		}
		if matches > 0 {
			confidence := 0.5 + 0.5*float64(matches)/float64(len(c.keywords))
			if confidence > 1 {
				confidence = 1
			}
			return map[string]any{
				"primary":         c.primary,
				"confidence":      confidence,
				"suggested_tools": c.tools,
			}
		}
	}
	return map[string]any{
		"primary":         "general",
		"confidence":      0.3,
		"suggested_tools": []string{},
	}
}

// buildSystemPrompt renders the tool-aware system prompt.
func buildSystemPrompt(catalog []llm.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You are a crypto market assistant. Answer questions about gas prices, token prices, lending rates and wallet balances. ")
	b.WriteString("Use the available tools to fetch live data instead of guessing; cite the data you fetched. ")
	b.WriteString("Keep answers short and concrete.")
	if len(catalog) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, def := range catalog {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		}
	}
	return b.String()
}

// formatToolResults renders a compact human-readable summary of the tool
// data for clients that cannot interpret the structured results.
func formatToolResults(results []types.ToolResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		if !r.Success {
			fmt.Fprintf(&b, "%s: failed (%s)", r.ToolName, r.ErrorCode)
			continue
		}
		data, err := json.Marshal(r.Result)
		if err != nil {
			fmt.Fprintf(&b, "%s: ok", r.ToolName)
			continue
		}
		fmt.Fprintf(&b, "%s: %s", r.ToolName, data)
	}
	return b.String()
}
