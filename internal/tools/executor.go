package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/cache"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/ratelimit"
	"github.com/adred-codev/ai-gateway/internal/types"
)

const (
	defaultMaxRetries = 2
	defaultBaseDelay  = 250 * time.Millisecond
)

// APIRecorder receives per-provider external-call observations.
// Satisfied by monitoring.Collector; nil disables recording.
type APIRecorder interface {
	RecordAPICall(provider string, duration time.Duration, failed bool)
}

// Executor runs registered tools with validation, rate limiting, response
// caching and retry. Failures come back inside the ToolResult (Success
// false) so a partial fan-out still yields a coherent follow-up LLM call.
type Executor struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Manager
	recorder APIRecorder
	logger   zerolog.Logger

	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRetry overrides the retry budget and backoff base.
func WithRetry(maxRetries int, baseDelay time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.maxRetries = maxRetries
		e.baseDelay = baseDelay
	}
}

// WithAPIRecorder attaches the per-provider call recorder.
func WithAPIRecorder(r APIRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithExecutorClock injects a clock and sleeper for deterministic tests.
func WithExecutorClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) ExecutorOption {
	return func(e *Executor) {
		e.now = now
		e.sleep = sleep
	}
}

// NewExecutor wires the executor to its collaborators. limiter and cache
// may be nil, disabling the respective gate.
func NewExecutor(registry *Registry, limiter *ratelimit.Limiter, cacheMgr *cache.Manager, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:   registry,
		limiter:    limiter,
		cache:      cacheMgr,
		logger:     logger.With().Str("component", "tools").Logger(),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tool call end to end and always returns a ToolResult.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]any) types.ToolResult {
	start := e.now()
	result := types.ToolResult{
		ToolName:   name,
		Parameters: params,
	}

	def, ok := e.registry.Get(name)
	if !ok {
		return e.fail(result, start, apperrors.CodeToolNotFound, fmt.Sprintf("Tool %q not found", name))
	}

	if problems := def.Schema.Validate(params); len(problems) > 0 {
		return e.fail(result, start, apperrors.CodeInvalidParameters,
			"Invalid parameters: "+strings.Join(problems, "; "))
	}

	if e.limiter != nil {
		if res := e.limiter.Check("tools:" + name); !res.Allowed {
			e.logger.Warn().
				Str("tool", name).
				Str("reason", res.Reason).
				Dur("retry_after", res.RetryAfter).
				Msg("Tool execution rate limited")
			return e.fail(result, start, apperrors.CodeRateLimit,
				fmt.Sprintf("Tool %q is rate limited, retry in %s", name, res.RetryAfter.Round(time.Millisecond)))
		}
	}

	cacheKey := name + ":" + canonicalParams(params)
	if e.cache != nil {
		if cached, ok := e.cache.Get(cache.NamespaceAPIResponses, cacheKey); ok {
			result.Result = cached
			result.Success = true
			result.FromCache = true
			result.DataFreshness = "cached"
			result.ExecutionTimeMs = e.sinceMs(start)
			monitoring.ToolExecutions.WithLabelValues(name, "cached").Inc()
			return result
		}
	}

	invokeStart := e.now()
	value, err := e.invokeWithRetry(ctx, def, params)
	if e.recorder != nil && def.Provider != "" {
		e.recorder.RecordAPICall(def.Provider, e.now().Sub(invokeStart), err != nil)
	}
	if err != nil {
		code := apperrors.CodeOf(err)
		if code == apperrors.CodeUnknown {
			code = apperrors.CodeTool
		}
		e.logger.Error().
			Str("tool", name).
			Err(err).
			Msg("Tool execution failed")
		return e.fail(result, start, code, err.Error())
	}

	if e.cache != nil {
		e.cache.Set(cache.NamespaceAPIResponses, cacheKey, value, nil)
	}

	result.Result = value
	result.Success = true
	result.DataFreshness = "fresh"
	result.ExecutionTimeMs = e.sinceMs(start)
	monitoring.ToolExecutions.WithLabelValues(name, "success").Inc()
	monitoring.ToolDuration.WithLabelValues(name).Observe(float64(result.ExecutionTimeMs) / 1000)
	return result
}

// invokeWithRetry calls the tool executor with exponential backoff on
// retryable failures: retryable error codes or HTTP-like 429/5xx status.
func (e *Executor) invokeWithRetry(ctx context.Context, def Definition, params map[string]any) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.sleep(ctx, e.baseDelay*(1<<(attempt-1)))
			if err := ctx.Err(); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeTool, "tool execution cancelled")
			}
			e.logger.Debug().
				Str("tool", def.Name).
				Int("attempt", attempt+1).
				Msg("Retrying tool execution")
		}

		value, err := def.Execute(ctx, params)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !isRetryableToolError(err) {
			break
		}
	}
	return nil, lastErr
}

func isRetryableToolError(err error) bool {
	if apperrors.IsRetryable(err) {
		return true
	}
	status := apperrors.StatusOf(err)
	return status == 429 || status >= 500
}

func (e *Executor) fail(result types.ToolResult, start time.Time, code apperrors.Code, message string) types.ToolResult {
	result.Success = false
	result.Error = message
	result.ErrorCode = string(code)
	result.RecoverySuggestions = apperrors.Suggestions(code)
	result.ExecutionTimeMs = e.sinceMs(start)
	monitoring.ToolExecutions.WithLabelValues(result.ToolName, "error").Inc()
	monitoring.ErrorsTotal.WithLabelValues(string(code)).Inc()
	return result
}

func (e *Executor) sinceMs(start time.Time) int64 {
	return e.now().Sub(start).Milliseconds()
}

// canonicalParams serializes params with sorted keys so equal parameter
// sets always map to the same cache key.
func canonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(params[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}
