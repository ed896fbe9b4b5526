package tools

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ai-gateway/internal/apperrors"
	"github.com/adred-codev/ai-gateway/internal/cache"
	"github.com/adred-codev/ai-gateway/internal/monitoring"
	"github.com/adred-codev/ai-gateway/internal/ratelimit"
)

func newTestExecutor(t *testing.T, r *Registry, limiter *ratelimit.Limiter, cacheMgr *cache.Manager) *Executor {
	t.Helper()
	noSleep := func(ctx context.Context, d time.Duration) {}
	return NewExecutor(r, limiter, cacheMgr, zerolog.Nop(),
		WithExecutorClock(time.Now, noSleep))
}

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r, StaticUpstream{}, nil))
	return r
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Definition{Name: "", Execute: func(context.Context, map[string]any) (any, error) { return nil, nil }})
	require.Error(t, err)

	err = r.Register(Definition{Name: "broken"})
	require.Error(t, err)

	ok := Definition{Name: "noop", Execute: func(context.Context, map[string]any) (any, error) { return nil, nil }}
	require.NoError(t, r.Register(ok))
	require.Error(t, r.Register(ok), "duplicate registration must fail")
}

func TestUnknownToolFailsBeforeExecution(t *testing.T) {
	e := newTestExecutor(t, defaultRegistry(t), nil, nil)

	result := e.Execute(context.Background(), "get_weather", map[string]any{})

	assert.False(t, result.Success)
	assert.Equal(t, "TOOL_NOT_FOUND", result.ErrorCode)
	assert.NotEmpty(t, result.RecoverySuggestions)
}

func TestInvalidAddressPattern(t *testing.T) {
	e := newTestExecutor(t, defaultRegistry(t), nil, nil)

	result := e.Execute(context.Background(), "get_token_balance", map[string]any{
		"address": "not-an-address",
	})

	assert.False(t, result.Success)
	assert.Equal(t, "INVALID_PARAMETERS", result.ErrorCode)
	assert.Equal(t, `Invalid parameters: Parameter "address" does not match required pattern`, result.Error)
}

func TestValidationCollectsAllProblems(t *testing.T) {
	e := newTestExecutor(t, defaultRegistry(t), nil, nil)

	result := e.Execute(context.Background(), "get_lending_rates", map[string]any{
		"token":     "DOGE",
		"protocols": []any{"aave", "makerdao"},
	})

	assert.False(t, result.Success)
	assert.Equal(t, "INVALID_PARAMETERS", result.ErrorCode)
	assert.Contains(t, result.Error, `Parameter "token" must be one of:`)
	assert.Contains(t, result.Error, `Parameter "protocols" items must be one of:`)
	assert.Contains(t, result.Error, "; ")
}

func TestMissingRequiredParameter(t *testing.T) {
	e := newTestExecutor(t, defaultRegistry(t), nil, nil)

	result := e.Execute(context.Background(), "get_gas_prices", map[string]any{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, `Missing required parameter "network"`)
}

func TestSuccessfulExecution(t *testing.T) {
	e := newTestExecutor(t, defaultRegistry(t), nil, nil)

	result := e.Execute(context.Background(), "get_gas_prices", map[string]any{
		"network":         "ethereum",
		"includeUSDCosts": true,
	})

	require.True(t, result.Success)
	assert.Equal(t, "fresh", result.DataFreshness)
	assert.False(t, result.FromCache)

	data, ok := result.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ethereum", data["network"])
	prices, ok := data["gasPrices"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, prices, "standard")
}

func TestRetryOnRetryableErrors(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register(Definition{
		Name: "flaky",
		Execute: func(context.Context, map[string]any) (any, error) {
			calls++
			if calls < 3 {
				return nil, apperrors.New(apperrors.CodeNetwork, "upstream unreachable")
			}
			return map[string]any{"ok": true}, nil
		},
	}))
	e := newTestExecutor(t, r, nil, nil)

	result := e.Execute(context.Background(), "flaky", map[string]any{})

	require.True(t, result.Success)
	assert.Equal(t, 3, calls, "two retries then success")
}

func TestNoRetryOnTerminalErrors(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register(Definition{
		Name: "broken",
		Execute: func(context.Context, map[string]any) (any, error) {
			calls++
			return nil, apperrors.New(apperrors.CodeValidation, "bad upstream data")
		},
	}))
	e := newTestExecutor(t, r, nil, nil)

	result := e.Execute(context.Background(), "broken", map[string]any{})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls, "non-retryable errors must not retry")
	assert.Equal(t, "VALIDATION_ERROR", result.ErrorCode)
}

func TestRetryBudgetExhausted(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register(Definition{
		Name: "down",
		Execute: func(context.Context, map[string]any) (any, error) {
			calls++
			return nil, apperrors.New(apperrors.CodeServiceUnavailable, "upstream down")
		},
	}))
	e := newTestExecutor(t, r, nil, nil)

	result := e.Execute(context.Background(), "down", map[string]any{})

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, "SERVICE_UNAVAILABLE", result.ErrorCode)
	assert.NotEmpty(t, result.RecoverySuggestions)
}

func TestResponseCaching(t *testing.T) {
	cacheMgr := cache.NewManager(cache.ManagerConfig{}, zerolog.Nop())
	e := newTestExecutor(t, defaultRegistry(t), nil, cacheMgr)

	params := map[string]any{"symbol": "BTC"}

	first := e.Execute(context.Background(), "get_crypto_price", params)
	require.True(t, first.Success)
	assert.False(t, first.FromCache)

	second := e.Execute(context.Background(), "get_crypto_price", params)
	require.True(t, second.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, "cached", second.DataFreshness)
	assert.Equal(t, first.Result, second.Result)
}

func TestRateLimitedExecution(t *testing.T) {
	limiter := ratelimit.New(zerolog.Nop())
	limiter.ConfigureKey(ratelimit.KeyConfig{
		Name:        "tools:get_gas_prices",
		MaxRequests: 1,
		Window:      time.Minute,
	})
	e := newTestExecutor(t, defaultRegistry(t), limiter, nil)

	params := map[string]any{"network": "ethereum"}
	require.True(t, e.Execute(context.Background(), "get_gas_prices", params).Success)

	result := e.Execute(context.Background(), "get_gas_prices", params)
	assert.False(t, result.Success)
	assert.Equal(t, "RATE_LIMIT", result.ErrorCode)
}

func TestProviderStatsRecorded(t *testing.T) {
	collector := monitoring.NewCollector()
	noSleep := func(ctx context.Context, d time.Duration) {}
	e := NewExecutor(defaultRegistry(t), nil, nil, zerolog.Nop(),
		WithExecutorClock(time.Now, noSleep),
		WithAPIRecorder(collector))

	result := e.Execute(context.Background(), "get_gas_prices", map[string]any{
		"network": "ethereum",
	})
	require.True(t, result.Success)

	stats, ok := collector.Snapshot().Providers["etherscan"]
	require.True(t, ok, "gas tool calls must be attributed to etherscan")
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestProviderStatsRecordFailures(t *testing.T) {
	collector := monitoring.NewCollector()
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:     "down",
		Provider: "etherscan",
		Execute: func(context.Context, map[string]any) (any, error) {
			return nil, apperrors.New(apperrors.CodeValidation, "bad upstream data")
		},
	}))
	noSleep := func(ctx context.Context, d time.Duration) {}
	e := NewExecutor(r, nil, nil, zerolog.Nop(),
		WithExecutorClock(time.Now, noSleep),
		WithAPIRecorder(collector))

	result := e.Execute(context.Background(), "down", map[string]any{})
	require.False(t, result.Success)

	stats, ok := collector.Snapshot().Providers["etherscan"]
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestProviderStatsSkipCachedResults(t *testing.T) {
	collector := monitoring.NewCollector()
	cacheMgr := cache.NewManager(cache.ManagerConfig{}, zerolog.Nop())
	noSleep := func(ctx context.Context, d time.Duration) {}
	e := NewExecutor(defaultRegistry(t), nil, cacheMgr, zerolog.Nop(),
		WithExecutorClock(time.Now, noSleep),
		WithAPIRecorder(collector))

	params := map[string]any{"symbol": "BTC"}
	require.True(t, e.Execute(context.Background(), "get_crypto_price", params).Success)
	second := e.Execute(context.Background(), "get_crypto_price", params)
	require.True(t, second.FromCache)

	stats := collector.Snapshot().Providers["coingecko"]
	assert.Equal(t, int64(1), stats.Calls, "cache hits make no external call")
}

func TestCanonicalParamsOrderIndependent(t *testing.T) {
	a := canonicalParams(map[string]any{"network": "ethereum", "includeUSDCosts": true})
	b := canonicalParams(map[string]any{"includeUSDCosts": true, "network": "ethereum"})
	assert.Equal(t, a, b)
}

func TestCatalogSchemas(t *testing.T) {
	defs := defaultRegistry(t).Catalog()

	require.Len(t, defs, 4)
	names := make([]string, 0, 4)
	for _, def := range defs {
		names = append(names, def.Name)
		require.Equal(t, "object", def.InputSchema["type"])
	}
	assert.Equal(t, []string{"get_crypto_price", "get_gas_prices", "get_lending_rates", "get_token_balance"}, names)
}
