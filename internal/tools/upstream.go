package tools

import (
	"context"
	"strings"
	"time"
)

// Upstream is the data source behind the default tools. Production wires
// REST-backed implementations; tests and dev mode use StaticUpstream.
type Upstream interface {
	GasPrices(ctx context.Context, network, txType string, includeUSD bool) (map[string]any, error)
	CryptoPrice(ctx context.Context, symbol, currency string, includeMarketData bool) (map[string]any, error)
	LendingRates(ctx context.Context, token string, protocols []string, includeUtilization bool) (map[string]any, error)
	TokenBalance(ctx context.Context, address, network, tokenAddress string, includeUSD bool) (map[string]any, error)
}

// StaticUpstream serves deterministic, realistically shaped data without
// network access.
type StaticUpstream struct{}

var staticGasBase = map[string]float64{
	"ethereum": 15,
	"polygon":  40,
	"bsc":      3,
	"arbitrum": 0.1,
	"optimism": 0.05,
}

func (StaticUpstream) GasPrices(_ context.Context, network, txType string, includeUSD bool) (map[string]any, error) {
	base := staticGasBase[network]
	if base == 0 {
		base = 15
	}
	tier := func(mult float64) map[string]any {
		t := map[string]any{"gwei": base * mult}
		if includeUSD {
			t["usd_cost"] = base * mult * 0.03
		}
		return t
	}
	out := map[string]any{
		"network": network,
		"gasPrices": map[string]any{
			"slow":     tier(0.66),
			"standard": tier(1),
			"fast":     tier(1.33),
		},
		"source": "static",
	}
	if txType != "" {
		out["transactionType"] = txType
	}
	return out, nil
}

var staticPrices = map[string]float64{
	"BTC":   97123.40,
	"ETH":   3412.85,
	"USDC":  1.00,
	"USDT":  1.00,
	"SOL":   214.32,
	"MATIC": 0.53,
	"LINK":  22.17,
	"UNI":   13.84,
}

func (StaticUpstream) CryptoPrice(_ context.Context, symbol, currency string, includeMarketData bool) (map[string]any, error) {
	if currency == "" {
		currency = "USD"
	}
	price := staticPrices[symbol]
	out := map[string]any{
		"symbol":   symbol,
		"currency": currency,
		"price":    price,
		"source":   "static",
	}
	if includeMarketData {
		out["marketData"] = map[string]any{
			"change24h":  -1.2,
			"volume24h":  1_250_000_000.0,
			"market_cap": price * 19_000_000,
		}
	}
	return out, nil
}

func (StaticUpstream) LendingRates(_ context.Context, token string, protocols []string, includeUtilization bool) (map[string]any, error) {
	if len(protocols) == 0 {
		protocols = []string{"aave", "compound"}
	}
	rates := make(map[string]any, len(protocols))
	for i, p := range protocols {
		entry := map[string]any{
			"supply_apy": 2.1 + float64(i)*0.4,
			"borrow_apy": 3.8 + float64(i)*0.5,
		}
		if includeUtilization {
			entry["utilization"] = 0.71
		}
		rates[p] = entry
	}
	return map[string]any{
		"token":  token,
		"rates":  rates,
		"source": "static",
	}, nil
}

func (StaticUpstream) TokenBalance(_ context.Context, address, network, tokenAddress string, includeUSD bool) (map[string]any, error) {
	if network == "" {
		network = "ethereum"
	}
	// Deterministic pseudo-balance derived from the address suffix.
	suffix := strings.ToLower(address)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	var seed float64
	for _, r := range suffix {
		seed += float64(r)
	}
	balance := seed / 100

	out := map[string]any{
		"address": address,
		"network": network,
		"balance": balance,
		"symbol":  "ETH",
		"source":  "static",
		"asOf":    time.Now().UTC().Format(time.RFC3339),
	}
	if tokenAddress != "" {
		out["tokenAddress"] = tokenAddress
		out["symbol"] = "ERC20"
	}
	if includeUSD {
		out["usdValue"] = balance * staticPrices["ETH"]
	}
	return out, nil
}
