package tools

import (
	"context"
)

// Normative enum and pattern sets; these are part of the wire contract.
var (
	Networks         = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}
	TransactionTypes = []string{"transfer", "swap", "contract_interaction"}
	FiatCurrencies   = []string{"USD", "EUR", "GBP"}
	CryptoSymbols    = []string{"BTC", "ETH", "USDC", "USDT", "SOL", "MATIC", "LINK", "UNI"}
	LendingTokens    = []string{"ETH", "DAI", "USDC", "USDT", "WBTC", "UNI", "LINK", "AAVE", "COMP"}
	LendingProtocols = []string{"aave", "compound"}
)

// AddressPattern matches a 20-byte hex address.
const AddressPattern = `^0x[a-fA-F0-9]{40}$`

// RegisterDefaults registers the four stock tools against upstream.
// enabled filters by name; nil or empty enables everything.
func RegisterDefaults(r *Registry, upstream Upstream, enabled []string) error {
	allowed := func(name string) bool {
		if len(enabled) == 0 {
			return true
		}
		return containsString(enabled, name)
	}

	defs := []Definition{
		{
			Name:        "get_gas_prices",
			Description: "Get current gas prices for a blockchain network, optionally scoped to a transaction type.",
			Provider:    "etherscan",
			Schema: &Schema{
				Properties: map[string]Property{
					"network":         {Type: "string", Enum: Networks},
					"transactionType": {Type: "string", Enum: TransactionTypes},
					"includeUSDCosts": {Type: "boolean"},
				},
				Required: []string{"network"},
			},
			Execute: func(ctx context.Context, params map[string]any) (any, error) {
				return upstream.GasPrices(ctx,
					stringParam(params, "network", ""),
					stringParam(params, "transactionType", ""),
					boolParam(params, "includeUSDCosts"))
			},
		},
		{
			Name:        "get_crypto_price",
			Description: "Get the current price of a cryptocurrency in a fiat currency.",
			Provider:    "coingecko",
			Schema: &Schema{
				Properties: map[string]Property{
					"symbol":            {Type: "string", Enum: CryptoSymbols},
					"currency":          {Type: "string", Enum: FiatCurrencies},
					"includeMarketData": {Type: "boolean"},
				},
				Required: []string{"symbol"},
			},
			Execute: func(ctx context.Context, params map[string]any) (any, error) {
				return upstream.CryptoPrice(ctx,
					stringParam(params, "symbol", ""),
					stringParam(params, "currency", "USD"),
					boolParam(params, "includeMarketData"))
			},
		},
		{
			Name:        "get_lending_rates",
			Description: "Get supply and borrow rates for a token across lending protocols.",
			Provider:    "defillama",
			Schema: &Schema{
				Properties: map[string]Property{
					"token":              {Type: "string", Enum: LendingTokens},
					"protocols":          {Type: "array", Items: &Property{Type: "string", Enum: LendingProtocols}},
					"includeUtilization": {Type: "boolean"},
				},
				Required: []string{"token"},
			},
			Execute: func(ctx context.Context, params map[string]any) (any, error) {
				return upstream.LendingRates(ctx,
					stringParam(params, "token", ""),
					stringSliceParam(params, "protocols"),
					boolParam(params, "includeUtilization"))
			},
		},
		{
			Name:        "get_token_balance",
			Description: "Get the native or ERC-20 token balance of a wallet address.",
			Provider:    "etherscan",
			Schema: &Schema{
				Properties: map[string]Property{
					"address":          {Type: "string", Pattern: AddressPattern},
					"network":          {Type: "string", Enum: Networks},
					"tokenAddress":     {Type: "string", Pattern: AddressPattern},
					"includeUSDValues": {Type: "boolean"},
				},
				Required: []string{"address"},
			},
			Execute: func(ctx context.Context, params map[string]any) (any, error) {
				return upstream.TokenBalance(ctx,
					stringParam(params, "address", ""),
					stringParam(params, "network", "ethereum"),
					stringParam(params, "tokenAddress", ""),
					boolParam(params, "includeUSDValues"))
			},
		},
	}

	for _, def := range defs {
		if !allowed(def.Name) {
			continue
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func stringSliceParam(params map[string]any, key string) []string {
	items, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
