// Package intents derives UI render instructions from a completed
// conversation turn. Three layers feed the result: tool-result mappings,
// keyword scans over the user and assistant text, and a regex fallback on
// the user text alone. Duplicates on (type, component) are dropped and
// insertion order is preserved.
package intents

import (
	"regexp"
	"strings"

	"github.com/adred-codev/ai-gateway/internal/types"
)

const intentTypeRender = "RENDER_COMPONENT"

// UI component names known to the front end.
const (
	ComponentNetworkStatus  = "NetworkStatus"
	ComponentTokenSwap      = "TokenSwap"
	ComponentLendingSection = "LendingSection"
	ComponentYourAssets     = "YourAssets"
)

// toolComponents maps tool names to the component that renders their
// results, with the result fields the props extractor pulls.
var toolComponents = map[string]struct {
	component string
	propKeys  []string
}{
	"get_gas_prices":    {ComponentNetworkStatus, []string{"network", "gasPrices"}},
	"get_crypto_price":  {ComponentTokenSwap, []string{"symbol", "currency", "price"}},
	"get_lending_rates": {ComponentLendingSection, []string{"token", "rates"}},
	"get_token_balance": {ComponentYourAssets, []string{"address", "network", "balance", "usdValue"}},
}

// keywordComponents drives the text layer. Scans are case-insensitive
// substring matches over both the user message and the final LLM text.
var keywordComponents = []struct {
	keywords  []string
	component string
}{
	{[]string{"gas", "fee"}, ComponentNetworkStatus},
	{[]string{"swap", "trade"}, ComponentTokenSwap},
	{[]string{"lend", "apy", "yield"}, ComponentLendingSection},
	{[]string{"balance", "asset", "portfolio", "wallet"}, ComponentYourAssets},
}

// fallbackPatterns applies to the user message only, and only when the
// two layers above produced nothing.
var fallbackPatterns = []struct {
	re        *regexp.Regexp
	component string
}{
	{regexp.MustCompile(`(?i)\b(price|worth|how much)\b`), ComponentTokenSwap},
	{regexp.MustCompile(`(?i)\b(network|chain|ethereum|polygon)\b`), ComponentNetworkStatus},
}

// Generate produces the UI intents for one turn. Returning nil means "no
// UI change".
func Generate(toolResults []types.ToolResult, userText, llmText string) []types.UIIntent {
	var out []types.UIIntent
	seen := make(map[string]bool)

	add := func(component string, props map[string]any) {
		key := intentTypeRender + ":" + component
		if seen[key] {
			return
		}
		seen[key] = true
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, types.UIIntent{
			Type:      intentTypeRender,
			Component: component,
			Props:     props,
		})
	}

	for _, result := range toolResults {
		if !result.Success {
			continue
		}
		mapping, ok := toolComponents[result.ToolName]
		if !ok {
			continue
		}
		add(mapping.component, extractProps(result.Result, mapping.propKeys))
	}

	combined := strings.ToLower(userText + " " + llmText)
	for _, kw := range keywordComponents {
		for _, word := range kw.keywords {
			if strings.Contains(combined, word) {
				add(kw.component, nil)
				break
			}
		}
	}

	if len(out) == 0 {
		for _, fp := range fallbackPatterns {
			if fp.re.MatchString(userText) {
				add(fp.component, nil)
				break
			}
		}
	}

	return out
}

// extractProps pulls the known fields from a tool result object, falling
// back to an empty props bag when the result has an unexpected shape.
func extractProps(result any, keys []string) map[string]any {
	data, ok := result.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	props := make(map[string]any)
	for _, key := range keys {
		if v, ok := data[key]; ok {
			props[key] = v
		}
	}
	return props
}
