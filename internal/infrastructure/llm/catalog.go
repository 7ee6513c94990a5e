package llm

import (
	"sort"
	"strings"
)

// Endpoint distinguishes the upstream API surface a model must be called on.
type Endpoint string

const (
	EndpointChatCompletions Endpoint = "chat_completions"
	EndpointResponses       Endpoint = "responses"
)

// Provider name constants used in routing tables and config.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderDeepSeek   = "deepseek"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderLocal      = "local"
)

// catalogEntry describes one known model.
type catalogEntry struct {
	Provider      string
	ContextWindow int
	// Pricing in USD per million tokens, used by the usage ledger.
	InputUSDPerM  float64
	OutputUSDPerM float64
}

// modelCatalog is the exact-match table consulted by the router and the
// cost ledger. Unknown models still route via heuristics; they just get
// zero pricing and the default context window.
var modelCatalog = map[string]catalogEntry{
	// OpenAI chat-completions models
	"gpt-4":         {ProviderOpenAI, 8192, 30, 60},
	"gpt-4-turbo":   {ProviderOpenAI, 128000, 10, 30},
	"gpt-4o":        {ProviderOpenAI, 128000, 2.5, 10},
	"gpt-4o-mini":   {ProviderOpenAI, 128000, 0.15, 0.6},
	"gpt-3.5-turbo": {ProviderOpenAI, 16385, 0.5, 1.5},

	// OpenAI reasoning family. All resolve on the Responses endpoint
	// except o3-mini, which stays on chat completions; see EndpointFor.
	"gpt-5.2-pro": {ProviderOpenAI, 400000, 15, 120},
	"o1":          {ProviderOpenAI, 200000, 15, 60},
	"o1-mini":     {ProviderOpenAI, 128000, 1.1, 4.4},
	"o1-preview":  {ProviderOpenAI, 128000, 15, 60},
	"o3":          {ProviderOpenAI, 200000, 10, 40},
	"o3-mini":     {ProviderOpenAI, 200000, 1.1, 4.4},

	// Anthropic
	"claude-3-opus-20240229":     {ProviderAnthropic, 200000, 15, 75},
	"claude-3-sonnet-20240229":   {ProviderAnthropic, 200000, 3, 15},
	"claude-3-haiku-20240307":    {ProviderAnthropic, 200000, 0.25, 1.25},
	"claude-3-5-sonnet-20241022": {ProviderAnthropic, 200000, 3, 15},
	"claude-sonnet-4-20250514":   {ProviderAnthropic, 200000, 3, 15},
	"claude-sonnet-4-5-20250929": {ProviderAnthropic, 200000, 3, 15},
	"claude-opus-4-5-20251101":   {ProviderAnthropic, 200000, 5, 25},

	// Google
	"gemini-1.5-pro":   {ProviderGoogle, 2097152, 1.25, 5},
	"gemini-1.5-flash": {ProviderGoogle, 1048576, 0.075, 0.3},
	"gemini-2.0-flash": {ProviderGoogle, 1048576, 0.1, 0.4},

	// DeepSeek
	"deepseek-chat":     {ProviderDeepSeek, 65536, 0.27, 1.1},
	"deepseek-reasoner": {ProviderDeepSeek, 65536, 0.55, 2.19},
}

// modelAliases maps friendly names to the dated variant that is actually
// sent upstream. Resolution happens before the API call and the resolved
// name is stamped onto the response.
var modelAliases = map[string]string{
	"claude-opus-4.5":   "claude-opus-4-5-20251101",
	"claude-sonnet-4":   "claude-sonnet-4-20250514",
	"claude-sonnet-4.5": "claude-sonnet-4-5-20250929",
	"claude-3-opus":     "claude-3-opus-20240229",
	"claude-3-sonnet":   "claude-3-sonnet-20240229",
	"claude-3-haiku":    "claude-3-haiku-20240307",
	"claude-3-5-sonnet": "claude-3-5-sonnet-20241022",
	"gemini-pro":        "gemini-1.5-pro",
	"gemini-flash":      "gemini-1.5-flash",
}

// providerAliases are the bare provider names accepted in the model field;
// they route to the adapter's configured default model.
var providerAliases = map[string]string{
	"openai":    ProviderOpenAI,
	"claude":    ProviderAnthropic,
	"anthropic": ProviderAnthropic,
	"deepseek":  ProviderDeepSeek,
	"google":    ProviderGoogle,
	"gemini":    ProviderGoogle,
}

// ResolveAlias returns the dated model name for a friendly alias, or the
// input unchanged when no alias exists.
func ResolveAlias(model string) string {
	if resolved, ok := modelAliases[model]; ok {
		return resolved
	}
	return model
}

// CatalogProvider returns the provider owning model via exact catalog match.
func CatalogProvider(model string) (string, bool) {
	entry, ok := modelCatalog[model]
	if !ok {
		return "", false
	}
	return entry.Provider, true
}

// EndpointFor returns which OpenAI API surface a model must use. Only the
// reasoning family and dated pro models use the Responses endpoint.
func EndpointFor(model string) Endpoint {
	if model == "gpt-5.2-pro" || model == "o3" || strings.HasPrefix(model, "o1") {
		return EndpointResponses
	}
	return EndpointChatCompletions
}

// ContextWindow returns the model's context window, or 0 when unknown.
func ContextWindow(model string) int {
	return modelCatalog[ResolveAlias(model)].ContextWindow
}

// Pricing returns USD-per-million-token input and output rates, zero when
// the model is not in the catalog.
func Pricing(model string) (inputUSDPerM, outputUSDPerM float64) {
	entry := modelCatalog[ResolveAlias(model)]
	return entry.InputUSDPerM, entry.OutputUSDPerM
}

// KnownModels lists catalog models for one provider, sorted by name so
// /v1/models is stable across calls.
func KnownModels(provider string) []string {
	var models []string
	for name, entry := range modelCatalog {
		if entry.Provider == provider {
			models = append(models, name)
		}
	}
	sort.Strings(models)
	return models
}
