package providers

import (
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
)

const (
	defaultOpenAIAPIBase     = "https://api.openai.com/v1"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-4o-mini"
)

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func newOpenAIProvider(cfg *config.Config, cred credential) (LLMProvider, error) {
	p := cfg.Providers.OpenAI
	return newChatCompletionsProvider(ProviderOpenAI,
		orDefault(p.APIBase, defaultOpenAIAPIBase),
		defaultOpenAIModel,
		cred,
		map[string]string{"OpenAI-Organization": p.Organization},
	)
}

// OpenRouter asks callers to identify themselves for its rankings page.
func newOpenRouterProvider(cfg *config.Config, cred credential) (LLMProvider, error) {
	return newChatCompletionsProvider(ProviderOpenRouter,
		orDefault(cfg.Providers.OpenRouter.APIBase, defaultOpenRouterAPIBase),
		defaultOpenRouterModel,
		cred,
		map[string]string{"X-Title": "welldying"},
	)
}
