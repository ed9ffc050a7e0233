package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// backend knows where a provider's key lives and how to build a client
// around it.
type backend struct {
	credential func(cfg *config.Config) credential
	build      func(cfg *config.Config, cred credential) (LLMProvider, error)
}

var backends = map[string]backend{
	ProviderOpenAI: {
		credential: func(cfg *config.Config) credential {
			p := cfg.Providers.OpenAI
			return credential{Field: "providers.openai.api_key", Inline: p.APIKey, File: p.APIKeyFile}
		},
		build: newOpenAIProvider,
	},
	ProviderOpenRouter: {
		credential: func(cfg *config.Config) credential {
			p := cfg.Providers.OpenRouter
			return credential{Field: "providers.openrouter.api_key", Inline: p.APIKey, File: p.APIKeyFile}
		},
		build: newOpenRouterProvider,
	},
	ProviderGemini: {
		credential: func(cfg *config.Config) credential {
			p := cfg.Providers.Gemini
			return credential{Field: "providers.gemini.api_key", Inline: p.APIKey, File: p.APIKeyFile}
		},
		build: newGeminiProvider,
	},
}

func SupportedProviders() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeProviderName lowercases name; empty means openai.
func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenAI
	}
	return name
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderOpenAI
	}
	return NormalizeProviderName(cfg.Agent.Provider)
}

func lookup(cfg *config.Config) (backend, string, error) {
	name := ActiveProviderName(cfg)
	if cfg == nil {
		return backend{}, name, fmt.Errorf("config is required")
	}
	b, ok := backends[name]
	if !ok {
		return backend{}, name, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(SupportedProviders(), ", "))
	}
	return b, name, nil
}

// ValidateProviderConfig checks that the active provider exists and its key
// resolves.
func ValidateProviderConfig(cfg *config.Config) error {
	b, name, err := lookup(cfg)
	if err != nil {
		return err
	}
	if _, err := b.credential(cfg).Key(); err != nil {
		return fmt.Errorf("%s credentials: %w", name, err)
	}
	return nil
}

func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool, mode string, err error) {
	b, name, err := lookup(cfg)
	if err != nil {
		return "", false, "", err
	}
	configured, mode = b.credential(cfg).status()
	return name, configured, mode, nil
}

func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	b, name, err := lookup(cfg)
	if err != nil {
		return nil, err
	}
	cred := b.credential(cfg)
	if _, err := cred.Key(); err != nil {
		return nil, fmt.Errorf("%s credentials: %w", name, err)
	}
	return b.build(cfg, cred)
}
