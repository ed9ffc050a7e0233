package providers

import (
	"strings"
	"testing"
)

func TestAugmentProviderError_OpenAIIncorrectAPIKeyHint(t *testing.T) {
	msg := augmentProviderError(ProviderOpenAI, "Incorrect API key provided")
	if !strings.Contains(msg, "WELLDYING_PROVIDERS_OPENAI_API_KEY") {
		t.Fatalf("expected api key hint, got %q", msg)
	}
}

func TestAugmentProviderError_OpenRouterUnknownModel(t *testing.T) {
	msg := augmentProviderError(ProviderOpenRouter, "No endpoints found for foo/bar")
	if !strings.Contains(msg, "agent.model") {
		t.Fatalf("expected model hint, got %q", msg)
	}
}

func TestAugmentProviderError_ContextLength(t *testing.T) {
	msg := augmentProviderError(ProviderOpenAI, "This model's maximum context length is 8192 tokens")
	if !strings.Contains(msg, "history_window") {
		t.Fatalf("expected history window hint, got %q", msg)
	}
}

func TestAugmentProviderError_PassThrough(t *testing.T) {
	if got := augmentProviderError(ProviderOpenAI, "  boom  "); got != "boom" {
		t.Fatalf("expected trimmed passthrough, got %q", got)
	}
}
