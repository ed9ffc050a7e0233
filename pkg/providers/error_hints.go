package providers

import "strings"

// augmentProviderError appends an operator hint to well-known provider
// failures so the log line says what to fix.
func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch NormalizeProviderName(providerName) {
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return msg + " Hint: check providers.openai.api_key or WELLDYING_PROVIDERS_OPENAI_API_KEY."
		}
		if strings.Contains(lower, "missing scopes: model.request") ||
			strings.Contains(lower, "insufficient permissions for this operation") {
			return msg + " Hint: the OpenAI project key needs model.request access."
		}
	case ProviderOpenRouter:
		if strings.Contains(lower, "no endpoints found") {
			return msg + " Hint: the configured agent.model is not served by OpenRouter; pick a listed model id."
		}
	}
	if strings.Contains(lower, "context_length_exceeded") || strings.Contains(lower, "maximum context length") {
		return msg + " Hint: lower agent.history_window to send fewer prior turns."
	}

	return msg
}
