package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxAttempts        = 3
	maxErrorBody       = 2000
)

// chatCompletionsProvider speaks the OpenAI chat-completions protocol, which
// OpenRouter also serves.
type chatCompletionsProvider struct {
	name         string
	endpoint     string
	defaultModel string
	cred         credential
	headers      map[string]string
	client       *http.Client
	// retryBase is the first backoff step; it doubles per attempt unless
	// the server sends Retry-After.
	retryBase time.Duration
}

func newChatCompletionsProvider(name, apiBase, defaultModel string, cred credential, headers map[string]string) (*chatCompletionsProvider, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("%s API base not configured", name)
	}
	clean := map[string]string{}
	for k, v := range headers {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			clean[k] = v
		}
	}
	return &chatCompletionsProvider{
		name:         name,
		endpoint:     apiBase + "/chat/completions",
		defaultModel: defaultModel,
		cred:         cred,
		headers:      clean,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		retryBase:    500 * time.Millisecond,
	}, nil
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   json.RawMessage `json:"content"`
			ToolCalls []ToolCall      `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *UsageInfo `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (p *chatCompletionsProvider) GetDefaultModel() string { return p.defaultModel }

func (p *chatCompletionsProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if model = strings.TrimSpace(model); model == "" {
		model = p.defaultModel
	}
	req := chatRequest{Model: model, Messages: messages}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	if v, ok := numberOption(options, "max_tokens"); ok {
		n := int(v)
		req.MaxTokens = &n
	}
	if v, ok := numberOption(options, "temperature"); ok {
		req.Temperature = &v
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p.name, err)
	}

	body, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	result, err := parseChatResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", p.name, err)
	}

	fields := map[string]interface{}{
		"provider":   p.name,
		"model":      model,
		"tool_calls": len(result.ToolCalls),
		"finish":     result.FinishReason,
	}
	if result.Usage != nil {
		fields["total_tokens"] = result.Usage.TotalTokens
	}
	logger.DebugCF("provider", "Chat completion received", fields)
	return result, nil
}

// post sends payload, retrying rate limits and gateway errors.
func (p *chatCompletionsProvider) post(ctx context.Context, payload []byte) ([]byte, error) {
	key, err := p.cred.Key()
	if err != nil {
		return nil, fmt.Errorf("%s credentials: %w", p.name, err)
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, retryAfter, err := p.send(ctx, key, payload)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("send %s request: %w", p.name, err)
			}
			lastErr = fmt.Errorf("send %s request: %w", p.name, err)
		} else {
			msg := augmentProviderError(p.name, extractAPIError(body))
			lastErr = fmt.Errorf("%s API request failed: status=%d error=%s", p.name, status, msg)
			if !retryable(status) {
				return nil, lastErr
			}
		}
		if attempt == maxAttempts {
			break
		}

		wait := p.backoff(attempt, retryAfter)
		logger.WarnCF("provider", "Retrying chat completion", map[string]interface{}{
			"provider": p.name,
			"attempt":  attempt,
			"wait_ms":  wait.Milliseconds(),
			"error":    lastErr.Error(),
		})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (p *chatCompletionsProvider) send(ctx context.Context, key string, payload []byte) ([]byte, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (p *chatCompletionsProvider) backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		if d := time.Duration(secs) * time.Second; d <= 30*time.Second {
			return d
		}
		return 30 * time.Second
	}
	return p.retryBase << (attempt - 1)
}

// numberOption reads a numeric option whatever its concrete type.
func numberOption(opts map[string]interface{}, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func parseChatResponse(body []byte) (*LLMResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &LLMResponse{FinishReason: "stop", Usage: resp.Usage}, nil
	}

	choice := resp.Choices[0]
	calls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function == nil {
			continue
		}
		args := map[string]interface{}{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args["raw"] = raw
			}
		}
		tc.Name = tc.Function.Name
		tc.Arguments = args
		calls = append(calls, tc)
	}
	return &LLMResponse{
		Content:      messageText(choice.Message.Content),
		ToolCalls:    calls,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	}, nil
}

// messageText accepts content as a string or as an array of text parts.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		} else {
			b.WriteString(part.Content)
		}
	}
	return b.String()
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}
	var payload apiError
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	if len(trimmed) > maxErrorBody {
		return trimmed[:maxErrorBody] + "..."
	}
	return trimmed
}
