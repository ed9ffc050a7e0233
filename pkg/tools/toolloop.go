package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

// ToolLoopConfig configures the tool execution loop.
type ToolLoopConfig struct {
	Provider      providers.LLMProvider
	Model         string
	Tools         *ToolRegistry
	MaxIterations int
	LLMOptions    map[string]interface{}
}

// StopReason says why the loop ended.
type StopReason int

const (
	// StopAnswered means the model produced text with no tool call.
	StopAnswered StopReason = iota
	// StopRepeated means the same tool calls came back three times.
	StopRepeated
	// StopExhausted means MaxIterations rounds all asked for tools.
	StopExhausted
)

func (r StopReason) String() string {
	switch r {
	case StopAnswered:
		return "answered"
	case StopRepeated:
		return "repeated"
	case StopExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ToolLoopResult contains the result of running the tool loop.
type ToolLoopResult struct {
	Content    string
	Iterations int
	Stop       StopReason
	// Trace is the assistant tool-call and tool-result messages produced
	// along the way, in order.
	Trace []providers.Message
}

const repeatedCallLimit = 3

// RunToolLoop calls the model, executes any requested tools, feeds the
// results back, and repeats until the model answers in plain text. Only
// tools in config.Tools are offered or executed.
func RunToolLoop(ctx context.Context, config ToolLoopConfig, messages []providers.Message) (*ToolLoopResult, error) {
	result := &ToolLoopResult{}
	signatures := map[string]int{}

	var toolDefs []providers.ToolDefinition
	if config.Tools != nil {
		toolDefs = config.Tools.ToProviderDefs()
	}
	llmOpts := config.LLMOptions
	if llmOpts == nil {
		llmOpts = map[string]interface{}{
			"max_tokens":  1024,
			"temperature": 0.7,
		}
	}

	for result.Iterations < config.MaxIterations {
		result.Iterations++

		logger.DebugCF("toolloop", "LLM iteration",
			map[string]interface{}{
				"iteration": result.Iterations,
				"max":       config.MaxIterations,
			})

		response, err := config.Provider.Chat(ctx, messages, toolDefs, config.Model, llmOpts)
		if err != nil {
			logger.ErrorCF("toolloop", "LLM call failed",
				map[string]interface{}{
					"iteration": result.Iterations,
					"error":     err.Error(),
				})
			return result, fmt.Errorf("LLM call failed: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			result.Content = response.Content
			result.Stop = StopAnswered
			logger.DebugCF("toolloop", "LLM answered without tool calls",
				map[string]interface{}{
					"iteration":     result.Iterations,
					"content_chars": len(response.Content),
				})
			return result, nil
		}

		if sig := toolCallSignature(response.ToolCalls); sig != "" {
			signatures[sig]++
			if signatures[sig] >= repeatedCallLimit {
				logger.WarnCF("toolloop", "Tool-call loop detected; tripping circuit breaker",
					map[string]interface{}{
						"signature": utils.Truncate(sig, 200),
						"iteration": result.Iterations,
					})
				result.Stop = StopRepeated
				return result, nil
			}
		}

		toolNames := make([]string, 0, len(response.ToolCalls))
		assistantMsg := providers.Message{
			Role:    "assistant",
			Content: response.Content,
		}
		for _, tc := range response.ToolCalls {
			toolNames = append(toolNames, tc.Name)
			argumentsJSON, _ := json.Marshal(tc.Arguments)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: &providers.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argumentsJSON),
				},
			})
		}
		logger.InfoCF("toolloop", "LLM requested tool calls",
			map[string]interface{}{
				"tools":     toolNames,
				"iteration": result.Iterations,
			})
		messages = append(messages, assistantMsg)
		result.Trace = append(result.Trace, assistantMsg)

		for _, tc := range response.ToolCalls {
			var toolResult *ToolResult
			if config.Tools != nil {
				toolResult = config.Tools.Execute(ctx, tc.Name, tc.Arguments)
			} else {
				toolResult = ErrorResult("사용할 수 있는 도구가 없습니다.")
			}

			content := toolResult.ForLLM
			if content == "" && toolResult.Err != nil {
				content = toolResult.Err.Error()
			}
			toolMsg := providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			result.Trace = append(result.Trace, toolMsg)
		}
	}

	result.Stop = StopExhausted
	return result, nil
}

func toolCallSignature(calls []providers.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	parts := make([]string, 0, len(calls))
	for _, tc := range calls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		parts = append(parts, strings.TrimSpace(tc.Name)+":"+string(argsJSON))
	}
	return strings.Join(parts, "|")
}
