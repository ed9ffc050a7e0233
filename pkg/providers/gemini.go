package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

const defaultGeminiModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// geminiProvider maps chat-completions style messages and tools onto the
// Gemini API.
type geminiProvider struct {
	models       contentGenerator
	defaultModel string
}

func newGeminiProvider(_ *config.Config, cred credential) (LLMProvider, error) {
	key, err := cred.Key()
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiProvider{models: client.Models, defaultModel: defaultGeminiModel}, nil
}

func (p *geminiProvider) GetDefaultModel() string { return p.defaultModel }

func (p *geminiProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if model = strings.TrimSpace(model); model == "" {
		model = p.defaultModel
	}
	contents, cfg := toGeminiRequest(messages, tools, options)
	resp, err := p.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	result := fromGeminiResponse(resp)

	fields := map[string]interface{}{
		"provider":   ProviderGemini,
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

func toGeminiRequest(messages []Message, tools []ToolDefinition, options map[string]interface{}) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if v, ok := numberOption(options, "temperature"); ok {
		t := float32(v)
		cfg.Temperature = &t
	}
	if v, ok := numberOption(options, "max_tokens"); ok {
		cfg.MaxOutputTokens = int32(v)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJsonSchema: t.Function.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var (
		system   []string
		contents []*genai.Content
		// Tool results refer to calls by id; Gemini wants the function name.
		callNames = map[string]string{}
		pending   []*genai.Part
	)
	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, genai.NewContentFromParts(pending, genai.RoleUser))
			pending = nil
		}
	}

	for _, m := range messages {
		if m.Role != "tool" {
			flush()
		}
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				name, args := callNameArgs(tc)
				callNames[tc.ID] = name
				part := genai.NewPartFromFunctionCall(name, args)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case "tool":
			part := genai.NewPartFromFunctionResponse(callNames[m.ToolCallID], map[string]any{"output": m.Content})
			part.FunctionResponse.ID = m.ToolCallID
			pending = append(pending, part)
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	flush()

	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}

func callNameArgs(tc ToolCall) (string, map[string]any) {
	name, args := tc.Name, tc.Arguments
	if tc.Function != nil {
		if name == "" {
			name = tc.Function.Name
		}
		if args == nil && strings.TrimSpace(tc.Function.Arguments) != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return name, args
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *LLMResponse {
	out := &LLMResponse{FinishReason: "stop"}
	if resp == nil {
		return out
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &UsageInfo{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("gemini-call-%d", len(out.ToolCalls)+1)
			}
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			raw, _ := json.Marshal(args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        id,
				Type:      "function",
				Function:  &FunctionCall{Name: fc.Name, Arguments: string(raw)},
				Name:      fc.Name,
				Arguments: args,
			})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = text.String()
	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = "tool_calls"
	case cand.FinishReason != "":
		out.FinishReason = strings.ToLower(string(cand.FinishReason))
	}
	return out
}
