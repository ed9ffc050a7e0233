package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

// ToolRegistry is the fixed set of tools one dialogue mode may use. It is
// built once and never mutated, so it is safe to share across turns.
type ToolRegistry struct {
	byName map[string]Tool
	names  []string
}

// NewToolRegistry indexes tools by name. A later tool with the same name
// replaces an earlier one.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.byName[t.Name()]; !dup {
			r.names = append(r.names, t.Name())
		}
		r.byName[t.Name()] = t
	}
	sort.Strings(r.names)
	return r
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Execute runs a registered tool. A name outside the registry is an error
// result, so a mode can never reach another mode's tools.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		logger.WarnCF("tool", "Model asked for a tool outside this mode", map[string]interface{}{
			"tool":      name,
			"available": r.names,
		})
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	fields := map[string]interface{}{
		"tool":        name,
		"args":        logArgs(args),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case result == nil:
		err := fmt.Errorf("tool %q returned nil result", name)
		fields["error"] = err.Error()
		logger.ErrorCF("tool", "Tool returned nothing", fields)
		return ErrorResult(err.Error()).WithError(err)
	case result.IsError:
		if result.Err != nil {
			fields["error"] = result.Err.Error()
		}
		logger.WarnCF("tool", "Tool degraded", fields)
	default:
		fields["result_chars"] = len(result.ForLLM)
		logger.InfoCF("tool", "Tool done", fields)
	}
	return result
}

// ToProviderDefs returns the tools in the shape the completion API expects,
// sorted by name so prompts are stable across runs.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		t := r.byName[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// List returns the tool names, sorted.
func (r *ToolRegistry) List() []string { return append([]string(nil), r.names...) }

func (r *ToolRegistry) Count() int { return len(r.names) }

// GetSummaries returns "- `name` - description" lines for the system prompt.
func (r *ToolRegistry) GetSummaries() []string {
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, fmt.Sprintf("- `%s` - %s", name, r.byName[name].Description()))
	}
	return out
}

const logArgRunes = 200

// logArgs copies args with long strings cut, for logging only.
func logArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = logValue(v, 0)
	}
	return out
}

func logValue(v interface{}, depth int) interface{} {
	if depth > 4 {
		return "<omitted>"
	}
	switch typed := v.(type) {
	case string:
		return utils.Truncate(typed, logArgRunes)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = logValue(item, depth+1)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, item := range typed {
			out[k] = logValue(item, depth+1)
		}
		return out
	}
	return v
}
