package tools

// ToolResult is what a tool hands back to the loop. ForLLM becomes the tool
// message content.
type ToolResult struct {
	ForLLM  string
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}
