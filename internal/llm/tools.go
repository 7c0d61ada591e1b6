package llm

import (
	"encoding/json"
	"fmt"
)

// ToolDefinition describes a tool the model can call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall represents the model requesting a tool execution.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Args decodes the call's input into a string-keyed map.
func (c ToolCall) Args() (map[string]any, error) {
	if len(c.Input) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(c.Input, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments for %s: %w", c.Name, err)
	}
	return args, nil
}

// ToolResult is the result of executing a tool, correlated to the
// originating call by ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}
