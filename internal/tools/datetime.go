package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/loqui-labs/loqui/internal/llm"
)

// Datetime reports the current date and time.
type Datetime struct{}

func (t *Datetime) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "datetime",
		Description: "Get the current date and time.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *Datetime) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	return TextOutcome(fmt.Sprintf(`**Current date and time (UTC)**
%s`, time.Now().UTC().Format("2006-01-02 15:04:05"))), nil
}
