package tools

import (
	"context"
	"fmt"

	"github.com/loqui-labs/loqui/internal/llm"
)

// ImageDescription runs the vision model over the images already in
// the conversation.
type ImageDescription struct {
	describer ImageDescriber
}

func (t *ImageDescription) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "imagedescription",
		Description: "Describe the content of the images in the conversation.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *ImageDescription) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	description, err := t.describer.DescribeImages(ctx, call.History, call.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("describe images: %w", err)
	}
	return TextOutcome(description), nil
}
