package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements the Provider interface for Claude and
// Anthropic-compatible APIs. It is chat-only; speech and image side
// channels stay on the OpenAI provider.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	name   string
}

// NewAnthropic creates an Anthropic provider with a static API key.
func NewAnthropic(apiKey, model string) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)

	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicProvider{
		client: &client,
		model:  model,
	}
}

// NewAnthropicCompat creates a provider for Anthropic-format APIs at a
// custom base URL.
func NewAnthropicCompat(name, baseURL, apiKey, model string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		client: &client,
		model:  model,
		name:   name,
	}
}

func (p *AnthropicProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return "anthropic"
}

// DefaultModel returns the configured chat model.
func (p *AnthropicProvider) DefaultModel() string { return p.model }

func (p *AnthropicProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, b := range req.Blocks {
		switch b.Role {
		case RoleSystem:
			if text := b.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case RoleUser:
			blocks := contentBlocks(b)
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := contentBlocks(b)
			for _, tc := range b.ToolCalls {
				var input any
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						input = map[string]any{}
					}
				} else {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Anthropic carries tool results in user messages.
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range b.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(
					part.ToolResult.ToolCallID, part.ToolResult.Content, part.ToolResult.IsError))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: t.InputSchema["properties"],
		}
		if required, ok := t.InputSchema["required"].([]string); ok {
			schema.Required = required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	// Streaming keeps the connection alive on large context requests;
	// chunks are accumulated into the final message.
	stream := p.client.Messages.NewStreaming(ctx, params,
		option.WithRequestTimeout(10*time.Minute),
	)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, &ProviderError{
				Message:  fmt.Sprintf("stream accumulate: %v", err),
				Provider: p.Name(),
			}
		}
	}
	if err := stream.Err(); err != nil {
		pe := &ProviderError{
			Message:  err.Error(),
			Provider: p.Name(),
		}
		if strings.Contains(err.Error(), "prompt is too long") {
			pe.Code = "context_length_exceeded"
		}
		return nil, pe
	}

	var text string
	var toolCalls []ToolCall
	for _, block := range message.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += v.Text
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(v.Input)
			toolCalls = append(toolCalls, ToolCall{
				ID:    v.ID,
				Name:  v.Name,
				Input: input,
			})
		}
	}

	return &ChatResponse{
		Text:             text,
		ToolCalls:        toolCalls,
		Model:            string(message.Model),
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}, nil
}

// contentBlocks converts text and image parts to Anthropic content blocks.
func contentBlocks(b Block) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range b.Parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartImage:
			mediaType, data, ok := splitDataURL(part.ImageURL)
			if !ok {
				continue
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		}
	}
	return blocks
}

// splitDataURL extracts the media type and base64 payload from a
// "data:<mime>;base64,<data>" URL.
func splitDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	mediaType, data, found = strings.Cut(rest, ";base64,")
	if !found || mediaType == "" || data == "" {
		return "", "", false
	}
	return mediaType, data, true
}
