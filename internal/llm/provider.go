// Package llm provides chat model provider interfaces and
// implementations for loqui's response generation.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role identifies the author of a conversation block.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the closed set of part variants.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolResult PartType = "tool_result"
)

// Part is one typed segment of a block. Only the fields for its Type
// are set; the others stay zero.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   string      `json:"image_url,omitempty"` // base64 data URL
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Block is a single chat message: a role plus ordered typed parts.
// Assistant blocks that requested tool executions also carry the
// provider's tool calls so they can be echoed back into history.
type Block struct {
	Role      Role       `json:"role"`
	Parts     []Part     `json:"parts"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// TextBlock builds a block holding a single text part.
func TextBlock(role Role, text string) Block {
	return Block{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

// Text joins the block's text parts.
func (b Block) Text() string {
	var sb strings.Builder
	for _, p := range b.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// HasNonText reports whether the block carries image or tool result parts.
func (b Block) HasNonText() bool {
	for _, p := range b.Parts {
		if p.Type != PartText {
			return true
		}
	}
	return false
}

// ChatRequest holds parameters for a chat completion.
type ChatRequest struct {
	Model            string
	Blocks           []Block
	Tools            []ToolDefinition
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	MaxTokens        int
	User             string
}

// ChatResponse holds a provider's reply to a chat completion.
type ChatResponse struct {
	Text             string
	ToolCalls        []ToolCall
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns the combined prompt and completion token count.
func (r *ChatResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider is the interface for chat completion providers.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// SpeechSynthesizer renders text to spoken audio.
type SpeechSynthesizer interface {
	Speech(ctx context.Context, text string) ([]byte, error)
}

// ImageGenerator produces images from a text prompt. Orientation is
// "square", "landscape" or "portrait".
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, orientation string) ([][]byte, error)
}

// ProviderError represents an LLM provider error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
	Code       string // provider-assigned error code, e.g. "context_length_exceeded"
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

// IsContextLength reports whether err is a provider rejection for a
// prompt that exceeded the model's context window.
func IsContextLength(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case "context_length_exceeded", "max_tokens":
		return true
	}
	return false
}
