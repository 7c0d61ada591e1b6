package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds credentials and model names for the OpenAI provider.
type OpenAIConfig struct {
	APIKey             string `json:"api_key"`
	BaseURL            string `json:"base_url,omitempty"`
	ChatModel          string `json:"chat_model,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty"`
	TTSModel           string `json:"tts_model,omitempty"`
	TTSVoice           string `json:"tts_voice,omitempty"`
	ImageModel         string `json:"image_model,omitempty"`
}

// OpenAIProvider implements Provider plus the speech and image
// side channels on top of the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates an OpenAI provider. An empty BaseURL targets the
// public API; set it for OpenAI-compatible endpoints.
func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4o
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = string(openai.TTSModel1)
	}
	if cfg.TTSVoice == "" {
		cfg.TTSVoice = string(openai.VoiceAlloy)
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// DefaultModel returns the configured chat model.
func (p *OpenAIProvider) DefaultModel() string { return p.cfg.ChatModel }

func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.ChatModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Blocks))
	for _, b := range req.Blocks {
		msgs, err := toOpenAIMessages(b)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:            model,
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		MaxTokens:        req.MaxTokens,
		User:             req.User,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Message: "no choices in completion", Provider: p.Name()}
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Text:             choice.Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}

// toOpenAIMessages converts one conversation block to wire messages.
// A tool block expands to one message per tool result part.
func toOpenAIMessages(b Block) ([]openai.ChatCompletionMessage, error) {
	if b.Role == RoleTool {
		var msgs []openai.ChatCompletionMessage
		for _, part := range b.Parts {
			if part.Type != PartToolResult || part.ToolResult == nil {
				continue
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    part.ToolResult.Content,
				ToolCallID: part.ToolResult.ToolCallID,
			})
		}
		if len(msgs) == 0 {
			return nil, fmt.Errorf("tool block without tool result part")
		}
		return msgs, nil
	}

	msg := openai.ChatCompletionMessage{Role: string(b.Role)}
	for _, tc := range b.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Input),
			},
		})
	}

	if !b.HasNonText() {
		msg.Content = b.Text()
		return []openai.ChatCompletionMessage{msg}, nil
	}

	for _, part := range b.Parts {
		switch part.Type {
		case PartText:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case PartImage:
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return []openai.ChatCompletionMessage{msg}, nil
}

// Transcribe converts recorded speech to text via Whisper.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.ogg"
	}
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", p.wrapError("transcription", err)
	}
	return resp.Text, nil
}

// Speech renders text to spoken audio (mp3 bytes).
func (p *OpenAIProvider) Speech(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.SpeechModel(p.cfg.TTSModel),
		Input: text,
		Voice: openai.SpeechVoice(p.cfg.TTSVoice),
	})
	if err != nil {
		return nil, p.wrapError("speech", err)
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	return audio, nil
}

// GenerateImage produces images for the prompt.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt, orientation string) ([][]byte, error) {
	size := openai.CreateImageSize1024x1024
	switch orientation {
	case "landscape":
		size = openai.CreateImageSize1792x1024
	case "portrait":
		size = openai.CreateImageSize1024x1792
	}
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.cfg.ImageModel,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, p.wrapError("image generation", err)
	}
	var images [][]byte
	for _, d := range resp.Data {
		img, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode generated image: %w", err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (p *OpenAIProvider) wrapError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &ProviderError{
			Message:    fmt.Sprintf("%s: %s", op, apiErr.Message),
			StatusCode: apiErr.HTTPStatusCode,
			Provider:   p.Name(),
			Code:       code,
		}
	}
	return &ProviderError{
		Message:  fmt.Sprintf("%s: %v", op, err),
		Provider: p.Name(),
	}
}
