// Package bot wires the Matrix transport, the LLM providers, the tool
// registry and the settings store into the running chat bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loqui-labs/loqui/internal/channel/matrix"
	"github.com/loqui-labs/loqui/internal/llm"
	"github.com/loqui-labs/loqui/internal/respond"
	"github.com/loqui-labs/loqui/internal/store"
	"github.com/loqui-labs/loqui/internal/tools"
	"github.com/loqui-labs/loqui/pkg/channel"
)

// Bot is the assembled chat bot.
type Bot struct {
	cfg       *Config
	transport channel.Transport
	store     *store.Store
	provider  llm.Provider
	orch      *respond.Orchestrator
	assembler *respond.Assembler

	// Side channels, nil when the configuration cannot support them.
	speech llm.SpeechSynthesizer
	images llm.ImageGenerator

	userID       string // full Matrix user ID
	defaultModel string
}

// New builds a bot from configuration, opening the settings store and
// constructing the providers.
func New(cfg *Config) (*Bot, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	mx := matrix.New(matrix.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Name,
		Password:     cfg.Matrix.Password,
		ServerName:   cfg.Matrix.ServerName,
		AllowedUsers: cfg.Matrix.AllowedUsers,
		DataDir:      cfg.Matrix.DataDir,
	})

	openaiEnabled := cfg.LLM.OpenAI.APIKey != ""
	openaiProvider := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:             cfg.LLM.OpenAI.APIKey,
		BaseURL:            cfg.LLM.OpenAI.BaseURL,
		ChatModel:          cfg.LLM.OpenAI.ChatModel,
		TranscriptionModel: cfg.LLM.OpenAI.TranscriptionModel,
		TTSModel:           cfg.LLM.OpenAI.TTSModel,
		TTSVoice:           cfg.LLM.OpenAI.TTSVoice,
		ImageModel:         cfg.LLM.OpenAI.ImageModel,
	})

	var provider llm.Provider
	switch cfg.LLM.Provider {
	case "openai":
		if !openaiEnabled {
			st.Close()
			return nil, errors.New("openai provider selected but no api key configured")
		}
		provider = openaiProvider
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" {
			st.Close()
			return nil, errors.New("anthropic provider selected but no api key configured")
		}
		if cfg.LLM.Anthropic.BaseURL != "" {
			provider = llm.NewAnthropicCompat("anthropic", cfg.LLM.Anthropic.BaseURL, cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model)
		} else {
			provider = llm.NewAnthropic(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model)
		}
	default:
		st.Close()
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	b := &Bot{
		cfg:       cfg,
		transport: mx,
		store:     st,
		provider:  provider,
		userID:    mx.UserID(),
	}

	if dm, ok := provider.(interface{ DefaultModel() string }); ok {
		b.defaultModel = dm.DefaultModel()
	}

	// Transcription, speech and image generation ride on the OpenAI API
	// regardless of the chat provider.
	var stt llm.Transcriber
	if openaiEnabled {
		if cfg.Bot.SpeechToText {
			stt = openaiProvider
		}
		b.speech = openaiProvider
		b.images = openaiProvider
	}

	b.assembler = respond.NewAssembler(mx, stt, respond.AssemblerConfig{
		BotUserID:       b.userID,
		VisionSupported: cfg.Bot.Vision,
	})

	deps := tools.Deps{
		UserAgent:     cfg.Tools.UserAgent,
		WeatherAPIKey: cfg.Tools.WeatherAPIKey,
		Rooms:         b,
	}
	if cfg.Bot.Vision {
		deps.Describer = b
	}
	registry := tools.NewRegistry(deps)

	b.orch = respond.NewOrchestrator(provider, registry, respond.Config{
		DefaultModel:     b.defaultModel,
		ToolModel:        cfg.Bot.ToolModel,
		ForceTools:       cfg.Bot.ForceTools,
		EmulateTools:     cfg.Bot.EmulateTools,
		Temperature:      cfg.Bot.Temperature,
		TopP:             cfg.Bot.TopP,
		FrequencyPenalty: cfg.Bot.FrequencyPenalty,
		PresencePenalty:  cfg.Bot.PresencePenalty,
		MaxTokens:        cfg.Bot.MaxTokens,
	})

	return b, nil
}

// Run connects the transport and processes messages until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	defer b.store.Close()
	defer b.transport.Stop()

	slog.Info("bot starting", "name", b.cfg.Name, "user", b.userID, "provider", b.provider.Name())
	return b.transport.Start(ctx, b.onMessage)
}

func (b *Bot) prefix() string {
	return "!" + b.cfg.Name
}

// onMessage routes one incoming message: commands to the command
// router, everything else through the response pipeline.
func (b *Bot) onMessage(ctx context.Context, msg channel.Message) {
	if msg.SenderID == b.userID {
		return
	}
	if msg.Kind == channel.KindNotice {
		return
	}

	if msg.Kind == channel.KindText && strings.HasPrefix(msg.Body, b.prefix()) {
		go b.handleCommand(ctx, msg)
		return
	}

	alwaysReply, err := b.store.BoolRoomSetting(ctx, msg.RoomID, "always_reply", true)
	if err != nil {
		slog.Warn("reading always_reply setting failed", "room", msg.RoomID, "error", err)
	}
	if !alwaysReply && !b.mentioned(msg.Body) {
		return
	}

	go b.processQuery(ctx, msg)
}

func (b *Bot) mentioned(body string) bool {
	return strings.Contains(strings.ToLower(body), strings.ToLower(b.cfg.Name))
}

// processQuery runs the full response pipeline for one trigger message.
func (b *Bot) processQuery(ctx context.Context, trigger channel.Message) {
	roomID := trigger.RoomID

	b.transport.Typing(ctx, roomID, true)
	defer b.transport.Typing(ctx, roomID, false)
	if err := b.transport.MarkRead(ctx, roomID, trigger.EventID); err != nil {
		slog.Warn("mark read failed", "room", roomID, "error", err)
	}

	systemMessage, _ := b.store.GetRoomSetting(ctx, roomID, "system_message")
	if systemMessage == "" {
		systemMessage = b.cfg.Bot.SystemMessage
	}
	model, _ := b.store.GetRoomSetting(ctx, roomID, "model")
	stt, _ := b.store.BoolRoomSetting(ctx, roomID, "stt", b.cfg.Bot.SpeechToText)
	tts, _ := b.store.BoolRoomSetting(ctx, roomID, "tts", false)
	debug, _ := b.store.BoolRoomSetting(ctx, roomID, "debug", false)

	history, err := b.transport.RecentMessages(ctx, roomID, b.cfg.Bot.MaxMessages)
	if err != nil {
		slog.Warn("fetching room history failed, answering without context", "room", roomID, "error", err)
		history = nil
	}
	history = b.withoutIgnored(ctx, roomID, history)

	blocks := b.assembler.Assemble(ctx, history, trigger, systemMessage, stt)
	blocks = respond.Truncate(blocks, b.cfg.Bot.MaxTokens, b.modelFor(model))
	if blocks == nil {
		slog.Error("system message alone exceeds the token budget", "room", roomID)
		b.sendFailure(ctx, roomID, debug, errors.New("the system message exceeds the token budget"))
		return
	}

	answer, tokens, err := b.orch.Respond(ctx, blocks, trigger.SenderID, roomID, model)
	if tokens > 0 {
		if lerr := b.store.LogUsage(ctx, trigger.EventID, roomID, "chat", tokens); lerr != nil {
			slog.Warn("logging token usage failed", "room", roomID, "error", lerr)
		}
	}
	if err != nil || answer == "" {
		slog.Error("response generation failed", "room", roomID, "error", err)
		b.sendFailure(ctx, roomID, debug, err)
		return
	}

	b.deliver(ctx, roomID, answer, tts)
}

// deliver sends the answer, rendered to speech when the room asks for
// it and speech synthesis is available.
func (b *Bot) deliver(ctx context.Context, roomID, answer string, tts bool) {
	if tts && b.speech != nil {
		audio, err := b.speech.Speech(ctx, answer)
		if err == nil {
			name := b.cfg.Name + ".mp3"
			if err := b.transport.SendFile(ctx, roomID, audio, name, "audio/mpeg", "m.audio"); err == nil {
				return
			}
			slog.Warn("sending speech audio failed, falling back to text", "room", roomID)
		} else {
			slog.Warn("speech synthesis failed, falling back to text", "room", roomID, "error", err)
		}
	}
	if err := b.transport.SendText(ctx, roomID, answer, false); err != nil {
		slog.Error("sending answer failed", "room", roomID, "error", err)
	}
}

// sendFailure reports a terminal failure to the room. With the debug
// setting enabled, a truncated diagnostic follows the generic notice.
func (b *Bot) sendFailure(ctx context.Context, roomID string, debug bool, cause error) {
	if err := b.transport.SendText(ctx, roomID, "Something went wrong. Please try again.", true); err != nil {
		slog.Error("sending failure notice failed", "room", roomID, "error", err)
		return
	}
	if debug && cause != nil {
		detail := cause.Error()
		if len(detail) > 500 {
			detail = detail[:500] + "..."
		}
		b.transport.SendText(ctx, roomID, "Error: "+detail, true)
	}
}

// withoutIgnored drops history older than the room's ignore barrier.
func (b *Bot) withoutIgnored(ctx context.Context, roomID string, history []channel.Message) []channel.Message {
	value, err := b.store.GetRoomSetting(ctx, roomID, "ignore_older")
	if err != nil || value == "" {
		return history
	}
	barrier, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return history
	}
	kept := history[:0]
	for _, msg := range history {
		if msg.Timestamp >= barrier {
			kept = append(kept, msg)
		}
	}
	return kept
}

func (b *Bot) modelFor(model string) string {
	if model == "" {
		return b.defaultModel
	}
	return model
}

// DescribeImages runs the chat model over the images of the in-flight
// conversation and returns a textual description.
func (b *Bot) DescribeImages(ctx context.Context, history []llm.Block, user string) (string, error) {
	images := llm.Block{Role: llm.RoleUser}
	for _, block := range history {
		for _, part := range block.Parts {
			if part.Type == llm.PartImage {
				images.Parts = append(images.Parts, part)
			}
		}
	}
	if len(images.Parts) == 0 {
		return "", errors.New("no images in the conversation")
	}

	req := llm.ChatRequest{
		Model: b.defaultModel,
		Blocks: []llm.Block{
			llm.TextBlock(llm.RoleSystem, "You are an image description service. Describe the images in the conversation in detail, so they can be used in a text-based conversation."),
			images,
		},
		MaxTokens: b.cfg.Bot.MaxTokens,
		User:      user,
	}
	resp, err := b.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("describe images: %w", err)
	}
	return resp.Text, nil
}

// CreateRoomForUser creates a new room and invites the given user.
func (b *Bot) CreateRoomForUser(ctx context.Context, name, userID string) (string, error) {
	return b.transport.CreateRoom(ctx, name, []string{userID})
}
