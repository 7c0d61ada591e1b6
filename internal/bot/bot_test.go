package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqui-labs/loqui/internal/llm"
	"github.com/loqui-labs/loqui/internal/respond"
	"github.com/loqui-labs/loqui/internal/store"
	"github.com/loqui-labs/loqui/internal/tools"
	"github.com/loqui-labs/loqui/pkg/channel"
)

type sentText struct {
	roomID string
	text   string
	notice bool
}

type fakeTransport struct {
	history []channel.Message
	texts   []sentText
	files   int
	images  int
}

func (f *fakeTransport) Start(ctx context.Context, handler channel.Handler) error { return nil }

func (f *fakeTransport) SendText(ctx context.Context, roomID, text string, notice bool) error {
	f.texts = append(f.texts, sentText{roomID, text, notice})
	return nil
}

func (f *fakeTransport) SendImage(ctx context.Context, roomID string, image []byte, caption string) error {
	f.images++
	return nil
}

func (f *fakeTransport) SendFile(ctx context.Context, roomID string, file []byte, name, mime, msgtype string) error {
	f.files++
	return nil
}

func (f *fakeTransport) RecentMessages(ctx context.Context, roomID string, limit int) ([]channel.Message, error) {
	return f.history, nil
}

func (f *fakeTransport) Download(ctx context.Context, uri string) ([]byte, string, error) {
	return nil, "", errors.New("no media in tests")
}

func (f *fakeTransport) Typing(ctx context.Context, roomID string, typing bool) error { return nil }

func (f *fakeTransport) MarkRead(ctx context.Context, roomID, eventID string) error { return nil }

func (f *fakeTransport) CreateRoom(ctx context.Context, name string, invite []string) (string, error) {
	return "!new:example.com", nil
}

func (f *fakeTransport) Stop() error { return nil }

func (f *fakeTransport) lastText(t *testing.T) sentText {
	t.Helper()
	if len(f.texts) == 0 {
		t.Fatal("no message sent")
	}
	return f.texts[len(f.texts)-1]
}

type fixedProvider struct {
	text     string
	err      error
	requests []llm.ChatRequest
}

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Text: p.text, PromptTokens: 5, CompletionTokens: 2}, nil
}

func newTestBot(t *testing.T, provider llm.Provider) (*Bot, *fakeTransport) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tr := &fakeTransport{}
	cfg := &Config{
		Name: "loqui",
		Bot: BotConfig{
			SystemMessage: "You are helpful.",
			MaxTokens:     3000,
			MaxMessages:   20,
		},
	}

	b := &Bot{
		cfg:          cfg,
		transport:    tr,
		store:        st,
		provider:     provider,
		userID:       "@loqui:example.com",
		defaultModel: "gpt-4o",
	}
	b.assembler = respond.NewAssembler(tr, nil, respond.AssemblerConfig{BotUserID: b.userID})
	b.orch = respond.NewOrchestrator(provider, tools.NewRegistry(tools.Deps{}), respond.Config{
		DefaultModel:  "gpt-4o",
		RetryAttempts: 1,
		RetryInterval: time.Millisecond,
		MaxTokens:     3000,
	})
	return b, tr
}

func trigger(body string) channel.Message {
	return channel.Message{
		Kind:      channel.KindText,
		SenderID:  "@alice:example.com",
		RoomID:    "!room:example.com",
		EventID:   "$trigger",
		Body:      body,
		Timestamp: 1000,
	}
}

func TestProcessQuerySendsAnswer(t *testing.T) {
	provider := &fixedProvider{text: "hi there"}
	b, tr := newTestBot(t, provider)

	b.processQuery(context.Background(), trigger("hello"))

	sent := tr.lastText(t)
	if sent.text != "hi there" || sent.notice {
		t.Errorf("sent = %+v, want plain text answer", sent)
	}

	usage, err := b.store.RoomUsage(context.Background(), "!room:example.com")
	if err != nil {
		t.Fatalf("room usage: %v", err)
	}
	if usage["chat"] != 7 {
		t.Errorf("logged tokens = %d, want 7", usage["chat"])
	}
}

func TestProcessQueryFailureSendsNotice(t *testing.T) {
	provider := &fixedProvider{err: errors.New("backend on fire")}
	b, tr := newTestBot(t, provider)

	ctx := context.Background()
	if err := b.store.SetRoomSetting(ctx, "!room:example.com", "debug", "1"); err != nil {
		t.Fatalf("set debug: %v", err)
	}

	b.processQuery(ctx, trigger("hello"))

	if len(tr.texts) != 2 {
		t.Fatalf("got %d messages, want generic notice plus debug detail", len(tr.texts))
	}
	if !tr.texts[0].notice || tr.texts[0].text != "Something went wrong. Please try again." {
		t.Errorf("first message = %+v", tr.texts[0])
	}
	if !strings.Contains(tr.texts[1].text, "backend on fire") {
		t.Errorf("debug detail = %q", tr.texts[1].text)
	}
}

func TestProcessQueryUsesRoomSystemMessage(t *testing.T) {
	provider := &fixedProvider{text: "ok"}
	b, _ := newTestBot(t, provider)

	ctx := context.Background()
	if err := b.store.SetRoomSetting(ctx, "!room:example.com", "system_message", "You are a pirate."); err != nil {
		t.Fatalf("set system message: %v", err)
	}

	b.processQuery(ctx, trigger("hello"))

	if len(provider.requests) == 0 {
		t.Fatal("provider not called")
	}
	first := provider.requests[0].Blocks[0]
	if first.Role != llm.RoleSystem || first.Text() != "You are a pirate." {
		t.Errorf("system block = %+v", first)
	}
}

func TestHandleCommandChat(t *testing.T) {
	provider := &fixedProvider{text: "the answer"}
	b, tr := newTestBot(t, provider)

	b.handleCommand(context.Background(), trigger("!loqui chat what is up"))

	last := provider.requests[len(provider.requests)-1]
	final := last.Blocks[len(last.Blocks)-1]
	if final.Text() != "what is up" {
		t.Errorf("trigger text = %q, want command remainder", final.Text())
	}
	if tr.lastText(t).text != "the answer" {
		t.Errorf("answer = %q", tr.lastText(t).text)
	}
}

func TestHandleCommandRoomSettings(t *testing.T) {
	b, tr := newTestBot(t, &fixedProvider{})
	ctx := context.Background()

	b.handleCommand(ctx, trigger("!loqui roomsettings tts on"))
	enabled, err := b.store.BoolRoomSetting(ctx, "!room:example.com", "tts", false)
	if err != nil || !enabled {
		t.Errorf("tts setting = %v, %v, want true", enabled, err)
	}

	b.handleCommand(ctx, trigger("!loqui roomsettings nonsense on"))
	if !strings.Contains(tr.lastText(t).text, "Unknown setting") {
		t.Errorf("unknown setting reply = %q", tr.lastText(t).text)
	}
}

func TestHandleCommandUnknown(t *testing.T) {
	b, tr := newTestBot(t, &fixedProvider{})

	b.handleCommand(context.Background(), trigger("!loqui frobnicate"))
	if !strings.Contains(tr.lastText(t).text, "Unknown command") {
		t.Errorf("reply = %q", tr.lastText(t).text)
	}
}

func TestWithoutIgnoredFiltersHistory(t *testing.T) {
	b, _ := newTestBot(t, &fixedProvider{})
	ctx := context.Background()

	if err := b.store.SetRoomSetting(ctx, "!room:example.com", "ignore_older", "100"); err != nil {
		t.Fatalf("set barrier: %v", err)
	}

	history := []channel.Message{
		{EventID: "$old", Timestamp: 50},
		{EventID: "$new", Timestamp: 150},
	}
	kept := b.withoutIgnored(ctx, "!room:example.com", history)
	if len(kept) != 1 || kept[0].EventID != "$new" {
		t.Errorf("kept = %+v, want only the newer message", kept)
	}
}

func TestCommandIgnoreOlder(t *testing.T) {
	b, tr := newTestBot(t, &fixedProvider{})
	ctx := context.Background()

	b.handleCommand(ctx, trigger("!loqui ignoreolder"))
	value, err := b.store.GetRoomSetting(ctx, "!room:example.com", "ignore_older")
	if err != nil || value != "1000" {
		t.Errorf("barrier = %q, %v, want trigger timestamp", value, err)
	}
	if !tr.lastText(t).notice {
		t.Error("confirmation should be a notice")
	}
}
