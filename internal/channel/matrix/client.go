// Package matrix implements the Matrix transport for loqui using
// mautrix-go, running inside the bot process directly.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/loqui-labs/loqui/pkg/channel"
)

// maxEventLen caps the body of a single Matrix message event.
const maxEventLen = 4000

// Config holds Matrix transport configuration.
type Config struct {
	Homeserver   string
	UserID       string // localpart, e.g. "loqui"
	Password     string
	ServerName   string // e.g. "matrix.example.com"
	AllowedUsers []string
	DataDir      string
}

// Client implements channel.Transport for Matrix.
type Client struct {
	config    Config
	client    *mautrix.Client
	handler   channel.Handler
	startTime int64

	credFile string
}

// credentials holds saved Matrix login state.
type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a new Matrix transport.
func New(cfg Config) *Client {
	return &Client{
		config:   cfg,
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
	}
}

// UserID returns the bot's full Matrix user ID.
func (c *Client) UserID() string {
	return fmt.Sprintf("@%s:%s", c.config.UserID, c.config.ServerName)
}

// Start connects to Matrix and begins listening for messages. It blocks
// until ctx is cancelled, reconnecting the sync loop on failure.
func (c *Client) Start(ctx context.Context, handler channel.Handler) error {
	c.handler = handler
	c.startTime = time.Now().UnixMilli()

	os.MkdirAll(c.config.DataDir, 0o755)

	client, err := mautrix.NewClient(c.config.Homeserver, id.UserID(c.UserID()), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	c.client = client

	// In-memory sync store; resyncing on restart is fine.
	client.Store = mautrix.NewMemorySyncStore()

	if err := c.loginWithRetry(ctx); err != nil {
		return err
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.onMessage(ctx, evt)
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		c.onMemberEvent(ctx, evt)
	})

	slog.Info("matrix transport ready, starting sync", "user", c.UserID())

	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// loginWithRetry handles Matrix login with exponential backoff. Saved
// credentials are tried first, then password login.
func (c *Client) loginWithRetry(ctx context.Context) error {
	if err := c.loadCredentials(); err == nil {
		slog.Info("loaded saved matrix credentials", "user", c.UserID())
		return nil
	}

	backoff := 2 * time.Second
	maxBackoff := 2 * time.Minute
	maxAttempts := 10

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("logging into matrix",
			"user", c.UserID(),
			"homeserver", c.config.Homeserver,
			"attempt", attempt,
		)

		resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: c.config.UserID,
			},
			Password:         c.config.Password,
			StoreCredentials: true,
		})

		if err == nil {
			slog.Info("logged into matrix", "user", resp.UserID, "device", resp.DeviceID)
			c.saveCredentials(credentials{
				AccessToken: resp.AccessToken,
				UserID:      string(resp.UserID),
				DeviceID:    string(resp.DeviceID),
			})
			return nil
		}

		errStr := err.Error()
		if strings.Contains(errStr, "M_FORBIDDEN") ||
			strings.Contains(errStr, "M_UNKNOWN_TOKEN") ||
			strings.Contains(errStr, "M_INVALID_PARAM") {
			return fmt.Errorf("matrix login: %w (non-retryable)", err)
		}

		if attempt == maxAttempts {
			return fmt.Errorf("matrix login: %w (after %d attempts)", err, maxAttempts)
		}

		slog.Warn("matrix login failed, retrying",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("matrix login: exhausted retries")
}

// SendText sends a text message, rendering markdown to HTML and
// splitting bodies that exceed the event size limit.
func (c *Client) SendText(ctx context.Context, roomID, text string, notice bool) error {
	chunks := splitMessage(text, maxEventLen)
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunk)
		}
		content := format.RenderMarkdown(chunk, true, false)
		if notice {
			content.MsgType = event.MsgNotice
		}
		_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
		if err != nil {
			slog.Error("matrix send failed", "room", roomID, "chunk", i+1, "error", err)
			return fmt.Errorf("send message: %w", err)
		}
		if i < len(chunks)-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	slog.Info("matrix message sent", "room", roomID, "len", len(text))
	return nil
}

// SendImage uploads image bytes and sends them as an m.image event.
func (c *Client) SendImage(ctx context.Context, roomID string, image []byte, caption string) error {
	mime := http.DetectContentType(image)
	upload, err := c.client.UploadBytes(ctx, image, mime)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	if caption == "" {
		caption = "image" + extensionFor(mime)
	}
	content := event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    caption,
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mime,
			Size:     len(image),
		},
	}
	_, err = c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	return nil
}

// SendFile uploads a file and sends it with the given message type
// ("m.file", "m.audio", ...).
func (c *Client) SendFile(ctx context.Context, roomID string, file []byte, name, mime, msgtype string) error {
	upload, err := c.client.UploadBytes(ctx, file, mime)
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	content := event.MessageEventContent{
		MsgType: event.MessageType(msgtype),
		Body:    name,
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mime,
			Size:     len(file),
		},
	}
	_, err = c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	return nil
}

// RecentMessages fetches up to limit recent messages, oldest first.
func (c *Client) RecentMessages(ctx context.Context, roomID string, limit int) ([]channel.Message, error) {
	resp, err := c.client.Messages(ctx, id.RoomID(roomID), "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch room messages: %w", err)
	}

	var out []channel.Message
	// The chunk arrives newest first.
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		evt := resp.Chunk[i]
		if evt.Type != event.EventMessage {
			continue
		}
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			continue
		}
		msg, ok := toMessage(evt)
		if !ok {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Download fetches an mxc:// attachment, returning its bytes and the
// content type reported by the server.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	contentURI, err := id.ParseContentURI(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parse content uri %q: %w", uri, err)
	}
	resp, err := c.client.Download(ctx, contentURI)
	if err != nil {
		return nil, "", fmt.Errorf("download %q: %w", uri, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download %q: %w", uri, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Typing toggles the bot's typing indicator in a room.
func (c *Client) Typing(ctx context.Context, roomID string, typing bool) error {
	_, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, 30*time.Second)
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// MarkRead advances the bot's read marker to the given event.
func (c *Client) MarkRead(ctx context.Context, roomID, eventID string) error {
	if err := c.client.MarkRead(ctx, id.RoomID(roomID), id.EventID(eventID)); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CreateRoom creates a private room and invites the given users.
func (c *Client) CreateRoom(ctx context.Context, name string, invite []string) (string, error) {
	invites := make([]id.UserID, len(invite))
	for i, u := range invite {
		invites[i] = id.UserID(u)
	}
	resp, err := c.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Name:   name,
		Invite: invites,
		Preset: "private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	slog.Info("matrix room created", "room", resp.RoomID, "invited", len(invites))
	return string(resp.RoomID), nil
}

// Stop gracefully shuts down the transport.
func (c *Client) Stop() error {
	if c.client != nil {
		c.client.StopSync()
	}
	return nil
}

func (c *Client) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.client.UserID {
		return
	}
	if evt.Timestamp < c.startTime {
		return
	}
	if !c.isAllowed(evt.Sender) {
		return
	}

	msg, ok := toMessage(evt)
	if !ok {
		return
	}

	slog.Info("matrix message received",
		"sender", evt.Sender,
		"room", evt.RoomID,
		"body", truncateLog(msg.Body, 100),
	)
	c.handler(ctx, msg)
}

func (c *Client) onMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(c.client.UserID) {
		return
	}

	memberContent := evt.Content.AsMember()
	if memberContent == nil || memberContent.Membership != event.MembershipInvite {
		return
	}

	if !c.isAllowed(evt.Sender) {
		slog.Warn("rejecting invite from unauthorized user", "sender", evt.Sender)
		return
	}

	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
}

func (c *Client) loadCredentials() error {
	data, err := os.ReadFile(c.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	c.client.AccessToken = creds.AccessToken
	c.client.UserID = id.UserID(creds.UserID)
	c.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (c *Client) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	os.WriteFile(c.credFile, data, 0o600)
}

// isAllowed reports whether a sender matches the allow list. Entries
// may use glob patterns, e.g. "@*:example.com" for a whole homeserver.
func (c *Client) isAllowed(sender id.UserID) bool {
	if len(c.config.AllowedUsers) == 0 || c.config.AllowedUsers[0] == "" {
		return true
	}
	for _, allowed := range c.config.AllowedUsers {
		if ok, _ := path.Match(allowed, string(sender)); ok {
			return true
		}
	}
	return false
}

// toMessage converts a parsed Matrix event into a channel message.
func toMessage(evt *event.Event) (channel.Message, bool) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.Body == "" {
		return channel.Message{}, false
	}

	msg := channel.Message{
		SenderID:  string(evt.Sender),
		RoomID:    string(evt.RoomID),
		EventID:   string(evt.ID),
		Body:      msgContent.Body,
		Timestamp: evt.Timestamp,
	}

	switch msgContent.MsgType {
	case event.MsgNotice:
		msg.Kind = channel.KindNotice
	case event.MsgImage:
		msg.Kind = channel.KindImage
	case event.MsgAudio:
		msg.Kind = channel.KindAudio
	case event.MsgVideo:
		msg.Kind = channel.KindVideo
	case event.MsgFile:
		msg.Kind = channel.KindFile
	default:
		msg.Kind = channel.KindText
	}

	if msg.Kind != channel.KindText && msg.Kind != channel.KindNotice {
		msg.URL = string(msgContent.URL)
		if msgContent.Info != nil {
			msg.Mime = msgContent.Info.MimeType
		}
		// Encrypted attachments carry the URL inside the file block.
		if msg.URL == "" && msgContent.File != nil {
			msg.URL = string(msgContent.File.URL)
		}
	}
	return msg, true
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}

func splitMessage(s string, maxLen int) []string {
	var chunks []string
	for len(s) > maxLen {
		// Prefer breaking at a newline near the limit.
		cut := maxLen
		if i := strings.LastIndexByte(s[:maxLen], '\n'); i > maxLen/2 {
			cut = i + 1
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

func truncateLog(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
