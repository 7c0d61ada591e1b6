// Package channel defines the transport-agnostic message types and the
// interface the bot uses to talk to a chat network.
package channel

import "context"

// Kind tags the closed set of raw message variants, resolved once when
// the transport hands a message over.
type Kind int

const (
	KindText Kind = iota
	KindNotice
	KindImage
	KindAudio
	KindVideo
	KindFile
)

// Message is an incoming message as seen by the transport.
type Message struct {
	// Kind selects which of the optional fields are meaningful.
	Kind Kind

	// SenderID is the channel-specific sender identifier.
	SenderID string

	// RoomID is the channel-specific room/conversation identifier.
	RoomID string

	// EventID uniquely identifies the message within the room.
	EventID string

	// Body is the message text, or the caption/filename for media.
	Body string

	// URL locates the attachment for media messages.
	URL string

	// Mime is the attachment content type, when known.
	Mime string

	// Timestamp is the message timestamp in milliseconds.
	Timestamp int64
}

// Handler is called for each message the transport receives.
type Handler func(ctx context.Context, msg Message)

// Transport is the interface for a chat network connection.
type Transport interface {
	// Start begins listening for messages. Blocks until ctx is
	// cancelled. Received messages are passed to the handler.
	Start(ctx context.Context, handler Handler) error

	// SendText sends a text message, optionally as a notice.
	SendText(ctx context.Context, roomID, text string, notice bool) error

	// SendImage uploads and sends an image.
	SendImage(ctx context.Context, roomID string, image []byte, caption string) error

	// SendFile uploads and sends a generic file. msgtype selects the
	// channel-specific message flavor (file, audio, ...).
	SendFile(ctx context.Context, roomID string, file []byte, name, mime, msgtype string) error

	// RecentMessages fetches up to limit recent messages from a room,
	// oldest first.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)

	// Download fetches an attachment, returning its bytes and content type.
	Download(ctx context.Context, uri string) ([]byte, string, error)

	// Typing toggles the typing indicator in a room.
	Typing(ctx context.Context, roomID string, typing bool) error

	// MarkRead advances the bot's read marker to the given event.
	MarkRead(ctx context.Context, roomID, eventID string) error

	// CreateRoom creates a new room, invites the given users and
	// returns the room's identifier.
	CreateRoom(ctx context.Context, name string, invite []string) (string, error)

	// Stop gracefully shuts down the transport.
	Stop() error
}
