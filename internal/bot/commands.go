package bot

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/loqui-labs/loqui/pkg/channel"
)

// roomSettings are the per-room settings adjustable over chat.
var roomSettings = []string{"system_message", "model", "stt", "tts", "always_reply", "debug"}

// handleCommand parses and executes a "!<name> ..." command message.
func (b *Bot) handleCommand(ctx context.Context, trigger channel.Message) {
	body := strings.TrimSpace(strings.TrimPrefix(trigger.Body, b.prefix()))
	cmd, rest, _ := strings.Cut(body, " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)

	slog.Info("command received", "command", cmd, "room", trigger.RoomID, "sender", trigger.SenderID)

	switch cmd {
	case "", "help":
		b.cmdHelp(ctx, trigger.RoomID)
	case "chat":
		trigger.Body = rest
		b.processQuery(ctx, trigger)
	case "imagine":
		b.cmdImagine(ctx, trigger, rest)
	case "tts":
		b.cmdTTS(ctx, trigger.RoomID, rest)
	case "systemmessage":
		b.cmdSystemMessage(ctx, trigger.RoomID, rest)
	case "roomsettings":
		b.cmdRoomSettings(ctx, trigger.RoomID, rest)
	case "stats":
		b.cmdStats(ctx, trigger.RoomID)
	case "dice":
		b.cmdDice(ctx, trigger.RoomID, rest)
	case "coin":
		b.cmdCoin(ctx, trigger.RoomID)
	case "ignoreolder":
		b.cmdIgnoreOlder(ctx, trigger)
	case "newroom":
		b.cmdNewRoom(ctx, trigger, rest)
	default:
		b.notice(ctx, trigger.RoomID, fmt.Sprintf("Unknown command. Try `%s help`.", b.prefix()))
	}
}

func (b *Bot) notice(ctx context.Context, roomID, text string) {
	if err := b.transport.SendText(ctx, roomID, text, true); err != nil {
		slog.Error("sending notice failed", "room", roomID, "error", err)
	}
}

func (b *Bot) cmdHelp(ctx context.Context, roomID string) {
	help := fmt.Sprintf(`Available commands:

- `+"`%[1]s help`"+` - This message
- `+"`%[1]s chat <message>`"+` - Send a message to the bot explicitly
- `+"`%[1]s imagine <prompt>`"+` - Generate an image
- `+"`%[1]s tts <text>`"+` - Generate speech from text
- `+"`%[1]s systemmessage [message]`"+` - Show or set this room's system message
- `+"`%[1]s roomsettings [setting] [value]`"+` - Show or change room settings
- `+"`%[1]s stats`"+` - Show token usage for this room
- `+"`%[1]s dice [sides]`"+` - Roll a die
- `+"`%[1]s coin`"+` - Flip a coin
- `+"`%[1]s ignoreolder`"+` - Ignore messages before this point
- `+"`%[1]s newroom <name>`"+` - Create a new room and invite you to it`, b.prefix())
	b.notice(ctx, roomID, help)
}

func (b *Bot) cmdImagine(ctx context.Context, trigger channel.Message, prompt string) {
	if b.images == nil {
		b.notice(ctx, trigger.RoomID, "Image generation is not available.")
		return
	}
	if prompt == "" {
		b.notice(ctx, trigger.RoomID, "Please provide a prompt.")
		return
	}

	b.transport.Typing(ctx, trigger.RoomID, true)
	defer b.transport.Typing(ctx, trigger.RoomID, false)

	images, err := b.images.GenerateImage(ctx, prompt, "square")
	if err != nil {
		slog.Error("image generation failed", "room", trigger.RoomID, "error", err)
		b.notice(ctx, trigger.RoomID, "Something went wrong generating the image. Please try again.")
		return
	}
	for _, img := range images {
		if err := b.transport.SendImage(ctx, trigger.RoomID, img, prompt); err != nil {
			slog.Error("sending generated image failed", "room", trigger.RoomID, "error", err)
			b.notice(ctx, trigger.RoomID, "Something went wrong sending the image.")
			return
		}
	}
}

func (b *Bot) cmdTTS(ctx context.Context, roomID, text string) {
	if b.speech == nil {
		b.notice(ctx, roomID, "Speech generation is not available.")
		return
	}
	if text == "" {
		b.notice(ctx, roomID, "Please provide a text to speak.")
		return
	}

	audio, err := b.speech.Speech(ctx, text)
	if err != nil {
		slog.Error("speech generation failed", "room", roomID, "error", err)
		b.notice(ctx, roomID, "Something went wrong generating the speech. Please try again.")
		return
	}
	if err := b.transport.SendFile(ctx, roomID, audio, b.cfg.Name+".mp3", "audio/mpeg", "m.audio"); err != nil {
		slog.Error("sending speech audio failed", "room", roomID, "error", err)
		b.notice(ctx, roomID, "Something went wrong sending the speech.")
	}
}

func (b *Bot) cmdSystemMessage(ctx context.Context, roomID, message string) {
	if message == "" {
		current, err := b.store.GetRoomSetting(ctx, roomID, "system_message")
		if err != nil {
			b.notice(ctx, roomID, "Could not read the system message.")
			return
		}
		if current == "" {
			current = b.cfg.Bot.SystemMessage + " (default)"
		}
		b.notice(ctx, roomID, "Current system message: "+current)
		return
	}
	if err := b.store.SetRoomSetting(ctx, roomID, "system_message", message); err != nil {
		slog.Error("setting system message failed", "room", roomID, "error", err)
		b.notice(ctx, roomID, "Could not store the system message.")
		return
	}
	b.notice(ctx, roomID, "System message set.")
}

func (b *Bot) cmdRoomSettings(ctx context.Context, roomID, args string) {
	setting, value, _ := strings.Cut(args, " ")
	setting = strings.ToLower(strings.TrimSpace(setting))
	value = strings.TrimSpace(value)

	if setting == "" {
		var sb strings.Builder
		sb.WriteString("Room settings:\n")
		names := append([]string(nil), roomSettings...)
		sort.Strings(names)
		for _, name := range names {
			current, err := b.store.GetRoomSetting(ctx, roomID, name)
			if err != nil {
				continue
			}
			if current == "" {
				current = "(default)"
			}
			fmt.Fprintf(&sb, "- %s: %s\n", name, current)
		}
		b.notice(ctx, roomID, sb.String())
		return
	}

	known := false
	for _, name := range roomSettings {
		if name == setting {
			known = true
			break
		}
	}
	if !known {
		b.notice(ctx, roomID, fmt.Sprintf("Unknown setting %q. Available: %s.", setting, strings.Join(roomSettings, ", ")))
		return
	}

	if value == "" {
		current, err := b.store.GetRoomSetting(ctx, roomID, setting)
		if err != nil {
			b.notice(ctx, roomID, "Could not read the setting.")
			return
		}
		if current == "" {
			current = "(default)"
		}
		b.notice(ctx, roomID, fmt.Sprintf("%s: %s", setting, current))
		return
	}

	if err := b.store.SetRoomSetting(ctx, roomID, setting, value); err != nil {
		slog.Error("setting room setting failed", "room", roomID, "setting", setting, "error", err)
		b.notice(ctx, roomID, "Could not store the setting.")
		return
	}
	b.notice(ctx, roomID, fmt.Sprintf("Set %s to %s.", setting, value))
}

func (b *Bot) cmdStats(ctx context.Context, roomID string) {
	usage, err := b.store.RoomUsage(ctx, roomID)
	if err != nil {
		slog.Error("reading room usage failed", "room", roomID, "error", err)
		b.notice(ctx, roomID, "Could not read usage statistics.")
		return
	}
	if len(usage) == 0 {
		b.notice(ctx, roomID, "No usage recorded for this room yet.")
		return
	}

	apis := make([]string, 0, len(usage))
	for api := range usage {
		apis = append(apis, api)
	}
	sort.Strings(apis)

	var sb strings.Builder
	sb.WriteString("Tokens used in this room:\n")
	total := 0
	for _, api := range apis {
		fmt.Fprintf(&sb, "- %s: %d\n", api, usage[api])
		total += usage[api]
	}
	fmt.Fprintf(&sb, "Total: %d", total)
	b.notice(ctx, roomID, sb.String())
}

func (b *Bot) cmdDice(ctx context.Context, roomID, args string) {
	sides := int64(6)
	if args != "" {
		parsed, err := strconv.ParseInt(args, 10, 64)
		if err != nil || parsed < 2 {
			b.notice(ctx, roomID, "Please provide a valid number of sides.")
			return
		}
		sides = parsed
	}
	n, err := rand.Int(rand.Reader, big.NewInt(sides))
	if err != nil {
		b.notice(ctx, roomID, "The die fell off the table. Please try again.")
		return
	}
	b.notice(ctx, roomID, fmt.Sprintf("You rolled a %d (d%d).", n.Int64()+1, sides))
}

func (b *Bot) cmdCoin(ctx context.Context, roomID string) {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		b.notice(ctx, roomID, "The coin rolled under the couch. Please try again.")
		return
	}
	result := "Heads"
	if n.Int64() == 1 {
		result = "Tails"
	}
	b.notice(ctx, roomID, result+"!")
}

func (b *Bot) cmdIgnoreOlder(ctx context.Context, trigger channel.Message) {
	value := strconv.FormatInt(trigger.Timestamp, 10)
	if err := b.store.SetRoomSetting(ctx, trigger.RoomID, "ignore_older", value); err != nil {
		slog.Error("setting ignore barrier failed", "room", trigger.RoomID, "error", err)
		b.notice(ctx, trigger.RoomID, "Could not store the ignore marker.")
		return
	}
	b.notice(ctx, trigger.RoomID, "Alright, messages before this point will be ignored.")
}

func (b *Bot) cmdNewRoom(ctx context.Context, trigger channel.Message, name string) {
	if name == "" {
		name = "Chat with " + b.cfg.Name
	}
	roomID, err := b.CreateRoomForUser(ctx, name, trigger.SenderID)
	if err != nil {
		slog.Error("room creation failed", "error", err)
		b.notice(ctx, trigger.RoomID, "Could not create the room. Please try again.")
		return
	}
	b.notice(ctx, trigger.RoomID, "Created room "+roomID+" and invited you.")
}
