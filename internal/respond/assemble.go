package respond

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nfnt/resize"

	"github.com/loqui-labs/loqui/internal/llm"
	"github.com/loqui-labs/loqui/pkg/channel"
)

// Downloader fetches attachments referenced by incoming messages.
type Downloader interface {
	Download(ctx context.Context, uri string) ([]byte, string, error)
}

// AssemblerConfig controls how raw messages are normalized.
type AssemblerConfig struct {
	// BotUserID decides which messages get the assistant role.
	BotUserID string

	// VisionSupported enables image embedding; without it images
	// degrade to their caption text.
	VisionSupported bool

	// MaxImageLongSide / MaxImageShortSide bound embedded images.
	MaxImageLongSide  uint
	MaxImageShortSide uint
}

// Assembler converts raw transport messages into conversation blocks.
// Attachment conversion degrades to text stand-ins on any failure;
// assembly itself never fails.
type Assembler struct {
	downloader Downloader
	stt        llm.Transcriber // nil disables speech to text
	cfg        AssemblerConfig
}

// NewAssembler builds an assembler. stt may be nil.
func NewAssembler(downloader Downloader, stt llm.Transcriber, cfg AssemblerConfig) *Assembler {
	if cfg.MaxImageLongSide == 0 {
		cfg.MaxImageLongSide = 2000
	}
	if cfg.MaxImageShortSide == 0 {
		cfg.MaxImageShortSide = 768
	}
	return &Assembler{downloader: downloader, stt: stt, cfg: cfg}
}

// Assemble normalizes history plus the triggering message into blocks,
// in chronological order, with the system prompt first and the trigger
// last. useSTT enables audio transcription for this conversation.
func (a *Assembler) Assemble(ctx context.Context, history []channel.Message, trigger channel.Message, systemPrompt string, useSTT bool) []llm.Block {
	blocks := []llm.Block{llm.TextBlock(llm.RoleSystem, systemPrompt)}

	for _, msg := range history {
		if msg.EventID == trigger.EventID {
			continue
		}
		blocks = a.appendMessage(ctx, blocks, msg, useSTT)
	}
	return a.appendMessage(ctx, blocks, trigger, useSTT)
}

func (a *Assembler) appendMessage(ctx context.Context, blocks []llm.Block, msg channel.Message, useSTT bool) []llm.Block {
	role := llm.RoleUser
	if msg.SenderID == a.cfg.BotUserID {
		role = llm.RoleAssistant
	}

	kind := msg.Kind
	// Audio frequently arrives as a plain file upload.
	if kind == channel.KindFile && strings.HasSuffix(msg.Body, ".mp3") {
		kind = channel.KindAudio
	}

	switch kind {
	case channel.KindText, channel.KindNotice:
		return append(blocks, llm.TextBlock(role, msg.Body))

	case channel.KindAudio:
		text := msg.Body
		if useSTT && a.stt != nil {
			if transcript, err := a.transcribe(ctx, msg); err != nil {
				slog.Error("transcription failed, using caption", "event_id", msg.EventID, "error", err)
			} else {
				text = transcript
			}
		}
		return append(blocks, llm.TextBlock(role, text))

	case channel.KindFile:
		data, _, err := a.downloader.Download(ctx, msg.URL)
		if err != nil {
			slog.Error("file download failed", "event_id", msg.EventID, "error", err)
			return append(blocks, diagnosticBlock(msg))
		}
		if !utf8.Valid(data) {
			return append(blocks, diagnosticBlock(msg))
		}
		return append(blocks, llm.TextBlock(role, string(data)))

	case channel.KindImage:
		if !a.cfg.VisionSupported {
			return append(blocks, llm.TextBlock(role, msg.Body))
		}
		dataURL, err := a.embedImage(ctx, msg)
		if err != nil {
			slog.Error("image embedding failed", "event_id", msg.EventID, "error", err)
			return append(blocks, diagnosticBlock(msg))
		}
		return appendImagePart(blocks, role, dataURL)

	case channel.KindVideo:
		// Video frames are not embedded; the caption stands in.
		return append(blocks, llm.TextBlock(role, msg.Body))
	}
	return blocks
}

func (a *Assembler) transcribe(ctx context.Context, msg channel.Message) (string, error) {
	audio, _, err := a.downloader.Download(ctx, msg.URL)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	return a.stt.Transcribe(ctx, audio, msg.Body)
}

// embedImage downloads, downscales and re-encodes an image into a
// base64 data URL.
func (a *Assembler) embedImage(ctx context.Context, msg channel.Message) (string, error) {
	data, _, err := a.downloader.Download(ctx, msg.URL)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	long, short := a.cfg.MaxImageLongSide, a.cfg.MaxImageShortSide
	bounds := img.Bounds()
	width, height := uint(bounds.Dx()), uint(bounds.Dy())
	if width >= height && width > long {
		img = resize.Thumbnail(long, short, img, resize.Lanczos3)
	} else if height > width && height > long {
		img = resize.Thumbnail(short, long, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	mime := "image/png"
	if format == "jpeg" {
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, img, nil)
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// diagnosticBlock is the deterministic stand-in for an attachment that
// could not be converted.
func diagnosticBlock(msg channel.Message) llm.Block {
	return llm.TextBlock(llm.RoleSystem, "Attachment could not be processed: "+msg.Body)
}

// appendImagePart coalesces the image into the preceding block when it
// has the same role, otherwise starts a new block.
func appendImagePart(blocks []llm.Block, role llm.Role, dataURL string) []llm.Block {
	part := llm.Part{Type: llm.PartImage, ImageURL: dataURL}
	if n := len(blocks); n > 0 && blocks[n-1].Role == role {
		blocks[n-1].Parts = append(blocks[n-1].Parts, part)
		return blocks
	}
	return append(blocks, llm.Block{Role: role, Parts: []llm.Part{part}})
}
