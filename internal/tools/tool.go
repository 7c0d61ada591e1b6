// Package tools provides the tool catalog the chat model can call
// mid-conversation, and the outcome types the orchestration loop
// dispatches on.
package tools

import (
	"context"
	"net/http"

	"github.com/loqui-labs/loqui/internal/llm"
)

// OutcomeKind tags the closed set of tool outcome variants.
type OutcomeKind int

const (
	// OutcomeText feeds the tool's text back to the model.
	OutcomeText OutcomeKind = iota
	// OutcomeStop bypasses the model; the tool's text is the final
	// answer (possibly empty).
	OutcomeStop
	// OutcomeHandover abandons tool use for this turn; the original
	// untooled request is replayed.
	OutcomeHandover
)

// Outcome is the tagged result of a tool execution.
type Outcome struct {
	Kind OutcomeKind
	Text string
}

// TextOutcome wraps text to feed back to the model.
func TextOutcome(text string) Outcome {
	return Outcome{Kind: OutcomeText, Text: text}
}

// StopWithAnswer makes the tool's text the final answer.
func StopWithAnswer(text string) Outcome {
	return Outcome{Kind: OutcomeStop, Text: text}
}

// Handover abandons tool use for the current turn.
func Handover() Outcome {
	return Outcome{Kind: OutcomeHandover}
}

// Context carries per-call information into a tool execution. History
// is the in-flight conversation, read-only, so tools can reason about
// prior turns.
type Context struct {
	RoomID  string
	UserID  string
	History []llm.Block
}

// Tool is one callable entry in the registry. Execute must be safe
// for concurrent calls with distinct arguments.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error)
}

// ImageDescriber runs a vision model over the conversation's images.
type ImageDescriber interface {
	DescribeImages(ctx context.Context, history []llm.Block, user string) (string, error)
}

// RoomCreator creates a chat room and invites a user to it.
type RoomCreator interface {
	CreateRoomForUser(ctx context.Context, name, userID string) (string, error)
}

// Deps holds the external services tools draw on. Nil optional
// dependencies disable the tools that need them.
type Deps struct {
	HTTPClient    *http.Client
	UserAgent     string
	WeatherAPIKey string
	Describer     ImageDescriber
	Rooms         RoomCreator
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// stringArg reads a string argument, tolerating missing keys.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
