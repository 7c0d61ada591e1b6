package tools

import (
	"context"
	"fmt"

	"github.com/loqui-labs/loqui/internal/llm"
)

// NewRoom creates a fresh room and invites the requesting user.
type NewRoom struct {
	rooms RoomCreator
}

func (t *NewRoom) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "newroom",
		Description: "Create a new Matrix room",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "The name of the room to create.",
					"default":     "loqui",
				},
			},
		},
	}
}

func (t *NewRoom) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	name := stringArg(args, "name")
	if name == "" {
		name = "loqui"
	}

	roomID, err := t.rooms.CreateRoomForUser(ctx, name, call.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("create room: %w", err)
	}

	// The room is the answer; no further model involvement needed.
	return StopWithAnswer("Created new Matrix room with ID " + roomID + " and invited user."), nil
}
