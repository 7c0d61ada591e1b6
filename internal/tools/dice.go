package tools

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/loqui-labs/loqui/internal/llm"
)

// Dice rolls a die with a configurable number of sides.
type Dice struct{}

func (d *Dice) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "dice",
		Description: "Roll dice.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dice": map[string]any{
					"type":        "string",
					"description": "The number of sides on the dice.",
					"default":     "6",
				},
			},
			"required": []string{},
		},
	}
}

func (d *Dice) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	sides := 6
	if raw := stringArg(args, "dice"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return Outcome{}, fmt.Errorf("invalid dice value %q", raw)
		}
		sides = parsed
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(sides)))
	if err != nil {
		return Outcome{}, fmt.Errorf("roll dice: %w", err)
	}

	return TextOutcome(fmt.Sprintf(`**Dice roll**
Used dice: %d
Result: %d
`, sides, n.Int64()+1)), nil
}
