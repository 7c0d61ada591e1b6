package respond

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/loqui-labs/loqui/internal/llm"
)

// imagePartTokens is the flat cost charged for a non-text part; it
// mirrors the provider's minimum charge for a low-detail image.
const imagePartTokens = 85

// Truncate bounds the conversation to maxTokens. The system block and
// the final (triggering) block are always kept; the middle is filled
// newest first until the budget runs out, then reordered back to
// chronological order. A system block that alone exceeds the budget
// yields nil, which callers must treat as a fatal configuration error.
func Truncate(blocks []llm.Block, maxTokens int, model string) []llm.Block {
	if len(blocks) == 0 {
		return nil
	}

	enc := encodingFor(model)

	systemCost := blockTokens(enc, blocks[0])
	if systemCost > maxTokens {
		slog.Error("system message alone exceeds token budget",
			"tokens", systemCost, "budget", maxTokens)
		return nil
	}
	if len(blocks) == 1 {
		return blocks
	}

	final := blocks[len(blocks)-1]
	total := systemCost + blockTokens(enc, final)

	var keptNewestFirst []llm.Block
	for i := len(blocks) - 2; i >= 1; i-- {
		cost := blockTokens(enc, blocks[i])
		if total+cost > maxTokens {
			break
		}
		total += cost
		keptNewestFirst = append(keptNewestFirst, blocks[i])
	}

	out := make([]llm.Block, 0, len(keptNewestFirst)+2)
	out = append(out, blocks[0])
	for i := len(keptNewestFirst) - 1; i >= 0; i-- {
		out = append(out, keptNewestFirst[i])
	}
	out = append(out, final)

	if len(out) < len(blocks) {
		slog.Debug("truncated conversation to fit token budget",
			"kept", len(out), "dropped", len(blocks)-len(out), "tokens", total)
	}
	return out
}

// encodingFor resolves the tokenizer for a model, falling back to
// cl100k_base for models tiktoken does not know.
func encodingFor(model string) *tiktoken.Tiktoken {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc
	}
	enc, err = tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// cl100k_base ships with the library; failing to load it means
		// the binary itself is broken.
		panic("load cl100k_base encoding: " + err.Error())
	}
	return enc
}

// blockTokens estimates the provider-side cost of one block: encoded
// text plus a flat charge per image, plus one token of message framing.
func blockTokens(enc *tiktoken.Tiktoken, b llm.Block) int {
	tokens := 1
	for _, p := range b.Parts {
		switch p.Type {
		case llm.PartText:
			tokens += len(enc.Encode(p.Text, nil, nil))
		case llm.PartImage:
			tokens += imagePartTokens
		case llm.PartToolResult:
			if p.ToolResult != nil {
				tokens += len(enc.Encode(p.ToolResult.Content, nil, nil))
			}
		}
	}
	return tokens
}
