// Package respond turns raw chat history into provider requests and
// drives the tool-calling response loop.
package respond

import (
	"fmt"

	"github.com/loqui-labs/loqui/internal/llm"
)

// NewToolResultBlock builds a tool-role block carrying exactly one
// result. The call id must have been issued earlier in the same chain;
// an unknown id is a programming error, not a model error.
func NewToolResultBlock(callID, content string, issued map[string]bool) (llm.Block, error) {
	if !issued[callID] {
		return llm.Block{}, fmt.Errorf("tool result references unknown call id %q", callID)
	}
	return llm.Block{
		Role: llm.RoleTool,
		Parts: []llm.Part{{
			Type:       llm.PartToolResult,
			ToolResult: &llm.ToolResult{ToolCallID: callID, Content: content},
		}},
	}, nil
}

// flattenToolBlocks rewrites tool-role blocks as system-role text so
// models without tool-role support can still read the results.
func flattenToolBlocks(blocks []llm.Block) []llm.Block {
	out := make([]llm.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Role != llm.RoleTool {
			out = append(out, b)
			continue
		}
		var content string
		for _, p := range b.Parts {
			if p.Type == llm.PartToolResult && p.ToolResult != nil {
				content += p.ToolResult.Content
			}
		}
		out = append(out, llm.TextBlock(llm.RoleSystem, content))
	}
	return out
}

// stripNonText drops image and tool-result parts from the outgoing
// request. Blocks left with nothing to say are dropped entirely,
// except assistant blocks that still carry tool calls.
func stripNonText(blocks []llm.Block) []llm.Block {
	out := make([]llm.Block, 0, len(blocks))
	for _, b := range blocks {
		var parts []llm.Part
		for _, p := range b.Parts {
			if p.Type == llm.PartText {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 && len(b.ToolCalls) == 0 {
			continue
		}
		out = append(out, llm.Block{Role: b.Role, Parts: parts, ToolCalls: b.ToolCalls})
	}
	return out
}
