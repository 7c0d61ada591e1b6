package respond

import (
	"testing"

	"github.com/loqui-labs/loqui/internal/llm"
)

func TestNewToolResultBlockRejectsUnknownID(t *testing.T) {
	issued := map[string]bool{"call1": true}

	if _, err := NewToolResultBlock("call2", "result", issued); err == nil {
		t.Fatal("result for an id that was never issued must be rejected")
	}

	block, err := NewToolResultBlock("call1", "result", issued)
	if err != nil {
		t.Fatalf("NewToolResultBlock: %v", err)
	}
	if block.Role != llm.RoleTool || len(block.Parts) != 1 {
		t.Fatalf("block = %+v, want one tool-role part", block)
	}
	if block.Parts[0].ToolResult.ToolCallID != "call1" {
		t.Errorf("tool call id = %q, want call1", block.Parts[0].ToolResult.ToolCallID)
	}
}
