package respond

import (
	"strings"
	"testing"

	"github.com/loqui-labs/loqui/internal/llm"
)

func TestTruncateKeepsShortConversation(t *testing.T) {
	blocks := []llm.Block{
		llm.TextBlock(llm.RoleSystem, "You are helpful."),
		llm.TextBlock(llm.RoleUser, "2+2?"),
	}

	out := Truncate(blocks, 100, "gpt-4o")
	if len(out) != 2 {
		t.Fatalf("got %d blocks, want 2", len(out))
	}
	if out[0].Text() != "You are helpful." || out[1].Text() != "2+2?" {
		t.Errorf("blocks changed: %+v", out)
	}
}

func TestTruncateDropsOldestFirst(t *testing.T) {
	blocks := []llm.Block{
		llm.TextBlock(llm.RoleSystem, "sys"),
		llm.TextBlock(llm.RoleUser, strings.Repeat("old words here ", 30)),
		llm.TextBlock(llm.RoleAssistant, "short reply"),
		llm.TextBlock(llm.RoleUser, "trigger"),
	}

	out := Truncate(blocks, 20, "gpt-4o")
	if len(out) < 2 {
		t.Fatalf("got %d blocks, want at least system and trigger", len(out))
	}
	if out[0].Role != llm.RoleSystem {
		t.Errorf("first block role = %s, want system", out[0].Role)
	}
	if out[len(out)-1].Text() != "trigger" {
		t.Errorf("last block = %q, want trigger", out[len(out)-1].Text())
	}
	for _, b := range out {
		if strings.Contains(b.Text(), "old words") {
			t.Errorf("oldest block survived truncation")
		}
	}
}

func TestTruncateChronologicalOrder(t *testing.T) {
	blocks := []llm.Block{
		llm.TextBlock(llm.RoleSystem, "sys"),
		llm.TextBlock(llm.RoleUser, "first"),
		llm.TextBlock(llm.RoleAssistant, "second"),
		llm.TextBlock(llm.RoleUser, "third"),
	}

	out := Truncate(blocks, 1000, "gpt-4o")
	if len(out) != 4 {
		t.Fatalf("got %d blocks, want 4", len(out))
	}
	for i, want := range []string{"sys", "first", "second", "third"} {
		if out[i].Text() != want {
			t.Errorf("block %d = %q, want %q", i, out[i].Text(), want)
		}
	}
}

func TestTruncateOversizedSystemIsFatal(t *testing.T) {
	blocks := []llm.Block{
		llm.TextBlock(llm.RoleSystem, strings.Repeat("very long system prompt ", 100)),
		llm.TextBlock(llm.RoleUser, "hi"),
	}

	if out := Truncate(blocks, 10, "gpt-4o"); out != nil {
		t.Fatalf("oversized system should yield nil, got %d blocks", len(out))
	}
}

func TestTruncateBudgetInvariant(t *testing.T) {
	blocks := []llm.Block{
		llm.TextBlock(llm.RoleSystem, "sys"),
	}
	for range 20 {
		blocks = append(blocks,
			llm.TextBlock(llm.RoleUser, strings.Repeat("question words ", 5)),
			llm.TextBlock(llm.RoleAssistant, strings.Repeat("answer words ", 5)),
		)
	}
	blocks = append(blocks, llm.TextBlock(llm.RoleUser, "trigger"))

	const budget = 120
	out := Truncate(blocks, budget, "gpt-4o")
	if out[0].Role != llm.RoleSystem || out[len(out)-1].Text() != "trigger" {
		t.Fatal("system or trigger block missing")
	}

	enc := encodingFor("gpt-4o")
	total := 0
	for _, b := range out {
		total += blockTokens(enc, b)
	}
	if total > budget {
		t.Errorf("kept %d tokens, budget %d", total, budget)
	}
}

func TestTruncateUnknownModelFallsBack(t *testing.T) {
	blocks := []llm.Block{
		llm.TextBlock(llm.RoleSystem, "sys"),
		llm.TextBlock(llm.RoleUser, "hello"),
	}
	out := Truncate(blocks, 100, "some-model-tiktoken-never-heard-of")
	if len(out) != 2 {
		t.Fatalf("got %d blocks, want 2", len(out))
	}
}

func TestBlockTokensCountsImagesFlat(t *testing.T) {
	enc := encodingFor("gpt-4o")
	imageBlock := llm.Block{Role: llm.RoleUser, Parts: []llm.Part{
		{Type: llm.PartImage, ImageURL: "data:image/png;base64,AAAA"},
	}}
	if got := blockTokens(enc, imageBlock); got != imagePartTokens+1 {
		t.Errorf("image block tokens = %d, want %d", got, imagePartTokens+1)
	}
}
