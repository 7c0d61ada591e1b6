package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loqui-labs/loqui/internal/llm"
	"github.com/loqui-labs/loqui/internal/tools"
)

// maxRecursionDepth bounds tool round-trips within one response cycle.
// Once reached, the request is replayed without tools so the chain
// terminates no matter how the model behaves.
const maxRecursionDepth = 5

// defaultToolModels are models known to support native tool calls.
var defaultToolModels = []string{"gpt-3.5-turbo", "gpt-4-turbo", "gpt-4o"}

// Config holds the orchestrator's model selection and sampling knobs.
type Config struct {
	// DefaultModel answers when no per-room model is configured.
	DefaultModel string

	// ToolModel, when set, is swapped in for tool-capable dispatch
	// when the active model cannot call tools natively.
	ToolModel string

	// ToolModels overrides the list of models treated as tool-capable.
	ToolModels []string

	// ForceTools advertises the tool catalog regardless of model.
	ForceTools bool

	// EmulateTools asks non-tool models for JSON tool directives.
	EmulateTools bool

	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	MaxTokens        int

	RetryAttempts int
	RetryInterval time.Duration
}

// ToolRunner is the slice of the tool registry the orchestrator needs.
type ToolRunner interface {
	Definitions() []llm.ToolDefinition
	Run(ctx context.Context, name string, args map[string]any, call tools.Context) (tools.Outcome, error)
}

// Orchestrator drives the response loop: provider dispatch, tool
// execution, result splicing and the fallback ladder.
type Orchestrator struct {
	provider llm.Provider
	registry ToolRunner
	cfg      Config
}

// NewOrchestrator builds an orchestrator over a provider and registry.
func NewOrchestrator(provider llm.Provider, registry ToolRunner, cfg Config) *Orchestrator {
	if len(cfg.ToolModels) == 0 {
		cfg.ToolModels = defaultToolModels
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 3000
	}
	return &Orchestrator{provider: provider, registry: registry, cfg: cfg}
}

// Respond generates the answer to an assembled conversation. It
// returns the answer text (empty on total failure), the token count
// accumulated across every provider call in the chain, and an error
// for unrecoverable provider failures.
func (o *Orchestrator) Respond(ctx context.Context, blocks []llm.Block, userID, roomID, model string) (string, int, error) {
	return o.generate(ctx, blocks, userID, roomID, model, true, true, 0)
}

func (o *Orchestrator) isToolModel(model string) bool {
	for _, m := range o.cfg.ToolModels {
		if m == model {
			return true
		}
	}
	return false
}

// generate is one provider round-trip plus whatever recursion its
// outcome demands. depth counts tool round-trips; allowOverride and
// useTools narrow on each fallback so every path terminates.
func (o *Orchestrator) generate(ctx context.Context, blocks []llm.Block, userID, roomID, model string, allowOverride, useTools bool, depth int) (string, int, error) {
	if model == "" {
		model = o.cfg.DefaultModel
	}
	originalModel := model
	chatModel := model

	if useTools && depth >= maxRecursionDepth {
		slog.Warn("recursion depth exceeded, retrying without tools",
			"room", roomID, "depth", depth)
		return o.generate(ctx, blocks, userID, roomID, originalModel, false, false, depth)
	}

	originalBlocks := blocks
	outgoing := blocks

	if allowOverride && useTools && o.cfg.ToolModel != "" &&
		!o.isToolModel(chatModel) && !o.cfg.ForceTools {
		slog.Debug("overriding chat model to use tools", "model", o.cfg.ToolModel)
		chatModel = o.cfg.ToolModel
		// The router model may not accept images; originalBlocks keeps
		// the full parts for any later replay.
		outgoing = stripNonText(outgoing)
	}

	if useTools && o.cfg.EmulateTools && !o.cfg.ForceTools && !o.isToolModel(chatModel) {
		slog.Debug("using tool emulation mode", "model", chatModel)
		outgoing = append([]llm.Block{llm.TextBlock(llm.RoleSystem, o.dispatcherPrompt())}, outgoing...)
	}

	req := llm.ChatRequest{
		Model:            chatModel,
		Blocks:           outgoing,
		Temperature:      o.cfg.Temperature,
		TopP:             o.cfg.TopP,
		FrequencyPenalty: o.cfg.FrequencyPenalty,
		PresencePenalty:  o.cfg.PresencePenalty,
		MaxTokens:        o.cfg.MaxTokens,
		User:             roomID,
	}
	if (o.isToolModel(chatModel) && useTools) || o.cfg.ForceTools {
		req.Tools = o.registry.Definitions()
	}

	slog.Debug("generating response", "model", chatModel, "blocks", len(outgoing),
		"tools", len(req.Tools), "depth", depth)

	resp, err := withRetries(ctx, o.cfg.RetryAttempts, o.cfg.RetryInterval,
		func(ctx context.Context) (*llm.ChatResponse, error) {
			return o.provider.Complete(ctx, req)
		})
	if err != nil {
		return "", 0, err
	}

	text := resp.Text
	tokens := resp.TotalTokens()

	// Tool calls win over any accompanying text, but only while tool
	// use is enabled; a model that keeps requesting tools during a
	// toolless replay gets its calls ignored so the chain terminates.
	if len(resp.ToolCalls) > 0 && useTools {
		answer, extra, err := o.dispatchToolCalls(ctx, resp.ToolCalls, text, originalBlocks, userID, roomID, originalModel, depth)
		return answer, tokens + extra, err
	}

	if text != "" && useTools {
		if directive, ok := decodeDirective(text); ok {
			if _, hasTool := directive["tool"]; hasTool {
				answer, extra, err := o.dispatchEmulated(ctx, directive, text, originalBlocks, userID, roomID, originalModel, depth)
				return answer, tokens + extra, err
			}
			// Plain JSON with no tool field: the dispatcher declined;
			// re-ask the configured model directly.
			answer, extra, err := o.generate(ctx, originalBlocks, userID, roomID, originalModel, false, false, depth)
			return answer, tokens + extra, err
		}
	}

	if text != "" {
		return text, tokens, nil
	}

	if chatModel != originalModel {
		// The override did not pay off. Replay against the configured
		// model, flattening tool roles it may not understand.
		answer, extra, err := o.generate(ctx, flattenToolBlocks(originalBlocks), userID, roomID, originalModel, false, useTools, depth)
		return answer, tokens + extra, err
	}

	slog.Debug("received an empty response", "model", chatModel)
	return "", tokens, nil
}

// dispatchToolCalls executes native tool calls and re-dispatches with
// the results spliced in before the triggering turn. Text accompanying
// the calls is kept in the assistant echo.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall, text string, original []llm.Block, userID, roomID, originalModel string, depth int) (string, int, error) {
	issued := make(map[string]bool, len(calls))
	for _, c := range calls {
		issued[c.ID] = true
	}
	toolCtx := tools.Context{RoomID: roomID, UserID: userID, History: original}

	var resultBlocks []llm.Block
	for _, call := range calls {
		outcome := o.runTool(ctx, call, toolCtx)
		switch outcome.Kind {
		case tools.OutcomeStop:
			return outcome.Text, 0, nil
		case tools.OutcomeHandover:
			return o.generate(ctx, original, userID, roomID, originalModel, false, false, depth)
		}
		block, err := NewToolResultBlock(call.ID, outcome.Text, issued)
		if err != nil {
			return "", 0, err
		}
		resultBlocks = append(resultBlocks, block)
	}
	if len(resultBlocks) == 0 {
		slog.Warn("no tool results produced, aborting", "room", roomID)
		return "", 0, nil
	}

	echo := llm.Block{Role: llm.RoleAssistant, ToolCalls: calls}
	if text != "" {
		echo.Parts = []llm.Part{{Type: llm.PartText, Text: text}}
	}
	spliced := spliceBeforeTrigger(original, append([]llm.Block{echo}, resultBlocks...))

	answer, tokens, err := o.generate(ctx, spliced, userID, roomID, originalModel, true, true, depth+1)
	if err != nil && llm.IsContextLength(err) {
		// Likely the model choking on tool role semantics rather than
		// true overflow; the budgeter already bounded the size.
		slog.Warn("context length error after tool results, flattening tool roles", "room", roomID)
		answer, tokens, err = o.generate(ctx, flattenToolBlocks(original), userID, roomID, originalModel, false, false, depth+1)
		if err != nil && llm.IsContextLength(err) {
			answer, tokens, err = o.generate(ctx, original, userID, roomID, originalModel, false, false, depth+1)
		}
	}
	return answer, tokens, err
}

// dispatchEmulated executes a JSON tool directive produced by a model
// without native tool support.
func (o *Orchestrator) dispatchEmulated(ctx context.Context, directive map[string]any, rawText string, original []llm.Block, userID, roomID, originalModel string, depth int) (string, int, error) {
	name, _ := directive["tool"].(string)
	params, _ := directive["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	slog.Debug("emulated tool call", "tool", name, "room", roomID)

	input, err := json.Marshal(params)
	if err != nil {
		return "", 0, fmt.Errorf("encode emulated tool arguments: %w", err)
	}
	call := llm.ToolCall{ID: uuid.NewString(), Name: name, Input: input}
	toolCtx := tools.Context{RoomID: roomID, UserID: userID, History: original}

	outcome := o.runTool(ctx, call, toolCtx)
	switch outcome.Kind {
	case tools.OutcomeStop:
		return outcome.Text, 0, nil
	case tools.OutcomeHandover:
		return o.generate(ctx, original, userID, roomID, originalModel, false, false, depth)
	}

	// Models without native tool support read results as system text.
	echo := llm.TextBlock(llm.RoleAssistant, rawText)
	result := llm.TextBlock(llm.RoleSystem, outcome.Text)
	spliced := spliceBeforeTrigger(original, []llm.Block{echo, result})

	answer, tokens, err := o.generate(ctx, spliced, userID, roomID, originalModel, true, true, depth+1)
	if err != nil && llm.IsContextLength(err) {
		answer, tokens, err = o.generate(ctx, original, userID, roomID, originalModel, false, false, depth+1)
	}
	return answer, tokens, err
}

// runTool executes one tool call, converting any failure into a text
// outcome the model can react to.
func (o *Orchestrator) runTool(ctx context.Context, call llm.ToolCall, toolCtx tools.Context) tools.Outcome {
	args, err := call.Args()
	if err == nil {
		var outcome tools.Outcome
		outcome, err = o.registry.Run(ctx, call.Name, args, toolCtx)
		if err == nil {
			slog.Info("tool call", "tool", call.Name, "room", toolCtx.RoomID)
			return outcome
		}
	}
	slog.Error("tool execution failed", "tool", call.Name, "error", err)
	return tools.TextOutcome(fmt.Sprintf("Error: %v", err))
}

// spliceBeforeTrigger inserts blocks immediately before the triggering
// (final) turn of the original history.
func spliceBeforeTrigger(original, inserted []llm.Block) []llm.Block {
	out := make([]llm.Block, 0, len(original)+len(inserted))
	out = append(out, original[:len(original)-1]...)
	out = append(out, inserted...)
	out = append(out, original[len(original)-1])
	return out
}

// decodeDirective parses the response body as a JSON object, tolerating
// a markdown code fence around it.
func decodeDirective(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(trimmed, "```json\n"); ok {
		trimmed = rest
	} else if rest, ok := strings.CutPrefix(trimmed, "```\n"); ok {
		trimmed = rest
	}
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// dispatcherPrompt instructs a non-tool model to answer only with JSON
// tool directives.
func (o *Orchestrator) dispatcherPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You are a tool dispatcher for an AI chat model. You decide which tools to use for the current conversation. You DO NOT RESPOND DIRECTLY TO THE USER. Instead, respond with a JSON object like this:

{ "type": "tool", "tool": tool_name, "parameters": { "name": "value" } }

- tool_name is the name of the tool you want to use.
- parameters is an object containing the parameters for the tool. The parameters are defined in the tool's description.

The following tools are available:

`)
	for _, def := range o.registry.Definitions() {
		schema, _ := json.Marshal(def.InputSchema)
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", def.Name, def.Description, schema)
	}
	sb.WriteString(`
If no tool is required, or all information is already available in the message thread, respond with an empty JSON object: {}

Otherwise, respond with a single required tool call. Remember that you DO NOT RESPOND to the user. You MAY ONLY RESPOND WITH JSON OBJECTS CONTAINING TOOL CALLS! DO NOT RESPOND IN NATURAL LANGUAGE.

DO NOT include any other text or syntax in your response, only the JSON object. DO NOT surround it in code tags (` + "```" + `). DO NOT, UNDER ANY CIRCUMSTANCES, ASK AGAIN FOR INFORMATION ALREADY PROVIDED IN THE MESSAGES YOU RECEIVED! DO NOT REQUEST MORE INFORMATION THAN ABSOLUTELY REQUIRED TO RESPOND TO THE USER'S MESSAGE! Remind the user that they may ask you to search for additional information if they need it.`)
	return sb.String()
}
