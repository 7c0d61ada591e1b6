package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/loqui-labs/loqui/internal/llm"
)

// websearchEndpoint is a LibreY instance's search API; a variable so
// tests can point it at a local server.
var websearchEndpoint = "https://search.funami.tech/api.php"

// maxSearchResults caps how many hits are fed back to the model.
const maxSearchResults = 10

// Websearch queries a LibreY search instance and returns the top hits.
type Websearch struct {
	deps Deps
}

func (w *Websearch) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "websearch",
		Description: "Search the web for a given query.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The query to search for.",
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (w *Websearch) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	query := stringArg(args, "query")
	if query == "" {
		return Outcome{}, fmt.Errorf("no query provided")
	}

	endpoint := websearchEndpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("build search request: %w", err)
	}
	if w.deps.UserAgent != "" {
		req.Header.Set("User-Agent", w.deps.UserAgent)
	}

	resp, err := w.deps.httpClient().Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("search API returned %s", resp.Status)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Outcome{}, fmt.Errorf("decode search response: %w", err)
	}
	if len(results) == 0 {
		return TextOutcome("No results found."), nil
	}
	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}

	var sb strings.Builder
	sb.WriteString("Search results:\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s (%s)\n  %s\n", r.Title, r.URL, r.Description)
	}
	return TextOutcome(sb.String()), nil
}
