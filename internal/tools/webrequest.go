package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/loqui-labs/loqui/internal/llm"
)

// maxWebrequestBytes caps how much of a page is downloaded.
const maxWebrequestBytes = 2 << 20

// Webrequest fetches a web page and reduces it to plain text.
type Webrequest struct {
	deps Deps
}

func (w *Webrequest) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "webrequest",
		Description: "Browse an external website by URL.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to request.",
				},
			},
			"required": []string{"url"},
		},
	}
}

func (w *Webrequest) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	target := stringArg(args, "url")
	if target == "" {
		return Outcome{}, fmt.Errorf("no URL provided")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("build web request: %w", err)
	}
	req.Header.Set("User-Agent", w.deps.UserAgent)

	resp, err := w.deps.httpClient().Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("web request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("web request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebrequestBytes))
	if err != nil {
		return Outcome{}, fmt.Errorf("read web response: %w", err)
	}

	text, err := htmlToText(string(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("parse web response: %w", err)
	}

	return TextOutcome(fmt.Sprintf(`**Web request**
URL: %s
Status: %s

%s
`, target, resp.Status, text)), nil
}

// htmlToText extracts the visible text of an HTML document. Link text
// is annotated with its target so the model can follow references.
func htmlToText(page string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		case n.Type == html.ElementNode && n.Data == "a":
			var linkText strings.Builder
			collectText(n, &linkText)
			href := ""
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href = attr.Val
					break
				}
			}
			fmt.Fprintf(&sb, " %s (%s) ", strings.TrimSpace(linkText.String()), href)
			return
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
