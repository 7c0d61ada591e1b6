package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/loqui-labs/loqui/internal/llm"
)

// geocodeEndpoint is the Nominatim search API; a variable so tests
// can point it at a local server.
var geocodeEndpoint = "https://nominatim.openstreetmap.org/search"

// Geocode resolves a location name to coordinates via Nominatim.
type Geocode struct {
	deps Deps
}

func (g *Geocode) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "geocode",
		Description: "Get location information (latitude, longitude) for a given location name.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "The location name.",
				},
			},
			"required": []string{"location"},
		},
	}
}

func (g *Geocode) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	location := stringArg(args, "location")
	if location == "" {
		return Outcome{}, fmt.Errorf("no location provided")
	}

	query := url.Values{}
	query.Set("q", location)
	query.Set("format", "jsonv2")
	query.Set("limit", "1")
	endpoint := geocodeEndpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("build geocode request: %w", err)
	}
	// Nominatim requires an identifying user agent.
	req.Header.Set("User-Agent", g.deps.UserAgent)

	resp, err := g.deps.httpClient().Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("geocode API returned %s", resp.Status)
	}

	var results []struct {
		DisplayName string `json:"display_name"`
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Outcome{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return Outcome{}, fmt.Errorf("could not find location data for that location")
	}

	return TextOutcome(fmt.Sprintf(`**Location information for %s**
Latitude: %s
Longitude: %s
`, results[0].DisplayName, results[0].Lat, results[0].Lon)), nil
}
