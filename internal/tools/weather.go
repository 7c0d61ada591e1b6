package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/loqui-labs/loqui/internal/llm"
)

// weatherEndpoint is the OpenWeatherMap one-call API; a variable so
// tests can point it at a local server.
var weatherEndpoint = "https://api.openweathermap.org/data/3.0/onecall"

// Weather fetches a weather report from the OpenWeatherMap one-call API.
type Weather struct {
	deps Deps
}

func (w *Weather) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "weather",
		Description: "Get weather information for a given location.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"latitude": map[string]any{
					"type":        "string",
					"description": "The latitude of the location.",
				},
				"longitude": map[string]any{
					"type":        "string",
					"description": "The longitude of the location.",
				},
			},
			"required": []string{"latitude", "longitude"},
		},
	}
}

type weatherConditions struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
	WindSpeed float64 `json:"wind_speed"`
	Sunrise   int64   `json:"sunrise"`
	Sunset    int64   `json:"sunset"`
	Weather   []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

type weatherDay struct {
	Temp struct {
		Day float64 `json:"day"`
	} `json:"temp"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Summary string `json:"summary"`
}

func (w *Weather) Execute(ctx context.Context, args map[string]any, call Context) (Outcome, error) {
	latitude := stringArg(args, "latitude")
	longitude := stringArg(args, "longitude")
	if latitude == "" || longitude == "" {
		return Outcome{}, fmt.Errorf("no location provided")
	}
	if w.deps.WeatherAPIKey == "" {
		return Outcome{}, fmt.Errorf("weather API key not configured")
	}

	query := url.Values{}
	query.Set("lat", latitude)
	query.Set("lon", longitude)
	query.Set("appid", w.deps.WeatherAPIKey)
	query.Set("units", "metric")
	endpoint := weatherEndpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := w.deps.httpClient().Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("weather API returned %s", resp.Status)
	}

	var data struct {
		Current weatherConditions `json:"current"`
		Daily   []weatherDay      `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Outcome{}, fmt.Errorf("decode weather response: %w", err)
	}
	if len(data.Daily) < 2 || len(data.Current.Weather) == 0 {
		return Outcome{}, fmt.Errorf("incomplete weather response")
	}

	report := fmt.Sprintf(`**Weather report**
Current: %.1f°C, %s
Feels like: %.1f°C
Humidity: %d%%
Wind: %.1fm/s
Sunrise: %s
Sunset: %s

Today: %.1f°C, %s, %s
Tomorrow: %.1f°C, %s, %s
`,
		data.Current.Temp, data.Current.Weather[0].Description,
		data.Current.FeelsLike,
		data.Current.Humidity,
		data.Current.WindSpeed,
		time.Unix(data.Current.Sunrise, 0).Format("15:04"),
		time.Unix(data.Current.Sunset, 0).Format("15:04"),
		data.Daily[0].Temp.Day, dayDescription(data.Daily[0]), data.Daily[0].Summary,
		data.Daily[1].Temp.Day, dayDescription(data.Daily[1]), data.Daily[1].Summary,
	)
	return TextOutcome(report), nil
}

func dayDescription(d weatherDay) string {
	if len(d.Weather) == 0 {
		return "unknown"
	}
	return d.Weather[0].Description
}
