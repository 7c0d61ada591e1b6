package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryCatalog(t *testing.T) {
	r := NewRegistry(Deps{})

	if _, ok := r.Lookup("weather"); !ok {
		t.Error("weather missing from catalog")
	}
	// Optional dependencies were not provided, so the tools that need
	// them must not be registered.
	if _, ok := r.Lookup("imagedescription"); ok {
		t.Error("imagedescription registered without a describer")
	}
	if _, ok := r.Lookup("newroom"); ok {
		t.Error("newroom registered without a room creator")
	}

	defs := r.Definitions()
	if len(defs) == 0 {
		t.Fatal("empty tool catalog")
	}
	for _, d := range defs {
		if d.Name == "" || d.Description == "" || d.InputSchema == nil {
			t.Errorf("incomplete definition: %+v", d)
		}
	}
}

func TestRegistryRunUnknown(t *testing.T) {
	r := NewRegistry(Deps{})
	_, err := r.Run(context.Background(), "no-such-tool", nil, Context{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Run(no-such-tool) err = %v, want ErrNotFound", err)
	}
}

func TestDice(t *testing.T) {
	d := &Dice{}
	for range 20 {
		outcome, err := d.Execute(context.Background(), map[string]any{"dice": "20"}, Context{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if outcome.Kind != OutcomeText {
			t.Fatalf("outcome kind = %v, want OutcomeText", outcome.Kind)
		}
		if !strings.Contains(outcome.Text, "Used dice: 20") {
			t.Errorf("unexpected roll output: %q", outcome.Text)
		}
	}

	if _, err := d.Execute(context.Background(), map[string]any{"dice": "zero"}, Context{}); err == nil {
		t.Error("non-numeric dice value should fail")
	}
}

func TestWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") != "52.52" {
			t.Errorf("lat = %q, want 52.52", r.URL.Query().Get("lat"))
		}
		if r.URL.Query().Get("appid") != "test-key" {
			t.Errorf("missing api key in request")
		}
		w.Write([]byte(`{
			"current": {"temp": 21.5, "feels_like": 20.1, "humidity": 40, "wind_speed": 3.2,
				"sunrise": 1700000000, "sunset": 1700040000,
				"weather": [{"description": "clear sky"}]},
			"daily": [
				{"temp": {"day": 22}, "weather": [{"description": "clear sky"}], "summary": "Sunny all day"},
				{"temp": {"day": 18}, "weather": [{"description": "light rain"}], "summary": "Showers"}
			]
		}`))
	}))
	defer srv.Close()

	oldEndpoint := weatherEndpoint
	weatherEndpoint = srv.URL
	defer func() { weatherEndpoint = oldEndpoint }()

	w := &Weather{deps: Deps{WeatherAPIKey: "test-key"}}
	outcome, err := w.Execute(context.Background(),
		map[string]any{"latitude": "52.52", "longitude": "13.40"}, Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"clear sky", "Sunny all day", "Showers", "21.5°C"} {
		if !strings.Contains(outcome.Text, want) {
			t.Errorf("report missing %q:\n%s", want, outcome.Text)
		}
	}
}

func TestWeatherMissingLocation(t *testing.T) {
	w := &Weather{deps: Deps{WeatherAPIKey: "k"}}
	if _, err := w.Execute(context.Background(), map[string]any{}, Context{}); err == nil {
		t.Error("missing coordinates should fail")
	}
}

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "loqui-test" {
			t.Errorf("User-Agent = %q, want loqui-test", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`[{"display_name": "Berlin, Germany", "lat": "52.52", "lon": "13.40"}]`))
	}))
	defer srv.Close()

	oldEndpoint := geocodeEndpoint
	geocodeEndpoint = srv.URL
	defer func() { geocodeEndpoint = oldEndpoint }()

	g := &Geocode{deps: Deps{UserAgent: "loqui-test"}}
	outcome, err := g.Execute(context.Background(), map[string]any{"location": "Berlin"}, Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(outcome.Text, "Berlin, Germany") || !strings.Contains(outcome.Text, "52.52") {
		t.Errorf("unexpected geocode output: %q", outcome.Text)
	}
}

func TestWebsearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"title": "First", "url": "https://a.example", "description": "alpha"},
			{"title": "Second", "url": "https://b.example", "description": "beta"}
		]`))
	}))
	defer srv.Close()

	oldEndpoint := websearchEndpoint
	websearchEndpoint = srv.URL
	defer func() { websearchEndpoint = oldEndpoint }()

	ws := &Websearch{deps: Deps{UserAgent: "loqui-test"}}
	outcome, err := ws.Execute(context.Background(), map[string]any{"query": "go testing"}, Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"First", "https://b.example", "beta"} {
		if !strings.Contains(outcome.Text, want) {
			t.Errorf("results missing %q:\n%s", want, outcome.Text)
		}
	}
}

func TestWebrequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><style>body{}</style></head>
			<body><h1>Hello</h1><p>Some   text with a <a href="https://x.example">link</a>.</p>
			<script>ignore()</script></body></html>`))
	}))
	defer srv.Close()

	wr := &Webrequest{deps: Deps{UserAgent: "loqui-test"}}
	outcome, err := wr.Execute(context.Background(), map[string]any{"url": srv.URL}, Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(outcome.Text, "Hello") {
		t.Errorf("page text missing: %q", outcome.Text)
	}
	if !strings.Contains(outcome.Text, "link (https://x.example)") {
		t.Errorf("link annotation missing: %q", outcome.Text)
	}
	if strings.Contains(outcome.Text, "ignore()") || strings.Contains(outcome.Text, "body{}") {
		t.Errorf("script/style leaked into text: %q", outcome.Text)
	}
}

type fakeRooms struct {
	createdName string
	invited     string
}

func (f *fakeRooms) CreateRoomForUser(ctx context.Context, name, userID string) (string, error) {
	f.createdName = name
	f.invited = userID
	return "!new:example.com", nil
}

func TestNewRoomStopsProcessing(t *testing.T) {
	rooms := &fakeRooms{}
	nr := &NewRoom{rooms: rooms}

	outcome, err := nr.Execute(context.Background(),
		map[string]any{"name": "planning"}, Context{UserID: "@alice:example.com"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Kind != OutcomeStop {
		t.Fatalf("outcome kind = %v, want OutcomeStop", outcome.Kind)
	}
	if !strings.Contains(outcome.Text, "!new:example.com") {
		t.Errorf("answer missing room id: %q", outcome.Text)
	}
	if rooms.createdName != "planning" || rooms.invited != "@alice:example.com" {
		t.Errorf("room creation args: name=%q invited=%q", rooms.createdName, rooms.invited)
	}
}
