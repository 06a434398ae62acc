package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Weather reports current conditions for a named location. The location is
// geocoded first so users can ask about cities, addresses, or landmarks.
type Weather struct {
	apiKey     string
	geocodeURL string
	weatherURL string
	client     *http.Client
}

// NewWeather creates the weather tool.
func NewWeather(apiKey string) *Weather {
	return &Weather{
		apiKey:     apiKey,
		geocodeURL: "https://nominatim.openstreetmap.org/search",
		weatherURL: "https://api.openweathermap.org/data/2.5/weather",
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *Weather) Name() string { return "get_weather" }
func (w *Weather) Description() string {
	return "Get current weather information for a city. City names are converted to coordinates automatically."
}
func (w *Weather) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"city": {"type": "string", "description": "City name (e.g., 'London', 'New York', 'Tokyo')"},
			"country_code": {"type": "string", "description": "Optional two-letter country code for better accuracy (e.g., 'GB', 'US', 'JP')"}
		},
		"required": ["city"]
	}`)
}

type geocodeResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type weatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
}

func (w *Weather) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		City        string `json:"city"`
		CountryCode string `json:"country_code"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.City == "" {
		return "", fmt.Errorf("city is required")
	}
	query := params.City
	if params.CountryCode != "" {
		query = params.City + ", " + params.CountryCode
	}

	place, err := w.geocode(ctx, query)
	if err != nil {
		return "", err
	}

	u, _ := url.Parse(w.weatherURL)
	q := u.Query()
	q.Set("lat", place.Lat)
	q.Set("lon", place.Lon)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	body, err := w.get(ctx, u.String())
	if err != nil {
		return "", fmt.Errorf("weather lookup: %w", err)
	}

	var report weatherResponse
	if err := json.Unmarshal(body, &report); err != nil {
		return "", fmt.Errorf("parse weather response: %w", err)
	}

	conditions := "unknown conditions"
	if len(report.Weather) > 0 {
		conditions = report.Weather[0].Description
	}
	return fmt.Sprintf("Weather in %s: %s, %.1f°C (feels like %.1f°C), humidity %d%%, wind %.1f m/s",
		place.DisplayName, conditions,
		report.Main.Temp, report.Main.FeelsLike,
		report.Main.Humidity, report.Wind.Speed), nil
}

func (w *Weather) geocode(ctx context.Context, location string) (geocodeResult, error) {
	u, _ := url.Parse(w.geocodeURL)
	q := u.Query()
	q.Set("q", location)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	body, err := w.get(ctx, u.String())
	if err != nil {
		return geocodeResult{}, fmt.Errorf("geocode %q: %w", location, err)
	}

	var results []geocodeResult
	if err := json.Unmarshal(body, &results); err != nil {
		return geocodeResult{}, fmt.Errorf("parse geocode response: %w", err)
	}
	if len(results) == 0 {
		return geocodeResult{}, fmt.Errorf("no location found for %q", location)
	}
	return results[0], nil
}

func (w *Weather) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// Nominatim's usage policy requires an identifying agent.
	req.Header.Set("User-Agent", "chatrelay/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
