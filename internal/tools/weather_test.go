package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWeatherExecute(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Tokyo, JP" {
			t.Errorf("unexpected geocode query %q", got)
		}
		fmt.Fprint(w, `[{"lat":"35.68","lon":"139.69","display_name":"Tokyo, Japan"}]`)
	}))
	defer geocode.Close()

	weather := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("lat") != "35.68" || q.Get("lon") != "139.69" {
			t.Errorf("unexpected coordinates: lat=%s lon=%s", q.Get("lat"), q.Get("lon"))
		}
		if q.Get("appid") != "wk" {
			t.Errorf("api key not forwarded")
		}
		fmt.Fprint(w, `{
			"weather":[{"description":"light rain"}],
			"main":{"temp":18.3,"feels_like":17.9,"humidity":82},
			"wind":{"speed":4.2},
			"name":"Tokyo"
		}`)
	}))
	defer weather.Close()

	tool := NewWeather("wk")
	tool.geocodeURL = geocode.URL
	tool.weatherURL = weather.URL

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"Tokyo","country_code":"JP"}`))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Tokyo, Japan", "light rain", "18.3", "82%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestWeatherUnknownCity(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer geocode.Close()

	tool := NewWeather("wk")
	tool.geocodeURL = geocode.URL

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"Atlantis"}`))
	if err == nil {
		t.Fatal("expected error for unknown city")
	}
	if !strings.Contains(err.Error(), "Atlantis") {
		t.Errorf("error should name the city: %v", err)
	}
}

func TestWeatherMissingCity(t *testing.T) {
	tool := NewWeather("wk")
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing city")
	}
}
