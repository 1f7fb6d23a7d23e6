package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	defaultIPLocateURL = "https://ipapi.co/json/"

	defaultWeatherTimeout = 10 * time.Second
)

var (
	detailRe      = regexp.MustCompile(`(?i)\b(detail|detailed|report|full|forecast)\b`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	weatherFillRe = regexp.MustCompile(`(?i)\b(weather|forecast|report|today|tomorrow|yesterday|detailed|detail|full|show|give|about|in|of|at|for|the)\b`)
	nonLetterRe   = regexp.MustCompile(`[^A-Za-z\s\-]`)
)

// Weather answers weather queries against the Open-Meteo forecast and
// geocoding APIs, falling back to IP geolocation when the query names no
// city.
type Weather struct {
	httpClient  *http.Client
	geocodeURL  string
	forecastURL string
	ipLocateURL string
	clock       func() time.Time
}

// WeatherOption configures a [Weather] module.
type WeatherOption func(*Weather)

// WithWeatherHTTPClient overrides the HTTP client.
func WithWeatherHTTPClient(client *http.Client) WeatherOption {
	return func(w *Weather) { w.httpClient = client }
}

// WithWeatherEndpoints overrides the upstream API URLs, for tests. Empty
// values keep the defaults.
func WithWeatherEndpoints(geocode, forecast, ipLocate string) WeatherOption {
	return func(w *Weather) {
		if geocode != "" {
			w.geocodeURL = geocode
		}
		if forecast != "" {
			w.forecastURL = forecast
		}
		if ipLocate != "" {
			w.ipLocateURL = ipLocate
		}
	}
}

// WithWeatherClock overrides the time source, for tests.
func WithWeatherClock(clock func() time.Time) WeatherOption {
	return func(w *Weather) { w.clock = clock }
}

// NewWeather creates a weather module.
func NewWeather(opts ...WeatherOption) *Weather {
	w := &Weather{
		httpClient:  &http.Client{Timeout: defaultWeatherTimeout},
		geocodeURL:  defaultGeocodeURL,
		forecastURL: defaultForecastURL,
		ipLocateURL: defaultIPLocateURL,
		clock:       time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Query answers one weather query: current conditions by default, a daily
// report when the query asks for detail or names a date other than today.
func (w *Weather) Query(ctx context.Context, query string) (string, error) {
	loc, err := w.resolveLocation(ctx, query)
	if err != nil {
		return "", err
	}

	date, hasDate := w.extractDate(query)
	detailed := detailRe.MatchString(query)

	if detailed || hasDate {
		return w.dailyReport(ctx, loc, date, detailed)
	}
	return w.currentConditions(ctx, loc)
}

// extractDate pulls a target date out of the query: yesterday, tomorrow,
// an ISO date, or today when nothing else matches. hasDate is false only
// for the implicit today.
func (w *Weather) extractDate(query string) (date time.Time, hasDate bool) {
	lower := strings.ToLower(query)
	today := w.clock()
	switch {
	case strings.Contains(lower, "yesterday"):
		return today.AddDate(0, 0, -1), true
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	}
	if m := isoDateRe.FindString(query); m != "" {
		if d, err := time.Parse("2006-01-02", m); err == nil {
			return d, true
		}
	}
	return today, false
}

// resolveLocation geocodes the city named in the query, or locates the host
// by IP when the query names none.
func (w *Weather) resolveLocation(ctx context.Context, query string) (location, error) {
	if city := extractCity(query); city != "" {
		loc, err := w.geocode(ctx, city)
		if err == nil {
			return loc, nil
		}
		if ctx.Err() != nil {
			return location{}, ctx.Err()
		}
	}
	return w.locateByIP(ctx)
}

// extractCity strips weather filler words from the query and title-cases
// what remains. Empty means the query named no place.
func extractCity(query string) string {
	s := weatherFillRe.ReplaceAllString(query, " ")
	s = nonLetterRe.ReplaceAllString(s, " ")
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(word string) string {
	r := []rune(strings.ToLower(word))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

func (w *Weather) geocode(ctx context.Context, city string) (location, error) {
	params := url.Values{
		"name":     {city},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}
	var out struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := w.getJSON(ctx, w.geocodeURL+"?"+params.Encode(), &out); err != nil {
		return location{}, fmt.Errorf("chatbot: geocode %q: %w", city, err)
	}
	if len(out.Results) == 0 {
		return location{}, fmt.Errorf("chatbot: no location found for %q", city)
	}
	r := out.Results[0]
	return location{Name: r.Name, Latitude: r.Latitude, Longitude: r.Longitude}, nil
}

func (w *Weather) locateByIP(ctx context.Context) (location, error) {
	var out struct {
		City      string  `json:"city"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := w.getJSON(ctx, w.ipLocateURL, &out); err != nil {
		return location{}, fmt.Errorf("chatbot: locate by IP: %w", err)
	}
	if out.City == "" {
		return location{}, fmt.Errorf("chatbot: IP lookup returned no city")
	}
	return location{Name: out.City, Latitude: out.Latitude, Longitude: out.Longitude}, nil
}

func (w *Weather) currentConditions(ctx context.Context, loc location) (string, error) {
	params := w.baseParams(loc)
	params.Set("current_weather", "true")
	params.Set("hourly", "relativehumidity_2m")
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")

	var out struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			Windspeed   float64 `json:"windspeed"`
		} `json:"current_weather"`
		Hourly struct {
			RelativeHumidity []float64 `json:"relativehumidity_2m"`
		} `json:"hourly"`
		Daily struct {
			TemperatureMax   []float64 `json:"temperature_2m_max"`
			TemperatureMin   []float64 `json:"temperature_2m_min"`
			PrecipitationSum []float64 `json:"precipitation_sum"`
		} `json:"daily"`
	}
	if err := w.getJSON(ctx, w.forecastURL+"?"+params.Encode(), &out); err != nil {
		return "", fmt.Errorf("chatbot: fetch current weather: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🌤️ Weather in %s:\n", loc.Name)
	fmt.Fprintf(&b, "Temperature: %.1f°C\n", out.CurrentWeather.Temperature)
	fmt.Fprintf(&b, "Wind: %.1f km/h", out.CurrentWeather.Windspeed)
	if len(out.Hourly.RelativeHumidity) > 0 {
		fmt.Fprintf(&b, "\nHumidity: %.0f%%", out.Hourly.RelativeHumidity[0])
	}
	if len(out.Daily.TemperatureMax) > 0 && len(out.Daily.TemperatureMin) > 0 {
		fmt.Fprintf(&b, "\nToday: %.1f°C to %.1f°C", out.Daily.TemperatureMin[0], out.Daily.TemperatureMax[0])
	}
	if len(out.Daily.PrecipitationSum) > 0 && out.Daily.PrecipitationSum[0] > 0 {
		fmt.Fprintf(&b, "\nPrecipitation: %.1f mm", out.Daily.PrecipitationSum[0])
	}
	return b.String(), nil
}

func (w *Weather) dailyReport(ctx context.Context, loc location, date time.Time, detailed bool) (string, error) {
	day := date.Format("2006-01-02")
	params := w.baseParams(loc)
	params.Set("start_date", day)
	params.Set("end_date", day)
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,sunrise,sunset")
	if detailed {
		params.Set("hourly", "temperature_2m,relativehumidity_2m,windspeed_10m,windgusts_10m,precipitation")
	}

	var out struct {
		Daily struct {
			TemperatureMax   []float64 `json:"temperature_2m_max"`
			TemperatureMin   []float64 `json:"temperature_2m_min"`
			PrecipitationSum []float64 `json:"precipitation_sum"`
			Sunrise          []string  `json:"sunrise"`
			Sunset           []string  `json:"sunset"`
		} `json:"daily"`
		Hourly struct {
			Temperature      []float64 `json:"temperature_2m"`
			RelativeHumidity []float64 `json:"relativehumidity_2m"`
			Windspeed        []float64 `json:"windspeed_10m"`
			Windgusts        []float64 `json:"windgusts_10m"`
			Precipitation    []float64 `json:"precipitation"`
		} `json:"hourly"`
	}
	if err := w.getJSON(ctx, w.forecastURL+"?"+params.Encode(), &out); err != nil {
		return "", fmt.Errorf("chatbot: fetch forecast for %s: %w", day, err)
	}
	if len(out.Daily.TemperatureMax) == 0 || len(out.Daily.TemperatureMin) == 0 {
		return "", fmt.Errorf("chatbot: no forecast data for %s", day)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 Weather in %s on %s:\n", loc.Name, day)
	fmt.Fprintf(&b, "High: %.1f°C, Low: %.1f°C", out.Daily.TemperatureMax[0], out.Daily.TemperatureMin[0])
	if len(out.Daily.PrecipitationSum) > 0 {
		fmt.Fprintf(&b, "\nPrecipitation: %.1f mm", out.Daily.PrecipitationSum[0])
	}
	if len(out.Daily.Sunrise) > 0 && len(out.Daily.Sunset) > 0 {
		fmt.Fprintf(&b, "\nSunrise: %s, Sunset: %s", clockOf(out.Daily.Sunrise[0]), clockOf(out.Daily.Sunset[0]))
	}
	if detailed && len(out.Hourly.Temperature) > 0 {
		fmt.Fprintf(&b, "\nHourly range: %.1f°C to %.1f°C", minOf(out.Hourly.Temperature), maxOf(out.Hourly.Temperature))
		if len(out.Hourly.Windspeed) > 0 {
			fmt.Fprintf(&b, "\nPeak wind: %.1f km/h", maxOf(out.Hourly.Windspeed))
		}
		if len(out.Hourly.Windgusts) > 0 {
			fmt.Fprintf(&b, "\nPeak gusts: %.1f km/h", maxOf(out.Hourly.Windgusts))
		}
		if len(out.Hourly.RelativeHumidity) > 0 {
			fmt.Fprintf(&b, "\nHumidity: %.0f%% to %.0f%%", minOf(out.Hourly.RelativeHumidity), maxOf(out.Hourly.RelativeHumidity))
		}
	}
	return b.String(), nil
}

func (w *Weather) baseParams(loc location) url.Values {
	return url.Values{
		"latitude":  {fmt.Sprintf("%.4f", loc.Latitude)},
		"longitude": {fmt.Sprintf("%.4f", loc.Longitude)},
		"timezone":  {"auto"},
	}
}

func (w *Weather) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// clockOf trims an ISO timestamp like 2026-03-14T06:45 down to 06:45.
func clockOf(iso string) string {
	if i := strings.IndexByte(iso, 'T'); i >= 0 && i+1 < len(iso) {
		return iso[i+1:]
	}
	return iso
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
