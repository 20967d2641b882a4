package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/weatherpro/weather-service/internal/observability"
)

// WeatherProvider fetches raw payloads from the upstream weather API.
// Implementations classify failures into the package sentinel errors so
// callers can branch with errors.Is.
type WeatherProvider interface {
	CurrentByName(ctx context.Context, city string) (CurrentPayload, error)
	CurrentByCoords(ctx context.Context, lat, lon float64) (CurrentPayload, error)
	ForecastByName(ctx context.Context, city string) (ForecastPayload, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	// ErrInvalidAPIKey marks a rejected or missing API key.
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrNotFound marks a location the upstream does not know. Permanent, never retried.
	ErrNotFound = errors.New("location not found")
	// ErrUpstream marks an unexpected non-2xx upstream status.
	ErrUpstream = errors.New("upstream error")
	// ErrTimeout marks an exhausted transport retry budget.
	ErrTimeout = errors.New("upstream timeout")
)

// errTransient wraps transport-level failures that are worth retrying.
var errTransient = errors.New("transient transport failure")

// CurrentPayload is the raw OpenWeatherMap current-weather response.
type CurrentPayload struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
}

// ForecastPayload is the raw OpenWeatherMap 5-day/3-hour forecast response.
type ForecastPayload struct {
	List []ForecastSample `json:"list"`
}

// ForecastSample is a single 3-hourly forecast sample. DtTxt is the
// upstream local timestamp in "2006-01-02 15:04:05" form.
type ForecastSample struct {
	DtTxt string `json:"dt_txt"`
	Main  struct {
		Temp     float64 `json:"temp"`
		TempMin  float64 `json:"temp_min"`
		TempMax  float64 `json:"temp_max"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// OpenWeatherClient implements WeatherProvider against the OpenWeatherMap
// HTTP API with per-attempt timeouts and bounded retry of transport failures.
type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	lang           string
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	httpClient     *http.Client
}

// NewOpenWeatherClient creates a client with the default retry policy
// (3 attempts, 100ms base backoff capped at 2s).
func NewOpenWeatherClient(apiKey, baseURL, lang string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, baseURL, lang, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewOpenWeatherClientWithRetry creates a client with an explicit retry
// budget. retryAttempts is the total number of attempts, not the number
// of retries after the first try.
func NewOpenWeatherClientWithRetry(apiKey, baseURL, lang string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	if lang == "" {
		lang = "en"
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		baseURL:        baseURL,
		lang:           lang,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// CurrentByName fetches current weather for a city name.
func (c *OpenWeatherClient) CurrentByName(ctx context.Context, city string) (CurrentPayload, error) {
	params := url.Values{}
	params.Set("q", city)

	var payload CurrentPayload
	if err := c.getJSON(ctx, "weather", params, &payload); err != nil {
		return CurrentPayload{}, err
	}
	return payload, nil
}

// CurrentByCoords fetches current weather for a latitude/longitude pair.
func (c *OpenWeatherClient) CurrentByCoords(ctx context.Context, lat, lon float64) (CurrentPayload, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	var payload CurrentPayload
	if err := c.getJSON(ctx, "weather", params, &payload); err != nil {
		return CurrentPayload{}, err
	}
	return payload, nil
}

// ForecastByName fetches the 5-day/3-hour forecast for a city name.
func (c *OpenWeatherClient) ForecastByName(ctx context.Context, city string) (ForecastPayload, error) {
	params := url.Values{}
	params.Set("q", city)

	var payload ForecastPayload
	if err := c.getJSON(ctx, "forecast", params, &payload); err != nil {
		return ForecastPayload{}, err
	}
	return payload, nil
}

// ValidateAPIKey probes the upstream with a known location to verify the
// configured key. Used by health checks.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	var payload CurrentPayload
	err := c.getJSON(ctx, "weather", params, &payload)
	if errors.Is(err, ErrInvalidAPIKey) {
		return err
	}
	if err != nil {
		return fmt.Errorf("validation probe: %w", err)
	}
	return nil
}

// getJSON performs a classified GET with bounded retry. Only transport
// failures are retried; 404 and other non-2xx statuses surface on the
// first attempt. An exhausted retry budget surfaces ErrTimeout.
func (c *OpenWeatherClient) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doRequest(ctx, endpoint, params, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errTransient) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	return fmt.Errorf("%w: no response after %d attempts: %v", ErrTimeout, c.retryAttempts, lastErr)
}

// doRequest performs a single attempt and classifies the outcome.
func (c *OpenWeatherClient) doRequest(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)
		return fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %v", errTransient, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// classifyStatus maps an HTTP status to a sentinel error, or nil for 2xx.
func classifyStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstream, statusCode)
	}
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	base = base.JoinPath(endpoint)

	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	params.Set("lang", c.lang)
	base.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// calculateBackoff returns the exponential backoff delay with jitter for
// a retry attempt (attempt >= 1).
func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
