package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/weatherpro/weather-service/internal/cache"
	"github.com/weatherpro/weather-service/internal/client"
	"github.com/weatherpro/weather-service/internal/models"
	"github.com/weatherpro/weather-service/internal/service"
)

// stubProvider returns scripted payloads for handler tests.
type stubProvider struct {
	current     client.CurrentPayload
	forecast    client.ForecastPayload
	err         error
	validateErr error
}

func (s *stubProvider) CurrentByName(ctx context.Context, city string) (client.CurrentPayload, error) {
	return s.current, s.err
}

func (s *stubProvider) CurrentByCoords(ctx context.Context, lat, lon float64) (client.CurrentPayload, error) {
	return s.current, s.err
}

func (s *stubProvider) ForecastByName(ctx context.Context, city string) (client.ForecastPayload, error) {
	return s.forecast, s.err
}

func (s *stubProvider) ValidateAPIKey(ctx context.Context) error {
	return s.validateErr
}

func currentPayload() client.CurrentPayload {
	var p client.CurrentPayload
	p.Name = "Seattle"
	p.Sys.Country = "US"
	p.Main.Temp = 18.0
	p.Main.FeelsLike = 17.0
	p.Main.Humidity = 55
	p.Main.Pressure = 1015
	p.Wind.Speed = 3.0
	p.Clouds.All = 10
	p.Weather = []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	}{{Description: "clear sky", Icon: "01d"}}
	return p
}

// newTestRouter builds a router wired the same way main does, minus the
// rate limiting middleware.
func newTestRouter(provider client.WeatherProvider, cachePing func() error) (*mux.Router, *Handler) {
	logger := zap.NewNop()
	svc := service.NewWeatherService(provider, cache.NewInMemoryCache(), logger, time.Hour, 2*time.Hour, false, 0)
	h := NewHandler(svc, provider, logger, cachePing)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/weather", h.GetCurrentByCoords).Methods(http.MethodGet).Queries("lat", "{lat}", "lon", "{lon}")
	router.HandleFunc("/weather/{city}", h.GetCurrentByCity).Methods(http.MethodGet)
	router.HandleFunc("/forecast/{city}", h.GetForecast).Methods(http.MethodGet)
	router.HandleFunc("/cache/{city}", h.InvalidateCity).Methods(http.MethodDelete)
	return router, h
}

func doRequest(router *mux.Router, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetCurrentByCity_OK(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{current: currentPayload()}, nil)

	rec := doRequest(router, http.MethodGet, "/weather/Seattle")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got models.WeatherRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.City != "Seattle" || got.TemperatureC != 18 || got.Description != "Clear sky" {
		t.Errorf("record = %+v", got)
	}
}

func TestGetCurrentByCity_TextFormat(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{current: currentPayload()}, nil)

	rec := doRequest(router, http.MethodGet, "/weather/Seattle?format=text")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if !strings.Contains(rec.Body.String(), "Weather in Seattle, US") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestGetCurrentByCity_InvalidCity(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{current: currentPayload()}, nil)

	tests := []string{
		"/weather/City123",
		"/weather/x",
	}
	for _, target := range tests {
		rec := doRequest(router, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
			continue
		}
		if code := errorCode(t, rec); code != "INVALID_CITY" {
			t.Errorf("GET %s error code = %q, want INVALID_CITY", target, code)
		}
	}
}

func TestGetCurrentByCity_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			err:        client.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "LOCATION_NOT_FOUND",
		},
		{
			name:       "timeout",
			err:        fmt.Errorf("%w: no response after 3 attempts", client.ErrTimeout),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "UPSTREAM_TIMEOUT",
		},
		{
			name:       "upstream",
			err:        fmt.Errorf("%w: HTTP 503", client.ErrUpstream),
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
		{
			name:       "invalid api key",
			err:        client.ErrInvalidAPIKey,
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := newTestRouter(&stubProvider{err: tc.err}, nil)
			rec := doRequest(router, http.MethodGet, "/weather/Seattle")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", rec.Code, tc.wantStatus, rec.Body)
			}
			if code := errorCode(t, rec); code != tc.wantCode {
				t.Errorf("error code = %q, want %q", code, tc.wantCode)
			}
		})
	}
}

func TestGetCurrentByCoords_OK(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{current: currentPayload()}, nil)

	rec := doRequest(router, http.MethodGet, "/weather?lat=47.61&lon=-122.33")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestGetCurrentByCoords_Invalid(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{current: currentPayload()}, nil)

	tests := []string{
		"/weather?lat=abc&lon=10",
		"/weather?lat=95&lon=10",
		"/weather?lat=45&lon=185",
		"/weather?lat=-91&lon=0",
	}
	for _, target := range tests {
		rec := doRequest(router, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
			continue
		}
		if code := errorCode(t, rec); code != "INVALID_COORDINATES" {
			t.Errorf("GET %s error code = %q, want INVALID_COORDINATES", target, code)
		}
	}
}

func TestGetForecast_OK(t *testing.T) {
	var fp client.ForecastPayload
	var sample client.ForecastSample
	sample.DtTxt = "2026-09-01 12:00:00"
	sample.Main.Temp = 21.0
	sample.Main.TempMin = 15.0
	sample.Main.TempMax = 24.0
	sample.Main.Humidity = 60
	sample.Wind.Speed = 2.5
	sample.Weather = []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	}{{Description: "scattered clouds", Icon: "03d"}}
	fp.List = append(fp.List, sample)

	router, _ := newTestRouter(&stubProvider{forecast: fp}, nil)

	rec := doRequest(router, http.MethodGet, "/forecast/Seattle")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	var days []models.ForecastDay
	if err := json.Unmarshal(rec.Body.Bytes(), &days); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(days) != 1 || days[0].Date != "2026-09-01" {
		t.Errorf("days = %+v", days)
	}
}

func TestGetForecast_EmptyIsJSONArray(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{}, nil)

	rec := doRequest(router, http.MethodGet, "/forecast/Seattle")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestInvalidateCity(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{current: currentPayload()}, nil)

	rec := doRequest(router, http.MethodDelete, "/cache/Seattle")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = doRequest(router, http.MethodDelete, "/cache/bad%3Bcity")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid city status = %d, want 400", rec.Code)
	}
}

func TestGetHealth_Healthy(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{}, func() error { return nil })

	rec := doRequest(router, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if body.Checks["weatherApi"] != "healthy" || body.Checks["cache"] != "healthy" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestGetHealth_Degraded(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{validateErr: client.ErrInvalidAPIKey}, nil)

	rec := doRequest(router, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	router, h := newTestRouter(&stubProvider{}, nil)
	h.SetShuttingDown(true)

	rec := doRequest(router, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "shutting-down") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestGetHealth_UnhealthyCache(t *testing.T) {
	router, _ := newTestRouter(&stubProvider{}, func() error { return errors.New("connect refused") })

	rec := doRequest(router, http.MethodGet, "/health")
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["cache"] != "unhealthy" {
		t.Errorf("checks = %v", body.Checks)
	}
}

// errorCode extracts the code field from the error envelope.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"requestId"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body)
	}
	return body.Error.Code
}
