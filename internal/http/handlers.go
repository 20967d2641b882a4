package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/weatherpro/weather-service/internal/client"
	"github.com/weatherpro/weather-service/internal/format"
	"github.com/weatherpro/weather-service/internal/observability"
	"github.com/weatherpro/weather-service/internal/service"
	"github.com/weatherpro/weather-service/internal/validation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather      *service.WeatherService
	provider     client.WeatherProvider
	logger       *zap.Logger
	cachePing    func() error // nil when the backend has no ping
	shuttingDown atomic.Bool
}

// NewHandler returns a new Handler. cachePing, when non-nil, is used by
// the health endpoint to report cache reachability.
func NewHandler(weather *service.WeatherService, provider client.WeatherProvider, logger *zap.Logger, cachePing func() error) *Handler {
	return &Handler{
		weather:   weather,
		provider:  provider,
		logger:    logger,
		cachePing: cachePing,
	}
}

// SetShuttingDown flips the health endpoint to shutting-down. Call when
// the process starts draining.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// GetCurrentByCity handles GET /weather/{city}.
func (h *Handler) GetCurrentByCity(w http.ResponseWriter, r *http.Request) {
	city, err := validation.SanitizeCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	rec, err := h.weather.CurrentByName(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if wantsText(r) {
		writeText(w, format.Current(rec, false))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetCurrentByCoords handles GET /weather?lat=..&lon=..
func (h *Handler) GetCurrentByCoords(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat and lon query parameters are required")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat must be in [-90,90], lon in [-180,180]")
		return
	}

	rec, err := h.weather.CurrentByCoords(r.Context(), lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if wantsText(r) {
		writeText(w, format.Current(rec, false))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetForecast handles GET /forecast/{city}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, err := validation.SanitizeCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	days, err := h.weather.ForecastByName(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if wantsText(r) {
		writeText(w, format.Forecast(city, days))
		return
	}
	writeJSON(w, http.StatusOK, days)
}

// InvalidateCity handles DELETE /cache/{city}: force-refresh by dropping
// every cached form for one city.
func (h *Handler) InvalidateCity(w http.ResponseWriter, r *http.Request) {
	city, err := validation.SanitizeCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	h.weather.InvalidateCity(r.Context(), city)
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := make(map[string]string)

	switch {
	case h.shuttingDown.Load():
		status = "shutting-down"
		statusCode = http.StatusServiceUnavailable
	default:
		if err := h.provider.ValidateAPIKey(r.Context()); err != nil {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			checks["weatherApi"] = "unhealthy"
		} else {
			checks["weatherApi"] = "healthy"
		}
	}
	if h.cachePing != nil {
		if h.cachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-service",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func wantsText(r *http.Request) bool {
	return r.URL.Query().Get("format") == "text"
}

// writeServiceError maps the classified error kinds onto HTTP statuses.
// Only the three classified kinds plus request cancellation leak to the
// caller; everything else is a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	observability.WeatherErrorsTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
	if logger := LoggerFromContext(r.Context()); logger != nil {
		logger.Warn("weather request failed", zap.Error(err))
	}

	switch {
	case errors.Is(err, client.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "location not recognized")
	case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "weather service temporarily unavailable")
	case errors.Is(err, client.ErrUpstream), errors.Is(err, client.ErrInvalidAPIKey):
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", "weather service temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// writeError writes the standard error envelope with code, message and
// the request correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeThrottled answers a throttle denial with the computed wait.
func writeThrottled(w http.ResponseWriter, r *http.Request, waitSeconds int) {
	writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error": map[string]interface{}{
			"code":              "RATE_LIMITED",
			"message":           "please wait before the next request",
			"retryAfterSeconds": waitSeconds,
			"requestId":         CorrelationIDFromContext(r.Context()),
		},
	})
}
