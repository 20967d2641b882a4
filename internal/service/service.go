package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/weatherpro/weather-service/internal/cache"
	"github.com/weatherpro/weather-service/internal/client"
	"github.com/weatherpro/weather-service/internal/models"
	"github.com/weatherpro/weather-service/internal/observability"
)

// Cache key namespaces. One logical namespace per operation kind.
const (
	currentNamespace  = "weather"
	coordsNamespace   = "weather_coords"
	forecastNamespace = "forecast"
)

// noonSample is the upstream-local time of day whose forecast sample
// represents a calendar day. Days without it are skipped, not approximated.
const noonSample = "12:00:00"

// maxForecastDays caps a forecast result; the earliest days win when the
// upstream covers more distinct dates.
const maxForecastDays = 5

// WeatherService composes the cache and the upstream provider into
// read-through operations. Cache hits never call upstream; only
// successful fetches are cached; classified provider errors propagate
// unchanged. Cache failures degrade to pass-through and are never
// surfaced to callers.
type WeatherService struct {
	provider    client.WeatherProvider
	cache       cache.Cache
	logger      *zap.Logger
	currentTTL  time.Duration
	forecastTTL time.Duration
	flight      *flightGroup // nil when single-flight is disabled
}

// NewWeatherService creates a WeatherService. currentTTL and forecastTTL
// are the per-operation cache lifetimes. When coalesceEnabled, concurrent
// cache misses for the same key share one upstream call, with waiters
// bounded by coalesceTimeout.
func NewWeatherService(provider client.WeatherProvider, cacheStore cache.Cache, logger *zap.Logger, currentTTL, forecastTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *WeatherService {
	var flight *flightGroup
	if coalesceEnabled && coalesceTimeout > 0 {
		flight = newFlightGroup(coalesceTimeout)
	}
	return &WeatherService{
		provider:    provider,
		cache:       cacheStore,
		logger:      logger,
		currentTTL:  currentTTL,
		forecastTTL: forecastTTL,
		flight:      flight,
	}
}

// CurrentByName returns the current weather for a city, serving from
// cache within the TTL window.
func (s *WeatherService) CurrentByName(ctx context.Context, city string) (models.WeatherRecord, error) {
	city = normalizeCity(city)
	key := cache.Key(currentNamespace, city)
	observability.WeatherQueriesTotal.Inc()

	var rec models.WeatherRecord
	if s.cacheGet(ctx, key, &rec) {
		observability.CacheHitsTotal.WithLabelValues("current").Inc()
		s.logger.Debug("cache hit", zap.String("key", key))
		return rec, nil
	}

	v, err := s.fetch(ctx, key, func() (interface{}, error) {
		payload, err := s.provider.CurrentByName(ctx, city)
		if err != nil {
			return nil, err
		}
		return buildRecord(payload), nil
	})
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("current weather for %s: %w", city, err)
	}
	rec = v.(models.WeatherRecord)
	s.cacheSet(ctx, key, rec, s.currentTTL)
	return rec, nil
}

// CurrentByCoords returns the current weather for a coordinate pair.
// Coordinates are rounded to 2 decimal places for the cache key, so
// lookups within roughly a kilometer share one entry.
func (s *WeatherService) CurrentByCoords(ctx context.Context, lat, lon float64) (models.WeatherRecord, error) {
	latKey := fmt.Sprintf("%.2f", lat)
	lonKey := fmt.Sprintf("%.2f", lon)
	key := cache.Key(coordsNamespace, latKey, lonKey)
	observability.WeatherQueriesTotal.Inc()

	var rec models.WeatherRecord
	if s.cacheGet(ctx, key, &rec) {
		observability.CacheHitsTotal.WithLabelValues("coords").Inc()
		s.logger.Debug("cache hit", zap.String("key", key))
		return rec, nil
	}

	v, err := s.fetch(ctx, key, func() (interface{}, error) {
		payload, err := s.provider.CurrentByCoords(ctx, lat, lon)
		if err != nil {
			return nil, err
		}
		return buildRecord(payload), nil
	})
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("current weather at %s,%s: %w", latKey, lonKey, err)
	}
	rec = v.(models.WeatherRecord)
	s.cacheSet(ctx, key, rec, s.currentTTL)
	return rec, nil
}

// ForecastByName returns up to 5 days of forecast for a city, one entry
// per calendar date in ascending order. An upstream response with no
// usable samples yields an empty slice, not an error.
func (s *WeatherService) ForecastByName(ctx context.Context, city string) ([]models.ForecastDay, error) {
	city = normalizeCity(city)
	key := cache.Key(forecastNamespace, city)
	observability.WeatherQueriesTotal.Inc()

	var days []models.ForecastDay
	if s.cacheGet(ctx, key, &days) {
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		s.logger.Debug("cache hit", zap.String("key", key))
		return days, nil
	}

	v, err := s.fetch(ctx, key, func() (interface{}, error) {
		payload, err := s.provider.ForecastByName(ctx, city)
		if err != nil {
			return nil, err
		}
		return buildForecast(payload), nil
	})
	if err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", city, err)
	}
	days = v.([]models.ForecastDay)
	s.cacheSet(ctx, key, days, s.forecastTTL)
	return days, nil
}

// InvalidateCity removes every cached form for one city (current weather
// and forecast). Coordinate-keyed entries are not city-addressable and
// expire on their own. Safe to call when nothing is cached.
func (s *WeatherService) InvalidateCity(ctx context.Context, city string) {
	city = normalizeCity(city)
	for _, ns := range []string{currentNamespace, forecastNamespace} {
		if err := s.cache.Invalidate(ctx, cache.Key(ns, city)); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("invalidate").Inc()
			s.logger.Warn("cache invalidate failed", zap.String("city", city), zap.Error(err))
		}
	}
}

// fetch runs fn directly or through the single-flight group when
// coalescing is enabled.
func (s *WeatherService) fetch(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	if s.flight == nil {
		return fn()
	}
	return s.flight.Do(ctx, key, fn)
}

// cacheGet reads and decodes a cached value. Any backend or decode
// failure is logged and treated as a miss.
func (s *WeatherService) cacheGet(ctx context.Context, key string, out interface{}) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		s.logger.Debug("cache miss", zap.String("key", key))
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// cacheSet encodes and stores a value. Failures are logged, never surfaced.
func (s *WeatherService) cacheSet(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		s.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.logger.Debug("cached", zap.String("key", key), zap.Duration("ttl", ttl))
}

// buildRecord normalizes a raw current-weather payload: temperatures
// rounded to the nearest integer, description capitalized, icon code
// passed through verbatim.
func buildRecord(p client.CurrentPayload) models.WeatherRecord {
	rec := models.WeatherRecord{
		City:         p.Name,
		CountryCode:  p.Sys.Country,
		TemperatureC: roundTemp(p.Main.Temp),
		FeelsLikeC:   roundTemp(p.Main.FeelsLike),
		HumidityPct:  p.Main.Humidity,
		PressureHpa:  p.Main.Pressure,
		WindSpeedMs:  p.Wind.Speed,
		CloudsPct:    p.Clouds.All,
	}
	if len(p.Weather) > 0 {
		rec.Description = capitalize(p.Weather[0].Description)
		rec.IconCode = p.Weather[0].Icon
	}
	return rec
}

// buildForecast selects one sample per calendar date (the noon sample;
// days without one are skipped), sorts ascending and keeps the earliest
// maxForecastDays dates.
func buildForecast(p client.ForecastPayload) []models.ForecastDay {
	seen := make(map[string]bool)
	var days []models.ForecastDay
	for _, item := range p.List {
		date, hour, ok := strings.Cut(item.DtTxt, " ")
		if !ok || hour != noonSample || seen[date] {
			continue
		}
		seen[date] = true

		day := models.ForecastDay{
			Date:            date,
			TemperatureC:    roundTemp(item.Main.Temp),
			TemperatureMinC: roundTemp(item.Main.TempMin),
			TemperatureMaxC: roundTemp(item.Main.TempMax),
			HumidityPct:     item.Main.Humidity,
			WindSpeedMs:     item.Wind.Speed,
		}
		if len(item.Weather) > 0 {
			day.Description = capitalize(item.Weather[0].Description)
			day.IconCode = item.Weather[0].Icon
		}
		days = append(days, day)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	if len(days) > maxForecastDays {
		days = days[:maxForecastDays]
	}
	if days == nil {
		days = []models.ForecastDay{}
	}
	return days
}

func roundTemp(t float64) int {
	return int(math.Round(t))
}

// capitalize upper-cases the first rune and lower-cases the rest, the
// shape the upstream descriptions arrive in ("clear sky" -> "Clear sky").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

// normalizeCity normalizes city strings by trimming whitespace and
// lower-casing, ensuring consistent cache keys and API requests.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
