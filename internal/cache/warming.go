package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weatherpro/weather-service/internal/models"
	"github.com/weatherpro/weather-service/internal/observability"
)

// Prefetcher is implemented by the service layer. Declared here so the
// warmer does not depend on the service package.
type Prefetcher interface {
	CurrentByName(ctx context.Context, city string) (models.WeatherRecord, error)
	ForecastByName(ctx context.Context, city string) ([]models.ForecastDay, error)
}

// Warmer populates the cache by prefetching current weather and forecasts
// for a fixed list of cities, so the first real lookups hit warm entries.
type Warmer struct {
	fetcher Prefetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher Prefetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm prefetches each city concurrently. Returns an aggregated error if
// any city failed; successful cities are cached regardless.
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("cities", len(cities)))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(cities)*2)
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if _, err := w.fetcher.CurrentByName(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm current %s: %w", city, err)
			}
			if _, err := w.fetcher.ForecastByName(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm forecast %s: %w", city, err)
			}
		}(city)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("cities", len(cities)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, cities []string, interval time.Duration) error {
	if err := w.Warm(ctx, cities); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cities); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
