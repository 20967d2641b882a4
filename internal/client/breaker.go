package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerClient decorates a WeatherProvider with a circuit breaker so a
// failing upstream gets breathing room instead of a retry storm. Client
// errors (ErrNotFound, ErrInvalidAPIKey) pass through without counting
// as breaker failures; an open breaker surfaces ErrUpstream.
type BreakerClient struct {
	inner WeatherProvider
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps inner with a circuit breaker. The breaker trips
// after at least 3 requests with a failure ratio of 60% or more and
// half-opens after timeout.
func NewBreakerClient(inner WeatherProvider, timeout time.Duration, logger *zap.Logger) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "weather_api",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.Info("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
		},
	}
	return &BreakerClient{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

// CurrentByName implements WeatherProvider.
func (b *BreakerClient) CurrentByName(ctx context.Context, city string) (CurrentPayload, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.CurrentByName(ctx, city)
	})
	if err != nil {
		return CurrentPayload{}, err
	}
	return v.(CurrentPayload), nil
}

// CurrentByCoords implements WeatherProvider.
func (b *BreakerClient) CurrentByCoords(ctx context.Context, lat, lon float64) (CurrentPayload, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.CurrentByCoords(ctx, lat, lon)
	})
	if err != nil {
		return CurrentPayload{}, err
	}
	return v.(CurrentPayload), nil
}

// ForecastByName implements WeatherProvider.
func (b *BreakerClient) ForecastByName(ctx context.Context, city string) (ForecastPayload, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.ForecastByName(ctx, city)
	})
	if err != nil {
		return ForecastPayload{}, err
	}
	return v.(ForecastPayload), nil
}

// ValidateAPIKey bypasses the breaker; health probes should observe the
// upstream directly.
func (b *BreakerClient) ValidateAPIKey(ctx context.Context) error {
	return b.inner.ValidateAPIKey(ctx)
}

// execute runs fn through the breaker. Permanent client-side outcomes are
// reported to the breaker as successes so a burst of unknown city names
// cannot trip it.
func (b *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	var clientErr error
	v, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && (errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidAPIKey)) {
			clientErr = err
			return v, nil
		}
		return v, err
	})
	if clientErr != nil {
		return nil, clientErr
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrUpstream)
		}
		return nil, err
	}
	return v, nil
}
