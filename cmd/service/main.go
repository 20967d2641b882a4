package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weatherpro/weather-service/internal/cache"
	"github.com/weatherpro/weather-service/internal/client"
	"github.com/weatherpro/weather-service/internal/config"
	httphandler "github.com/weatherpro/weather-service/internal/http"
	"github.com/weatherpro/weather-service/internal/observability"
	"github.com/weatherpro/weather-service/internal/service"
	"github.com/weatherpro/weather-service/internal/throttle"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	owm, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIBaseURL,
		cfg.WeatherAPILang,
		cfg.RequestTimeout,
		cfg.MaxRetries,
		100*time.Millisecond,
		2*time.Second,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var provider client.WeatherProvider = owm
	if cfg.BreakerEnabled {
		provider = client.NewBreakerClient(owm, cfg.BreakerTimeout, logger)
		logger.Info("circuit breaker enabled", zap.Duration("timeout", cfg.BreakerTimeout))
	}

	var cacheStore cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcached = mc
		cacheStore = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheStore = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	weather := service.NewWeatherService(provider, cacheStore, logger,
		cfg.CurrentWeatherTTL, cfg.ForecastTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	var gate throttle.Gate
	var sweeper *throttle.SlidingWindow
	switch cfg.ThrottlePolicy {
	case "sliding_window":
		sw := throttle.NewSlidingWindow(cfg.MaxRequestsPerWindow, cfg.RateLimitWindow)
		gate = sw
		sweeper = sw
		logger.Info("throttle policy: sliding_window",
			zap.Int("max_requests", cfg.MaxRequestsPerWindow),
			zap.Duration("window", cfg.RateLimitWindow))
	default:
		gate = throttle.NewCooldownGate(cfg.RateLimit)
		logger.Info("throttle policy: cooldown", zap.Duration("rate_limit", cfg.RateLimit))
	}

	var limiter *rate.Limiter
	if cfg.GlobalRateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRateLimitRPS), cfg.GlobalRateLimitBurst)
	}

	var cachePing func() error
	if memcached != nil {
		cachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(weather, provider, logger, cachePing)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if sweeper != nil {
		go func() {
			ticker := time.NewTicker(cfg.RateLimitWindow)
			defer ticker.Stop()
			for {
				select {
				case <-bgCtx.Done():
					return
				case <-ticker.C:
					sweeper.Sweep()
				}
			}
		}()
	}
	if len(cfg.WarmCities) > 0 {
		warmer := cache.NewWarmer(weather, logger)
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(bgCtx, cfg.WarmCities, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			go func() {
				ctx, cancel := context.WithTimeout(bgCtx, 30*time.Second)
				defer cancel()
				if err := warmer.Warm(ctx, cfg.WarmCities); err != nil {
					logger.Warn("cache warming failed", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	weatherRouter := router.PathPrefix("").Subrouter()
	weatherRouter.Use(httphandler.GlobalRateLimitMiddleware(limiter))
	weatherRouter.Use(httphandler.ThrottleMiddleware(gate, cfg.ThrottlePolicy))
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.HandlerTimeout))
	weatherRouter.HandleFunc("/weather", handler.GetCurrentByCoords).Methods(http.MethodGet).Queries("lat", "{lat}", "lon", "{lon}")
	weatherRouter.HandleFunc("/weather/{city}", handler.GetCurrentByCity).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/forecast/{city}", handler.GetForecast).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/cache/{city}", handler.InvalidateCity).Methods(http.MethodDelete)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HandlerTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
