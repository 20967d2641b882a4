package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIBaseURL string
	WeatherAPILang    string
	RequestTimeout    time.Duration // per upstream attempt
	MaxRetries        int

	CurrentWeatherTTL time.Duration
	ForecastTTL       time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ThrottlePolicy       string // "cooldown" or "sliding_window"
	RateLimit            time.Duration
	MaxRequestsPerWindow int
	RateLimitWindow      time.Duration

	GlobalRateLimitRPS   int
	GlobalRateLimitBurst int

	BreakerEnabled bool
	BreakerTimeout time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	WarmCities   []string
	WarmInterval time.Duration

	HandlerTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		BaseURL    string `yaml:"base_url"`
		Lang       string `yaml:"lang"`
		Timeout    string `yaml:"timeout"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"weather_api"`

	Cache struct {
		Backend           string `yaml:"backend"`
		CurrentWeatherTTL string `yaml:"current_weather_ttl"`
		ForecastTTL       string `yaml:"forecast_ttl"`
		Memcached         struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Throttle struct {
		Policy               string `yaml:"policy"`
		RateLimit            string `yaml:"rate_limit"`
		MaxRequestsPerWindow int    `yaml:"max_requests_per_window"`
		Window               string `yaml:"window"`
	} `yaml:"throttle"`

	Reliability struct {
		GlobalRateLimitRPS   int    `yaml:"global_rate_limit_rps"`
		GlobalRateLimitBurst int    `yaml:"global_rate_limit_burst"`
		BreakerEnabled       *bool  `yaml:"breaker_enabled"`
		BreakerTimeout       string `yaml:"breaker_timeout"`
		CoalesceEnabled      *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout      string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	Warm struct {
		Cities   []string `yaml:"cities"`
		Interval string   `yaml:"interval"`
	} `yaml:"warm"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev)
// relative to the working directory, with env overrides. A .env file, if
// present, is loaded first (godotenv), matching how the service is run
// in development. A missing YAML file is not an error; defaults apply.
// WEATHER_API_KEY is required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or .env)")
	}
	cfg.WeatherAPIBaseURL = firstNonEmpty(os.Getenv("WEATHER_API_BASE_URL"), fc.WeatherAPI.BaseURL,
		"https://api.openweathermap.org/data/2.5")
	cfg.WeatherAPILang = firstNonEmpty(os.Getenv("WEATHER_API_LANG"), fc.WeatherAPI.Lang, "en")
	cfg.RequestTimeout = parseDuration(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.MaxRetries = fc.WeatherAPI.MaxRetries
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	cfg.CurrentWeatherTTL = parseDuration(fc.Cache.CurrentWeatherTTL, time.Hour)
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, 2*time.Hour)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory")))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.ThrottlePolicy = strings.TrimSpace(strings.ToLower(firstNonEmpty(fc.Throttle.Policy, "cooldown")))
	cfg.RateLimit = parseDuration(fc.Throttle.RateLimit, time.Second)
	cfg.MaxRequestsPerWindow = fc.Throttle.MaxRequestsPerWindow
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = 10
	}
	cfg.RateLimitWindow = parseDuration(fc.Throttle.Window, time.Minute)

	cfg.GlobalRateLimitRPS = fc.Reliability.GlobalRateLimitRPS
	if cfg.GlobalRateLimitRPS <= 0 {
		cfg.GlobalRateLimitRPS = 100
	}
	cfg.GlobalRateLimitBurst = fc.Reliability.GlobalRateLimitBurst
	if cfg.GlobalRateLimitBurst <= 0 {
		cfg.GlobalRateLimitBurst = 250
	}

	cfg.BreakerEnabled = true
	if fc.Reliability.BreakerEnabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.BreakerEnabled
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.CoalesceEnabled = true
	if fc.Reliability.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.CoalesceEnabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 15*time.Second)

	cfg.WarmCities = fc.Warm.Cities
	cfg.WarmInterval = parseDuration(fc.Warm.Interval, 0)

	cfg.HandlerTimeout = parseDuration(fc.Request.Timeout, 0)
	if cfg.HandlerTimeout <= 0 {
		// Budget for the worst case: every attempt timing out, plus headroom.
		cfg.HandlerTimeout = time.Duration(cfg.MaxRetries)*cfg.RequestTimeout + 5*time.Second
	}
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the recognized option ranges: max_retries 1-10,
// TTLs at least 60s, cooldown rate_limit 100ms-60s, positive window
// settings, and a known cache backend and throttle policy.
func validate(cfg *Config) error {
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.MaxRetries < 1 || cfg.MaxRetries > 10 {
		return fmt.Errorf("weather_api.max_retries must be between 1 and 10, got %d", cfg.MaxRetries)
	}
	if cfg.CurrentWeatherTTL < time.Minute {
		return fmt.Errorf("cache.current_weather_ttl must be at least 60s, got %s", cfg.CurrentWeatherTTL)
	}
	if cfg.ForecastTTL < time.Minute {
		return fmt.Errorf("cache.forecast_ttl must be at least 60s, got %s", cfg.ForecastTTL)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.ThrottlePolicy {
	case "cooldown", "sliding_window":
	default:
		return fmt.Errorf("throttle.policy must be cooldown or sliding_window, got %q", cfg.ThrottlePolicy)
	}
	if cfg.RateLimit < 100*time.Millisecond || cfg.RateLimit > time.Minute {
		return fmt.Errorf("throttle.rate_limit must be between 100ms and 60s, got %s", cfg.RateLimit)
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("throttle.window must be positive")
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if the
// string is empty, unparsable or non-positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
