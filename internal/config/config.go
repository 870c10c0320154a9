// Package config loads the process configuration: defaults registered in
// code, overridden by an optional YAML file, overridden again by FEVER_*
// environment variables. The result is an immutable value built once at
// startup and passed to components; no live viper handle escapes this
// package.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	HTTP     HTTP
	Database Database
	Redis    Redis
	Sync     Sync
	Cache    Cache
	Provider Provider
	Search   Search
	Log      Log
}

type HTTP struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

type Database struct {
	URL            string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
}

type Redis struct {
	URL         string
	DialTimeout time.Duration
}

type Sync struct {
	Enabled  bool
	Interval time.Duration
}

type Cache struct {
	KeyPrefix         string
	TTL               time.Duration
	CurrentMonthTTL   time.Duration
	LongTermTTL       time.Duration
	EnableTieredTTL   bool
	MaxMonthsPerQuery int
}

type Provider struct {
	BaseURL string
	Timeout time.Duration
	Retry   Retry
	Breaker Breaker
}

type Retry struct {
	MaxAttempts int
	Wait        time.Duration
	Multiplier  float64
}

// Breaker tunes the upstream circuit breaker. Failures are counted over a
// rolling interval equal to OpenFor; there is no fixed-size call window.
type Breaker struct {
	ThresholdPct int
	MinCalls     int
	OpenFor      time.Duration
	HalfOpenMax  int
}

type Search struct {
	FillWorkers int
	FillQueue   int
}

type Log struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.shutdown_timeout_ms", 10000)

	v.SetDefault("database.url", "postgres://localhost:5432/fever?sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.connect_timeout_ms", 30000)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.dial_timeout_ms", 5000)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval_ms", 30000)

	v.SetDefault("cache.key_prefix", "fever:events:month:")
	v.SetDefault("cache.ttl_hours", 6)
	v.SetDefault("cache.current_month_ttl_hours", 2)
	v.SetDefault("cache.long_term_ttl_hours", 168)
	v.SetDefault("cache.enable_tiered_ttl", true)
	v.SetDefault("cache.max_months_per_query", 24)

	v.SetDefault("provider.base_url", "https://provider.code-challenge.feverup.com")
	v.SetDefault("provider.timeout_ms", 10000)
	v.SetDefault("provider.retry.max_attempts", 3)
	v.SetDefault("provider.retry.wait_ms", 2000)
	v.SetDefault("provider.retry.multiplier", 2.0)
	v.SetDefault("provider.breaker.threshold_pct", 50)
	v.SetDefault("provider.breaker.min_calls", 5)
	v.SetDefault("provider.breaker.open_ms", 30000)
	v.SetDefault("provider.breaker.half_open_max", 3)

	v.SetDefault("search.fill_workers", 4)
	v.SetDefault("search.fill_queue", 64)

	v.SetDefault("log.level", "info")
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply. A missing file at a non-empty
// path is an error; an unreadable or malformed file always is.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FEVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTP: HTTP{
			ListenAddr:      v.GetString("http.listen_addr"),
			ShutdownTimeout: time.Duration(v.GetInt("http.shutdown_timeout_ms")) * time.Millisecond,
		},
		Database: Database{
			URL:            v.GetString("database.url"),
			MaxOpenConns:   v.GetInt("database.max_open_conns"),
			MaxIdleConns:   v.GetInt("database.max_idle_conns"),
			ConnectTimeout: time.Duration(v.GetInt("database.connect_timeout_ms")) * time.Millisecond,
		},
		Redis: Redis{
			URL:         v.GetString("redis.url"),
			DialTimeout: time.Duration(v.GetInt("redis.dial_timeout_ms")) * time.Millisecond,
		},
		Sync: Sync{
			Enabled:  v.GetBool("sync.enabled"),
			Interval: time.Duration(v.GetInt("sync.interval_ms")) * time.Millisecond,
		},
		Cache: Cache{
			KeyPrefix:         v.GetString("cache.key_prefix"),
			TTL:               time.Duration(v.GetInt("cache.ttl_hours")) * time.Hour,
			CurrentMonthTTL:   time.Duration(v.GetInt("cache.current_month_ttl_hours")) * time.Hour,
			LongTermTTL:       time.Duration(v.GetInt("cache.long_term_ttl_hours")) * time.Hour,
			EnableTieredTTL:   v.GetBool("cache.enable_tiered_ttl"),
			MaxMonthsPerQuery: v.GetInt("cache.max_months_per_query"),
		},
		Provider: Provider{
			BaseURL: v.GetString("provider.base_url"),
			Timeout: time.Duration(v.GetInt("provider.timeout_ms")) * time.Millisecond,
			Retry: Retry{
				MaxAttempts: v.GetInt("provider.retry.max_attempts"),
				Wait:        time.Duration(v.GetInt("provider.retry.wait_ms")) * time.Millisecond,
				Multiplier:  v.GetFloat64("provider.retry.multiplier"),
			},
			Breaker: Breaker{
				ThresholdPct: v.GetInt("provider.breaker.threshold_pct"),
				MinCalls:     v.GetInt("provider.breaker.min_calls"),
				OpenFor:      time.Duration(v.GetInt("provider.breaker.open_ms")) * time.Millisecond,
				HalfOpenMax:  v.GetInt("provider.breaker.half_open_max"),
			},
		},
		Search: Search{
			FillWorkers: v.GetInt("search.fill_workers"),
			FillQueue:   v.GetInt("search.fill_queue"),
		},
		Log: Log{
			Level: v.GetString("log.level"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval_ms must be positive")
	}
	if c.Cache.MaxMonthsPerQuery <= 0 {
		return errors.New("cache.max_months_per_query must be positive")
	}
	if c.Provider.Retry.MaxAttempts < 1 {
		return errors.New("provider.retry.max_attempts must be at least 1")
	}
	if c.Provider.Retry.Multiplier < 1 {
		return errors.New("provider.retry.multiplier must be at least 1")
	}
	if c.Provider.Breaker.MinCalls < 1 {
		return errors.New("provider.breaker.min_calls must be at least 1")
	}
	if c.Provider.Breaker.ThresholdPct < 1 || c.Provider.Breaker.ThresholdPct > 100 {
		return errors.New("provider.breaker.threshold_pct must be in 1..100")
	}
	if c.Search.FillWorkers < 1 {
		return errors.New("search.fill_workers must be at least 1")
	}
	return nil
}
