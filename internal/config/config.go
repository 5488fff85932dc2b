package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxBatchSize bounds one invocation so it finishes inside the trigger's
// own deadline.
const maxBatchSize = 100

// Config holds all configuration for the facematch server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Search    SearchConfig
	Matcher   MatcherConfig
	Settings  SettingsConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type SearchConfig struct {
	Gateway string
	RPCURL  string
	RPCKey  string
	Timeout time.Duration
}

type MatcherConfig struct {
	BatchSize      int
	Workers        int
	CelebrityLimit int
	RetryBackoff   time.Duration
	StaleAfter     time.Duration
	BatchTimeout   time.Duration
}

type SettingsConfig struct {
	CacheTTL time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Cron    string
}

var validGateways = map[string]bool{
	"postgres": true,
	"rpc":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("APP_PORT", 8080),
			Env:             envString("APP_ENV", "development"),
			LogLevel:        envString("LOG_LEVEL", "info"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Search: SearchConfig{
			Gateway: envString("SEARCH_GATEWAY", "postgres"),
			RPCURL:  strings.TrimRight(os.Getenv("SEARCH_RPC_URL"), "/"),
			RPCKey:  os.Getenv("SEARCH_RPC_KEY"),
			Timeout: envDuration("SEARCH_TIMEOUT", 30*time.Second),
		},
		Matcher: MatcherConfig{
			BatchSize:      envInt("MATCH_BATCH_SIZE", 20),
			Workers:        envInt("MATCH_WORKERS", 1),
			CelebrityLimit: envInt("MATCH_CELEBRITY_LIMIT", 20),
			RetryBackoff:   envDuration("MATCH_RETRY_BACKOFF", 0),
			StaleAfter:     envDuration("MATCH_STALE_AFTER", 15*time.Minute),
			BatchTimeout:   envDuration("MATCH_BATCH_TIMEOUT", 55*time.Second),
		},
		Settings: SettingsConfig{
			CacheTTL: envDuration("SETTINGS_CACHE_TTL", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled: envBool("SCHEDULER_ENABLED", false),
			Cron:    envString("SCHEDULER_CRON", "* * * * *"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validGateways[c.Search.Gateway] {
		return fmt.Errorf("SEARCH_GATEWAY must be one of postgres, rpc; got %q", c.Search.Gateway)
	}
	if c.Search.Gateway == "rpc" {
		if c.Search.RPCURL == "" {
			return fmt.Errorf("SEARCH_RPC_URL is required when SEARCH_GATEWAY is rpc")
		}
		if !strings.HasPrefix(c.Search.RPCURL, "http://") && !strings.HasPrefix(c.Search.RPCURL, "https://") {
			return fmt.Errorf("SEARCH_RPC_URL must start with http:// or https://, got %q", c.Search.RPCURL)
		}
		if c.Search.RPCKey == "" {
			return fmt.Errorf("SEARCH_RPC_KEY is required when SEARCH_GATEWAY is rpc")
		}
	}

	if c.Matcher.BatchSize <= 0 {
		return fmt.Errorf("MATCH_BATCH_SIZE must be positive, got %d", c.Matcher.BatchSize)
	}
	if c.Matcher.BatchSize > maxBatchSize {
		c.Matcher.BatchSize = maxBatchSize
	}
	if c.Matcher.Workers <= 0 {
		c.Matcher.Workers = 1
	}
	if c.Matcher.CelebrityLimit <= 0 {
		return fmt.Errorf("MATCH_CELEBRITY_LIMIT must be positive, got %d", c.Matcher.CelebrityLimit)
	}

	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Cron) == "" {
		return fmt.Errorf("SCHEDULER_CRON is required when SCHEDULER_ENABLED is true")
	}

	return nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
