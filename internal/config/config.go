// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the server and historian read from the environment.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	// StoreDriver selects the persistence backend: "postgres" or "memory".
	StoreDriver string
	DatabaseURL string

	RedisAddr           string
	RedisDB             int
	SettlementQueueName string
	LeaderboardCacheTTL time.Duration

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	CORSOrigins          []string
	// TrustedProxies may report the client address in X-Forwarded-For.
	TrustedProxies []string

	PopularRefreshInterval time.Duration

	HistorianBatchSize int
	HistorianFlush     time.Duration
}

// Load builds a Config from environment variables, applying defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "3000"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		StoreDriver:          getEnv("STORE_DRIVER", "postgres"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		SettlementQueueName:  getEnv("SETTLEMENT_QUEUE_NAME", "pencilparty_settlements"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
		HistorianBatchSize:   getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:       time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"ACCESS_TOKEN_TTL", time.Hour, &cfg.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", 7 * 24 * time.Hour, &cfg.RefreshTokenTTL},
		{"RATE_LIMIT_WINDOW", 15 * time.Minute, &cfg.RateLimitWindow},
		{"LEADERBOARD_CACHE_TTL", 30 * time.Second, &cfg.LeaderboardCacheTTL},
		{"POPULAR_REFRESH_INTERVAL", 5 * time.Minute, &cfg.PopularRefreshInterval},
	}
	for _, d := range durations {
		if *d.dest, err = getEnvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == "postgres" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			getEnv("PG_DATABASE", "pencilparty"),
		)
	}

	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	} else {
		cfg.CORSOrigins = []string{"http://localhost:8080", "http://localhost:3000"}
	}

	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		cfg.TrustedProxies = strings.Split(proxies, ",")
	}

	switch cfg.StoreDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.RateLimitMaxRequests <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", cfg.RateLimitMaxRequests)
	}
	return cfg, nil
}

// IsDevelopment reports whether internal error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses values like "15m" or "1h". Unlike getEnvInt a malformed value is an error,
// since silently falling back on a token lifetime is surprising.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}

// ClientConfig configures the command-line client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryTimes int
	RetryDelay time.Duration
	TokenFile  string
}

// LoadClient reads the PLAY_* variables. An empty TokenFile keeps the session in memory only.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		BaseURL:    getEnv("PLAY_API_BASE_URL", "http://localhost:3000/api"),
		RetryTimes: getEnvInt("PLAY_RETRY_TIMES", 3),
		TokenFile:  os.Getenv("PLAY_TOKEN_FILE"),
	}
	var err error
	if cfg.Timeout, err = getEnvDuration("PLAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = getEnvDuration("PLAY_RETRY_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryTimes <= 0 {
		return nil, fmt.Errorf("PLAY_RETRY_TIMES must be positive, got %d", cfg.RetryTimes)
	}
	return cfg, nil
}
