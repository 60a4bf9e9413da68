package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "GEEKMIRROR"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDSN       = "geekmirror.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultScrapeBaseURL     = "https://geekhack.org"
	defaultScrapeRateLimitMS = 1000
	defaultScrapeTimeoutSecs = 30
	defaultCacheTTLSeconds   = 300

	postgresScheme   = "postgres://"
	postgresqlScheme = "postgresql://"
)

// AppConfig captures runtime configuration for the mirror.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	DatabaseDSN       string
	LogLevel          string
	LogFormat         string
	ScrapeBaseURL     string
	ScrapeUserAgent   string
	ScrapeInterval    time.Duration
	ScrapeTimeout     time.Duration
	ImgurClientID     string
	SyncSchedule      string
	CacheRedisAddress string
	CacheTTL          time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("scrape.base_url", defaultScrapeBaseURL)
	configViper.SetDefault("scrape.user_agent", "")
	configViper.SetDefault("scrape.rate_limit_ms", defaultScrapeRateLimitMS)
	configViper.SetDefault("scrape.timeout_seconds", defaultScrapeTimeoutSecs)
	configViper.SetDefault("imgur.client_id", "")
	configViper.SetDefault("sync.schedule", "")
	configViper.SetDefault("cache.redis_address", "")
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDSN:       NormalizeDatabaseDSN(configViper.GetString("database.dsn")),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		ScrapeBaseURL:     strings.TrimRight(strings.TrimSpace(configViper.GetString("scrape.base_url")), "/"),
		ScrapeUserAgent:   strings.TrimSpace(configViper.GetString("scrape.user_agent")),
		ScrapeInterval:    time.Duration(configViper.GetInt("scrape.rate_limit_ms")) * time.Millisecond,
		ScrapeTimeout:     time.Duration(configViper.GetInt("scrape.timeout_seconds")) * time.Second,
		ImgurClientID:     strings.TrimSpace(configViper.GetString("imgur.client_id")),
		SyncSchedule:      strings.TrimSpace(configViper.GetString("sync.schedule")),
		CacheRedisAddress: strings.TrimSpace(configViper.GetString("cache.redis_address")),
		CacheTTL:          time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// NormalizeDatabaseDSN rewrites the postgres:// scheme to postgresql://.
func NormalizeDatabaseDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, postgresScheme) {
		return postgresqlScheme + strings.TrimPrefix(dsn, postgresScheme)
	}
	return dsn
}

func (c AppConfig) validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	parsed, err := url.Parse(c.ScrapeBaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("scrape.base_url must be an absolute http(s) url")
	}
	if c.ScrapeInterval < 0 {
		return fmt.Errorf("scrape.rate_limit_ms must not be negative")
	}
	if c.ScrapeTimeout <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated value.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
