package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	NLP       NLPConfig
	Matching  MatchingConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NLPConfig holds NLP service gateway configuration
type NLPConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// MatchingConfig holds scoring and classification configuration
type MatchingConfig struct {
	AutoConfirmThreshold float64 `mapstructure:"auto_confirm_threshold"`
	ReviewThreshold      float64 `mapstructure:"review_threshold"`
	SemanticWeight       float64 `mapstructure:"semantic_weight"`
	AttributeWeight      float64 `mapstructure:"attribute_weight"`
	TopK                 int     `mapstructure:"top_k"`
	Workers              int     `mapstructure:"workers"`
	EFSearch             int     `mapstructure:"ef_search"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP float64 `mapstructure:"per_ip"`
	Burst int     `mapstructure:"burst"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/harmonizeiq/")

	// Environment variable settings
	v.SetEnvPrefix("HARMONIZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")

	// NLP gateway defaults
	v.SetDefault("nlp.base_url", "http://localhost:8000")
	v.SetDefault("nlp.timeout", "30s")
	v.SetDefault("nlp.requests_per_second", 20)
	v.SetDefault("nlp.burst", 10)

	// Matching defaults
	v.SetDefault("matching.auto_confirm_threshold", 0.95)
	v.SetDefault("matching.review_threshold", 0.70)
	v.SetDefault("matching.semantic_weight", 0.70)
	v.SetDefault("matching.attribute_weight", 0.30)
	v.SetDefault("matching.top_k", 5)
	v.SetDefault("matching.workers", 4)
	v.SetDefault("matching.ef_search", 64)

	// Cache defaults
	v.SetDefault("cache.ttl", "24h")

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 100)
	v.SetDefault("ratelimit.burst", 50)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required (set HARMONIZE_DATABASE_DSN)")
	}

	if config.NLP.BaseURL == "" {
		return fmt.Errorf("NLP service base URL is required (set HARMONIZE_NLP_BASE_URL)")
	}

	m := config.Matching
	if m.AutoConfirmThreshold <= 0 || m.AutoConfirmThreshold > 1 {
		return fmt.Errorf("auto confirm threshold must be in (0, 1], got: %v", m.AutoConfirmThreshold)
	}
	if m.ReviewThreshold <= 0 || m.ReviewThreshold > 1 {
		return fmt.Errorf("review threshold must be in (0, 1], got: %v", m.ReviewThreshold)
	}
	if m.ReviewThreshold > m.AutoConfirmThreshold {
		return fmt.Errorf("review threshold (%v) must not exceed auto confirm threshold (%v)",
			m.ReviewThreshold, m.AutoConfirmThreshold)
	}

	return nil
}

// loadEnvFile loads KEY=VALUE pairs from a .env file in the working directory
// into the process environment. Existing variables are never overridden.
// A missing file is not an error.
func loadEnvFile() error {
	f, err := os.Open(".env")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, strings.TrimSpace(value))
	}
	return scanner.Err()
}
