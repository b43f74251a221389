package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	State         StateConfig
	Providers     ProvidersConfig
	Secrets       SecretsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseURL is the externally visible origin used in redirect URIs and
	// SAML entity IDs. Must not end with a slash.
	BaseURL string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StateConfig holds ephemeral state store configuration
type StateConfig struct {
	Backend  string // redis, memory
	RedisURL string
}

// ProvidersConfig holds provider configuration store settings
type ProvidersConfig struct {
	Backend      string // postgres, yaml
	PostgresURL  string
	MaxConns     int
	MinConns     int
	YAMLPath     string
	IdPTimeout   time.Duration // outbound timeout for token/userinfo calls
	EngineCache  int           // max cached engine instances
	CachePurge   string        // cron spec for the engine cache purge
	RateLimit    int           // login attempts per store per window
	RateLimitWin time.Duration
}

// SecretsConfig holds the startup-validated secret material
type SecretsConfig struct {
	EncryptionKeyHex string
	Pepper           string
	AppName          string
}

// EncryptionKey decodes the hex-encoded AES key.
func (s SecretsConfig) EncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(s.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return key, nil
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		State:         loadStateConfig(),
		Providers:     loadProvidersConfig(),
		Secrets:       loadSecretsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SSOD_HOST", "0.0.0.0"),
		Port:            getEnv("SSOD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SSOD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SSOD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SSOD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SSOD_SHUTDOWN_TIMEOUT", 30*time.Second),
		BaseURL:         strings.TrimRight(getEnv("SSOD_BASE_URL", "http://localhost:8080"), "/"),
		HealthPort:      getEnv("SSOD_HEALTH_PORT", "9090"),
	}
}

func loadStateConfig() StateConfig {
	return StateConfig{
		Backend:  getEnv("SSOD_STATE_BACKEND", "redis"),
		RedisURL: getEnv("SSOD_REDIS_URL", "redis://localhost:6379/0"),
	}
}

func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Backend:      getEnv("SSOD_CONFIG_BACKEND", "postgres"),
		PostgresURL:  getEnv("SSOD_POSTGRES_URL", ""),
		MaxConns:     getEnvInt("SSOD_POSTGRES_MAX_CONNS", 20),
		MinConns:     getEnvInt("SSOD_POSTGRES_MIN_CONNS", 2),
		YAMLPath:     getEnv("SSOD_PROVIDERS_FILE", "providers.yaml"),
		IdPTimeout:   getEnvDuration("SSOD_IDP_TIMEOUT", 10*time.Second),
		EngineCache:  getEnvInt("SSOD_ENGINE_CACHE_SIZE", 512),
		CachePurge:   getEnv("SSOD_ENGINE_CACHE_PURGE", "@every 15m"),
		RateLimit:    getEnvInt("SSOD_LOGIN_RATE_LIMIT", 60),
		RateLimitWin: getEnvDuration("SSOD_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadSecretsConfig() SecretsConfig {
	return SecretsConfig{
		EncryptionKeyHex: getEnv("SSOD_ENCRYPTION_KEY", ""),
		Pepper:           getEnv("SSOD_PASSWORD_PEPPER", ""),
		AppName:          getEnv("SSOD_APP_NAME", "storefront-sso"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SSOD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SSOD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SSOD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SSOD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SSOD_OTEL_SERVICE_NAME", "ssod"),
		OTelServiceVersion: getEnv("SSOD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SSOD_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL must be an absolute URL, got %q", c.Server.BaseURL)
	}

	switch c.State.Backend {
	case "redis":
		if c.State.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis state backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid state backend: %s (must be redis or memory)", c.State.Backend)
	}

	switch c.Providers.Backend {
	case "postgres":
		if c.Providers.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres config backend")
		}
	case "yaml":
		if c.Providers.YAMLPath == "" {
			return fmt.Errorf("providers file is required for the yaml config backend")
		}
	default:
		return fmt.Errorf("invalid config backend: %s (must be postgres or yaml)", c.Providers.Backend)
	}
	if c.Providers.IdPTimeout <= 0 {
		return fmt.Errorf("IdP timeout must be positive")
	}

	key, err := c.Secrets.EncryptionKey()
	if err != nil {
		return err
	}
	if len(key) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	if len(c.Secrets.Pepper) < 16 {
		return fmt.Errorf("password pepper must be at least 16 characters")
	}
	if c.Secrets.AppName == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
