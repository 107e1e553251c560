package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const VERSION = "1.0"

// Analytics stores the over-time and histogram queries can run against
const (
	DialectPostgres   = "postgres"
	DialectClickHouse = "clickhouse"
)

type Config struct {
	Server           ServerConfig
	Database         DatabaseConfig
	ClickHouse       ClickHouseConfig
	Cache            CacheConfig
	RateLimit        RateLimitConfig
	Security         SecurityConfig
	Tracing          TracingConfig
	AnalyticsDialect string
	MaxConcurrency   int64
	Environment      string
	LogLevel         string
	Version          string
}

type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
	SSL             SSLConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type ClickHouseConfig struct {
	Addr         string
	Database     string
	Username     string
	Password     string
	Secure       bool
	DialTimeout  time.Duration
	MaxOpenConns int
}

type CacheConfig struct {
	// TTL of a cached analytics result. Zero disables caching.
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxEntries      int
}

type RateLimitConfig struct {
	// Requests allowed per tenant per Window. Zero disables rate limiting.
	Requests int
	Window   time.Duration
}

type SecurityConfig struct {
	// JWTSecret verifies the HMAC signature of tenant bearer tokens
	JWTSecret []byte
}

type SSLConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type TracingConfig struct {
	Enabled             bool
	ServiceName         string
	SamplingProbability float64

	// Trace exporter configuration
	TraceExporter string // "jaeger", "zipkin", "stackdriver", "datadog", "xray", "none"

	JaegerEndpoint       string
	ZipkinEndpoint       string
	StackdriverProjectID string
	DatadogAgentAddress  string
	XRayRegion           string

	// Metrics exporter configuration, comma separated: "prometheus", "stackdriver", "datadog"
	MetricsExporter string
	PrometheusPort  int
}

// LoadOptions contains options for loading configuration
type LoadOptions struct {
	EnvFile string // Optional environment file to load (e.g., ".env", ".env.test")
}

// Load loads the configuration with default options
func Load() (*Config, error) {
	// Try to load .env file but don't require it
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads the configuration with the specified options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "insights")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "10m")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)

	// ClickHouse defaults
	v.SetDefault("CLICKHOUSE_ADDR", "localhost:9000")
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_USERNAME", "default")
	v.SetDefault("CLICKHOUSE_DIAL_TIMEOUT", "5s")
	v.SetDefault("CLICKHOUSE_MAX_OPEN_CONNS", 10)

	// Analytics defaults
	v.SetDefault("ANALYTICS_DIALECT", DialectClickHouse)
	v.SetDefault("ANALYTICS_MAX_CONCURRENCY", 8)
	v.SetDefault("CACHE_TTL", "1m")
	v.SetDefault("CACHE_CLEANUP_INTERVAL", "5m")
	v.SetDefault("CACHE_MAX_ENTRIES", 10000)
	v.SetDefault("RATE_LIMIT_REQUESTS", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")

	// Default tracing config
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_SERVICE_NAME", "insights-api")
	v.SetDefault("TRACING_SAMPLING_PROBABILITY", 0.1)
	v.SetDefault("TRACING_TRACE_EXPORTER", "none")
	v.SetDefault("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	v.SetDefault("TRACING_ZIPKIN_ENDPOINT", "http://localhost:9411/api/v2/spans")
	v.SetDefault("TRACING_DATADOG_AGENT_ADDRESS", "localhost:8126")
	v.SetDefault("TRACING_XRAY_REGION", "us-west-2")
	v.SetDefault("TRACING_METRICS_EXPORTER", "none")
	v.SetDefault("TRACING_PROMETHEUS_PORT", 9464)

	// Load environment file if specified
	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}

		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	jwtSecret := v.GetString("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dialect := strings.ToLower(v.GetString("ANALYTICS_DIALECT"))
	if dialect != DialectPostgres && dialect != DialectClickHouse {
		return nil, fmt.Errorf("ANALYTICS_DIALECT must be %q or %q, got %q", DialectPostgres, DialectClickHouse, dialect)
	}

	config := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("SERVER_PORT"),
			Host:            v.GetString("SERVER_HOST"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			SSL: SSLConfig{
				Enabled:  v.GetBool("SSL_ENABLED"),
				CertFile: v.GetString("SSL_CERT_FILE"),
				KeyFile:  v.GetString("SSL_KEY_FILE"),
			},
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		ClickHouse: ClickHouseConfig{
			Addr:         v.GetString("CLICKHOUSE_ADDR"),
			Database:     v.GetString("CLICKHOUSE_DATABASE"),
			Username:     v.GetString("CLICKHOUSE_USERNAME"),
			Password:     v.GetString("CLICKHOUSE_PASSWORD"),
			Secure:       v.GetBool("CLICKHOUSE_SECURE"),
			DialTimeout:  v.GetDuration("CLICKHOUSE_DIAL_TIMEOUT"),
			MaxOpenConns: v.GetInt("CLICKHOUSE_MAX_OPEN_CONNS"),
		},
		Cache: CacheConfig{
			TTL:             v.GetDuration("CACHE_TTL"),
			CleanupInterval: v.GetDuration("CACHE_CLEANUP_INTERVAL"),
			MaxEntries:      v.GetInt("CACHE_MAX_ENTRIES"),
		},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Security: SecurityConfig{
			JWTSecret: []byte(jwtSecret),
		},
		Tracing: TracingConfig{
			Enabled:              v.GetBool("TRACING_ENABLED"),
			ServiceName:          v.GetString("TRACING_SERVICE_NAME"),
			SamplingProbability:  v.GetFloat64("TRACING_SAMPLING_PROBABILITY"),
			TraceExporter:        v.GetString("TRACING_TRACE_EXPORTER"),
			JaegerEndpoint:       v.GetString("TRACING_JAEGER_ENDPOINT"),
			ZipkinEndpoint:       v.GetString("TRACING_ZIPKIN_ENDPOINT"),
			StackdriverProjectID: v.GetString("TRACING_STACKDRIVER_PROJECT_ID"),
			DatadogAgentAddress:  v.GetString("TRACING_DATADOG_AGENT_ADDRESS"),
			XRayRegion:           v.GetString("TRACING_XRAY_REGION"),
			MetricsExporter:      v.GetString("TRACING_METRICS_EXPORTER"),
			PrometheusPort:       v.GetInt("TRACING_PROMETHEUS_PORT"),
		},
		AnalyticsDialect: dialect,
		MaxConcurrency:   v.GetInt64("ANALYTICS_MAX_CONCURRENCY"),
		Environment:      v.GetString("ENVIRONMENT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		Version:          v.GetString("VERSION"),
	}

	return config, nil
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
