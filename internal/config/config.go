package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/thiran-symposium/gateway-api/internal/countdown"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Registration  RegistrationConfig  `envconfig:"REGISTRATION"`
	Countdown     CountdownConfig     `envconfig:"COUNTDOWN"`
	DynamoDB      DynamoDBConfig      `envconfig:"DYNAMODB"`
	RateLimit     RateLimitConfig     `envconfig:"RATE_LIMIT"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
	AWS           AWSConfig           `envconfig:"AWS"`
}

type AWSConfig struct {
	Region  string `envconfig:"REGION" default:"ap-south-1"`
	Profile string `envconfig:"PROFILE" default:""`
}

type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Environment     string        `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type RedisConfig struct {
	Address        string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password       string        `envconfig:"PASSWORD" default:""`
	Database       int           `envconfig:"DATABASE" default:"0"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize       int           `envconfig:"POOL_SIZE" default:"50"`
	PoolTimeout    time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	TLSEnabled     bool          `envconfig:"TLS_ENABLED" default:"false"`
	ClusterMode    bool          `envconfig:"CLUSTER_MODE" default:"false"`
	RouteByLatency bool          `envconfig:"ROUTE_BY_LATENCY" default:"false"`
	RouteRandomly  bool          `envconfig:"ROUTE_RANDOMLY" default:"false"`
	ReadOnly       bool          `envconfig:"READ_ONLY" default:"false"`
}

// RegistrationConfig covers the remote registration backend and the
// per-form sessions the gateway keeps for it.
type RegistrationConfig struct {
	BackendURL          string        `envconfig:"BACKEND_URL" required:"true"`
	Timeout             time.Duration `envconfig:"TIMEOUT" default:"10s"`
	ResetDelay          time.Duration `envconfig:"RESET_DELAY" default:"3s"`
	SessionTTL          time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	LockTTL             time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	BreakerMaxFailures  int           `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"10s"`
}

type CountdownConfig struct {
	Target   string `envconfig:"TARGET" default:"2026-02-23T10:00:00"`
	Location string `envconfig:"LOCATION" default:"Asia/Kolkata"`
}

type DynamoDBConfig struct {
	ContactTableName string `envconfig:"CONTACT_TABLE_NAME" default:"thiran-contact-messages"`
	Region           string `envconfig:"REGION" default:"ap-south-1"`
	Endpoint         string `envconfig:"ENDPOINT" default:""`
}

type RateLimitConfig struct {
	RPS         int           `envconfig:"RPS" default:"5"`
	Burst       int           `envconfig:"BURST" default:"10"`
	WindowSize  time.Duration `envconfig:"WINDOW_SIZE" default:"1s"`
	Enabled     bool          `envconfig:"ENABLED" default:"true"`
	ExemptPaths []string      `envconfig:"EXEMPT_PATHS" default:"/healthz,/readyz,/metrics"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TraceExporter  string  `envconfig:"TRACE_EXPORTER" default:"otlp"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	var cfg Config

	// Load from environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Additional processing for slice fields that envconfig doesn't handle well
	if exemptPaths := os.Getenv("RATE_LIMIT_EXEMPT_PATHS"); exemptPaths != "" {
		cfg.RateLimit.ExemptPaths = strings.Split(exemptPaths, ",")
		for i := range cfg.RateLimit.ExemptPaths {
			cfg.RateLimit.ExemptPaths[i] = strings.TrimSpace(cfg.RateLimit.ExemptPaths[i])
		}
	}

	cfg.Registration.BackendURL = normalizeBaseURL(cfg.Registration.BackendURL)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadCountdown reads only the COUNTDOWN_* settings, for callers that never
// reach the registration backend.
func LoadCountdown(envFiles ...string) (*CountdownConfig, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	var cfg CountdownConfig
	if err := envconfig.Process("COUNTDOWN", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process countdown config: %w", err)
	}
	if _, err := cfg.TargetInstant(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadEnvFiles(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// TargetInstant parses the countdown target in the configured location.
func (c CountdownConfig) TargetInstant() (time.Time, error) {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid countdown location %q: %w", c.Location, err)
	}
	return countdown.ParseTarget(c.Target, loc)
}

// normalizeBaseURL guarantees a trailing slash; endpoint paths are appended verbatim.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}

func validateConfig(cfg *Config) error {
	// Validate port
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	u, err := url.Parse(cfg.Registration.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid registration backend url: %q", cfg.Registration.BackendURL)
	}

	if cfg.Registration.Timeout <= 0 {
		return fmt.Errorf("registration timeout must be positive: %s", cfg.Registration.Timeout)
	}
	if cfg.Registration.ResetDelay < 0 {
		return fmt.Errorf("registration reset delay must not be negative: %s", cfg.Registration.ResetDelay)
	}

	if _, err := cfg.Countdown.TargetInstant(); err != nil {
		return err
	}

	// Validate sample rate
	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	switch cfg.Observability.TraceExporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("invalid trace exporter: %q", cfg.Observability.TraceExporter)
	}

	return nil
}
