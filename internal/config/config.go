package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all courier configuration, read from environment variables.
type Config struct {
	Mode string `env:"COURIER_MODE" envDefault:"api"`

	// Server
	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/courier?sslmode=disable"`

	// Redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OIDC (machine-caller bearer tokens)
	OIDCIssuerURL string `env:"OIDC_ISSUER"`
	OIDCClientID  string `env:"OIDC_CLIENT_ID"`

	// Static bearer tokens, "token:tenant-slug" pairs. Development and test
	// fallback when OIDC is not configured.
	StaticTokens []string `env:"COURIER_STATIC_TOKENS" envSeparator:","`

	// Webhook signing secrets, per integration. Signature verification runs
	// before the body is parsed, so these cannot be tenant-scoped.
	TwilioWebhookSecret string `env:"TWILIO_WEBHOOK_SECRET"`
	ResendWebhookSecret string `env:"RESEND_WEBHOOK_SECRET"`

	// Dispatch pipeline
	PollInterval  time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"5s"`
	PollBatchSize int           `env:"DISPATCH_POLL_BATCH" envDefault:"100"`
	WorkerCount   int           `env:"DELIVERY_WORKERS" envDefault:"4"`
	MaxAttempts   int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"5"`
	SendTimeout   time.Duration `env:"PROVIDER_SEND_TIMEOUT" envDefault:"10s"`
	RetryBase     time.Duration `env:"DELIVERY_RETRY_BASE" envDefault:"30s"`
	RetryCap      time.Duration `env:"DELIVERY_RETRY_CAP" envDefault:"15m"`

	// Dev mode
	DevMode bool `env:"DEV_MODE" envDefault:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
