package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/commerce-core/pkg/config"
	"github.com/utafrali/commerce-core/pkg/database"
)

// Storage drivers for payments.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all configuration for the payment service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"PAYMENT_HTTP_PORT" envDefault:"8005"`

	// Payment storage: postgres in every deployed environment, memory for
	// local runs without a database.
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"PAYMENT_DB_NAME" envDefault:"payment_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Redis backs webhook redelivery detection when set; otherwise event ids
	// are remembered in process memory.
	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// How long a processed webhook event id is remembered.
	WebhookDedupeTTL time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"72h"`

	// Per-client webhook rate limit. Zero disables it.
	WebhookRateLimitRPS   float64 `env:"WEBHOOK_RATE_LIMIT_RPS" envDefault:"50"`
	WebhookRateLimitBurst int     `env:"WEBHOOK_RATE_LIMIT_BURST" envDefault:"100"`

	// Order service
	OrderServiceURL string `env:"ORDER_SERVICE_URL" envDefault:"http://localhost:8004"`

	// Circuit breaker for outbound calls (order service and gateways)
	CBMaxRequests  uint32        `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     time.Duration `env:"CB_INTERVAL" envDefault:"60s"`
	CBTimeout      time.Duration `env:"CB_TIMEOUT" envDefault:"30s"`
	CBFailureRatio float64       `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32        `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Upper bound on a single processor call. A payment whose call runs out
	// of time is recorded as inconclusive and settled by webhook.
	ProcessorTimeout time.Duration `env:"PROCESSOR_TIMEOUT" envDefault:"15s"`

	// Card gateway. The processor is registered when the URL is set.
	CardGatewayURL    string `env:"CARD_GATEWAY_URL"`
	CardAPIKey        string `env:"CARD_API_KEY"`
	CardWebhookSecret string `env:"CARD_WEBHOOK_SECRET"`

	// Wallet gateway. The processor is registered when the URL is set.
	WalletGatewayURL    string `env:"WALLET_GATEWAY_URL"`
	WalletAPIKey        string `env:"WALLET_API_KEY"`
	WalletWebhookSecret string `env:"WALLET_WEBHOOK_SECRET"`

	// Cash and other offline tenders.
	ManualProcessorEnabled bool `env:"MANUAL_PROCESSOR_ENABLED" envDefault:"true"`

	// In-process simulated gateway for development and demos.
	SimulatedProcessors     bool          `env:"SIMULATED_PROCESSORS" envDefault:"false"`
	SimulatedWebhookSecret  string        `env:"SIMULATED_WEBHOOK_SECRET" envDefault:"whsec_simulated"`
	SimulatedGatewayLatency time.Duration `env:"SIMULATED_GATEWAY_LATENCY" envDefault:"0s"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Networks allowed to change store payment methods.
	AdminAllowedCIDRs []string `env:"ADMIN_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load payment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageDriverPostgres, StorageDriverMemory, c.StorageDriver)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if _, err := url.ParseRequestURI(c.OrderServiceURL); err != nil {
		return fmt.Errorf("ORDER_SERVICE_URL is invalid: %w", err)
	}
	if c.ProcessorTimeout <= 0 {
		return fmt.Errorf("PROCESSOR_TIMEOUT must be > 0, got %s", c.ProcessorTimeout)
	}
	if c.WebhookDedupeTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL must be > 0, got %s", c.WebhookDedupeTTL)
	}
	if c.WebhookRateLimitRPS < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT_RPS must be >= 0, got %f", c.WebhookRateLimitRPS)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if c.CardGatewayURL != "" && c.CardWebhookSecret == "" {
		return fmt.Errorf("CARD_WEBHOOK_SECRET is required when CARD_GATEWAY_URL is set")
	}
	if c.WalletGatewayURL != "" && c.WalletWebhookSecret == "" {
		return fmt.Errorf("WALLET_WEBHOOK_SECRET is required when WALLET_GATEWAY_URL is set")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// RequestTimeout is the deadline for one API request: a processor call
// plus headroom for storage and order service round trips.
func (c *Config) RequestTimeout() time.Duration {
	return c.ProcessorTimeout + 15*time.Second
}

// Postgres returns the connection pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the client settings. Only meaningful when RedisHost is set.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
