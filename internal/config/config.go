package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/leowu0329/authservice/internal/mailer"
	pkgconfig "github.com/leowu0329/authservice/pkg/config"
	"github.com/leowu0329/authservice/pkg/database"
	"github.com/leowu0329/authservice/pkg/tracing"
)

// ServiceName identifies the API in logs, metrics and traces.
const ServiceName = "authservice"

// WorkerServiceName identifies the mail worker.
const WorkerServiceName = "authservice-mailworker"

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Mail transports.
const (
	MailLog   = "log"
	MailSMTP  = "smtp"
	MailHTTP  = "http"
	MailKafka = "kafka"
)

const minProductionSecretLen = 32

// SMTP holds outbound SMTP settings shared by the API and the mail worker.
type SMTP struct {
	Host        string        `env:"SMTP_HOST" envDefault:"localhost"`
	Port        int           `env:"SMTP_PORT" envDefault:"587"`
	Username    string        `env:"SMTP_USERNAME"`
	Password    string        `env:"SMTP_PASSWORD"`
	From        string        `env:"MAIL_FROM" envDefault:"no-reply@localhost"`
	FromName    string        `env:"MAIL_FROM_NAME" envDefault:"Account Service"`
	DialTimeout time.Duration `env:"SMTP_DIAL_TIMEOUT" envDefault:"10s"`
	IOTimeout   time.Duration `env:"SMTP_IO_TIMEOUT" envDefault:"30s"`
	RequireTLS  bool          `env:"SMTP_REQUIRE_TLS" envDefault:"true"`
}

// Mailer returns the SMTP transport settings.
func (s SMTP) Mailer() mailer.SMTPConfig {
	return mailer.SMTPConfig{
		Host:        s.Host,
		Port:        s.Port,
		Username:    s.Username,
		Password:    s.Password,
		From:        s.From,
		FromName:    s.FromName,
		DialTimeout: s.DialTimeout,
		IOTimeout:   s.IOTimeout,
		RequireTLS:  s.RequireTLS,
	}
}

// Tracing holds OpenTelemetry exporter settings.
type Tracing struct {
	Enabled        bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint       string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	Insecure       bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRate     float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	ServiceVersion string  `env:"SERVICE_VERSION" envDefault:"dev"`
}

func (t Tracing) config(service, environment string) tracing.Config {
	return tracing.Config{
		ServiceName:    service,
		ServiceVersion: t.ServiceVersion,
		Environment:    environment,
		OTLPEndpoint:   t.Endpoint,
		Insecure:       t.Insecure,
		SampleRate:     t.SampleRate,
		Enabled:        t.Enabled,
	}
}

func (t Tracing) validate() error {
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", t.SampleRate)
	}
	return nil
}

// Config holds all configuration for the account API.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"5000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Storage
	StoreDriver        string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"authservice"`
	PostgresPass       string        `env:"POSTGRES_PASSWORD" envDefault:"authservice"`
	PostgresDB         string        `env:"POSTGRES_DB" envDefault:"authservice"`
	PostgresSSL        string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns   int32         `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	SlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Sessions. JWT_SECRET has no default; the service refuses to start without it.
	JWTSecret  string        `env:"JWT_SECRET"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	CookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"token"`

	BcryptCost          int  `env:"BCRYPT_COST" envDefault:"10"`
	ConcealUnknownEmail bool `env:"AUTH_CONCEAL_UNKNOWN_EMAIL" envDefault:"false"`

	// Browser client, used for CORS and reset links.
	ClientURL string `env:"CLIENT_URL" envDefault:"http://localhost:5173"`
	AppName   string `env:"APP_NAME" envDefault:"Account Service"`

	// Mail
	MailTransport  string `env:"MAIL_TRANSPORT" envDefault:"log"`
	MailLogBody    bool   `env:"MAIL_LOG_BODY" envDefault:"false"`
	MailHTTPURL    string `env:"MAIL_HTTP_ENDPOINT"`
	MailHTTPAPIKey string `env:"MAIL_HTTP_API_KEY"`
	SMTP           SMTP

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Profiling endpoints are reachable only from these networks.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	Tracing Tracing
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load authservice config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if !c.IsDevelopment() && len(c.JWTSecret) < minProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", minProductionSecretLen, len(c.JWTSecret))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}

	if !slices.Contains([]string{StorePostgres, StoreMemory}, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}
	if c.StoreDriver == StoreMemory && c.IsProduction() {
		return fmt.Errorf("STORE_DRIVER %q is not allowed in production", StoreMemory)
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}

	if u, err := url.Parse(c.ClientURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CLIENT_URL must be an absolute URL, got %q", c.ClientURL)
	}

	switch c.MailTransport {
	case MailLog, MailSMTP:
	case MailHTTP:
		if c.MailHTTPURL == "" {
			return fmt.Errorf("MAIL_HTTP_ENDPOINT is required when MAIL_TRANSPORT=%s", MailHTTP)
		}
	case MailKafka:
		if !c.KafkaEnabled {
			return fmt.Errorf("MAIL_TRANSPORT=%s requires KAFKA_ENABLED=true", MailKafka)
		}
	default:
		return fmt.Errorf("MAIL_TRANSPORT must be one of log, smtp, http, kafka, got %q", c.MailTransport)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}

	return c.Tracing.validate()
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether session cookies must be Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PostgresConfig returns the connection settings for the account store.
func (c *Config) PostgresConfig() *database.PostgresConfig {
	return &database.PostgresConfig{
		URL:             c.DatabaseURL,
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// HTTPMailConfig returns the settings of the HTTP mail transport.
func (c *Config) HTTPMailConfig() mailer.HTTPConfig {
	return mailer.HTTPConfig{
		Endpoint: c.MailHTTPURL,
		APIKey:   c.MailHTTPAPIKey,
		From:     c.SMTP.From,
		FromName: c.SMTP.FromName,
	}
}

// TracingConfig returns the tracer settings for the API.
func (c *Config) TracingConfig() tracing.Config {
	return c.Tracing.config(ServiceName, c.Environment)
}

// WorkerConfig holds the configuration of the mail worker.
type WorkerConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HealthPort      int           `env:"MAILWORKER_HEALTH_PORT" envDefault:"5001"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	RedisURL       string        `env:"REDIS_URL"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	IdempotencyTTL time.Duration `env:"MAILWORKER_IDEMPOTENCY_TTL" envDefault:"24h"`

	SMTP    SMTP
	Tracing Tracing
}

// LoadWorker reads the mail worker configuration from environment variables.
func LoadWorker() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load mailworker config: %w", err)
	}
	if cfg.HealthPort < 1 || cfg.HealthPort > 65535 {
		return nil, fmt.Errorf("invalid health port: %d", cfg.HealthPort)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.IdempotencyTTL <= 0 {
		return nil, fmt.Errorf("MAILWORKER_IDEMPOTENCY_TTL must be positive, got %s", cfg.IdempotencyTTL)
	}
	if err := cfg.Tracing.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RedisConfig returns the idempotency store connection settings.
func (c *WorkerConfig) RedisConfig() database.RedisConfig {
	return database.RedisConfig{
		URL:      c.RedisURL,
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// TracingConfig returns the tracer settings for the worker.
func (c *WorkerConfig) TracingConfig() tracing.Config {
	return c.Tracing.config(WorkerServiceName, c.Environment)
}
