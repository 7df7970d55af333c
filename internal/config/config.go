package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Bearer token verification
	Auth AuthConfig `env:",prefix=AUTH_"`

	// Allocation and settlement tuning
	Ledger LedgerConfig `env:",prefix=LEDGER_"`

	// Order lifecycle event publishing
	Events EventsConfig `env:",prefix=EVENTS_"`

	// Search rate limiting
	RateLimit RateLimitConfig `env:",prefix=RATELIMIT_"`

	// Redis connection used by the rate limiter
	Redis RedisConfig `env:",prefix=REDIS_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// Driver is "postgres" (lib/pq), "pgx" (pgx stdlib) or "memory"
	Driver      string `env:"DRIVER,default=postgres"`
	Host        string `env:"HOST,default=localhost"`
	Port        string `env:"PORT,default=5432"`
	User        string `env:"USER,default=postgres"`
	Password    string `env:"PASSWORD,default=postgres"`
	Name        string `env:"NAME,default=adledger"`
	SSLMode     string `env:"SSL_MODE,default=disable"`
	MaxConns    int    `env:"MAX_CONNS,default=25"`
	MinConns    int    `env:"MIN_CONNS,default=5"`
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=true"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
	EnvFile     string `env:"ENV_FILE,default=.env"`
}

// AuthConfig holds the shared secret used to verify HS256 bearer tokens
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER"`
}

// LedgerConfig holds allocation engine settings
type LedgerConfig struct {
	SimilarityThreshold float64       `env:"SIMILARITY_THRESHOLD,default=0.3"`
	LockTimeout         time.Duration `env:"LOCK_TIMEOUT,default=2s"`
	DefaultPageSize     int           `env:"DEFAULT_PAGE_SIZE,default=5"`
	MaxPageSize         int           `env:"MAX_PAGE_SIZE,default=100"`
}

// EventsConfig selects the event publisher backend
type EventsConfig struct {
	// Backend is "log", "nats" or "kafka"
	Backend       string `env:"BACKEND,default=log"`
	NATSURL       string `env:"NATS_URL,default=nats://localhost:4222"`
	SubjectPrefix string `env:"SUBJECT_PREFIX,default=adledger"`
	KafkaBrokers  string `env:"KAFKA_BROKERS,default=localhost:9092"`
	KafkaTopic    string `env:"KAFKA_TOPIC,default=adledger.orders"`
}

// RateLimitConfig holds per-viewer search limits
type RateLimitConfig struct {
	Enabled           bool `env:"ENABLED,default=false"`
	RequestsPerMinute int  `env:"REQUESTS_PER_MINUTE,default=60"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool   `env:"ENABLED,default=false"`
	Addr     string `env:"ADDR,default=localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
}

// Load loads configuration from environment variables, after merging an
// optional dotenv file into the process environment
func Load(ctx context.Context) (*Config, error) {
	envFile := os.Getenv("APP_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith loads configuration from the given lookuper
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Events.Backend {
	case "log", "nats", "kafka":
	default:
		return fmt.Errorf("unsupported EVENTS_BACKEND %q", c.Events.Backend)
	}
	if c.Ledger.SimilarityThreshold <= 0 || c.Ledger.SimilarityThreshold > 1 {
		return fmt.Errorf("LEDGER_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.Ledger.SimilarityThreshold)
	}
	if c.Ledger.DefaultPageSize <= 0 || c.Ledger.MaxPageSize < c.Ledger.DefaultPageSize {
		return fmt.Errorf("invalid page sizes default=%d max=%d", c.Ledger.DefaultPageSize, c.Ledger.MaxPageSize)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATELIMIT_REQUESTS_PER_MINUTE must be positive")
	}
	if c.App.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Brokers splits the comma separated broker list
func (c *EventsConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
