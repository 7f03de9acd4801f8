package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Worker    WorkerConfig    `json:"worker"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Stats     StatsConfig     `json:"stats"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type ServerConfig struct {
	Host           string        `json:"host" env:"HOST" envDefault:"localhost"`
	Port           string        `json:"port" env:"PORT" envDefault:"8080"`
	ReadTimeout    time.Duration `json:"read_timeout" env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `json:"idle_timeout" env:"IDLE_TIMEOUT" envDefault:"60s"`
	Environment    string        `json:"environment" env:"ENVIRONMENT" envDefault:"development"`
	AllowedOrigins []string      `json:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

type DatabaseConfig struct {
	Driver          string        `json:"driver" env:"DB_DRIVER" envDefault:"postgres"`
	SQLitePath      string        `json:"sqlite_path" env:"DB_SQLITE_PATH" envDefault:"taskboard.db"`
	Host            string        `json:"host" env:"DB_HOST" envDefault:"localhost"`
	Port            string        `json:"port" env:"DB_PORT" envDefault:"5432"`
	User            string        `json:"user" env:"DB_USER" envDefault:"postgres"`
	Password        string        `json:"password" env:"DB_PASSWORD"`
	Name            string        `json:"name" env:"DB_NAME" envDefault:"taskboard"`
	SSLMode         string        `json:"ssl_mode" env:"DB_SSL_MODE" envDefault:"disable"`
	MaxOpenConns    int           `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"30m"`
}

type RedisConfig struct {
	Enabled      bool          `json:"enabled" env:"REDIS_ENABLED" envDefault:"true"`
	Host         string        `json:"host" env:"REDIS_HOST" envDefault:"localhost"`
	Port         string        `json:"port" env:"REDIS_PORT" envDefault:"6379"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" env:"REDIS_DB" envDefault:"0"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `json:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" envDefault:"5"`
	MaxRetries   int           `json:"max_retries" env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

type WorkerConfig struct {
	Concurrency  int           `json:"concurrency" env:"WORKER_CONCURRENCY" envDefault:"2"`
	PollInterval time.Duration `json:"poll_interval" env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	Queues       []string      `json:"queues" env:"WORKER_QUEUES" envSeparator:"," envDefault:"stats,retry_queue"`
}

// AuthConfig describes how bearer tokens minted by the identity provider
// are verified. The service never issues tokens itself.
type AuthConfig struct {
	JWTSecret string `json:"-" env:"JWT_SECRET" envDefault:"your-secret-key"`
	Issuer    string `json:"issuer" env:"JWT_ISSUER"`
}

type RateLimitConfig struct {
	Enabled         bool          `json:"enabled" env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerMin  int           `json:"requests_per_minute" env:"RATE_LIMIT_RPM" envDefault:"100"`
	BurstSize       int           `json:"burst_size" env:"RATE_LIMIT_BURST" envDefault:"10"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"RATE_LIMIT_CLEANUP" envDefault:"10m"`
}

type StatsConfig struct {
	// Timezone is an IANA name; empty means the server's local zone.
	Timezone string        `json:"timezone" env:"STATS_TIMEZONE"`
	CacheTTL time.Duration `json:"cache_ttl" env:"STATS_CACHE_TTL" envDefault:"5m"`
	ListTTL  time.Duration `json:"list_ttl" env:"TASK_LIST_CACHE_TTL" envDefault:"15m"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint    string `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" env:"OTEL_SERVICE_NAME" envDefault:"taskboard"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if config.Database.Password == "" && config.Database.Driver == "postgres" && config.IsProduction() {
		return nil, fmt.Errorf("database password is required in production")
	}

	if config.Auth.JWTSecret == "your-secret-key" && config.IsProduction() {
		return nil, fmt.Errorf("JWT secret must be set in production")
	}

	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Database.Driver)
	}

	if _, err := config.Location(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Location resolves the zone whose midnights bound the statistics week.
func (c *Config) Location() (*time.Location, error) {
	if c.Stats.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Stats.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_TIMEZONE %q: %w", c.Stats.Timezone, err)
	}
	return loc, nil
}
