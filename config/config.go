package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_API_BASE_URL.
const EnvPrefix = "portal"

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Session   SessionConfig   `mapstructure:"session"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Email     EmailConfig     `mapstructure:"email"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
	Booking   BookingConfig   `mapstructure:"booking"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" split_words:"true"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" split_words:"true"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Cache is none, memory or redis.
	Cache    string        `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" split_words:"true"`
	// BreakerFailures consecutive upstream failures open the breaker; 0 disables it.
	BreakerFailures int           `mapstructure:"breaker_failures" split_words:"true"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" split_words:"true"`
}

type SessionConfig struct {
	// Backend is memory, redis or postgres.
	Backend      string        `mapstructure:"backend"`
	TTL          time.Duration `mapstructure:"ttl"`
	CookieName   string        `mapstructure:"cookie_name" split_words:"true"`
	CookieSecure bool          `mapstructure:"cookie_secure" split_words:"true"`
	// Key seals tokens at rest: 32 bytes, hex or base64.
	Key             string        `mapstructure:"key"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" split_words:"true"`
}

// DSN renders the lib/pq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	PoolSize     int    `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int    `mapstructure:"min_idle_conns" split_words:"true"`
	MaxRetries   int    `mapstructure:"max_retries" split_words:"true"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AuditConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	OutputPaths []string `mapstructure:"output_paths" split_words:"true"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Rate is the sustained number of auth form posts per second per client IP.
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type BookingConfig struct {
	WindowDays        int           `mapstructure:"window_days" split_words:"true"`
	AppointmentLength time.Duration `mapstructure:"appointment_length" split_words:"true"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes" split_words:"true"`
	SearchDebounce    time.Duration `mapstructure:"search_debounce" split_words:"true"`
}

type WorkerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 6<<20)

	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.cache", "none")
	v.SetDefault("api.cache_ttl", time.Minute)
	v.SetDefault("api.breaker_failures", 5)
	v.SetDefault("api.breaker_cooldown", 30*time.Second)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cookie_name", "portal_session")
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("session.cleanup_interval", 10*time.Minute)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "clinic_portal")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.level", "info")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.output_paths", []string{"stdout"})

	v.SetDefault("email.port", 587)
	v.SetDefault("email.from", "no-reply@clinic.local")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rate", 0.2)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("booking.window_days", 14)
	v.SetDefault("booking.appointment_length", 30*time.Minute)
	v.SetDefault("booking.max_upload_bytes", 5<<20)
	v.SetDefault("booking.search_debounce", 300*time.Millisecond)

	v.SetDefault("worker.interval", 10*time.Minute)
}

// LoadConfig reads .env, then config.yaml (optional), then PORTAL_* variables.
// Later sources win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")
	if file := os.Getenv("PORTAL_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	}
	return Load(v)
}

// Load applies defaults, reads whatever config source v points at, then the
// environment overlay.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Session.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("session.backend: unknown backend %q", c.Session.Backend)
	}
	switch c.API.Cache {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("api.cache: unknown cache %q", c.API.Cache)
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url: invalid URL %q", c.API.BaseURL)
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit: rate and burst must be positive")
	}
	if c.Booking.WindowDays <= 0 {
		return errors.New("booking.window_days must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
