package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSessionSecretLength is the minimum length of BLOG_SESSION_SECRET. The
// secret also keys CSRF protection.
const MinSessionSecretLength = 32

// Config holds all configuration for the blog server.
type Config struct {
	// Host is the interface to listen on.
	Host string `env:"BLOG_HOST" envDefault:"localhost"`

	// Port is the HTTP server port.
	Port int `env:"BLOG_PORT" envDefault:"3000"`

	// PublicURL is the externally reachable base URL used in blob URLs. It
	// defaults to http://Host:Port.
	PublicURL string `env:"BLOG_PUBLIC_URL"`

	// DatabaseURL is a SQLite file path, or a postgres:// URL.
	DatabaseURL string `env:"BLOG_DATABASE_URL" envDefault:"./data/blog.db"`

	UploadsDir     string `env:"BLOG_UPLOADS_DIR" envDefault:"./data/uploads"`
	MaxUploadBytes int64  `env:"BLOG_MAX_UPLOAD_BYTES" envDefault:"10485760"`

	SessionSecret string `env:"BLOG_SESSION_SECRET,required"`
	Env           string `env:"BLOG_ENV" envDefault:"development"`
	LogLevel      string `env:"BLOG_LOG_LEVEL" envDefault:"info"`

	// RedisURL, when set, relays post changes between server processes.
	RedisURL string `env:"BLOG_REDIS_URL"`

	SweepSchedule string        `env:"BLOG_SWEEP_SCHEDULE" envDefault:"@hourly"`
	SweepGrace    time.Duration `env:"BLOG_SWEEP_GRACE" envDefault:"24h"`

	// BehindProxy trusts X-Forwarded-For and X-Real-IP for the client
	// address. Leave it off unless a reverse proxy sets those headers.
	BehindProxy bool `env:"BLOG_BEHIND_PROXY" envDefault:"false"`

	LoginRPS   float64 `env:"BLOG_LOGIN_RPS" envDefault:"1"`
	LoginBurst int     `env:"BLOG_LOGIN_BURST" envDefault:"5"`
}

// IsDevelopment returns true if the server is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Addr returns the listen address in host:port format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns PublicURL or the URL derived from the listen address.
func (c Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://" + c.Addr()
}

// UsePostgres reports whether DatabaseURL names a PostgreSQL database.
func (c Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// UseRedis reports whether the Redis change relay is configured.
func (c Config) UseRedis() bool {
	return c.RedisURL != ""
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.SessionSecret) < MinSessionSecretLength {
		return nil, fmt.Errorf("BLOG_SESSION_SECRET must be at least %d bytes long, got %d bytes; "+
			"generate one with: openssl rand -base64 32",
			MinSessionSecretLength, len(cfg.SessionSecret))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("BLOG_PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("BLOG_MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.LoginRPS <= 0 || cfg.LoginBurst < 1 {
		return nil, fmt.Errorf("BLOG_LOGIN_RPS and BLOG_LOGIN_BURST must be positive")
	}

	return cfg, nil
}
