package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"3569"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`

	MinPlayers          int `env:"MIN_PLAYERS" envDefault:"3"`
	MaxAttempts         int `env:"MAX_ATTEMPTS" envDefault:"3"`
	PointsPerWin        int `env:"POINTS_PER_WIN" envDefault:"10"`
	DefaultRoundSeconds int `env:"DEFAULT_ROUND_SECONDS" envDefault:"60"`
	MaxRoundSeconds     int `env:"MAX_ROUND_SECONDS" envDefault:"3600"`
	RevealSeconds       int `env:"REVEAL_SECONDS" envDefault:"3"`

	SSEKeepaliveSeconds int      `env:"SSE_KEEPALIVE_SECONDS" envDefault:"0"`
	SubscriberBuffer    int      `env:"SUBSCRIBER_BUFFER" envDefault:"64"`
	CORSAllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS" envDefault:"300"`
	DBConnMaxIdleTimeSeconds int `env:"DB_CONN_MAX_IDLE_SECONDS" envDefault:"60"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"guessing"`
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Port:                     3569,
		LogLevel:                 "info",
		MinPlayers:               3,
		MaxAttempts:              3,
		PointsPerWin:             10,
		DefaultRoundSeconds:      60,
		MaxRoundSeconds:          3600,
		RevealSeconds:            3,
		SubscriberBuffer:         64,
		CORSAllowedOrigins:       []string{"*"},
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		NATSSubjectPrefix:        "guessing",
	}
}

// Load parses the process environment on top of the defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("invalid PORT %d", c.Port)
	case c.MinPlayers < 1:
		return fmt.Errorf("MIN_PLAYERS must be at least 1, got %d", c.MinPlayers)
	case c.MaxAttempts < 1:
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	case c.PointsPerWin < 0:
		return fmt.Errorf("POINTS_PER_WIN must not be negative, got %d", c.PointsPerWin)
	case c.DefaultRoundSeconds < 1 || c.DefaultRoundSeconds > c.MaxRoundSeconds:
		return fmt.Errorf("DEFAULT_ROUND_SECONDS must be between 1 and MAX_ROUND_SECONDS, got %d", c.DefaultRoundSeconds)
	case c.RevealSeconds < 0:
		return fmt.Errorf("REVEAL_SECONDS must not be negative, got %d", c.RevealSeconds)
	case c.SubscriberBuffer < 1:
		return fmt.Errorf("SUBSCRIBER_BUFFER must be at least 1, got %d", c.SubscriberBuffer)
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) SSEKeepalive() time.Duration {
	return time.Duration(c.SSEKeepaliveSeconds) * time.Second
}

func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSeconds) * time.Second
}

func (c Config) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.DBConnMaxIdleTimeSeconds) * time.Second
}

// AllowsAnyOrigin reports whether CORS is left wide open.
func (c Config) AllowsAnyOrigin() bool {
	for _, origin := range c.CORSAllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return len(c.CORSAllowedOrigins) == 0
}
