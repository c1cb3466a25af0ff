// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/holdmail.db" validate:"required"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// PostmarkServerToken may be empty at startup; sweeps then fail until it
	// is set.
	PostmarkServerToken string `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkEndpoint    string `envconfig:"POSTMARK_ENDPOINT" default:"https://api.postmarkapp.com" validate:"required,url"`
	DigestFrom          string `envconfig:"DIGEST_FROM" default:"Hold My Mail <digest@holdmymail.app>" validate:"required"`
	FrontendURL         string `envconfig:"FRONTEND_URL" default:"https://www.holdmymail.app" validate:"required,url"`

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m" validate:"gt=0"`
	SweepWorkers  int           `envconfig:"SWEEP_WORKERS" default:"4" validate:"min=1"`

	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID int64  `envconfig:"TELEGRAM_ALERT_CHAT_ID" validate:"required_with=TelegramBotToken"`
}

// Load reads configuration from a .env file, if present, and the environment.
// Variables already set in the environment take precedence over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// AlertsEnabled reports whether operator alerts should be sent to Telegram.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}

// NewLogger returns a text logger writing to w at the named level. Unknown
// names log at info.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
