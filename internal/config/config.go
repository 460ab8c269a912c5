package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	BackendURL      string `envconfig:"BACKEND_URL" required:"true"`
	BackendToken    string `envconfig:"BACKEND_TOKEN"`
	BackendInsecure bool   `envconfig:"BACKEND_INSECURE"`

	// RemoteArtifacts means the backend writes artifacts to a filesystem
	// this process cannot reach; path-dependent operations are rejected.
	RemoteArtifacts bool `envconfig:"REMOTE_ARTIFACTS"`

	KeepArtifactsFor time.Duration `envconfig:"KEEP_ARTIFACTS_FOR" default:"24h"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath           string        `envconfig:"DB_PATH" default:"artifacts.db"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"browser_downloader"`
		Exporter    string `split_words:"true" default:"prometheus"`
		Endpoint    string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8311"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
