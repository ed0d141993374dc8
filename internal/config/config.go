// Package config loads client configuration from the environment and an
// optional .env file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the portal client settings.
type Config struct {
	PortalBaseURL   string        `mapstructure:"PORTAL_BASE_URL"`
	RequestTimeout  time.Duration `mapstructure:"PORTAL_REQUEST_TIMEOUT"`
	StorePath       string        `mapstructure:"PORTAL_STORE_PATH"`
	StorePassphrase string        `mapstructure:"PORTAL_STORE_PASSPHRASE"`
	IdleTimeout     time.Duration `mapstructure:"PORTAL_IDLE_TIMEOUT"`
	DeviceID        string        `mapstructure:"PORTAL_DEVICE_ID"`
	LogLevel        string        `mapstructure:"PORTAL_LOG_LEVEL"`
}

// Load reads configuration from the environment, falling back to a .env file
// when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORTAL_REQUEST_TIMEOUT", "30s")
	v.SetDefault("PORTAL_STORE_PATH", defaultStorePath())
	v.SetDefault("PORTAL_IDLE_TIMEOUT", "60m")
	v.SetDefault("PORTAL_LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORTAL_BASE_URL")
	v.BindEnv("PORTAL_REQUEST_TIMEOUT")
	v.BindEnv("PORTAL_STORE_PATH")
	v.BindEnv("PORTAL_STORE_PASSPHRASE")
	v.BindEnv("PORTAL_IDLE_TIMEOUT")
	v.BindEnv("PORTAL_DEVICE_ID")
	v.BindEnv("PORTAL_LOG_LEVEL")

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] unmarshal config")
	}

	if cfg.PortalBaseURL == "" {
		return nil, errors.New("[config.Load] PORTAL_BASE_URL is required")
	}
	return cfg, nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "session.enc"
	}
	return filepath.Join(home, ".carelink", "session.enc")
}
