package treebus

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds bus settings for environment-based configuration.
type Config struct {
	// SafePublishing keeps dispatch going past handler failures, routing them
	// to the error handler instead of aborting and surfacing on the receipt.
	SafePublishing bool `env:"BUS_SAFE_PUBLISHING" envDefault:"false"`

	// CopyListeners controls whether child buses receive a copy of their
	// parent's listeners at creation.
	CopyListeners bool `env:"BUS_COPY_LISTENERS" envDefault:"true"`
}

// DefaultConfig returns the settings New uses when no options are given.
func DefaultConfig() Config {
	return Config{
		SafePublishing: false,
		CopyListeners:  true,
	}
}

// LoadConfig reads Config from the environment, loading a .env file first
// when one is present in the working directory.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse bus config: %w", err)
	}
	return cfg, nil
}

// NewFromConfig creates a root bus from configuration. Additional options
// override config values.
func NewFromConfig(cfg Config, opts ...Option) *Bus {
	configOpts := make([]Option, 0, len(opts)+2)
	if cfg.SafePublishing {
		configOpts = append(configOpts, WithSafePublishing())
	}
	if !cfg.CopyListeners {
		configOpts = append(configOpts, WithoutListenerCopy())
	}
	return New(append(configOpts, opts...)...)
}
