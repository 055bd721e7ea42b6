// Package config loads snowcode configuration from YAML.
package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snowcode-dev/snowcode/pkg/storage"
)

// Share modes.
const (
	ShareDisabled = "disabled"
	ShareManual   = "manual"
	ShareAuto     = "auto"
)

// Config represents the application configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Share   ShareConfig   `yaml:"share"`
	Stats   StatsConfig   `yaml:"stats"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is one of "file", "redis", "firestore". Default: "file".
	Backend string `yaml:"backend"`
	// BaseDir is the base directory for file storage.
	// Default: ~/.snowcode/storage.
	BaseDir string `yaml:"base_dir"`

	Redis     storage.RedisConfig     `yaml:"redis,omitempty"`
	Firestore storage.FirestoreConfig `yaml:"firestore,omitempty"`
}

// ShareConfig controls session sharing.
type ShareConfig struct {
	// Mode is "disabled", "manual" or "auto". In auto mode every new root
	// session gets a share link in the background. Default: "manual".
	Mode string `yaml:"mode"`
	// BaseURL is the share sink endpoint.
	BaseURL string `yaml:"base_url"`
}

// StatsConfig controls the background stats refresh.
type StatsConfig struct {
	// Schedule is a cron expression for rollup refresh.
	// Default: "@every 5m".
	Schedule string `yaml:"schedule"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "file",
		},
		Share: ShareConfig{
			Mode:    ShareManual,
			BaseURL: "https://share.snowcode.dev/api",
		},
		Stats: StatsConfig{
			Schedule: "@every 5m",
		},
	}
}

// Load reads configuration from path, applying defaults for absent fields.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 - path chosen by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// OpenBackend constructs the storage backend named by cfg.
func OpenBackend(ctx context.Context, cfg StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return storage.NewFileBackend(cfg.BaseDir)
	case "redis":
		return storage.NewRedisBackend(cfg.Redis)
	case "firestore":
		return storage.NewFirestoreBackend(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
