// Package config loads service configuration from an XDG config file with
// NAGS_* environment variable overrides.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Decode       DecodeConfig
	Pricing      PricingConfig
	Distributors DistributorsConfig
	Lookup       LookupConfig
	Notify       NotifyConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type StorageConfig struct {
	DataDir string
}

// DecodeConfig points at the external VIN decode service.
type DecodeConfig struct {
	BaseURL string
}

// PricingConfig points at the pricing-derivation service used by the
// fallback tier.
type PricingConfig struct {
	BaseURL string
}

// DistributorsConfig holds the comma-separated tier priority override.
// Empty means the built-in default order.
type DistributorsConfig struct {
	Priority string
}

// LookupConfig bounds total wall-clock time per lookup. Zero disables the
// timeout.
type LookupConfig struct {
	TimeoutSeconds int
}

// NotifyConfig configures operator notification for new escalations. An
// empty WebhookURL disables the notify worker.
type NotifyConfig struct {
	WebhookURL string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4100,
			MCPPort: 4101,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Decode: DecodeConfig{
			BaseURL: "http://localhost:8200",
		},
		Pricing: PricingConfig{
			BaseURL: "http://localhost:8300",
		},
		Lookup: LookupConfig{
			TimeoutSeconds: 120,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "nags-data"
		}
	}
	return filepath.Join(dir, "nags")
}

// Load reads configuration from the config file at
// $XDG_CONFIG_HOME/nags/config.json, then applies NAGS_* environment
// variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b *fileBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "nags", "config.json")
}
