package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns defaults when path does not exist.
func LoadOrDefault(path string) (*AppConfig, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Parse(nil)
	}
	return cfg, err
}

// LoadEnv loads a .env file into the process environment if one exists.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Parse decodes YAML content and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if _, err := cfg.Network.ResolveNetwork(); err != nil {
		return nil, fmt.Errorf("invalid network config: %w", err)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("invalid retry config: max_attempts must be >= 1, got %d", cfg.Retry.MaxAttempts)
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TransferRetention == 0 {
		cfg.Server.TransferRetention = time.Hour
	}
	if cfg.Network.Name == "" {
		cfg.Network.Name = "westend"
	}
	if cfg.Network.KeepAlive == nil {
		keepAlive := true
		cfg.Network.KeepAlive = &keepAlive
	}
	if cfg.Network.MetadataHash == nil {
		metadataHash := true
		cfg.Network.MetadataHash = &metadataHash
	}

	if cfg.Wallet.ID == "" {
		cfg.Wallet.ID = "keyring"
	}
	if cfg.Wallet.AppName == "" {
		cfg.Wallet.AppName = "walletd"
	}
	if cfg.Wallet.Accounts == 0 {
		cfg.Wallet.Accounts = 1
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 5 * time.Second
	}

	if cfg.Reconnect.InitialDelay == 0 {
		cfg.Reconnect.InitialDelay = time.Second
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = 30 * time.Second
	}

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "walletd:events"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 1
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 3
	}
}
