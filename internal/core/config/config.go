package config

import (
	"fmt"
	"time"

	"github.com/vietddude/walletd/internal/core/domain"
	redisclient "github.com/vietddude/walletd/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Network   NetworkConfig      `yaml:"network"`
	Wallet    WalletConfig       `yaml:"wallet"`
	Retry     RetryConfig        `yaml:"retry"`
	Reconnect ReconnectConfig    `yaml:"reconnect"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// How long settled transfers stay queryable. Zero keeps them until
	// the recent-transfer cap evicts them.
	TransferRetention time.Duration `yaml:"transfer_retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// NetworkConfig selects a network preset and optionally overrides its fields.
type NetworkConfig struct {
	Name       domain.NetworkName `yaml:"name"`
	Endpoints  []string           `yaml:"endpoints"`
	Symbol     string             `yaml:"symbol"`
	Decimals   *int32             `yaml:"decimals"`
	SS58Prefix *uint16            `yaml:"ss58_prefix"`

	// Extrinsic encoding knobs. A zero pallet index keeps the preset.
	BalancesPallet uint8 `yaml:"balances_pallet"`
	KeepAlive      *bool `yaml:"keep_alive"`    // transfer_keep_alive instead of transfer_allow_death
	MetadataHash   *bool `yaml:"metadata_hash"` // CheckMetadataHash extension present
}

// WalletConfig selects the wallet provider and account.
type WalletConfig struct {
	ID       string `yaml:"id"`       // provider id, e.g. "keyring"
	AppName  string `yaml:"app_name"` // shown in the authorization prompt
	Account  string `yaml:"account"`  // preferred address; first account when empty
	Mnemonic string `yaml:"mnemonic"`
	Password string `yaml:"password"`
	Accounts int    `yaml:"accounts"` // keyring accounts derived from the mnemonic
}

// RetryConfig controls endpoint retries during session setup.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ReconnectConfig controls websocket reconnection after a drop.
type ReconnectConfig struct {
	Disabled     bool          `yaml:"disabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 = unlimited
}

// RateLimitConfig bounds transfer requests on the HTTP surface.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ResolveNetwork merges the configured overrides onto the selected preset.
func (c NetworkConfig) ResolveNetwork() (domain.Network, error) {
	n, ok := domain.LookupNetwork(string(c.Name))
	if !ok {
		return domain.Network{}, fmt.Errorf("unknown network %q", c.Name)
	}
	n.Endpoints = append([]string(nil), n.Endpoints...)
	if len(c.Endpoints) > 0 {
		n.Endpoints = append([]string(nil), c.Endpoints...)
	}
	if c.Symbol != "" {
		n.Symbol = c.Symbol
	}
	if c.Decimals != nil {
		n.Decimals = *c.Decimals
	}
	if c.SS58Prefix != nil {
		n.SS58Prefix = *c.SS58Prefix
	}
	if c.BalancesPallet != 0 {
		n.BalancesPallet = c.BalancesPallet
	}
	return n, nil
}
