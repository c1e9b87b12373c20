package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/vietddude/walletd/internal/control"
	"github.com/vietddude/walletd/internal/core/config"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/events"
	"github.com/vietddude/walletd/internal/infra/keyring"
	redisclient "github.com/vietddude/walletd/internal/infra/redis"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
	"github.com/vietddude/walletd/internal/lifecycle/balance"
	"github.com/vietddude/walletd/internal/lifecycle/network"
	"github.com/vietddude/walletd/internal/lifecycle/wallet"
)

// promptAuthorizer asks on the terminal before handing out accounts.
func promptAuthorizer(ctx context.Context, appName string, accounts []domain.Account) (bool, error) {
	if assumeYes {
		return true, nil
	}
	fmt.Fprintf(os.Stderr, "%s requests access to %d account(s):\n", appName, len(accounts))
	for _, a := range accounts {
		fmt.Fprintf(os.Stderr, "  %s (%s)\n", a.Address, a.DisplayName())
	}
	fmt.Fprint(os.Stderr, "Allow? [y/N] ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-answer:
		return a == "y" || a == "yes", nil
	}
}

// walletProviders returns the registered wallet providers. The keyring is
// only registered when a mnemonic is configured.
func walletProviders(cfg *config.AppConfig, net domain.Network) (map[string]wallet.Provider, error) {
	providers := make(map[string]wallet.Provider)
	if cfg.Wallet.Mnemonic == "" {
		return providers, nil
	}
	kr, err := keyring.FromMnemonic(cfg.Wallet.Mnemonic, keyring.Options{
		Password:   cfg.Wallet.Password,
		Accounts:   cfg.Wallet.Accounts,
		SS58Prefix: net.SS58Prefix,
		Authorize:  promptAuthorizer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load keyring: %w", err)
	}
	providers["keyring"] = kr
	return providers, nil
}

func newDialer(cfg *config.AppConfig, net domain.Network) *network.SubstrateDialer {
	return &network.SubstrateDialer{
		Network:      net,
		MetadataHash: *cfg.Network.MetadataHash,
		Reconnect: provider.ReconnectPolicy{
			Enabled:      !cfg.Reconnect.Disabled,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		},
		Logger: slog.Default(),
	}
}

// newOrchestrator wires the lifecycle components from configuration.
func newOrchestrator(cfg *config.AppConfig) (*control.Orchestrator, domain.Network, error) {
	net, err := cfg.Network.ResolveNetwork()
	if err != nil {
		return nil, domain.Network{}, err
	}
	providers, err := walletProviders(cfg, net)
	if err != nil {
		return nil, domain.Network{}, err
	}

	orch := control.NewOrchestrator(
		control.Config{
			WalletID:  cfg.Wallet.ID,
			Account:   cfg.Wallet.Account,
			Endpoints: net.Endpoints,
			Retry: control.RetryConfig{
				MaxAttempts:  cfg.Retry.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
			},
		},
		wallet.NewConnector(cfg.Wallet.AppName, providers),
		newDialer(cfg, net),
		balance.NewTracker(net),
	)
	return orch, net, nil
}

// newEmitter logs every event and publishes it on Redis when configured.
func newEmitter(cfg *config.AppConfig) events.Emitter {
	emitters := events.Multi{events.NewLogEmitter(slog.Default())}
	if cfg.Redis.Enabled() {
		pub, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, event publishing disabled", "error", err)
		} else {
			emitters = append(emitters, pub)
		}
	}
	return emitters
}
